package main

import (
	"os"

	"github.com/kbanc85/claudia-sub002/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

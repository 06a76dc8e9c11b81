package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [memory-id]",
		Short: "Fetch one memory by id",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}
	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	s, _ := openStore()
	defer s.Close()

	m, err := s.GetMemory(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}
	printJSON(m)
}

// Package cli implements the claudia-memory CLI commands. Each command maps
// to one store operation and prints JSON to stdout.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbanc85/claudia-sub002/internal/config"
	"github.com/kbanc85/claudia-sub002/internal/embedding"
	"github.com/kbanc85/claudia-sub002/internal/store"
)

var dbPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "claudia-memory",
	Short: "Local personal-memory store",
	Long: "A local, long-running personal-memory store: remember facts, entities, and\n" +
		"relationships, then recall them with ranked, provenance-backed results.\n" +
		"SQLite-backed, single file, single owner.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Store path (default: $CLAUDIA_MEMORY_DB or ~/.claudia-memory/memory.db)")
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg
}

func openStore() (*store.Store, *config.Config) {
	cfg := loadConfig()
	provider := embedding.NewFromConfig(cfg.Embedder)
	resilient := embedding.NewResilient(provider, cfg.Embedder.Timeout, cfg.Embedder.Retries)

	s, err := store.Open(cfg, resilient)
	if err != nil {
		exitErr("open store", err)
	}
	return s, cfg
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

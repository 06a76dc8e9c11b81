package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/kbanc85/claudia-sub002/internal/model"
	"github.com/kbanc85/claudia-sub002/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Recall memories matching a free-text query",
		Long:  "Recall memories ranked by similarity, importance, recency, and keyword match.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}

	cmd.Flags().StringP("type", "t", "", "Filter by memory type")
	cmd.Flags().StringP("entity", "e", "", "Restrict to one entity's memories")
	cmd.Flags().Float64("min-importance", 0, "Minimum importance")
	cmd.Flags().IntP("limit", "l", 0, "Max results (0 = configured default)")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	memType, _ := cmd.Flags().GetString("type")
	entity, _ := cmd.Flags().GetString("entity")
	minImportance, _ := cmd.Flags().GetFloat64("min-importance")
	limit, _ := cmd.Flags().GetInt("limit")

	s, _ := openStore()
	defer s.Close()

	results, err := s.Recall(cmd.Context(), store.RecallParams{
		Query:         strings.Join(args, " "),
		Limit:         limit,
		Type:          model.MemoryType(memType),
		Entity:        entity,
		MinImportance: minImportance,
	})
	if err != nil {
		exitErr("recall", err)
	}
	printJSON(results)
}

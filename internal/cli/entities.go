package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	entities := &cobra.Command{
		Use:   "entities",
		Short: "Inspect and manage entities",
	}

	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Search entities by name or alias",
		Args:  cobra.MinimumNArgs(1),
		Run:   runEntitySearch,
	}
	search.Flags().IntP("limit", "l", 20, "Max results")
	entities.AddCommand(search)

	merge := &cobra.Command{
		Use:   "merge [winner] [loser]",
		Short: "Merge two entities that refer to the same thing",
		Long:  "Move the loser's memories and relationships onto the winner, fold its names into the winner's aliases, and retire it.",
		Args:  cobra.ExactArgs(2),
		Run:   runEntityMerge,
	}
	entities.AddCommand(merge)

	RootCmd.AddCommand(entities)
}

func runEntitySearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	s, _ := openStore()
	defer s.Close()

	results, err := s.SearchEntities(cmd.Context(), strings.Join(args, " "), limit)
	if err != nil {
		exitErr("entities search", err)
	}
	printJSON(results)
}

func runEntityMerge(cmd *cobra.Command, args []string) {
	s, _ := openStore()
	defer s.Close()

	sum, err := s.MergeEntities(cmd.Context(), args[0], args[1])
	if err != nil {
		exitErr("entities merge", err)
	}
	printJSON(sum)
}

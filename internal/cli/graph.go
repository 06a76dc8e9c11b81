package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	graph := &cobra.Command{
		Use:   "graph",
		Short: "Query the entity relationship graph",
	}

	path := &cobra.Command{
		Use:   "path [from] [to]",
		Short: "Find the shortest connection between two entities",
		Args:  cobra.ExactArgs(2),
		Run:   runGraphPath,
	}
	path.Flags().Int("max-hops", 6, "Give up past this many hops")
	graph.AddCommand(path)

	hubs := &cobra.Command{
		Use:   "hubs",
		Short: "List the most-connected entities",
		Run:   runGraphHubs,
	}
	hubs.Flags().IntP("limit", "l", 10, "Max results")
	graph.AddCommand(hubs)

	RootCmd.AddCommand(graph)
}

func runGraphPath(cmd *cobra.Command, args []string) {
	maxHops, _ := cmd.Flags().GetInt("max-hops")

	s, _ := openStore()
	defer s.Close()

	path, err := s.ShortestPath(cmd.Context(), args[0], args[1], maxHops)
	if err != nil {
		exitErr("graph path", err)
	}
	printJSON(path)
}

func runGraphHubs(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	s, _ := openStore()
	defer s.Close()

	hubs, err := s.Hubs(cmd.Context(), limit)
	if err != nil {
		exitErr("graph hubs", err)
	}
	printJSON(hubs)
}

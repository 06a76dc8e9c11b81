package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "about [entity]",
		Short: "Show everything known about an entity",
		Long:  "Show an entity's memories, active relationships, and nearby entities.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAbout,
	}

	cmd.Flags().IntP("limit", "l", 50, "Max memories")
	cmd.Flags().Int("hops", 1, "Relationship hops to include")

	RootCmd.AddCommand(cmd)
}

func runAbout(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	hops, _ := cmd.Flags().GetInt("hops")

	s, _ := openStore()
	defer s.Close()

	res, err := s.About(cmd.Context(), strings.Join(args, " "), limit, hops)
	if err != nil {
		exitErr("about", err)
	}
	printJSON(res)
}

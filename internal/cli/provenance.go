package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "provenance [memory-id]",
		Short: "Show where a memory came from",
		Long:  "Show a memory's origin, source, confidence, prior content, and full audit trail.",
		Args:  cobra.ExactArgs(1),
		Run:   runProvenance,
	}
	RootCmd.AddCommand(cmd)
}

func runProvenance(cmd *cobra.Command, args []string) {
	s, _ := openStore()
	defer s.Close()

	p, err := s.Provenance(cmd.Context(), args[0])
	if err != nil {
		exitErr("provenance", err)
	}
	printJSON(p)
}

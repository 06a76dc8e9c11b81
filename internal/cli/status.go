package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store health and counts",
		Run:   runStatus,
	}
	RootCmd.AddCommand(cmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	s, _ := openStore()
	defer s.Close()

	st, err := s.Status(cmd.Context())
	if err != nil {
		exitErr("status", err)
	}
	printJSON(st)
}

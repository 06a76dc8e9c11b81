package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	correct := &cobra.Command{
		Use:   "correct [memory-id] [new content]",
		Short: "Correct a memory's content",
		Long:  "Replace a memory's content, keeping the prior content and an audit trail.",
		Args:  cobra.MinimumNArgs(2),
		Run:   runCorrect,
	}
	RootCmd.AddCommand(correct)

	invalidate := &cobra.Command{
		Use:   "invalidate [memory-id]",
		Short: "Invalidate a memory",
		Long:  "Mark a memory invalid. It is excluded from recall but never physically deleted.",
		Args:  cobra.ExactArgs(1),
		Run:   runInvalidate,
	}
	invalidate.Flags().StringP("reason", "r", "", "Why the memory is being invalidated")
	RootCmd.AddCommand(invalidate)
}

func runCorrect(cmd *cobra.Command, args []string) {
	s, _ := openStore()
	defer s.Close()

	m, err := s.Correct(cmd.Context(), args[0], strings.Join(args[1:], " "))
	if err != nil {
		exitErr("correct", err)
	}
	printJSON(m)
}

func runInvalidate(cmd *cobra.Command, args []string) {
	reason, _ := cmd.Flags().GetString("reason")

	s, _ := openStore()
	defer s.Close()

	if err := s.Invalidate(cmd.Context(), args[0], reason); err != nil {
		exitErr("invalidate", err)
	}
	printJSON(map[string]string{"status": "invalidated", "id": args[0]})
}

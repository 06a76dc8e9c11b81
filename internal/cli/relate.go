package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/kbanc85/claudia-sub002/internal/store"
)

func init() {
	relate := &cobra.Command{
		Use:   "relate [from] [to]",
		Short: "Create or strengthen a relationship between two entities",
		Long:  "Create a relationship, or strengthen it if it already exists. Unknown entities are auto-created.",
		Args:  cobra.ExactArgs(2),
		Run:   runRelate,
	}
	relate.Flags().StringP("type", "t", "", "Relationship type, e.g. works_with, manages, client_of (required)")
	relate.Flags().Float64P("strength", "s", -1, "Initial strength in [0,1]; unset uses the default")
	relate.Flags().Bool("directed", false, "Treat the relationship as directed from -> to")
	relate.MarkFlagRequired("type")
	RootCmd.AddCommand(relate)

	unrelate := &cobra.Command{
		Use:   "unrelate [from] [to]",
		Short: "End a relationship without deleting its history",
		Long:  "Mark a relationship as no longer valid. The row survives for as-of queries.",
		Args:  cobra.ExactArgs(2),
		Run:   runUnrelate,
	}
	unrelate.Flags().StringP("type", "t", "", "Relationship type (required)")
	unrelate.MarkFlagRequired("type")
	RootCmd.AddCommand(unrelate)

	rels := &cobra.Command{
		Use:   "relationships [entity]",
		Short: "List an entity's relationships",
		Long:  "List relationships for an entity, optionally as of a past moment.",
		Args:  cobra.ExactArgs(1),
		Run:   runRelationships,
	}
	rels.Flags().String("as-of", "", "Point in time (RFC 3339); default now")
	RootCmd.AddCommand(rels)
}

func runRelate(cmd *cobra.Command, args []string) {
	relType, _ := cmd.Flags().GetString("type")
	strength, _ := cmd.Flags().GetFloat64("strength")
	directed, _ := cmd.Flags().GetBool("directed")

	p := store.RelateParams{
		From:     args[0],
		To:       args[1],
		Type:     relType,
		Directed: directed,
	}
	if strength >= 0 {
		p.Strength = &strength
	}

	s, _ := openStore()
	defer s.Close()

	rel, err := s.Relate(cmd.Context(), p)
	if err != nil {
		exitErr("relate", err)
	}
	printJSON(rel)
}

func runUnrelate(cmd *cobra.Command, args []string) {
	relType, _ := cmd.Flags().GetString("type")

	s, _ := openStore()
	defer s.Close()

	if err := s.EndRelationship(cmd.Context(), args[0], args[1], relType); err != nil {
		exitErr("unrelate", err)
	}
	printJSON(map[string]string{"status": "ended", "from": args[0], "to": args[1], "type": relType})
}

func runRelationships(cmd *cobra.Command, args []string) {
	asOfStr, _ := cmd.Flags().GetString("as-of")

	asOf := time.Now()
	if asOfStr != "" {
		t, err := time.Parse(time.RFC3339, asOfStr)
		if err != nil {
			exitErr("parse --as-of", err)
		}
		asOf = t
	}

	s, _ := openStore()
	defer s.Close()

	rels, err := s.RelationshipsAsOf(cmd.Context(), args[0], asOf)
	if err != nil {
		exitErr("relationships", err)
	}
	printJSON(rels)
}

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kbanc85/claudia-sub002/internal/model"
	"github.com/kbanc85/claudia-sub002/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runRemember,
	}

	cmd.Flags().StringP("type", "t", "fact", "Type: fact, preference, observation, commitment, pattern")
	cmd.Flags().StringP("origin", "o", "user_stated", "Origin: user_stated, extracted, inferred")
	cmd.Flags().StringP("entities", "e", "", "Comma-separated entity refs (name, id, or name:type)")
	cmd.Flags().Float64P("importance", "i", -1, "Importance in [0,1]; unset uses the default")
	cmd.Flags().Float64P("confidence", "c", -1, "Confidence in [0,1]; unset uses the origin's default")
	cmd.Flags().StringP("source", "s", "conversation", "Source channel, e.g. conversation, meeting, import")

	RootCmd.AddCommand(cmd)
}

func runRemember(cmd *cobra.Command, args []string) {
	memType, _ := cmd.Flags().GetString("type")
	origin, _ := cmd.Flags().GetString("origin")
	entitiesStr, _ := cmd.Flags().GetString("entities")
	importance, _ := cmd.Flags().GetFloat64("importance")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	source, _ := cmd.Flags().GetString("source")

	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("remember", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	p := store.RememberParams{
		Content:  content,
		Type:     model.MemoryType(memType),
		Origin:   model.OriginType(origin),
		Entities: splitList(entitiesStr),
		Source:   source,
	}
	if importance >= 0 {
		p.Importance = &importance
	}
	if confidence >= 0 {
		p.Confidence = &confidence
	}

	s, _ := openStore()
	defer s.Close()

	res, err := s.Remember(cmd.Context(), p)
	if err != nil {
		exitErr("remember", err)
	}
	printJSON(res)
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

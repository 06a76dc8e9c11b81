package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbanc85/claudia-sub002/internal/store"
)

func init() {
	export := &cobra.Command{
		Use:   "export",
		Short: "Export the whole store as JSON",
		Long:  "Export every entity, memory, relationship, and audit entry, including soft-deleted rows.",
		Run:   runExport,
	}
	export.Flags().StringP("file", "f", "", "Write to file instead of stdout")
	RootCmd.AddCommand(export)

	imp := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a previously exported dump",
		Long:  "Import a dump produced by export. Rows that already exist are skipped, so re-importing is safe.",
		Run:   runImport,
	}
	RootCmd.AddCommand(imp)
}

func runExport(cmd *cobra.Command, args []string) {
	file, _ := cmd.Flags().GetString("file")

	s, _ := openStore()
	defer s.Close()

	d, err := s.Export(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}

	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		exitErr("marshal", err)
	}
	if file == "" {
		fmt.Println(string(b))
		return
	}
	if err := os.WriteFile(file, b, 0o644); err != nil {
		exitErr("write file", err)
	}
	fmt.Fprintf(os.Stderr, "exported to %s\n", file)
}

func runImport(cmd *cobra.Command, args []string) {
	var r io.Reader = os.Stdin
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			exitErr("open file", err)
		}
		defer f.Close()
		r = f
	}

	var d store.Dump
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		exitErr("decode dump", err)
	}

	s, _ := openStore()
	defer s.Close()

	n, err := s.Import(cmd.Context(), &d)
	if err != nil {
		exitErr("import", err)
	}
	printJSON(map[string]int{"imported": n})
}

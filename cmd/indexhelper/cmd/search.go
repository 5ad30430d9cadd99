package cmd

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexhelper/internal/output"
)

func newSearchCmd() *cobra.Command {
	var (
		indexName  string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an index",
		Long: `Run a query-string search across every mount index of an index.

Fields: path, mount, name, ext, modified, fulltext.`,
		Example: `  indexhelper search "installation guide"
  indexhelper search 'ext:md +release' --limit 5 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runSearch(ctx, cmd, indexName, strings.Join(args, " "), limit, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&indexName, "index", DefaultIndexName, "Index name")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, indexName, query string, limit int, jsonOutput bool) (err error) {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()

	p, err := s.assembler.EditorProvider(ctx)
	if err != nil {
		return err
	}
	hits, err := p.Search(ctx, indexName, query, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	out := output.New(cmd.OutOrStdout())
	if len(hits) == 0 {
		out.Warningf("No results for %q", query)
		return nil
	}
	for _, h := range hits {
		out.Linef("%6.3f  %s %s", h.Score, h.Path, out.Dim("["+h.Mount+"]"))
	}
	return nil
}

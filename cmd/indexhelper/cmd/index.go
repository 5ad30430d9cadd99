package cmd

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexhelper/internal/editor"
	"github.com/Aman-CERP/indexhelper/internal/index"
	"github.com/Aman-CERP/indexhelper/internal/output"
)

type editorHandle struct {
	provider *editor.Provider
	editor   *editor.Editor
}

// indexFlags are shared by index, watch and gc.
type indexFlags struct {
	indexName   string
	ignore      []string
	maxFileSize int64
}

func (f *indexFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.indexName, "index", DefaultIndexName, "Index name")
	cmd.Flags().StringSliceVar(&f.ignore, "ignore", []string{".git", ".indexhelper*", "*.tmp"}, "Glob patterns to skip")
	cmd.Flags().Int64Var(&f.maxFileSize, "max-file-size", index.DefaultMaxFileSize, "Skip files larger than this many bytes")
}

func (f *indexFlags) runner(s *session, root string) (*index.Runner, error) {
	return index.NewRunner(index.RunnerConfig{
		Root:        root,
		Ignore:      f.ignore,
		MaxFileSize: f.maxFileSize,
	}, s.helper.Executor(), s.helper.BlobStore())
}

func newIndexCmd() *cobra.Command {
	var flags indexFlags

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a content directory",
		Long: `Index every file under path (default: current directory).

File content goes to the blob store; documents are routed to the index of
the mount their path belongs to. Read-only mounts are skipped.

The index mirrors path: documents whose file no longer exists under path
are removed.`,
		Example: `  # Index the current directory
  indexhelper index

  # Index docs/ into a named index
  indexhelper index docs --index manuals`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runIndex(cmd.Context(), cmd, &flags, root)
		},
	}
	flags.register(cmd)
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, flags *indexFlags, root string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := output.New(cmd.OutOrStdout())

	return withEditor(ctx, flags.indexName, func(s *session, h *editorHandle) error {
		r, err := flags.runner(s, root)
		if err != nil {
			return err
		}
		res, err := r.Run(ctx, h.editor)
		if err != nil {
			return err
		}

		abs, _ := filepath.Abs(root)
		stats := h.editor.Stats()
		out.Successf("Indexed %s files (%s) from %s in %s",
			output.Count(int64(res.Files)), output.Bytes(res.Bytes), abs, res.Duration.Round(1e6))
		if res.Removed > 0 {
			out.Linef("Removed %s documents of deleted files", output.Count(int64(res.Removed)))
		}
		if res.Skipped > 0 {
			out.Warningf("Skipped %d files", res.Skipped)
		}
		if stats.SkippedReadOnly > 0 {
			out.Warningf("Skipped %d documents on read-only mounts", stats.SkippedReadOnly)
		}
		if stats.ExtractionErrors > 0 {
			out.Warningf("%d binaries had no extractable text", stats.ExtractionErrors)
		}
		return nil
	})
}

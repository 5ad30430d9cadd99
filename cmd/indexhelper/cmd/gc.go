package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexhelper/internal/blob"
	"github.com/Aman-CERP/indexhelper/internal/errors"
	"github.com/Aman-CERP/indexhelper/internal/output"
)

func newGCCmd() *cobra.Command {
	var flags indexFlags

	cmd := &cobra.Command{
		Use:   "gc [path]",
		Short: "Delete blobs no longer referenced by the content tree",
		Long: `Mark and sweep the blob store: path is reindexed, which marks every blob
it references, then blobs not marked since the run started are deleted.

Requires a garbage-collectable blob store (blob_store.backend: sqlite).

The sweep covers the whole blob store, so the store must serve a single
content tree and index. Blobs referenced only by other indexes or other
roots sharing the store are deleted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runGC(ctx, cmd, &flags, root)
		},
	}
	flags.register(cmd)
	return cmd
}

func runGC(ctx context.Context, cmd *cobra.Command, flags *indexFlags, root string) error {
	out := output.New(cmd.OutOrStdout())

	return withEditor(ctx, flags.indexName, func(s *session, h *editorHandle) error {
		gc, ok := blob.AsGarbageCollectable(s.helper.BlobStore())
		if !ok {
			return errors.New(errors.ErrCodeInvalidInput, "blob store does not support garbage collection", nil).
				WithSuggestion("set blob_store.backend to sqlite")
		}

		markStart := time.Now()
		r, err := flags.runner(s, root)
		if err != nil {
			return err
		}
		if _, err := r.Run(ctx, h.editor); err != nil {
			return err
		}

		deleted, err := gc.CollectGarbage(ctx, markStart)
		if err != nil {
			return err
		}
		remaining, err := gc.ChunkIDs(ctx)
		if err != nil {
			return err
		}
		out.Successf("Deleted %s unreferenced blobs, %s remain",
			output.Count(int64(deleted)), output.Count(int64(len(remaining))))
		return nil
	})
}

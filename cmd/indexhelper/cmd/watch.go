package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexhelper/internal/output"
	"github.com/Aman-CERP/indexhelper/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var (
		flags    indexFlags
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Index a content directory and keep it up to date",
		Long: `Index path, then watch it and apply every debounced batch of changes:
created and modified files are reindexed, deleted files are removed.

Runs until interrupted.`,
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
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, &flags, root, debounce)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "Quiet period before applying changes")
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, flags *indexFlags, root string, debounce time.Duration) error {
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
		out.Successf("Indexed %s files from %s", output.Count(int64(res.Files)), r.Root())

		opts := watcher.DefaultOptions()
		opts.DebounceWindow = debounce
		opts.Ignore = flags.ignore
		w, err := watcher.New(r.Root(), opts)
		if err != nil {
			return err
		}
		defer w.Close()

		runErr := make(chan error, 1)
		go func() { runErr <- w.Run(ctx) }()
		out.Line(out.Dim("Watching for changes, press Ctrl+C to stop"))

		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-runErr:
				if err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			case err, ok := <-w.Errors():
				if ok {
					slog.Warn("watcher_error", slog.String("error", err.Error()))
				}
			case batch, ok := <-w.Events():
				if !ok {
					return nil
				}
				res, err := r.Apply(ctx, h.editor, batch)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				out.Linef("%s updated %d, removed %d",
					time.Now().Format(time.TimeOnly), res.Files, res.Removed)
			}
		}
	})
}

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexhelper/internal/blob"
	"github.com/Aman-CERP/indexhelper/internal/output"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show work directory, blob store and mount information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runInfo(ctx, cmd)
		},
	}
}

func runInfo(ctx context.Context, cmd *cobra.Command) (err error) {
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
	c := p.Copier()
	cache := p.TextCache().Stats()

	out := output.New(cmd.OutOrStdout())
	out.Header("Work directory")
	out.KV([][2]string{
		{"path", s.cfg.WorkDir},
		{"copier", c.WorkDir()},
		{"prefetch", fmt.Sprint(c.Prefetch())},
		{"indexes", strings.Join(c.Indexes(), ", ")},
	})

	out.Header("Text cache")
	out.KV([][2]string{
		{"budget", output.IBytes(cache.MaxBytes)},
		{"ttl", cache.TTL.String()},
	})

	out.Header("Blob store")
	rows := [][2]string{{"backend", s.cfg.BlobStore.Backend}}
	if gc, ok := blob.AsGarbageCollectable(s.helper.BlobStore()); ok {
		ids, err := gc.ChunkIDs(ctx)
		if err != nil {
			return err
		}
		var total int64
		for _, id := range ids {
			n, err := gc.Length(ctx, id)
			if err != nil {
				return err
			}
			total += n
		}
		rows = append(rows,
			[2]string{"path", s.cfg.BlobStorePath()},
			[2]string{"blobs", output.Count(int64(len(ids)))},
			[2]string{"size", output.Bytes(total)},
			[2]string{"gc", "supported"})
	} else {
		rows = append(rows, [2]string{"gc", "unsupported"})
	}
	out.KV(rows)

	out.Header("Mounts")
	var mountRows [][2]string
	for _, m := range p.Mounts().Mounts() {
		desc := strings.Join(m.PathsSupported, ", ")
		if m.Default {
			desc = "everything else"
		}
		if m.ReadOnly {
			desc += " (read-only)"
		}
		mountRows = append(mountRows, [2]string{m.Name, desc})
	}
	out.KV(mountRows)

	if p.HasDirectoryFactoryOverride() {
		out.Warningf("Directory factory override: %s", s.cfg.Directory.Factory)
	}
	return nil
}

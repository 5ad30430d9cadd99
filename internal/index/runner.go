// Package index feeds a content tree into an editor.
//
// Every regular file under the root becomes one document whose path is the
// slash separated path below the root with a leading "/". File content is
// stored in the blob store and referenced as the document's binary.
package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/indexhelper/internal/blob"
	"github.com/Aman-CERP/indexhelper/internal/editor"
	"github.com/Aman-CERP/indexhelper/internal/errors"
	"github.com/Aman-CERP/indexhelper/internal/executor"
	"github.com/Aman-CERP/indexhelper/internal/watcher"
)

// DefaultMaxFileSize is the largest file read into the blob store.
const DefaultMaxFileSize = 10 * 1024 * 1024

// ContentBinary is the binary name file content is stored under.
const ContentBinary = "content"

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Root is the content directory.
	Root string

	// Ignore holds glob patterns matched against each path element.
	Ignore []string

	// MaxFileSize skips larger files. Default: DefaultMaxFileSize.
	MaxFileSize int64
}

// Result summarizes a run.
type Result struct {
	Files    int
	Removed  int
	Skipped  int
	Bytes    int64
	Duration time.Duration
}

// Runner indexes files from one content root.
type Runner struct {
	root    string
	ignore  []string
	maxSize int64
	pool    *executor.Pool
	store   blob.Store
}

// NewRunner returns a runner reading from cfg.Root.
func NewRunner(cfg RunnerConfig, pool *executor.Pool, store blob.Store) (*Runner, error) {
	if cfg.Root == "" {
		return nil, errors.ValidationError("content root is required", nil)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidPath, "cannot resolve content root", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, errors.New(errors.ErrCodeInvalidPath, "content root is not a directory", err).
			WithDetail("path", root)
	}
	if pool == nil || store == nil {
		return nil, errors.ValidationError("executor and blob store are required", nil)
	}

	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &Runner{
		root:    root,
		ignore:  cfg.Ignore,
		maxSize: maxSize,
		pool:    pool,
		store:   store,
	}, nil
}

// Root returns the absolute content root.
func (r *Runner) Root() string { return r.root }

// DocumentPath maps a slash separated path below the root to a document path.
func DocumentPath(rel string) string {
	return "/" + strings.TrimPrefix(path.Clean(filepath.ToSlash(rel)), "/")
}

// Run indexes every file under the root, removes documents whose file is
// gone, and commits. The index then mirrors the root.
func (r *Runner) Run(ctx context.Context, ed *editor.Editor) (Result, error) {
	start := time.Now()

	indexed, err := ed.Paths(ctx)
	if err != nil {
		return Result{}, err
	}

	var rels []string
	err = filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("index_walk_skipped", slog.String("path", p), slog.String("error", err.Error()))
			return nil
		}
		rel, _ := filepath.Rel(r.root, p)
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if r.ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			rels = append(rels, rel)
		}
		return nil
	})
	if err != nil {
		return Result{}, errors.IOError(errors.ErrCodeIndexFailed, "cannot walk content root", err)
	}

	res, err := r.update(ctx, ed, rels)
	if err != nil {
		return res, err
	}

	seen := make(map[string]struct{}, len(rels))
	for _, rel := range rels {
		seen[DocumentPath(rel)] = struct{}{}
	}
	for _, p := range indexed {
		if _, ok := seen[p]; ok {
			continue
		}
		if err := ed.Remove(ctx, p); err != nil {
			return res, err
		}
		res.Removed++
	}

	if err := ed.Commit(ctx); err != nil {
		return res, err
	}
	res.Duration = time.Since(start)

	slog.Info("index_run_completed",
		slog.String("root", r.root),
		slog.Int("files", res.Files),
		slog.Int("removed", res.Removed),
		slog.Int("skipped", res.Skipped),
		slog.Int64("bytes", res.Bytes),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// Apply mirrors a batch of watcher events into the editor and commits.
func (r *Runner) Apply(ctx context.Context, ed *editor.Editor, events []watcher.FileEvent) (Result, error) {
	start := time.Now()

	var (
		changed []string
		res     Result
	)
	for _, ev := range events {
		if ev.IsDir || r.ignored(ev.Path) {
			continue
		}
		switch ev.Operation {
		case watcher.OpCreate, watcher.OpModify:
			changed = append(changed, ev.Path)
		case watcher.OpDelete:
			if err := ed.Remove(ctx, DocumentPath(ev.Path)); err != nil {
				return res, err
			}
			res.Removed++
		}
	}

	updated, err := r.update(ctx, ed, changed)
	res.Files, res.Skipped, res.Bytes = updated.Files, updated.Skipped, updated.Bytes
	if err != nil {
		return res, err
	}
	if err := ed.Commit(ctx); err != nil {
		return res, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

// update reads rels concurrently on the pool and updates one document each.
func (r *Runner) update(ctx context.Context, ed *editor.Editor, rels []string) (Result, error) {
	var (
		files, skipped atomic.Int64
		bytes          atomic.Int64
	)

	batch, err := r.pool.NewBatch(ctx)
	if err != nil {
		return Result{}, err
	}
	for _, rel := range rels {
		batch.Go(func(ctx context.Context) error {
			doc, n, ok, err := r.document(ctx, rel)
			if err != nil {
				return err
			}
			if !ok {
				skipped.Add(1)
				return nil
			}
			if err := ed.Update(ctx, doc); err != nil {
				return err
			}
			files.Add(1)
			bytes.Add(n)
			return nil
		})
	}
	err = batch.Wait()

	return Result{
		Files:   int(files.Load()),
		Skipped: int(skipped.Load()),
		Bytes:   bytes.Load(),
	}, err
}

// document reads one file into the blob store. ok is false when the file
// vanished or is too large.
func (r *Runner) document(ctx context.Context, rel string) (editor.Document, int64, bool, error) {
	abs := filepath.Join(r.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return editor.Document{}, 0, false, nil
		}
		return editor.Document{}, 0, false, errors.IOError(errors.ErrCodeIndexFailed, "cannot stat file", err).
			WithDetail("path", abs)
	}
	if !info.Mode().IsRegular() || info.Size() > r.maxSize {
		slog.Debug("index_file_skipped", slog.String("path", rel), slog.Int64("size", info.Size()))
		return editor.Document{}, 0, false, nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return editor.Document{}, 0, false, nil
		}
		return editor.Document{}, 0, false, errors.IOError(errors.ErrCodeIndexFailed, "cannot read file", err).
			WithDetail("path", abs)
	}
	id, err := r.store.Put(ctx, data)
	if err != nil {
		return editor.Document{}, 0, false, err
	}

	return editor.Document{
		Path: DocumentPath(rel),
		Fields: map[string]string{
			"name":     path.Base(rel),
			"ext":      strings.TrimPrefix(path.Ext(rel), "."),
			"modified": info.ModTime().UTC().Format(time.RFC3339),
		},
		Binaries: []editor.Binary{{Name: ContentBinary, BlobID: id}},
	}, int64(len(data)), true, nil
}

func (r *Runner) ignored(rel string) bool {
	for _, elem := range strings.Split(rel, "/") {
		for _, pattern := range r.ignore {
			if ok, _ := path.Match(pattern, elem); ok {
				return true
			}
		}
	}
	return false
}

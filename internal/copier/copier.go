// Package copier manages local working copies of index directories.
//
// A Copier owns one working directory. It holds an exclusive file lock on it
// for its whole lifetime so that two processes never share a work dir, and
// copies index files into it through the shared executor pool.
package copier

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/indexhelper/internal/errors"
	"github.com/Aman-CERP/indexhelper/internal/executor"
)

const (
	lockFileName = ".copier.lock"
	indexesDir   = "indexes"
	tmpSuffix    = ".tmp"
)

// ErrClosed is returned by operations on a closed Copier. Match it with errors.Is.
var ErrClosed = errors.Sentinel(errors.ErrCodeClosed)

// Stats is a snapshot of copier activity.
type Stats struct {
	WorkDir      string
	Indexes      int
	FilesCopied  int64
	FilesSkipped int64
	BytesCopied  int64
}

// Copier copies index directories into a local working directory.
type Copier struct {
	pool     *executor.Pool
	workDir  string
	prefetch bool
	lock     *flock.Flock

	mu      sync.Mutex
	closed  bool
	indexes map[string]string

	filesCopied  atomic.Int64
	filesSkipped atomic.Int64
	bytesCopied  atomic.Int64
}

// New creates workDir if needed, locks it and clears leftovers of
// interrupted copies. With prefetch set, CopyFrom copies all files of an
// index concurrently.
func New(pool *executor.Pool, workDir string, prefetch bool) (*Copier, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, errors.IOError(errors.ErrCodeWorkDir, "cannot create index work directory", err).
			WithDetail("path", workDir).
			WithSuggestion("check that the work directory is writable")
	}

	lock := flock.New(filepath.Join(workDir, lockFileName))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, errors.IOError(errors.ErrCodeWorkDir, "cannot lock index work directory", err).
			WithDetail("path", workDir)
	}
	if !acquired {
		return nil, errors.New(errors.ErrCodeCopierLocked, "index work directory is in use by another copier", nil).
			WithDetail("path", workDir)
	}

	c := &Copier{
		pool:     pool,
		workDir:  workDir,
		prefetch: prefetch,
		lock:     lock,
		indexes:  make(map[string]string),
	}

	if n := c.removeStaleTemps(); n > 0 {
		slog.Info("copier_stale_temps_removed", slog.String("work_dir", workDir), slog.Int("count", n))
	}
	c.adoptExisting()

	slog.Debug("copier_created",
		slog.String("work_dir", workDir),
		slog.Bool("prefetch", prefetch))
	return c, nil
}

// WorkDir returns the copier's working directory.
func (c *Copier) WorkDir() string {
	return c.workDir
}

// Prefetch reports whether files are copied concurrently.
func (c *Copier) Prefetch() bool {
	return c.prefetch
}

// LocalDir returns the local directory for indexName, creating it on first use.
func (c *Copier) LocalDir(indexName string) (string, error) {
	name, err := sanitize(indexName)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", errors.New(errors.ErrCodeClosed, "copier is closed", nil)
	}

	if dir, ok := c.indexes[name]; ok {
		return dir, nil
	}

	dir := filepath.Join(c.workDir, indexesDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.IOError(errors.ErrCodeWorkDir, "cannot create local index directory", err).
			WithDetail("index", indexName)
	}
	c.indexes[name] = dir
	return dir, nil
}

// LocalPath returns where the local directory of indexName is or would be,
// without creating or registering it.
func (c *Copier) LocalPath(indexName string) (string, error) {
	name, err := sanitize(indexName)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", errors.New(errors.ErrCodeClosed, "copier is closed", nil)
	}
	if dir, ok := c.indexes[name]; ok {
		return dir, nil
	}
	return filepath.Join(c.workDir, indexesDir, name), nil
}

// Indexes returns the names of indexes with a local directory, sorted.
func (c *Copier) Indexes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.indexes))
	for name := range c.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CopyFrom copies every regular file under srcDir into the local directory of
// indexName. Files already present with the same size are skipped.
func (c *Copier) CopyFrom(ctx context.Context, indexName, srcDir string) error {
	dst, err := c.LocalDir(indexName)
	if err != nil {
		return err
	}

	var files []string
	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, relErr := filepath.Rel(srcDir, path)
			if relErr != nil {
				return relErr
			}
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return errors.IOError(errors.ErrCodeCopyFailed, "cannot list source index directory", err).
			WithDetail("src", srcDir)
	}

	copyOne := func(ctx context.Context, rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return c.copyFile(filepath.Join(srcDir, rel), filepath.Join(dst, rel))
	}

	if !c.prefetch {
		for _, rel := range files {
			if err := copyOne(ctx, rel); err != nil {
				return err
			}
		}
	} else {
		batch, err := c.pool.NewBatch(ctx)
		if err != nil {
			return errors.InternalError("executor unavailable", err)
		}
		for _, rel := range files {
			batch.Go(func(ctx context.Context) error { return copyOne(ctx, rel) })
		}
		if err := batch.Wait(); err != nil {
			return err
		}
	}

	slog.Debug("copier_index_copied",
		slog.String("index", indexName),
		slog.String("src", srcDir),
		slog.Int("files", len(files)))
	return nil
}

// copyFile writes src to a temp file next to dst and renames it into place.
func (c *Copier) copyFile(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return copyErr(src, err)
	}
	if dstInfo, err := os.Stat(dst); err == nil && dstInfo.Size() == srcInfo.Size() {
		c.filesSkipped.Add(1)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return copyErr(src, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return copyErr(src, err)
	}
	defer in.Close()

	tmp := dst + tmpSuffix
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return copyErr(src, err)
	}

	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmp, dst)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return copyErr(src, err)
	}

	c.filesCopied.Add(1)
	c.bytesCopied.Add(n)
	return nil
}

// Stats returns copier counters.
func (c *Copier) Stats() Stats {
	c.mu.Lock()
	n := len(c.indexes)
	c.mu.Unlock()

	return Stats{
		WorkDir:      c.workDir,
		Indexes:      n,
		FilesCopied:  c.filesCopied.Load(),
		FilesSkipped: c.filesSkipped.Load(),
		BytesCopied:  c.bytesCopied.Load(),
	}
}

// Close releases the work directory lock. Safe to call multiple times.
func (c *Copier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.lock.Unlock(); err != nil {
		return errors.IOError(errors.ErrCodeCopierRelease, "failed to release work directory lock", err).
			WithDetail("path", c.workDir)
	}
	if err := os.Remove(c.lock.Path()); err != nil && !os.IsNotExist(err) {
		return errors.IOError(errors.ErrCodeCopierRelease, "failed to remove work directory lock", err).
			WithDetail("path", c.workDir)
	}

	slog.Debug("copier_closed",
		slog.String("work_dir", c.workDir),
		slog.Int64("files_copied", c.filesCopied.Load()))
	return nil
}

// IsClosed reports whether Close was called.
func (c *Copier) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// adoptExisting registers local index directories left by earlier runs.
func (c *Copier) adoptExisting() {
	entries, err := os.ReadDir(filepath.Join(c.workDir, indexesDir))
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			c.indexes[e.Name()] = filepath.Join(c.workDir, indexesDir, e.Name())
		}
	}
}

func (c *Copier) removeStaleTemps() int {
	removed := 0
	_ = filepath.WalkDir(filepath.Join(c.workDir, indexesDir), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), tmpSuffix) {
			if os.Remove(path) == nil {
				removed++
			}
		}
		return nil
	})
	return removed
}

// sanitize turns an index name into a single path element.
func sanitize(indexName string) (string, error) {
	name := strings.Trim(strings.ReplaceAll(indexName, "/", "_"), "_")
	if name == "" || name == "." || name == ".." {
		return "", errors.New(errors.ErrCodeInvalidPath, fmt.Sprintf("invalid index name %q", indexName), nil)
	}
	return name, nil
}

func copyErr(src string, err error) error {
	return errors.IOError(errors.ErrCodeCopyFailed, "failed to copy index file", err).WithDetail("file", src)
}

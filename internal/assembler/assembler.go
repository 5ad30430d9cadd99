// Package assembler wires editor providers out of a shared index context.
//
// An Assembler owns the pieces every editor it produces shares: a text
// cache and a directory copier working under <WorkDir>/indexWorkDir. The
// copier is created on the first EditorProvider call and released by Close.
package assembler

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/indexhelper/internal/blob"
	"github.com/Aman-CERP/indexhelper/internal/copier"
	"github.com/Aman-CERP/indexhelper/internal/directory"
	"github.com/Aman-CERP/indexhelper/internal/editor"
	"github.com/Aman-CERP/indexhelper/internal/errors"
	"github.com/Aman-CERP/indexhelper/internal/executor"
	"github.com/Aman-CERP/indexhelper/internal/mount"
	"github.com/Aman-CERP/indexhelper/internal/textcache"
)

// WorkDirName is the subdirectory of the context work dir used by the copier.
const WorkDirName = "indexWorkDir"

// IndexContext supplies the shared resources an Assembler draws on.
type IndexContext interface {
	WorkDir() string
	Executor() *executor.Pool
	BlobStore() blob.Store
	MountInfoProvider() *mount.Provider
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithDirectoryFactory sets the directory factory attached to every provider.
func WithDirectoryFactory(f directory.Factory) Option {
	return func(a *Assembler) {
		a.dirFactory = f
	}
}

// WithTextCache replaces the default 5 MiB / 5 h text cache limits.
func WithTextCache(maxBytes int64, ttl time.Duration) Option {
	return func(a *Assembler) {
		a.cacheBytes = maxBytes
		a.cacheTTL = ttl
	}
}

// WithPrefetch controls whether the copier copies index files concurrently.
// Enabled by default.
func WithPrefetch(prefetch bool) Option {
	return func(a *Assembler) {
		a.prefetch = prefetch
	}
}

// newCopier is swapped in tests to observe copier creation.
var newCopier = copier.New

// Assembler builds editor providers. It is safe for concurrent use.
type Assembler struct {
	index IndexContext

	cacheBytes int64
	cacheTTL   time.Duration
	prefetch   bool
	textCache  *textcache.Cache

	mu         sync.Mutex
	dirFactory directory.Factory
	copier     *copier.Copier
	closed     bool
}

// New returns an Assembler over index. No resources are acquired until the
// first EditorProvider call.
func New(index IndexContext, opts ...Option) *Assembler {
	a := &Assembler{
		index:      index,
		cacheBytes: textcache.DefaultMaxBytes,
		cacheTTL:   textcache.DefaultTTL,
		prefetch:   true,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.textCache = textcache.New(a.cacheBytes, a.cacheTTL)
	return a
}

// SetDirectoryFactory sets the override used by later EditorProvider calls.
// nil clears it.
func (a *Assembler) SetDirectoryFactory(f directory.Factory) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dirFactory = f
}

// TextCache returns the cache shared by every provider of this Assembler.
func (a *Assembler) TextCache() *textcache.Cache {
	return a.textCache
}

// DirectoryCopier returns the copier, or nil before the first EditorProvider call.
func (a *Assembler) DirectoryCopier() *copier.Copier {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copier
}

// EditorProvider returns a new editor provider. All providers share one
// copier and one text cache. Content is read from the context's blob store;
// it is attached for garbage collection only when it supports it.
func (a *Assembler) EditorProvider(ctx context.Context) (*editor.Provider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, errors.New(errors.ErrCodeClosed, "assembler is closed", nil)
	}

	c, err := a.copierLocked()
	if err != nil {
		return nil, err
	}

	p := editor.NewProvider(c, a.textCache, nil, a.index.MountInfoProvider())

	if store := a.index.BlobStore(); store != nil {
		p.SetContentStore(store)
		if gc, ok := blob.AsGarbageCollectable(store); ok {
			p.SetBlobStore(gc)
		}
	}
	if a.dirFactory != nil {
		p.SetDirectoryFactory(a.dirFactory)
	}

	slog.Debug("editor_provider_assembled",
		slog.String("work_dir", c.WorkDir()),
		slog.Bool("gc_blob_store", p.BlobStore() != nil),
		slog.Bool("directory_override", p.HasDirectoryFactoryOverride()))
	return p, nil
}

// copierLocked returns the copier, creating it on first use. Caller holds a.mu.
func (a *Assembler) copierLocked() (*copier.Copier, error) {
	if a.copier != nil {
		return a.copier, nil
	}

	workDir := filepath.Join(a.index.WorkDir(), WorkDirName)
	c, err := newCopier(a.index.Executor(), workDir, a.prefetch)
	if err != nil {
		slog.Error("copier_create_failed",
			slog.String("work_dir", workDir),
			slog.String("error", err.Error()))
		return nil, err
	}
	a.copier = c
	return c, nil
}

// Close releases the copier if one was created. Calling Close again is a no-op.
func (a *Assembler) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if a.copier == nil {
		return nil
	}
	if err := a.copier.Close(); err != nil {
		return err
	}
	slog.Debug("assembler_closed", slog.String("work_dir", a.copier.WorkDir()))
	return nil
}

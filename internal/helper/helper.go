// Package helper builds the shared index context from configuration.
package helper

import (
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Aman-CERP/indexhelper/internal/assembler"
	"github.com/Aman-CERP/indexhelper/internal/blob"
	"github.com/Aman-CERP/indexhelper/internal/config"
	"github.com/Aman-CERP/indexhelper/internal/directory"
	"github.com/Aman-CERP/indexhelper/internal/errors"
	"github.com/Aman-CERP/indexhelper/internal/executor"
	"github.com/Aman-CERP/indexhelper/internal/mount"
)

// IndexHelper owns the resources shared by every assembler built from it:
// the work directory, the executor pool, the blob store and the mounts.
type IndexHelper struct {
	cfg        *config.Config
	pool       *executor.Pool
	store      blob.Store
	mounts     *mount.Provider
	dirFactory directory.Factory
}

var _ assembler.IndexContext = (*IndexHelper)(nil)

// Open creates the work directory and opens the configured resources.
func Open(cfg *config.Config) (*IndexHelper, error) {
	if cfg == nil {
		return nil, errors.ValidationError("config is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError("invalid configuration", err)
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, errors.IOError(errors.ErrCodeWorkDir, "cannot create work directory", err).
			WithDetail("path", cfg.WorkDir)
	}

	mounts, err := mountsFromConfig(cfg.Mounts)
	if err != nil {
		return nil, err
	}

	dirFactory, err := directory.FromConfig(cfg.Directory.Factory, cfg.Directory.Root)
	if err != nil {
		return nil, errors.ConfigError("invalid directory factory", err)
	}

	store, err := openBlobStore(cfg)
	if err != nil {
		closeFactory(dirFactory)
		return nil, err
	}

	h := &IndexHelper{
		cfg:        cfg,
		pool:       executor.NewPool(cfg.Executor.Workers),
		store:      store,
		mounts:     mounts,
		dirFactory: dirFactory,
	}

	slog.Info("index_helper_opened",
		slog.String("work_dir", cfg.WorkDir),
		slog.String("blob_backend", cfg.BlobStore.Backend),
		slog.Int("workers", cfg.Executor.Workers),
		slog.Int("mounts", len(cfg.Mounts)))
	return h, nil
}

func openBlobStore(cfg *config.Config) (blob.Store, error) {
	switch strings.ToLower(cfg.BlobStore.Backend) {
	case "memory":
		return blob.NewMemoryStore(), nil
	default:
		return blob.NewSQLiteStore(cfg.BlobStorePath())
	}
}

func mountsFromConfig(mcs []config.MountConfig) (*mount.Provider, error) {
	mounts := make([]mount.Mount, 0, len(mcs))
	for _, mc := range mcs {
		mounts = append(mounts, mount.Mount{
			Name:           mc.Name,
			PathsSupported: mc.Paths,
			ReadOnly:       mc.ReadOnly,
		})
	}
	return mount.NewProvider(mounts...)
}

// WorkDir returns the configured work directory.
func (h *IndexHelper) WorkDir() string { return h.cfg.WorkDir }

// Executor returns the shared worker pool.
func (h *IndexHelper) Executor() *executor.Pool { return h.pool }

// BlobStore returns the configured blob store.
func (h *IndexHelper) BlobStore() blob.Store { return h.store }

// MountInfoProvider returns the configured mounts.
func (h *IndexHelper) MountInfoProvider() *mount.Provider { return h.mounts }

// Config returns the configuration the helper was opened with.
func (h *IndexHelper) Config() *config.Config { return h.cfg }

// NewAssembler returns an assembler configured from the helper's config.
// The configured directory factory, if any, is passed as an override.
func (h *IndexHelper) NewAssembler() *assembler.Assembler {
	opts := []assembler.Option{
		assembler.WithTextCache(h.cfg.TextCache.MaxBytes, h.cfg.TextCache.TTL),
		assembler.WithPrefetch(h.cfg.Copier.Prefetch),
	}
	if h.dirFactory != nil {
		opts = append(opts, assembler.WithDirectoryFactory(h.dirFactory))
	}
	return assembler.New(h, opts...)
}

// Close stops the executor and closes the blob store.
func (h *IndexHelper) Close() error {
	var errs []error
	if err := h.pool.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if err := h.store.Close(); err != nil {
		errs = append(errs, err)
	}
	closeFactory(h.dirFactory)
	return stderrors.Join(errs...)
}

func closeFactory(f directory.Factory) {
	if c, ok := f.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("directory_factory_close_failed", slog.String("error", err.Error()))
		}
	}
}

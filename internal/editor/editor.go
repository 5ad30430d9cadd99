package editor

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/indexhelper/internal/directory"
	"github.com/Aman-CERP/indexhelper/internal/errors"
	"github.com/Aman-CERP/indexhelper/internal/mount"
	"github.com/Aman-CERP/indexhelper/internal/textcache"
)

// BatchSize is the number of pending mutations per mount that triggers a flush.
const BatchSize = 100

// Document is one node to index, identified by its repository path.
type Document struct {
	Path     string
	Fields   map[string]string
	Binaries []Binary
}

// Binary references binary content whose text should be indexed.
type Binary struct {
	Name   string
	BlobID string
}

// Stats counts what an editor did.
type Stats struct {
	Updated           int
	Removed           int
	SkippedReadOnly   int
	BinariesExtracted int
	BinariesFromCache int
	BinariesSkipped   int
	ExtractionErrors  int
	Commits           int
}

// Editor applies updates and removals to the indexes of one index name.
// It is safe for concurrent use.
type Editor struct {
	provider  *Provider
	indexName string

	mu      sync.Mutex
	closed  bool
	targets map[string]*target
	stats   Stats
}

// target is the open index and pending batch of one mount.
type target struct {
	mount   mount.Mount
	handle  *directory.Handle
	batch   *bleve.Batch
	pending int
	blobIDs map[string]struct{}
}

func newEditor(p *Provider, indexName string) *Editor {
	return &Editor{
		provider:  p,
		indexName: indexName,
		targets:   make(map[string]*target),
	}
}

// IndexName returns the base index name.
func (e *Editor) IndexName() string {
	return e.indexName
}

// Update indexes doc, replacing any previous version at the same path.
// Documents under read-only mounts are skipped.
func (e *Editor) Update(ctx context.Context, doc Document) error {
	if doc.Path == "" {
		return errors.ValidationError("document path must not be empty", nil)
	}

	m := e.provider.mounts.MountByPath(doc.Path)
	if m.ReadOnly {
		e.mu.Lock()
		e.stats.SkippedReadOnly++
		e.mu.Unlock()
		return nil
	}

	// Text resolution may hit the blob store; keep it outside the lock.
	fields, blobIDs, counts := e.buildFields(ctx, doc, m)
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed()
	}

	t, err := e.target(m)
	if err != nil {
		return err
	}
	if err := t.batch.Index(doc.Path, fields); err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to index document", err).WithDetail("path", doc.Path)
	}
	for _, id := range blobIDs {
		t.blobIDs[id] = struct{}{}
	}
	t.pending++

	e.stats.Updated++
	e.stats.BinariesExtracted += counts.extracted
	e.stats.BinariesFromCache += counts.cached
	e.stats.BinariesSkipped += counts.skipped
	e.stats.ExtractionErrors += counts.errors

	if t.pending >= BatchSize {
		return e.flush(ctx, t)
	}
	return nil
}

// Remove deletes the document at path.
func (e *Editor) Remove(ctx context.Context, path string) error {
	m := e.provider.mounts.MountByPath(path)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed()
	}
	if m.ReadOnly {
		e.stats.SkippedReadOnly++
		return nil
	}

	t, err := e.target(m)
	if err != nil {
		return err
	}
	t.batch.Delete(path)
	t.pending++
	e.stats.Removed++

	if t.pending >= BatchSize {
		return e.flush(ctx, t)
	}
	return nil
}

// Commit flushes every pending batch.
func (e *Editor) Commit(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed()
	}
	return e.commitLocked(ctx)
}

func (e *Editor) commitLocked(ctx context.Context) error {
	names := make([]string, 0, len(e.targets))
	for name := range e.targets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := e.flush(ctx, e.targets[name]); err != nil {
			return err
		}
	}
	e.stats.Commits++

	slog.Debug("editor_committed",
		slog.String("index", e.indexName),
		slog.Int("updated", e.stats.Updated),
		slog.Int("removed", e.stats.Removed))
	return nil
}

// pathsPageSize is the page size used when listing indexed paths.
const pathsPageSize = 1000

// Paths commits pending changes and returns the sorted paths of every
// document in the writable mount indexes.
func (e *Editor) Paths(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errClosed()
	}
	if err := e.commitLocked(ctx); err != nil {
		return nil, err
	}

	var paths []string
	for _, m := range e.provider.mounts.Mounts() {
		if m.ReadOnly {
			continue
		}
		var idx bleve.Index
		if t, ok := e.targets[m.Name]; ok {
			idx = t.handle.Index
		} else {
			dir, err := e.provider.dirFactory.Directory(IndexNameForMount(e.indexName, m))
			if err != nil {
				return nil, err
			}
			if !dir.Exists() {
				continue
			}
			h, err := dir.Open()
			if err != nil {
				return nil, err
			}
			defer h.Close()
			idx = h.Index
		}

		ids, err := documentIDs(ctx, idx)
		if err != nil {
			return nil, errors.New(errors.ErrCodeIndexFailed, "failed to list documents", err).
				WithDetail("mount", m.Name)
		}
		paths = append(paths, ids...)
	}
	sort.Strings(paths)
	return paths, nil
}

func documentIDs(ctx context.Context, idx bleve.Index) ([]string, error) {
	var ids []string
	for from := 0; ; from += pathsPageSize {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), pathsPageSize, from, false)
		req.SortBy([]string{"_id"})
		res, err := idx.SearchInContext(ctx, req)
		if err != nil {
			return nil, err
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < pathsPageSize {
			return ids, nil
		}
	}
}

// Close commits pending changes and releases the indexes. Safe to call
// multiple times.
func (e *Editor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}

	err := e.commitLocked(context.Background())
	e.closed = true
	for _, t := range e.targets {
		if cerr := t.handle.Close(); cerr != nil && err == nil {
			err = errors.New(errors.ErrCodeIndexFailed, "failed to close index", cerr)
		}
	}
	return err
}

// Stats returns a snapshot of the editor's counters.
func (e *Editor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// target returns the open index for m, opening it on first use. Caller holds e.mu.
func (e *Editor) target(m mount.Mount) (*target, error) {
	if t, ok := e.targets[m.Name]; ok {
		return t, nil
	}

	dir, err := e.provider.dirFactory.Directory(IndexNameForMount(e.indexName, m))
	if err != nil {
		return nil, err
	}
	h, err := dir.Open()
	if err != nil {
		return nil, err
	}

	t := &target{
		mount:   m,
		handle:  h,
		batch:   h.NewBatch(),
		blobIDs: make(map[string]struct{}),
	}
	e.targets[m.Name] = t

	slog.Debug("editor_index_opened",
		slog.String("index", dir.Name()),
		slog.String("mount", m.Name),
		slog.Bool("in_memory", dir.InMemory()))
	return t, nil
}

// flush writes t's pending batch and marks the blobs it referenced.
// Caller holds e.mu.
func (e *Editor) flush(ctx context.Context, t *target) error {
	if t.pending == 0 {
		return nil
	}
	if err := t.handle.Batch(t.batch); err != nil {
		return errors.New(errors.ErrCodeIndexFailed, "failed to apply index batch", err).
			WithDetail("mount", t.mount.Name)
	}
	t.batch.Reset()
	t.pending = 0

	if gc := e.provider.blobStore; gc != nil && len(t.blobIDs) > 0 {
		ids := make([]string, 0, len(t.blobIDs))
		for id := range t.blobIDs {
			ids = append(ids, id)
		}
		if err := gc.Mark(ctx, ids, time.Now()); err != nil {
			return err
		}
		t.blobIDs = make(map[string]struct{})
	}
	return nil
}

type textCounts struct {
	extracted, cached, skipped, errors int
}

// buildFields turns doc into the field map stored in the index.
func (e *Editor) buildFields(ctx context.Context, doc Document, m mount.Mount) (map[string]any, []string, textCounts) {
	fields := make(map[string]any, len(doc.Fields)+3)
	for k, v := range doc.Fields {
		fields[k] = v
	}
	fields["path"] = doc.Path
	fields["mount"] = m.Name

	var (
		texts   []string
		blobIDs []string
		counts  textCounts
	)
	for _, b := range doc.Binaries {
		if b.BlobID == "" {
			continue
		}
		blobIDs = append(blobIDs, b.BlobID)

		text, source := e.resolveText(ctx, doc.Path, b.BlobID)
		switch source {
		case sourceCache:
			counts.cached++
		case sourceExtracted, sourceBlobStore:
			counts.extracted++
		case sourceError:
			counts.errors++
		default:
			counts.skipped++
		}
		if text != "" {
			texts = append(texts, text)
		}
	}
	if len(texts) > 0 {
		fields["fulltext"] = strings.Join(texts, "\n")
	}
	return fields, blobIDs, counts
}

type textSource int

const (
	sourceNone textSource = iota
	sourceCache
	sourceExtracted
	sourceBlobStore
	sourceError
)

// resolveText finds the text of a blob: text cache, then the pre-extracted
// provider, then the content store's raw bytes if they are valid UTF-8.
func (e *Editor) resolveText(ctx context.Context, path, blobID string) (string, textSource) {
	cache := e.provider.textCache

	if text, ok := cache.Get(path, blobID); ok {
		if text == textcache.ErrorText {
			return "", sourceError
		}
		return text, sourceCache
	}

	if ext := e.provider.extracted; ext != nil {
		text, ok, err := ext.Text(ctx, path, blobID)
		if err != nil {
			slog.Warn("pre_extracted_text_failed",
				slog.String("path", path),
				slog.String("blob_id", blobID),
				slog.String("error", err.Error()))
		} else if ok {
			cache.Put(blobID, text)
			return text, sourceExtracted
		}
	}

	store := e.provider.ContentStore()
	if store == nil {
		return "", sourceNone
	}

	data, err := store.Get(ctx, blobID)
	if err != nil {
		slog.Warn("binary_read_failed",
			slog.String("path", path),
			slog.String("blob_id", blobID),
			slog.String("error", err.Error()))
		if ctx.Err() == nil {
			cache.PutError(blobID)
		}
		return "", sourceError
	}
	if !utf8.Valid(data) {
		cache.PutError(blobID)
		return "", sourceError
	}

	text := string(data)
	cache.Put(blobID, text)
	return text, sourceBlobStore
}

func errClosed() error {
	return errors.New(errors.ErrCodeClosed, "editor is closed", nil)
}

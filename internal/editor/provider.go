// Package editor applies content changes to bleve indexes.
//
// A Provider carries the collaborators every editor needs: the directory
// copier, the extracted-text cache, an optional pre-extracted text source,
// the mount layout, and optionally a content store, a garbage-collectable
// blob store and a directory factory override. Editors obtained from a Provider route each
// document to the index of the mount that owns its path.
package editor

import (
	"context"
	"sort"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/indexhelper/internal/blob"
	"github.com/Aman-CERP/indexhelper/internal/copier"
	"github.com/Aman-CERP/indexhelper/internal/directory"
	"github.com/Aman-CERP/indexhelper/internal/errors"
	"github.com/Aman-CERP/indexhelper/internal/mount"
	"github.com/Aman-CERP/indexhelper/internal/textcache"
)

// ExtractedTextProvider supplies text extracted ahead of indexing.
type ExtractedTextProvider interface {
	// Text returns the pre-extracted text of a blob, or ok=false if none exists.
	Text(ctx context.Context, path, blobID string) (text string, ok bool, err error)
}

// Provider creates editors.
type Provider struct {
	copier    *copier.Copier
	textCache *textcache.Cache
	extracted ExtractedTextProvider
	mounts    *mount.Provider

	content     blob.Store
	blobStore   blob.GarbageCollectable
	dirFactory  directory.Factory
	hasOverride bool
}

// NewProvider creates a Provider. extracted may be nil. A nil mounts means
// the default mount only.
func NewProvider(c *copier.Copier, cache *textcache.Cache, extracted ExtractedTextProvider, mounts *mount.Provider) *Provider {
	if mounts == nil {
		mounts = mount.Default()
	}
	if cache == nil {
		cache = textcache.New(0, 0)
	}
	p := &Provider{
		copier:    c,
		textCache: cache,
		extracted: extracted,
		mounts:    mounts,
	}
	if c != nil {
		p.dirFactory = directory.NewCopierFactory(c)
	}
	return p
}

// SetContentStore sets where editors read binary content from. Without one,
// content is read from the garbage-collectable store if attached.
func (p *Provider) SetContentStore(s blob.Store) {
	p.content = s
}

// ContentStore returns the store binary content is read from, or nil.
func (p *Provider) ContentStore() blob.Store {
	if p.content != nil {
		return p.content
	}
	if p.blobStore != nil {
		return p.blobStore
	}
	return nil
}

// SetBlobStore attaches a garbage-collectable blob store. Editors mark the
// blobs they index as referenced in it.
func (p *Provider) SetBlobStore(s blob.GarbageCollectable) {
	p.blobStore = s
}

// BlobStore returns the attached blob store, or nil.
func (p *Provider) BlobStore() blob.GarbageCollectable {
	return p.blobStore
}

// SetDirectoryFactory overrides where index data is stored.
func (p *Provider) SetDirectoryFactory(f directory.Factory) {
	p.dirFactory = f
	p.hasOverride = f != nil
	if f == nil && p.copier != nil {
		p.dirFactory = directory.NewCopierFactory(p.copier)
	}
}

// DirectoryFactory returns the factory editors use.
func (p *Provider) DirectoryFactory() directory.Factory {
	return p.dirFactory
}

// HasDirectoryFactoryOverride reports whether SetDirectoryFactory replaced the default.
func (p *Provider) HasDirectoryFactoryOverride() bool {
	return p.hasOverride
}

// Copier returns the directory copier.
func (p *Provider) Copier() *copier.Copier {
	return p.copier
}

// TextCache returns the extracted-text cache.
func (p *Provider) TextCache() *textcache.Cache {
	return p.textCache
}

// ExtractedTextProvider returns the pre-extracted text source, possibly nil.
func (p *Provider) ExtractedTextProvider() ExtractedTextProvider {
	return p.extracted
}

// Mounts returns the mount layout.
func (p *Provider) Mounts() *mount.Provider {
	return p.mounts
}

// IndexNameForMount returns the index that holds documents of m.
func IndexNameForMount(indexName string, m mount.Mount) string {
	if m.Default {
		return indexName
	}
	return indexName + "-" + m.Name
}

// Editor opens an editor for indexName. Per-mount indexes are opened lazily.
func (p *Provider) Editor(ctx context.Context, indexName string) (*Editor, error) {
	if p.dirFactory == nil {
		return nil, errors.InternalError("editor provider has no directory factory", nil)
	}
	if indexName == "" {
		return nil, errors.ValidationError("index name must not be empty", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newEditor(p, indexName), nil
}

// Hit is one search result.
type Hit struct {
	Path  string  `json:"path"`
	Mount string  `json:"mount"`
	Score float64 `json:"score"`
}

// Search runs a query-string search over every existing mount index of indexName.
func (p *Provider) Search(ctx context.Context, indexName, query string, limit int) ([]Hit, error) {
	if p.dirFactory == nil {
		return nil, errors.InternalError("editor provider has no directory factory", nil)
	}
	if limit <= 0 {
		limit = 10
	}

	var hits []Hit
	for _, m := range p.mounts.Mounts() {
		dir, err := p.dirFactory.Directory(IndexNameForMount(indexName, m))
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
		req := bleve.NewSearchRequest(bleve.NewQueryStringQuery(query))
		req.Size = limit
		res, err := h.SearchInContext(ctx, req)
		_ = h.Close()
		if err != nil {
			return nil, errors.New(errors.ErrCodeIndexFailed, "search failed", err).WithDetail("index", dir.Name())
		}
		for _, dm := range res.Hits {
			hits = append(hits, Hit{Path: dm.ID, Mount: m.Name, Score: dm.Score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

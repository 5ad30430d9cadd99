// Package directory decides where an index's data lives and opens bleve
// indexes there. A Factory maps index names to Directories; the editor never
// creates index storage on its own.
package directory

import (
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Directory is the storage location of one index.
type Directory interface {
	// Name is the index name the directory was created for.
	Name() string
	// Path is the on-disk location, empty for in-memory directories.
	Path() string
	// InMemory reports whether the index lives only in memory.
	InMemory() bool
	// Exists reports whether an index has already been created here.
	Exists() bool
	// Open opens (creating if needed) the index. Close the handle when done.
	Open() (*Handle, error)
}

// Factory creates Directories for index names.
type Factory interface {
	Directory(indexName string) (Directory, error)
}

// Handle is a shared reference to an open bleve index. Several handles may
// point at the same index; the index is closed when the last one is.
type Handle struct {
	bleve.Index
	release func() error
	once    sync.Once
}

// Close releases this reference.
func (h *Handle) Close() error {
	var err error
	h.once.Do(func() { err = h.release() })
	return err
}

// registry reference-counts open indexes by key. Bleve's bolt store allows a
// single open per path, so every opener in the process has to share it.
type registry struct {
	mu   sync.Mutex
	open map[string]*entry
	// keep leaves indexes open at zero references (memory indexes would lose data).
	keep bool
}

type entry struct {
	idx  bleve.Index
	refs int
}

func newRegistry(keep bool) *registry {
	return &registry{open: make(map[string]*entry), keep: keep}
}

func (r *registry) acquire(key string, open func() (bleve.Index, error)) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.open[key]
	if !ok {
		idx, err := open()
		if err != nil {
			return nil, err
		}
		e = &entry{idx: idx}
		r.open[key] = e
	}
	e.refs++

	return &Handle{Index: e.idx, release: func() error { return r.release(key) }}, nil
}

func (r *registry) release(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.open[key]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 || r.keep {
		return nil
	}
	delete(r.open, key)
	return e.idx.Close()
}

func (r *registry) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.open[key]
	return ok
}

func (r *registry) closeAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for key, e := range r.open {
		if err := e.idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.open, key)
	}
	return firstErr
}

// NewIndexMapping returns the mapping every index is created with.
func NewIndexMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = "standard"

	keyword := bleve.NewKeywordFieldMapping()
	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("path", keyword)
	doc.AddFieldMappingsAt("mount", keyword)
	m.DefaultMapping = doc
	return m
}

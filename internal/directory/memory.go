package directory

import (
	"github.com/blevesearch/bleve/v2"
)

// MemoryFactory keeps indexes in memory for the lifetime of the factory.
type MemoryFactory struct {
	indexes *registry
}

// NewMemoryFactory creates an empty in-memory factory.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{indexes: newRegistry(true)}
}

// Directory implements Factory.
func (f *MemoryFactory) Directory(indexName string) (Directory, error) {
	if _, err := dirName(indexName); err != nil {
		return nil, err
	}
	return &memDirectory{name: indexName, indexes: f.indexes}, nil
}

// Close drops every in-memory index.
func (f *MemoryFactory) Close() error {
	return f.indexes.closeAll()
}

type memDirectory struct {
	name    string
	indexes *registry
}

func (d *memDirectory) Name() string   { return d.name }
func (d *memDirectory) Path() string   { return "" }
func (d *memDirectory) InMemory() bool { return true }
func (d *memDirectory) Exists() bool   { return d.indexes.has(d.name) }

func (d *memDirectory) Open() (*Handle, error) {
	return d.indexes.acquire(d.name, func() (bleve.Index, error) {
		return bleve.NewMemOnly(NewIndexMapping())
	})
}

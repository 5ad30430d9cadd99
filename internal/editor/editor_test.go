package editor

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexhelper/internal/blob"
	"github.com/Aman-CERP/indexhelper/internal/copier"
	"github.com/Aman-CERP/indexhelper/internal/directory"
	"github.com/Aman-CERP/indexhelper/internal/errors"
	"github.com/Aman-CERP/indexhelper/internal/executor"
	"github.com/Aman-CERP/indexhelper/internal/mount"
	"github.com/Aman-CERP/indexhelper/internal/textcache"
)

type fakeExtracted struct {
	texts map[string]string
	calls int
}

func (f *fakeExtracted) Text(_ context.Context, _, blobID string) (string, bool, error) {
	f.calls++
	text, ok := f.texts[blobID]
	return text, ok, nil
}

func newTestCopier(t *testing.T) *copier.Copier {
	t.Helper()
	pool := executor.NewPool(2)
	t.Cleanup(func() { _ = pool.Shutdown() })
	c, err := copier.New(pool, filepath.Join(t.TempDir(), "indexWorkDir"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newMemProvider(t *testing.T, mounts *mount.Provider, extracted ExtractedTextProvider) (*Provider, *directory.MemoryFactory) {
	t.Helper()
	p := NewProvider(newTestCopier(t), textcache.New(1024*1024, time.Hour), extracted, mounts)
	mem := directory.NewMemoryFactory()
	t.Cleanup(func() { _ = mem.Close() })
	p.SetDirectoryFactory(mem)
	return p, mem
}

func TestNewProvider_Defaults(t *testing.T) {
	c := newTestCopier(t)
	p := NewProvider(c, nil, nil, nil)

	assert.Same(t, c, p.Copier())
	assert.IsType(t, directory.CopierFactory{}, p.DirectoryFactory())
	assert.False(t, p.HasDirectoryFactoryOverride())
	assert.Nil(t, p.BlobStore())
	assert.Nil(t, p.ExtractedTextProvider())
	assert.False(t, p.Mounts().HasNonDefaultMounts())
	assert.False(t, p.TextCache().Enabled())
}

func TestProvider_SetDirectoryFactoryNilRestoresDefault(t *testing.T) {
	p := NewProvider(newTestCopier(t), nil, nil, nil)

	p.SetDirectoryFactory(directory.NewMemoryFactory())
	assert.True(t, p.HasDirectoryFactoryOverride())

	p.SetDirectoryFactory(nil)
	assert.False(t, p.HasDirectoryFactoryOverride())
	assert.IsType(t, directory.CopierFactory{}, p.DirectoryFactory())
}

func TestEditor_UpdateCommitSearch_CopierBacked(t *testing.T) {
	ctx := context.Background()
	c := newTestCopier(t)
	p := NewProvider(c, textcache.NewDefault(), nil, nil)

	ed, err := p.Editor(ctx, "lucene")
	require.NoError(t, err)
	require.NoError(t, ed.Update(ctx, Document{Path: "/content/a", Fields: map[string]string{"title": "quarterly report"}}))
	require.NoError(t, ed.Update(ctx, Document{Path: "/content/b", Fields: map[string]string{"title": "holiday photos"}}))
	require.NoError(t, ed.Close())

	// Index data lives in the copier's work dir.
	assert.Equal(t, []string{"lucene"}, c.Indexes())

	hits, err := p.Search(ctx, "lucene", "quarterly", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/content/a", hits[0].Path)
	assert.Equal(t, mount.DefaultName, hits[0].Mount)
}

func TestEditor_DirectoryOverrideBypassesCopier(t *testing.T) {
	ctx := context.Background()
	p, mem := newMemProvider(t, nil, nil)

	ed, err := p.Editor(ctx, "lucene")
	require.NoError(t, err)
	require.NoError(t, ed.Update(ctx, Document{Path: "/a", Fields: map[string]string{"body": "in memory"}}))
	require.NoError(t, ed.Close())

	assert.Empty(t, p.Copier().Indexes())
	dir, err := mem.Directory("lucene")
	require.NoError(t, err)
	assert.True(t, dir.Exists())
}

func TestEditor_RemoveDeletesDocument(t *testing.T) {
	ctx := context.Background()
	p, _ := newMemProvider(t, nil, nil)

	ed, err := p.Editor(ctx, "lucene")
	require.NoError(t, err)
	require.NoError(t, ed.Update(ctx, Document{Path: "/a", Fields: map[string]string{"body": "ephemeral"}}))
	require.NoError(t, ed.Commit(ctx))
	require.NoError(t, ed.Remove(ctx, "/a"))
	require.NoError(t, ed.Commit(ctx))

	hits, err := p.Search(ctx, "lucene", "ephemeral", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	s := ed.Stats()
	assert.Equal(t, 1, s.Updated)
	assert.Equal(t, 1, s.Removed)
	assert.Equal(t, 2, s.Commits)
	require.NoError(t, ed.Close())
}

func TestEditor_RoutesByMount(t *testing.T) {
	ctx := context.Background()
	mounts, err := mount.NewProvider(
		mount.Mount{Name: "libs", PathsSupported: []string{"/libs"}},
		mount.Mount{Name: "archive", PathsSupported: []string{"/archive"}, ReadOnly: true},
	)
	require.NoError(t, err)
	p, mem := newMemProvider(t, mounts, nil)

	ed, err := p.Editor(ctx, "lucene")
	require.NoError(t, err)
	require.NoError(t, ed.Update(ctx, Document{Path: "/content/x", Fields: map[string]string{"body": "shared word"}}))
	require.NoError(t, ed.Update(ctx, Document{Path: "/libs/y", Fields: map[string]string{"body": "shared word"}}))
	require.NoError(t, ed.Update(ctx, Document{Path: "/archive/z", Fields: map[string]string{"body": "shared word"}}))
	require.NoError(t, ed.Remove(ctx, "/archive/old"))
	require.NoError(t, ed.Close())

	libs, err := mem.Directory("lucene-libs")
	require.NoError(t, err)
	assert.True(t, libs.Exists())
	archive, err := mem.Directory("lucene-archive")
	require.NoError(t, err)
	assert.False(t, archive.Exists(), "read-only mount is never written")

	hits, err := p.Search(ctx, "lucene", "shared", 10)
	require.NoError(t, err)
	mountsHit := map[string]string{}
	for _, h := range hits {
		mountsHit[h.Path] = h.Mount
	}
	assert.Equal(t, map[string]string{"/content/x": mount.DefaultName, "/libs/y": "libs"}, mountsHit)
	assert.Equal(t, 2, ed.Stats().SkippedReadOnly)
}

func TestEditor_BinaryTextFromBlobStore(t *testing.T) {
	ctx := context.Background()
	p, _ := newMemProvider(t, nil, nil)

	store, err := blob.NewSQLiteStore("")
	require.NoError(t, err)
	defer store.Close()
	p.SetBlobStore(store)

	textID, err := store.Put(ctx, []byte("invoice for consulting"))
	require.NoError(t, err)
	binID, err := store.Put(ctx, []byte{0xff, 0xfe, 0x00})
	require.NoError(t, err)

	ed, err := p.Editor(ctx, "lucene")
	require.NoError(t, err)
	require.NoError(t, ed.Update(ctx, Document{Path: "/d1", Binaries: []Binary{{Name: "jcr:data", BlobID: textID}}}))
	require.NoError(t, ed.Update(ctx, Document{Path: "/d2", Binaries: []Binary{{Name: "jcr:data", BlobID: textID}}}))
	require.NoError(t, ed.Update(ctx, Document{Path: "/d3", Binaries: []Binary{{Name: "jcr:data", BlobID: binID}}}))
	require.NoError(t, ed.Update(ctx, Document{Path: "/d4", Binaries: []Binary{{Name: "jcr:data", BlobID: "missing"}}}))
	require.NoError(t, ed.Close())

	s := ed.Stats()
	assert.Equal(t, 1, s.BinariesExtracted)
	assert.Equal(t, 1, s.BinariesFromCache)
	assert.Equal(t, 2, s.ExtractionErrors)

	text, ok := p.TextCache().Get("", binID)
	require.True(t, ok)
	assert.Equal(t, textcache.ErrorText, text)

	hits, err := p.Search(ctx, "lucene", "consulting", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestEditor_BinaryTextFromPlainContentStore(t *testing.T) {
	ctx := context.Background()
	p, _ := newMemProvider(t, nil, nil)

	// Given: content in a store without gc support
	store := blob.NewMemoryStore()
	defer store.Close()
	p.SetContentStore(store)
	id, err := store.Put(ctx, []byte("ledger reconciliation"))
	require.NoError(t, err)

	ed, err := p.Editor(ctx, "lucene")
	require.NoError(t, err)
	require.NoError(t, ed.Update(ctx, Document{Path: "/d", Binaries: []Binary{{BlobID: id}}}))
	require.NoError(t, ed.Close())

	// Then: the text is indexed and nothing is marked
	assert.Nil(t, p.BlobStore())
	assert.Equal(t, 1, ed.Stats().BinariesExtracted)
	hits, err := p.Search(ctx, "lucene", "reconciliation", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestProvider_ContentStoreFallsBackToBlobStore(t *testing.T) {
	p := NewProvider(newTestCopier(t), nil, nil, nil)
	assert.Nil(t, p.ContentStore())

	store, err := blob.NewSQLiteStore("")
	require.NoError(t, err)
	defer store.Close()
	p.SetBlobStore(store)
	assert.Equal(t, blob.Store(store), p.ContentStore())

	plain := blob.NewMemoryStore()
	p.SetContentStore(plain)
	assert.Equal(t, blob.Store(plain), p.ContentStore())
}

func TestProvider_SearchCreatesNoIndexDirs(t *testing.T) {
	ctx := context.Background()
	c := newTestCopier(t)
	mounts, err := mount.NewProvider(mount.Mount{Name: "libs", PathsSupported: []string{"/libs"}})
	require.NoError(t, err)
	p := NewProvider(c, nil, nil, mounts)

	hits, err := p.Search(ctx, "lucene", "anything", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Empty(t, c.Indexes())
}

func TestEditor_BinaryWithoutBlobStoreIsSkipped(t *testing.T) {
	ctx := context.Background()
	p, _ := newMemProvider(t, nil, nil)

	ed, err := p.Editor(ctx, "lucene")
	require.NoError(t, err)
	require.NoError(t, ed.Update(ctx, Document{Path: "/d", Binaries: []Binary{{Name: "jcr:data", BlobID: "abc"}}}))
	require.NoError(t, ed.Close())

	assert.Equal(t, 1, ed.Stats().BinariesSkipped)
}

func TestEditor_PreExtractedTextWinsOverBlobStore(t *testing.T) {
	ctx := context.Background()
	ext := &fakeExtracted{texts: map[string]string{"b1": "pre extracted contract"}}
	p, _ := newMemProvider(t, nil, ext)

	ed, err := p.Editor(ctx, "lucene")
	require.NoError(t, err)
	require.NoError(t, ed.Update(ctx, Document{Path: "/d", Binaries: []Binary{{BlobID: "b1"}}}))
	require.NoError(t, ed.Update(ctx, Document{Path: "/e", Binaries: []Binary{{BlobID: "b1"}}}))
	require.NoError(t, ed.Close())

	assert.Equal(t, 1, ext.calls, "second lookup is served by the text cache")
	hits, err := p.Search(ctx, "lucene", "contract", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestEditor_CommitMarksReferencedBlobs(t *testing.T) {
	ctx := context.Background()
	p, _ := newMemProvider(t, nil, nil)

	store, err := blob.NewSQLiteStore("")
	require.NoError(t, err)
	defer store.Close()
	p.SetBlobStore(store)

	used, err := store.Put(ctx, []byte("kept text"))
	require.NoError(t, err)
	_, err = store.Put(ctx, []byte("orphan text"))
	require.NoError(t, err)

	// Given: a GC cycle that starts before the editor commits
	gcStart := time.Now().Add(time.Millisecond)
	time.Sleep(2 * time.Millisecond)

	ed, err := p.Editor(ctx, "lucene")
	require.NoError(t, err)
	require.NoError(t, ed.Update(ctx, Document{Path: "/d", Binaries: []Binary{{BlobID: used}}}))
	require.NoError(t, ed.Close())

	// When: sweeping blobs not marked since the cycle started
	deleted, err := store.CollectGarbage(ctx, gcStart)
	require.NoError(t, err)

	// Then: only the unreferenced blob is collected
	assert.Equal(t, 1, deleted)
	ids, err := store.ChunkIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{used}, ids)
}

func TestEditor_AutoFlushAtBatchSize(t *testing.T) {
	ctx := context.Background()
	p, mem := newMemProvider(t, nil, nil)

	ed, err := p.Editor(ctx, "lucene")
	require.NoError(t, err)
	defer ed.Close()

	for i := 0; i < BatchSize; i++ {
		require.NoError(t, ed.Update(ctx, Document{Path: fmt.Sprintf("/n%d", i)}))
	}

	// No explicit commit: the full batch was flushed on its own.
	dir, err := mem.Directory("lucene")
	require.NoError(t, err)
	h, err := dir.Open()
	require.NoError(t, err)
	defer h.Close()
	n, err := h.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(BatchSize), n)
}

func TestEditor_ClosedAndValidation(t *testing.T) {
	ctx := context.Background()
	p, _ := newMemProvider(t, nil, nil)

	_, err := p.Editor(ctx, "")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))

	ed, err := p.Editor(ctx, "lucene")
	require.NoError(t, err)
	assert.True(t, errors.HasCode(ed.Update(ctx, Document{}), errors.ErrCodeInvalidInput))

	require.NoError(t, ed.Close())
	require.NoError(t, ed.Close())
	assert.True(t, errors.HasCode(ed.Update(ctx, Document{Path: "/a"}), errors.ErrCodeClosed))
	assert.True(t, errors.HasCode(ed.Remove(ctx, "/a"), errors.ErrCodeClosed))
	assert.True(t, errors.HasCode(ed.Commit(ctx), errors.ErrCodeClosed))
}

func TestIndexNameForMount(t *testing.T) {
	assert.Equal(t, "lucene", IndexNameForMount("lucene", mount.Mount{Name: mount.DefaultName, Default: true}))
	assert.Equal(t, "lucene-libs", IndexNameForMount("lucene", mount.Mount{Name: "libs"}))
}

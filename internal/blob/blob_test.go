package blob

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexhelper/internal/errors"
)

// forwardingStore wraps a store and claims GC methods it cannot honour.
type forwardingStore struct {
	*SQLiteStore
}

func (forwardingStore) SupportsGC() bool { return false }

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestStore_PutGetLength(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := s.Put(ctx, []byte("hello blob"))
			require.NoError(t, err)
			assert.Equal(t, ID([]byte("hello blob")), id)

			again, err := s.Put(ctx, []byte("hello blob"))
			require.NoError(t, err)
			assert.Equal(t, id, again)

			data, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "hello blob", string(data))

			n, err := s.Length(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, int64(10), n)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = s.Length(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestAsGarbageCollectable(t *testing.T) {
	sq, err := NewSQLiteStore("")
	require.NoError(t, err)
	defer sq.Close()

	gc, ok := AsGarbageCollectable(sq)
	assert.True(t, ok)
	assert.Same(t, sq, gc)

	_, ok = AsGarbageCollectable(NewMemoryStore())
	assert.False(t, ok, "memory store has no GC capability")

	_, ok = AsGarbageCollectable(forwardingStore{sq})
	assert.False(t, ok, "capability must be confirmed by SupportsGC")

	_, ok = AsGarbageCollectable(nil)
	assert.False(t, ok)
}

func TestSQLiteStore_MarkAndSweep(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	defer s.Close()

	keep, err := s.Put(ctx, []byte("referenced"))
	require.NoError(t, err)
	drop, err := s.Put(ctx, []byte("orphan"))
	require.NoError(t, err)

	// Given: a GC cycle starting now, where only keep is marked afterwards
	start := time.Now().Add(time.Millisecond)
	require.NoError(t, s.Mark(ctx, []string{keep, "unknown"}, start.Add(time.Second)))

	// When: sweeping everything not marked since start
	deleted, err := s.CollectGarbage(ctx, start)
	require.NoError(t, err)

	// Then: only the orphan is gone
	assert.Equal(t, 1, deleted)
	ids, err := s.ChunkIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{keep}, ids)

	_, err = s.Get(ctx, drop)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "blobs.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	id, err := s.Put(ctx, []byte("durable"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	data, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(data))
}

func TestSQLiteStore_ClosedOperations(t *testing.T) {
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Put(context.Background(), []byte("x"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeClosed))
	_, err = s.CollectGarbage(context.Background(), time.Now())
	assert.True(t, errors.HasCode(err, errors.ErrCodeClosed))
}

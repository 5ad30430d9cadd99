// Package blob provides content-addressed binary storage for index content.
//
// Stores may additionally support mark-and-sweep garbage collection; callers
// discover that through AsGarbageCollectable rather than by probing concrete types.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/Aman-CERP/indexhelper/internal/errors"
)

// ErrNotFound is returned for unknown blob IDs. Match it with errors.Is.
var ErrNotFound = errors.Sentinel(errors.ErrCodeBlobNotFound)

// Store is a content-addressed blob store. IDs are the hex SHA-256 of the content.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Length(ctx context.Context, id string) (int64, error)
	Close() error
}

// GarbageCollectable is the capability of reclaiming unreferenced blobs.
type GarbageCollectable interface {
	Store

	// SupportsGC reports whether the backend can actually collect garbage.
	// Wrappers that forward the methods of another store answer for it.
	SupportsGC() bool

	// Mark records that ids are referenced as of at.
	Mark(ctx context.Context, ids []string, at time.Time) error

	// CollectGarbage deletes blobs whose last mark is older than markedBefore
	// and returns how many were removed.
	CollectGarbage(ctx context.Context, markedBefore time.Time) (int, error)

	// ChunkIDs lists every stored blob ID.
	ChunkIDs(ctx context.Context) ([]string, error)
}

// AsGarbageCollectable returns s as a GarbageCollectable when it supports GC.
func AsGarbageCollectable(s Store) (GarbageCollectable, bool) {
	if s == nil {
		return nil, false
	}
	gc, ok := s.(GarbageCollectable)
	if !ok || !gc.SupportsGC() {
		return nil, false
	}
	return gc, true
}

// ID returns the content ID for data.
func ID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func notFound(id string) error {
	return errors.New(errors.ErrCodeBlobNotFound, "blob not found", nil).WithDetail("id", id)
}

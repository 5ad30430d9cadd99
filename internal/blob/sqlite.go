package blob

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/indexhelper/internal/errors"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore persists blobs in SQLite and supports mark-and-sweep GC.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ GarbageCollectable = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a blob database at path.
// An empty path opens an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.IOError(errors.ErrCodeBlobStore, "cannot create blob store directory", err).
				WithDetail("path", path)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.IOError(errors.ErrCodeBlobStore, "failed to open blob store", err)
	}

	// Single writer keeps SQLite lock contention out of the picture.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.IOError(errors.ErrCodeBlobStore, "failed to set pragma", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, errors.IOError(errors.ErrCodeBlobStore, "failed to initialize blob schema", err)
	}

	slog.Debug("blob_store_opened", slog.String("path", path))
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS blobs (
		id         TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		length     INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		marked_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_blobs_marked_at ON blobs(marked_at);
	`)
	return err
}

// Put stores data. A blob stored again is treated as freshly referenced.
func (s *SQLiteStore) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errClosed()
	}

	id := ID(data)
	now := time.Now().UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (id, data, length, created_at, marked_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET marked_at = excluded.marked_at`,
		id, data, len(data), now, now)
	if err != nil {
		return "", errors.IOError(errors.ErrCodeBlobStore, "failed to write blob", err).WithDetail("id", id)
	}
	return id, nil
}

// Get returns the blob content.
func (s *SQLiteStore) Get(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE id = ?`, id).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.IOError(errors.ErrCodeBlobStore, "failed to read blob", err).WithDetail("id", id)
	}
	return data, nil
}

// Length returns the blob size in bytes.
func (s *SQLiteStore) Length(ctx context.Context, id string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errClosed()
	}

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT length FROM blobs WHERE id = ?`, id).Scan(&n)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, notFound(id)
	}
	if err != nil {
		return 0, errors.IOError(errors.ErrCodeBlobStore, "failed to read blob length", err).WithDetail("id", id)
	}
	return n, nil
}

// SupportsGC always reports true.
func (s *SQLiteStore) SupportsGC() bool {
	return true
}

// Mark records that ids are referenced as of at. Unknown ids are ignored.
func (s *SQLiteStore) Mark(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.IOError(errors.ErrCodeBlobStore, "failed to begin mark", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE blobs SET marked_at = ? WHERE id = ? AND marked_at < ?`)
	if err != nil {
		return errors.IOError(errors.ErrCodeBlobStore, "failed to prepare mark", err)
	}
	defer stmt.Close()

	ts := at.UnixNano()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, ts, id, ts); err != nil {
			return errors.IOError(errors.ErrCodeBlobStore, "failed to mark blob", err).WithDetail("id", id)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.IOError(errors.ErrCodeBlobStore, "failed to commit mark", err)
	}
	return nil
}

// CollectGarbage deletes every blob whose last mark is before markedBefore.
func (s *SQLiteStore) CollectGarbage(ctx context.Context, markedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed()
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE marked_at < ?`, markedBefore.UnixNano())
	if err != nil {
		return 0, errors.IOError(errors.ErrCodeBlobStore, "garbage collection failed", err)
	}
	n, _ := res.RowsAffected()

	slog.Info("blob_gc_completed",
		slog.Int64("deleted", n),
		slog.Time("marked_before", markedBefore))
	return int(n), nil
}

// ChunkIDs lists every stored blob ID in ascending order.
func (s *SQLiteStore) ChunkIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed()
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM blobs ORDER BY id`)
	if err != nil {
		return nil, errors.IOError(errors.ErrCodeBlobStore, "failed to list blobs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.IOError(errors.ErrCodeBlobStore, "failed to scan blob id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database. Safe to call multiple times.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database path, empty for in-memory stores.
func (s *SQLiteStore) Path() string {
	return s.path
}

func errClosed() error {
	return errors.New(errors.ErrCodeClosed, "blob store is closed", nil)
}

// String describes the store for logs.
func (s *SQLiteStore) String() string {
	if s.path == "" {
		return "sqlite(:memory:)"
	}
	return fmt.Sprintf("sqlite(%s)", s.path)
}

package directory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/indexhelper/internal/copier"
	"github.com/Aman-CERP/indexhelper/internal/errors"
)

// diskIndexes is shared by every on-disk directory in the process.
var diskIndexes = newRegistry(false)

type fsDirectory struct {
	name string
	path string
	// prepare runs before the index is opened.
	prepare func() error
}

func (d *fsDirectory) Name() string   { return d.name }
func (d *fsDirectory) Path() string   { return d.path }
func (d *fsDirectory) InMemory() bool { return false }

func (d *fsDirectory) Exists() bool {
	if diskIndexes.has(d.path) {
		return true
	}
	info, err := os.Stat(filepath.Join(d.path, "index_meta.json"))
	return err == nil && info.Size() > 0
}

func (d *fsDirectory) Open() (*Handle, error) {
	if d.prepare != nil {
		if err := d.prepare(); err != nil {
			return nil, err
		}
	}
	return diskIndexes.acquire(d.path, func() (bleve.Index, error) {
		return openOrCreate(d.path)
	})
}

// openOrCreate opens the bleve index at path, creating it when absent and
// recreating it when the existing one is corrupt.
func openOrCreate(path string) (bleve.Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.IOError(errors.ErrCodeWorkDir, "cannot create index parent directory", err).
			WithDetail("path", path)
	}

	if validErr := validateIndexIntegrity(path); validErr != nil {
		slog.Warn("index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, errors.IOError(errors.ErrCodeCorruptIndex, "index is corrupt and cannot be removed", err).
				WithDetail("path", path)
		}
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist || err == bleve.ErrorIndexMetaMissing {
		idx, err = bleve.New(path, NewIndexMapping())
	} else if err != nil && isCorruptionError(err) {
		slog.Warn("index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, errors.IOError(errors.ErrCodeCorruptIndex, "index is corrupt and cannot be removed", removeErr).
				WithDetail("path", path)
		}
		idx, err = bleve.New(path, NewIndexMapping())
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeIndexFailed, "failed to open index", err).WithDetail("path", path)
	}
	return idx, nil
}

// validateIndexIntegrity returns an error if an index directory exists but
// its metadata is missing or unreadable.
func validateIndexIntegrity(path string) error {
	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) || (err == nil && len(entries) == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot read index directory: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment")
}

// FSFactory places indexes under Root/<index name>.
type FSFactory struct {
	Root string
}

// Directory implements Factory.
func (f FSFactory) Directory(indexName string) (Directory, error) {
	name, err := dirName(indexName)
	if err != nil {
		return nil, err
	}
	return &fsDirectory{name: indexName, path: filepath.Join(f.Root, name)}, nil
}

// CopierFactory places indexes in the copier's local directories. It is the
// editor's default factory.
type CopierFactory struct {
	Copier *copier.Copier
}

// NewCopierFactory returns a factory backed by c.
func NewCopierFactory(c *copier.Copier) CopierFactory {
	return CopierFactory{Copier: c}
}

// Directory implements Factory. The local directory is only created when
// the index is opened.
func (f CopierFactory) Directory(indexName string) (Directory, error) {
	dir, err := f.Copier.LocalPath(indexName)
	if err != nil {
		return nil, err
	}
	return &fsDirectory{
		name: indexName,
		path: dir,
		prepare: func() error {
			_, err := f.Copier.LocalDir(indexName)
			return err
		},
	}, nil
}

func dirName(indexName string) (string, error) {
	name := strings.Trim(strings.ReplaceAll(indexName, "/", "_"), "_")
	if name == "" || name == "." || name == ".." {
		return "", errors.New(errors.ErrCodeInvalidPath, fmt.Sprintf("invalid index name %q", indexName), nil)
	}
	return name, nil
}

package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/indexhelper/internal/errors"
)

// Operation is the kind of change reported for a path.
type Operation int

const (
	// OpCreate reports a new file.
	OpCreate Operation = iota
	// OpModify reports changed content.
	OpModify
	// OpDelete reports a removed file. Renames surface as a delete of the
	// old name plus a create of the new one.
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change under the watched root.
type FileEvent struct {
	// Path is relative to the root, slash separated.
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted.
	// Default: 200ms
	DebounceWindow time.Duration

	// EventBufferSize is the number of batches buffered for Events.
	// Default: 100
	EventBufferSize int

	// Ignore holds glob patterns matched against each path element.
	Ignore []string
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		EventBufferSize: 100,
		Ignore:          []string{".git", ".indexhelper*", "*.tmp", "*.swp", "*~"},
	}
}

// WithDefaults fills zero values from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}

// Watcher watches a directory tree recursively.
type Watcher struct {
	root      string
	opts      Options
	fs        *fsnotify.Watcher
	debouncer *Debouncer
	events    chan []FileEvent
	errs      chan error

	mu      sync.RWMutex
	closed  bool
	stopCh  chan struct{}
	dropped atomic.Uint64
}

// New prepares a watcher for root. Nothing is watched until Run.
func New(root string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidPath, "cannot resolve watch root", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, errors.New(errors.ErrCodeInvalidPath, "watch root is not a directory", err).
			WithDetail("path", abs)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.InternalError("cannot create file watcher", err)
	}

	opts = opts.WithDefaults()
	return &Watcher{
		root:      abs,
		opts:      opts,
		fs:        fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errs:      make(chan error, 10),
		stopCh:    make(chan struct{}),
	}, nil
}

// Root returns the absolute watched root.
func (w *Watcher) Root() string { return w.root }

// Events returns debounced batches. Closed by Close.
func (w *Watcher) Events() <-chan []FileEvent { return w.events }

// Errors returns non-fatal watcher errors. Closed by Close.
func (w *Watcher) Errors() <-chan error { return w.errs }

// DroppedBatches returns how many batches were dropped on a full buffer.
func (w *Watcher) DroppedBatches() uint64 { return w.dropped.Load() }

// Run registers every directory under the root and processes events until
// ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}
	go w.forward()

	slog.Debug("watcher_started", slog.String("root", w.root))
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, ok := w.relative(ev.Name)
	if !ok || w.ignored(rel) {
		return
	}

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
		if isDir {
			if err := w.addTree(ev.Name); err != nil {
				w.emitError(err)
			}
		}
	case ev.Has(fsnotify.Write):
		op = OpModify
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      rel,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("watcher_walk_skipped", slog.String("path", p), slog.String("error", err.Error()))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(p); ok && w.ignored(rel) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(p); err != nil {
			return errors.InternalError("cannot watch directory", err).WithDetail("path", p)
		}
		return nil
	})
}

// relative maps an absolute path to a slash separated path under the root.
// The root itself yields false.
func (w *Watcher) relative(p string) (string, bool) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) ignored(rel string) bool {
	for _, elem := range strings.Split(rel, "/") {
		for _, pattern := range w.opts.Ignore {
			if ok, _ := path.Match(pattern, elem); ok {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) forward() {
	for batch := range w.debouncer.Output() {
		w.mu.RLock()
		if !w.closed {
			select {
			case w.events <- batch:
			default:
				n := w.dropped.Add(1)
				slog.Warn("watcher_batch_dropped",
					slog.Int("batch_size", len(batch)),
					slog.Uint64("total_dropped", n))
			}
		}
		w.mu.RUnlock()
	}
}

func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.errs <- err:
	default:
	}
}

// Close stops watching and closes the output channels. Safe to call twice.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.stopCh)
	w.debouncer.Stop()
	err := w.fs.Close()
	close(w.events)
	close(w.errs)
	return err
}

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexhelper/internal/errors"
)

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	opts := DefaultOptions()
	opts.DebounceWindow = 50 * time.Millisecond
	w, err := New(root, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})

	// Give Run time to register the tree.
	time.Sleep(50 * time.Millisecond)
	return w
}

// collect gathers events until want paths were seen or the deadline passes.
func collect(t *testing.T, w *Watcher, want ...string) map[string]Operation {
	t.Helper()
	got := make(map[string]Operation)
	deadline := time.After(3 * time.Second)
	for {
		done := true
		for _, p := range want {
			if _, ok := got[p]; !ok {
				done = false
			}
		}
		if done {
			return got
		}
		select {
		case batch, ok := <-w.Events():
			if !ok {
				return got
			}
			for _, ev := range batch {
				got[ev.Path] = ev.Operation
			}
		case <-deadline:
			return got
		}
	}
}

// waitFor reads batches until path is reported with op.
func waitFor(t *testing.T, w *Watcher, path string, op Operation) bool {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch, ok := <-w.Events():
			if !ok {
				return false
			}
			for _, ev := range batch {
				if ev.Path == path && ev.Operation == op {
					return true
				}
			}
		case <-deadline:
			return false
		}
	}
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "UNKNOWN", Operation(42).String())
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	assert.Equal(t, 200*time.Millisecond, o.DebounceWindow)
	assert.Equal(t, 100, o.EventBufferSize)
	assert.Nil(t, o.Ignore, "ignore patterns are never filled in")
}

func TestNew_RejectsMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), DefaultOptions())
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidPath))
}

func TestWatcher_ReportsCreateAndDelete(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	assert.True(t, waitFor(t, w, "a.txt", OpCreate))

	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	assert.True(t, waitFor(t, w, "a.txt", OpDelete))
}

func TestWatcher_WatchesNewSubdirectories(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	sub := filepath.Join(root, "docs")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.True(t, waitFor(t, w, "docs", OpCreate))
	// Let the new directory be registered before writing into it.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.txt"), []byte("x"), 0o644))
	got := collect(t, w, "docs/b.txt")
	assert.Contains(t, got, "docs/b.txt")
}

func TestWatcher_IgnoresPatterns(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "draft.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.txt"), []byte("x"), 0o644))

	got := collect(t, w, "kept.txt")
	assert.Contains(t, got, "kept.txt")
	assert.NotContains(t, got, "draft.tmp")
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, ok := <-w.Events()
	assert.False(t, ok)
}

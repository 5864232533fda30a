package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/xrefdb/internal/config"
	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/logging"
)

func newTestWatcher(t *testing.T, cfg config.Watch) (*Watcher, chan []string) {
	t.Helper()
	changed := make(chan []string, 16)
	w, err := New(cfg, logging.Discard(), func(paths []string) {
		changed <- paths
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w, changed
}

// waitForPath drains batches until one contains want.
func waitForPath(t *testing.T, changed <-chan []string, want string) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case paths := <-changed:
			for _, p := range paths {
				if p == want {
					return
				}
			}
		case <-timeout:
			t.Fatalf("timed out waiting for change to %s", want)
		}
	}
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_RejectsNilCallback(t *testing.T) {
	t.Parallel()
	w, err := New(config.Watch{}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
	assert.Nil(t, w)
}

func TestNew_RejectsInvalidPattern(t *testing.T) {
	t.Parallel()
	_, err := New(config.Watch{ExcludeFiles: []string{"[unclosed"}}, nil, func([]string) {})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()
	w, _ := newTestWatcher(t, config.Watch{})
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

// =============================================================================
// Filtering
// =============================================================================

func TestShouldExclude(t *testing.T) {
	t.Parallel()
	w, _ := newTestWatcher(t, config.Watch{
		ExcludeDirs:  []string{".git", "node_*"},
		ExcludeFiles: []string{"*.tmp", "*~"},
	})
	w.SetFileFilter(func(path string) bool { return !strings.HasSuffix(path, ".bin") })

	assert.True(t, w.shouldExcludeDir("/repo/.git"))
	assert.True(t, w.shouldExcludeDir("/repo/node_modules"))
	assert.False(t, w.shouldExcludeDir("/repo/src"))

	assert.True(t, w.shouldExcludeFile("/repo/a.tmp"))
	assert.True(t, w.shouldExcludeFile("/repo/main.go~"))
	assert.True(t, w.shouldExcludeFile("/repo/image.bin"), "rejected by the file filter")
	assert.False(t, w.shouldExcludeFile("/repo/main.go"))
}

// =============================================================================
// Debouncing
// =============================================================================

func TestScheduleChange_CoalescesIntoOneSortedBatch(t *testing.T) {
	t.Parallel()
	w, changed := newTestWatcher(t, config.Watch{Debounce: 20 * time.Millisecond})

	w.scheduleChange("/repo/b.go")
	w.scheduleChange("/repo/a.go")
	w.scheduleChange("/repo/b.go")

	select {
	case paths := <-changed:
		assert.Equal(t, []string{"/repo/a.go", "/repo/b.go"}, paths)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush")
	}

	select {
	case paths := <-changed:
		t.Fatalf("unexpected second batch %v", paths)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFlushChanges_NothingPending(t *testing.T) {
	t.Parallel()
	called := false
	w, err := New(config.Watch{}, nil, func([]string) { called = true })
	require.NoError(t, err)
	defer w.Close()

	w.flushChanges()
	assert.False(t, called)
}

// =============================================================================
// File system events
// =============================================================================

func TestWatch_ReportsWritesAndSkipsExcluded(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, changed := newTestWatcher(t, config.Watch{
		Debounce:     50 * time.Millisecond,
		ExcludeFiles: []string{"*.exclude"},
	})
	require.NoError(t, w.Watch(context.Background(), []string{dir}))

	excluded := filepath.Join(dir, "skip.exclude")
	require.NoError(t, os.WriteFile(excluded, []byte("x"), 0644))
	file := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(file, []byte("package main"), 0644))

	timeout := time.After(3 * time.Second)
	for {
		select {
		case paths := <-changed:
			assert.NotContains(t, paths, excluded)
			for _, p := range paths {
				if p == file {
					return
				}
			}
		case <-timeout:
			t.Fatal("timed out waiting for write event")
		}
	}
}

func TestWatch_NewDirectoryIsWatched(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, changed := newTestWatcher(t, config.Watch{Debounce: 50 * time.Millisecond})
	require.NoError(t, w.Watch(context.Background(), []string{dir}))

	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.MkdirAll(sub, 0755))
	nested := filepath.Join(sub, "nested.go")
	require.NoError(t, os.WriteFile(nested, []byte("package pkg"), 0644))

	waitForPath(t, changed, nested)
}

func TestWatch_RemovalIsReported(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	file := filepath.Join(dir, "gone.go")
	require.NoError(t, os.WriteFile(file, []byte("package main"), 0644))

	w, changed := newTestWatcher(t, config.Watch{Debounce: 50 * time.Millisecond})
	require.NoError(t, w.Watch(context.Background(), []string{dir}))
	require.NoError(t, os.Remove(file))

	waitForPath(t, changed, file)
}

func TestWatch_StopsWhenContextIsDone(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, _ := newTestWatcher(t, config.Watch{Debounce: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Watch(ctx, []string{dir}))
	cancel()

	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestWatch_MissingRoot(t *testing.T) {
	t.Parallel()
	w, _ := newTestWatcher(t, config.Watch{})
	err := w.Watch(context.Background(), []string{filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInternal))
}

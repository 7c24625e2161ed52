package scratch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{Dir: filepath.Join(t.TempDir(), "scratch"), Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestAcquire_SuffixAndExistence(t *testing.T) {
	m := newTestManager(t)
	r, err := m.Acquire("_sticker.json")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Cleanup()

	if !strings.HasSuffix(r.Path, "_sticker.json") {
		t.Errorf("path %q does not end in suffix", r.Path)
	}
	if filepath.Dir(r.Path) != m.Dir() {
		t.Errorf("path %q outside scratch dir %q", r.Path, m.Dir())
	}
	if _, err := os.Stat(r.Path); err != nil {
		t.Errorf("reserved file missing: %v", err)
	}
}

func TestAcquire_RejectsPathSeparators(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Acquire("../escape"); err == nil {
		t.Fatal("expected error for suffix with separator")
	}
	if got := m.Stats().Acquired; got != 0 {
		t.Errorf("failed acquire should not count, got %d", got)
	}
}

func TestCleanup_RemovesAndCountsOnce(t *testing.T) {
	m := newTestManager(t)
	r, err := m.Acquire(".mp4")
	if err != nil {
		t.Fatal(err)
	}
	r.Cleanup()
	r.Cleanup()

	if _, err := os.Stat(r.Path); !os.IsNotExist(err) {
		t.Errorf("file still present after cleanup: %v", err)
	}
	st := m.Stats()
	if st.Acquired != 1 || st.Released != 1 || st.Live() != 0 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestCleanup_RemovesDirectories(t *testing.T) {
	m := newTestManager(t)
	r, err := m.Acquire("_frames")
	if err != nil {
		t.Fatal(err)
	}
	// Turn the reservation into a directory with content.
	os.Remove(r.Path)
	if err := os.MkdirAll(filepath.Join(r.Path, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	r.Cleanup()
	if _, err := os.Stat(r.Path); !os.IsNotExist(err) {
		t.Errorf("directory still present: %v", err)
	}
}

func TestCleanup_AlreadyRemovedIsNotAnError(t *testing.T) {
	m := newTestManager(t)
	r, err := m.Acquire(".json")
	if err != nil {
		t.Fatal(err)
	}
	os.Remove(r.Path)
	r.Cleanup()
	if m.Stats().Live() != 0 {
		t.Error("resource should be released")
	}
}

func TestAcquire_ConcurrentUniqueness(t *testing.T) {
	m := newTestManager(t)
	const n = 64

	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := m.Acquire("_generated.mp4")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			if seen[r.Path] {
				t.Errorf("duplicate path %s", r.Path)
			}
			seen[r.Path] = true
			mu.Unlock()
			r.Cleanup()
		}()
	}
	wg.Wait()

	st := m.Stats()
	if st.Acquired != n || st.Released != n {
		t.Errorf("stats = %+v, want %d/%d", st, n, n)
	}
}

func TestSweep_RemovesOnlyStale(t *testing.T) {
	m := newTestManager(t)
	stale, _ := m.Acquire("_old.json")
	fresh, _ := m.Acquire("_new.json")
	defer fresh.Cleanup()

	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale.Path, old, old); err != nil {
		t.Fatal(err)
	}

	res := m.Sweep(context.Background(), time.Hour)
	if len(res.Removed) != 1 || res.Removed[0] != stale.Path {
		t.Errorf("removed = %v, want [%s]", res.Removed, stale.Path)
	}
	if _, err := os.Stat(fresh.Path); err != nil {
		t.Errorf("fresh entry removed: %v", err)
	}
}

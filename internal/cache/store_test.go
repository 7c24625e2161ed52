package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeFetcher struct {
	calls   atomic.Int32
	content string
	err     error
	delay   time.Duration
}

func (f *fakeFetcher) ToFile(ctx context.Context, url, dst string) (int64, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return 0, f.err
	}
	if err := os.WriteFile(dst, []byte(f.content), 0o644); err != nil {
		return 0, err
	}
	return int64(len(f.content)), nil
}

func newTestStore(t *testing.T, fetcher Fetcher, maxBytes int64) *Store {
	t.Helper()
	s, err := New(Config{
		Dir:      t.TempDir(),
		MaxBytes: maxBytes,
		Fetcher:  fetcher,
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func readAll(t *testing.T, f *os.File) string {
	t.Helper()
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestKey(t *testing.T) {
	tests := []struct {
		fileID, path, want string
	}{
		{"id1", "animations/file_12.mp4", "animations%2Ffile_12.mp4"},
		{"id1", "/videos/file_3.mp4", "videos%2Ffile_3.mp4"},
		{"id1", "../../etc/passwd", "etc%2Fpasswd"},
		{"id1", "", "id1"},
	}
	for _, tt := range tests {
		if got := Key(tt.fileID, tt.path); got != tt.want {
			t.Errorf("Key(%q, %q) = %q, want %q", tt.fileID, tt.path, got, tt.want)
		}
		if err := validKey(Key(tt.fileID, tt.path)); err != nil {
			t.Errorf("Key(%q, %q) is not a valid key: %v", tt.fileID, tt.path, err)
		}
	}
}

// urlFetcher writes the requested URL as the file content.
type urlFetcher struct{}

func (urlFetcher) ToFile(ctx context.Context, url, dst string) (int64, error) {
	return int64(len(url)), os.WriteFile(dst, []byte(url), 0o644)
}

func TestOpen_SameBaseNameInDifferentFolders(t *testing.T) {
	s := newTestStore(t, urlFetcher{}, 0)
	ctx := context.Background()

	files := []struct{ id, path string }{
		{"A", "animations/file_3.mp4"},
		{"B", "videos/file_3.mp4"},
	}
	for _, f := range files {
		file, err := s.Open(ctx, Key(f.id, f.path), f.id, "http://x/"+f.path)
		if err != nil {
			t.Fatal(err)
		}
		if got := readAll(t, file); got != "http://x/"+f.path {
			t.Errorf("%s served %q", f.path, got)
		}
	}
}

func TestOpen_MissThenHit(t *testing.T) {
	f := &fakeFetcher{content: "mp4 data"}
	s := newTestStore(t, f, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		file, err := s.Open(ctx, "file_1.mp4", "id", "http://x")
		if err != nil {
			t.Fatal(err)
		}
		if got := readAll(t, file); got != "mp4 data" {
			t.Errorf("content = %q", got)
		}
	}
	if f.calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.calls.Load())
	}
}

func TestOpen_ConcurrentMissesShareDownload(t *testing.T) {
	f := &fakeFetcher{content: "shared", delay: 50 * time.Millisecond}
	s := newTestStore(t, f, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			file, err := s.Open(context.Background(), "k.mp4", "id", "http://x")
			if err != nil {
				t.Error(err)
				return
			}
			file.Close()
		}()
	}
	wg.Wait()
	if f.calls.Load() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.calls.Load())
	}
}

func TestOpen_FetchErrorLeavesNothing(t *testing.T) {
	f := &fakeFetcher{err: errors.New("boom")}
	s := newTestStore(t, f, 0)

	if _, err := s.Open(context.Background(), "k.mp4", "id", "http://x"); err == nil {
		t.Fatal("expected error")
	}
	entries, _ := s.List(context.Background())
	if len(entries) != 0 {
		t.Errorf("entries = %v", entries)
	}
	files, _ := os.ReadDir(s.dir)
	if len(files) != 0 {
		t.Errorf("leftover files: %d", len(files))
	}
}

func TestOpen_InvalidKey(t *testing.T) {
	s := newTestStore(t, &fakeFetcher{}, 0)
	for _, key := range []string{"", "..", "a/b"} {
		if _, err := s.Open(context.Background(), key, "id", "http://x"); err == nil {
			t.Errorf("key %q accepted", key)
		}
	}
}

func TestPrune_SizeBudgetEvictsLRU(t *testing.T) {
	f := &fakeFetcher{content: "0123456789"} // 10 bytes each
	s := newTestStore(t, f, 25)
	ctx := context.Background()

	clock := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return clock }

	for _, key := range []string{"a.mp4", "b.mp4"} {
		file, err := s.Open(ctx, key, key, "http://x")
		if err != nil {
			t.Fatal(err)
		}
		file.Close()
		clock = clock.Add(time.Minute)
	}
	// Touch a so b becomes least recently used.
	file, _ := s.Open(ctx, "a.mp4", "a.mp4", "http://x")
	file.Close()
	clock = clock.Add(time.Minute)

	file, err := s.Open(ctx, "c.mp4", "c.mp4", "http://x")
	if err != nil {
		t.Fatal(err)
	}
	file.Close()

	entries, _ := s.List(ctx)
	keys := map[string]bool{}
	for _, e := range entries {
		keys[e.Key] = true
	}
	if keys["b.mp4"] || !keys["a.mp4"] || !keys["c.mp4"] {
		t.Errorf("unexpected entries after prune: %v", keys)
	}
	if _, err := os.Stat(filepath.Join(s.dir, "b.mp4")); !os.IsNotExist(err) {
		t.Error("evicted file still on disk")
	}
}

func TestPrune_MaxAge(t *testing.T) {
	s := newTestStore(t, &fakeFetcher{content: "x"}, 0)
	ctx := context.Background()

	clock := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return clock }
	file, err := s.Open(ctx, "old.mp4", "old", "http://x")
	if err != nil {
		t.Fatal(err)
	}
	file.Close()

	clock = clock.Add(8 * 24 * time.Hour)
	res, err := s.Prune(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 1 || res.Freed != 1 {
		t.Errorf("result = %+v", res)
	}
}

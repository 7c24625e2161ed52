// Package cache keeps downloaded videos on local disk so repeated HTTP
// deliveries of the same file skip the transport round trip.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"asticker2vid/internal/metrics"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"
)

// Fetcher downloads url into dst.
type Fetcher interface {
	ToFile(ctx context.Context, url, dst string) (int64, error)
}

// Config configures a Store.
type Config struct {
	Dir      string
	DBPath   string        // index location (default <Dir>/index.db)
	MaxBytes int64         // total size budget (default 512MB)
	MaxAge   time.Duration // entries idle longer than this are evicted (default 7 days)
	Fetcher  Fetcher
	Metrics  *metrics.Set
	Logger   *slog.Logger
}

// Store is a size- and age-bounded file cache indexed in SQLite.
type Store struct {
	dir      string
	maxBytes int64
	maxAge   time.Duration
	fetcher  Fetcher
	metrics  *metrics.Set
	logger   *slog.Logger
	index    *index
	now      func() time.Time

	// mu serializes file opens against eviction so a file is never
	// removed between lookup and open.
	mu    sync.Mutex
	group singleflight.Group
}

// PruneResult reports what an eviction pass removed.
type PruneResult struct {
	Removed int
	Freed   int64
}

// New opens (or creates) a cache under cfg.Dir.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache: dir is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("cache: fetcher is required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 512 << 20
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	filesDir := filepath.Join(cfg.Dir, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create cache directory: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.Dir, "index.db")
	}
	ix, err := openIndex(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	return &Store{
		dir:      filesDir,
		maxBytes: cfg.MaxBytes,
		maxAge:   cfg.MaxAge,
		fetcher:  cfg.Fetcher,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		index:    ix,
		now:      time.Now,
	}, nil
}

// Close releases the index.
func (s *Store) Close() error { return s.index.close() }

// Key derives the cache key for a resolved file: the cleaned transport path
// escaped into a single file name, or the file id when the path is empty.
// Telegram reuses base names across folders, so the folder stays in the key.
func Key(fileID, transportPath string) string {
	if p := strings.TrimPrefix(path.Clean("/"+transportPath), "/"); p != "" {
		return url.PathEscape(p)
	}
	return fileID
}

func validKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("cache: invalid key %q", key)
	}
	return nil
}

// Open returns an open handle to the cached copy of key, downloading it from
// rawURL first if needed. Concurrent misses for the same key share one
// download. The caller must close the file.
func (s *Store) Open(ctx context.Context, key, fileID, rawURL string) (*os.File, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}

	if f, ok := s.openCached(ctx, key); ok {
		s.metrics.CacheLookup(true)
		return f, nil
	}
	s.metrics.CacheLookup(false)

	_, err, _ := s.group.Do(key, func() (any, error) {
		// A previous flight may have finished between the miss and here.
		if f, ok := s.openCached(ctx, key); ok {
			f.Close()
			return nil, nil
		}
		return nil, s.fill(ctx, key, fileID, rawURL)
	})
	if err != nil {
		return nil, err
	}

	f, ok := s.openCached(ctx, key)
	if !ok {
		return nil, fmt.Errorf("cache: %s vanished after download", key)
	}

	if _, err := s.Prune(ctx); err != nil {
		s.logger.Warn("cache prune failed", "err", err)
	}
	return f, nil
}

func (s *Store) openCached(ctx context.Context, key string) (*os.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.index.get(ctx, key)
	if err != nil {
		s.logger.Warn("cache index lookup failed", "key", key, "err", err)
		return nil, false
	}
	if e == nil {
		return nil, false
	}
	f, err := os.Open(e.Path)
	if err != nil {
		// File gone behind our back: forget it.
		s.index.remove(ctx, key)
		return nil, false
	}
	if err := s.index.touch(ctx, key, s.now()); err != nil {
		s.logger.Debug("cache touch failed", "key", key, "err", err)
	}
	return f, true
}

func (s *Store) fill(ctx context.Context, key, fileID, rawURL string) error {
	final := filepath.Join(s.dir, key)
	part := final + ".part"

	size, err := s.fetcher.ToFile(ctx, rawURL, part)
	if err != nil {
		os.Remove(part)
		return fmt.Errorf("cache fill %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		return fmt.Errorf("cache fill %s: %w", key, err)
	}
	now := s.now()
	err = s.index.upsert(ctx, Entry{
		Key:        key,
		FileID:     fileID,
		Path:       final,
		Size:       size,
		CreatedAt:  now,
		LastAccess: now,
	})
	if err != nil {
		os.Remove(final)
		return err
	}
	s.logger.Debug("cached file", "key", key, "bytes", size)
	return nil
}

// List returns all entries, least recently used first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	return s.index.list(ctx)
}

// Prune evicts entries idle longer than MaxAge, then least recently used
// entries until the total size fits MaxBytes.
func (s *Store) Prune(ctx context.Context) (PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result PruneResult
	entries, err := s.index.list(ctx)
	if err != nil {
		return result, err
	}

	var total int64
	for _, e := range entries {
		total += e.Size
	}

	cutoff := s.now().Add(-s.maxAge)
	for _, e := range entries {
		if !e.LastAccess.Before(cutoff) && total <= s.maxBytes {
			continue
		}
		if err := s.evict(ctx, e); err != nil {
			return result, err
		}
		total -= e.Size
		result.Removed++
		result.Freed += e.Size
	}

	if result.Removed > 0 {
		s.logger.Info("cache pruned", "removed", result.Removed, "freed", humanize.Bytes(uint64(result.Freed)))
	}
	return result, nil
}

func (s *Store) evict(ctx context.Context, e Entry) error {
	if err := os.Remove(e.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("evict %s: %w", e.Key, err)
	}
	return s.index.remove(ctx, e.Key)
}

// Run prunes on every tick until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx); err != nil {
				s.logger.Warn("cache prune failed", "err", err)
			}
		}
	}
}

// Package scratch hands out uniquely named, path-backed temporary files for
// pipeline stages and tracks their release.
package scratch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config configures a Manager.
type Config struct {
	Dir    string // base directory (default: <os temp>/asticker2vid)
	Logger *slog.Logger
}

// Manager allocates scratch resources under a single directory.
type Manager struct {
	dir    string
	logger *slog.Logger

	acquired atomic.Int64
	released atomic.Int64
}

// Stats is a snapshot of resource accounting.
type Stats struct {
	Acquired int64
	Released int64
}

// Live is the number of resources acquired but not yet released.
func (s Stats) Live() int64 { return s.Acquired - s.Released }

// NewManager creates the scratch directory if needed.
func NewManager(cfg Config) (*Manager, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "asticker2vid")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{dir: dir, logger: logger}, nil
}

// Dir returns the scratch root.
func (m *Manager) Dir() string { return m.dir }

// Acquire reserves a new empty file whose name ends in suffix. The caller
// must call Cleanup exactly once on every path.
func (m *Manager) Acquire(suffix string) (*Resource, error) {
	if strings.ContainsAny(suffix, `/\`) {
		return nil, fmt.Errorf("scratch: invalid suffix %q", suffix)
	}
	path := filepath.Join(m.dir, uuid.NewString()+suffix)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("scratch: reserve %s: %w", path, err)
	}
	f.Close()

	m.acquired.Add(1)
	return &Resource{Path: path, m: m}, nil
}

// Stats returns the current accounting snapshot.
func (m *Manager) Stats() Stats {
	return Stats{Acquired: m.acquired.Load(), Released: m.released.Load()}
}

// Resource is a scratch file (or directory) owned by one pipeline invocation.
type Resource struct {
	Path string

	m    *Manager
	once sync.Once
}

// Cleanup removes the backing storage. Removal errors are logged and never
// returned. Repeated calls are no-ops.
func (r *Resource) Cleanup() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if err := os.RemoveAll(r.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.m.logger.Warn("scratch cleanup failed", "path", r.Path, "err", err)
		}
		r.m.released.Add(1)
	})
}

// SweepResult lists what Sweep removed and what it could not.
type SweepResult struct {
	Removed []string
	Errors  []error
}

// Sweep removes entries older than maxAge. It is meant for startup, to clear
// leftovers of a previous process that died mid-conversion.
func (m *Manager) Sweep(ctx context.Context, maxAge time.Duration) SweepResult {
	var result SweepResult

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, err)
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		path := filepath.Join(m.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			result.Errors = append(result.Errors, err)
			m.logger.Warn("failed to remove stale scratch entry", "path", path, "err", err)
			continue
		}
		result.Removed = append(result.Removed, path)
	}

	if len(result.Removed) > 0 {
		m.logger.Info("removed stale scratch entries", "count", len(result.Removed), "dir", m.dir)
	}
	return result
}

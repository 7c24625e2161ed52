package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Fetcher downloads a URL to a local path.
type Fetcher interface {
	ToFile(ctx context.Context, url, dst string) (int64, error)
}

// PlayerConfig configures a Player.
type PlayerConfig struct {
	URL     string // lottie-web download location, used when Path is missing
	Path    string // local copy of the script; empty keeps it in memory only
	Fetcher Fetcher
	Logger  *slog.Logger
}

// Player supplies the lottie-web script injected into render pages. The
// script is read from Path, or downloaded once and saved there, then kept in
// memory for every later render.
type Player struct {
	url     string
	path    string
	fetcher Fetcher
	logger  *slog.Logger

	mu  sync.Mutex
	src string
}

func NewPlayer(cfg PlayerConfig) *Player {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultLottieScriptURL
	}
	return &Player{
		url:     cfg.URL,
		path:    cfg.Path,
		fetcher: cfg.Fetcher,
		logger:  cfg.Logger,
	}
}

// Path is the local copy of the script, possibly not yet downloaded.
func (p *Player) Path() string { return p.path }

// Script returns the player source.
func (p *Player) Script(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.src != "" {
		return p.src, nil
	}

	var data []byte
	err := fs.ErrNotExist
	if p.path != "" {
		data, err = os.ReadFile(p.path)
	}
	if errors.Is(err, fs.ErrNotExist) {
		data, err = p.download(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("lottie player: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return "", errors.New("lottie player: empty script")
	}
	p.src = string(data)
	return p.src, nil
}

func (p *Player) download(ctx context.Context) ([]byte, error) {
	if p.fetcher == nil {
		return nil, fmt.Errorf("%s missing and no downloader configured", p.path)
	}

	target := p.path
	if target == "" {
		f, err := os.CreateTemp("", "lottie-*.js")
		if err != nil {
			return nil, err
		}
		f.Close()
		target = f.Name()
		defer os.Remove(target)
	} else if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}

	part := target + ".part"
	if _, err := p.fetcher.ToFile(ctx, p.url, part); err != nil {
		os.Remove(part)
		return nil, fmt.Errorf("download %s: %w", p.url, err)
	}
	if err := os.Rename(part, target); err != nil {
		os.Remove(part)
		return nil, err
	}
	p.logger.Info("lottie player downloaded", "url", p.url, "path", p.path)
	return os.ReadFile(target)
}

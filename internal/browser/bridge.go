// Package browser starts headless Chrome sessions for offscreen page
// rendering.
package browser

import (
	"context"
	"log/slog"
	"os"
	"os/exec"

	"github.com/chromedp/chromedp"
)

// Bridge manages headless Chrome instances.
type Bridge struct {
	execPath  string
	noSandbox bool
	logger    *slog.Logger
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ExecPath  string // Chrome binary; empty lets chromedp search the usual locations
	NoSandbox bool   // required when running as root in containers
	Logger    *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !cfg.NoSandbox && os.Geteuid() == 0 {
		cfg.NoSandbox = true
	}
	return &Bridge{
		execPath:  cfg.ExecPath,
		noSandbox: cfg.NoSandbox,
		logger:    cfg.Logger,
	}
}

// NewContext creates a new headless chromedp context. The caller MUST call
// cancel() when done.
func (b *Bridge) NewContext(parentCtx context.Context) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.DisableGPU,
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if b.execPath != "" {
		opts = append(opts, chromedp.ExecPath(b.execPath))
	}
	if b.noSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			b.logger.Debug("chrome: "+format, args...)
		}),
	)

	cancelAll := func() {
		taskCancel()
		allocCancel()
	}

	return taskCtx, cancelAll
}

// Locate reports the Chrome binary that would be used, or "" if none is
// found.
func (b *Bridge) Locate() string {
	if b.execPath != "" {
		if p, err := exec.LookPath(b.execPath); err == nil {
			return p
		}
		return ""
	}
	for _, name := range []string{
		"headless_shell",
		"headless-shell",
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"chrome",
	} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// Package render turns animation documents into mp4 videos by playing them
// frame by frame in headless Chrome and encoding the captures with ffmpeg.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"asticker2vid/internal/browser"
	"asticker2vid/internal/domain"
	"asticker2vid/internal/download"
	"asticker2vid/internal/lottie"
	"asticker2vid/internal/metrics"

	"github.com/chromedp/chromedp"
)

const (
	defaultSize    = 512
	defaultTimeout = 3 * time.Minute
)

// ChromeConfig configures a Chrome renderer.
type ChromeConfig struct {
	Bridge  *browser.Bridge
	Encoder Encoder
	Player  *Player
	MaxFPS  float64       // 0 keeps the document frame rate
	Timeout time.Duration // per render
	Metrics *metrics.Set
	Logger  *slog.Logger
}

// Chrome renders with a headless browser. Each Render call gets its own
// browser instance, so calls are independent.
type Chrome struct {
	bridge  *browser.Bridge
	encoder Encoder
	player  *Player
	maxFPS  float64
	timeout time.Duration
	metrics *metrics.Set
	logger  *slog.Logger
}

func NewChrome(cfg ChromeConfig) *Chrome {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bridge == nil {
		cfg.Bridge = browser.NewBridge(browser.BridgeConfig{Logger: cfg.Logger})
	}
	if cfg.Player == nil {
		cfg.Player = NewPlayer(PlayerConfig{
			Fetcher: download.New(download.Config{Logger: cfg.Logger}),
			Logger:  cfg.Logger,
		})
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Chrome{
		bridge:  cfg.Bridge,
		encoder: cfg.Encoder,
		player:  cfg.Player,
		maxFPS:  cfg.MaxFPS,
		timeout: cfg.Timeout,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Render reads job.DocumentPath and writes an mp4 to job.OutputPath. All
// failures are RenderErrors.
func (c *Chrome) Render(ctx context.Context, job domain.RenderJob) error {
	start := time.Now()
	err := c.render(ctx, job)
	if err != nil {
		return domain.NewStageError(domain.ErrRender, err)
	}
	c.metrics.RenderFinished(time.Since(start))
	return nil
}

func (c *Chrome) render(ctx context.Context, job domain.RenderJob) error {
	doc, err := os.ReadFile(job.DocumentPath)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if !json.Valid(doc) {
		return errors.New("document is not valid JSON")
	}
	meta, err := lottie.ParseMeta(doc)
	if err != nil {
		return fmt.Errorf("animation header: %v", err)
	}

	width, height := dimensions(job, meta)
	background := job.Style.Background
	if background == "" {
		background = "black"
	}
	if !ValidColor(background) {
		return fmt.Errorf("invalid background color %q", background)
	}
	plan := planFrames(meta, c.maxFPS)

	framesDir, err := os.MkdirTemp(filepath.Dir(job.OutputPath), "frames-")
	if err != nil {
		return fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(framesDir)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.capture(ctx, doc, background, width, height, plan, framesDir); err != nil {
		return err
	}

	c.logger.Debug("frames captured",
		"frames", len(plan.positions),
		"fps", plan.fps,
		"width", width,
		"height", height,
	)

	return c.encoder.Encode(ctx, filepath.Join(framesDir, FramePattern), plan.fps, job.OutputPath)
}

func (c *Chrome) capture(ctx context.Context, doc []byte, background string, width, height int, plan framePlan, dir string) error {
	src, err := c.player.Script(ctx)
	if err != nil {
		return err
	}

	taskCtx, cancel := c.bridge.NewContext(ctx)
	defer cancel()

	var ready, loaded bool
	err = chromedp.Run(taskCtx,
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(pageURL(background, width, height)),
		chromedp.Evaluate(playerScript(src), &ready),
	)
	if err != nil {
		return fmt.Errorf("load player: %w", err)
	}
	if !ready {
		return errors.New("load player: script did not register lottie")
	}
	if err := chromedp.Run(taskCtx, chromedp.Evaluate(loadScript(doc), &loaded)); err != nil {
		return fmt.Errorf("load animation: %w", err)
	}

	for i, pos := range plan.positions {
		var ok bool
		var png []byte
		err := chromedp.Run(taskCtx,
			chromedp.Evaluate(seekScript(pos), &ok),
			chromedp.Screenshot("#stage", &png, chromedp.ByQuery),
		)
		if err != nil {
			return fmt.Errorf("capture frame %d: %w", i, err)
		}
		name := filepath.Join(dir, fmt.Sprintf(FramePattern, i))
		if err := os.WriteFile(name, png, 0o644); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
	}
	return nil
}

func dimensions(job domain.RenderJob, meta lottie.Meta) (int, int) {
	w, h := job.Width, job.Height
	if w <= 0 {
		w = meta.Width
	}
	if h <= 0 {
		h = meta.Height
	}
	if w <= 0 {
		w = defaultSize
	}
	if h <= 0 {
		h = defaultSize
	}
	return w, h
}

type framePlan struct {
	fps       float64
	positions []float64 // frames relative to the in point
}

// planFrames samples the document's frame range at its own rate, or at
// maxFPS when that is lower.
func planFrames(meta lottie.Meta, maxFPS float64) framePlan {
	fps := meta.FrameRate
	if maxFPS > 0 && maxFPS < fps {
		fps = maxFPS
	}
	step := meta.FrameRate / fps
	total := float64(meta.FrameCount())
	count := int(math.Ceil(total / step))

	positions := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		positions = append(positions, float64(i)*step)
	}
	return framePlan{fps: fps, positions: positions}
}

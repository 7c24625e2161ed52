package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"asticker2vid/internal/domain"
	"asticker2vid/internal/lottie"
	"asticker2vid/internal/metrics"
	"asticker2vid/internal/naming"
	"asticker2vid/internal/scratch"
)

// Scratch file suffixes, one per stage.
const (
	rawSuffix      = "_sticker.tgs"
	documentSuffix = "_sticker.json"
	videoSuffix    = "_generated.mp4"
)

// ConverterConfig configures a Converter.
type ConverterConfig struct {
	Scratch   *scratch.Manager
	Transport Transport
	Renderer  Renderer
	Publisher *Publisher
	Namer     *naming.Namer
	Style     domain.RenderStyle
	Width     int // overrides the sticker width when > 0
	Height    int // overrides the sticker height when > 0
	Metrics   *metrics.Set
	Logger    *slog.Logger
}

// Converter runs one animated sticker through fetch, decode, render and
// publish.
type Converter struct {
	scratch   *scratch.Manager
	transport Transport
	renderer  Renderer
	publisher *Publisher
	namer     *naming.Namer
	style     domain.RenderStyle
	width     int
	height    int
	metrics   *metrics.Set
	logger    *slog.Logger
}

func NewConverter(cfg ConverterConfig) *Converter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Namer == nil {
		cfg.Namer = naming.NewNamer(nil)
	}
	return &Converter{
		scratch:   cfg.Scratch,
		transport: cfg.Transport,
		renderer:  cfg.Renderer,
		publisher: cfg.Publisher,
		namer:     cfg.Namer,
		style:     cfg.Style,
		width:     cfg.Width,
		height:    cfg.Height,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Convert renders the sticker of msg and publishes it as a reply. It returns
// the download link on success.
//
// Every scratch resource acquired here is released exactly once: the raw
// payload right after extraction, the document and video by the publisher
// or on the failing branch that stops before it.
func (c *Converter) Convert(ctx context.Context, msg domain.Message) (string, error) {
	if msg.Sticker == nil {
		return "", errors.New("convert: message carries no sticker")
	}
	defer func() { c.metrics.ScratchLive(c.scratch.Stats().Live()) }()

	sticker := *msg.Sticker

	raw, err := c.scratch.Acquire(rawSuffix)
	if err != nil {
		return "", domain.NewStageError(domain.ErrFetch, err)
	}
	doc, err := c.extract(ctx, sticker.FileID, raw)
	if err != nil {
		return "", err
	}

	document, err := c.scratch.Acquire(documentSuffix)
	if err != nil {
		return "", domain.NewStageError(domain.ErrDecode, err)
	}
	if err := os.WriteFile(document.Path, doc, 0o644); err != nil {
		document.Cleanup()
		return "", domain.NewStageError(domain.ErrDecode, fmt.Errorf("write document: %w", err))
	}

	video, err := c.scratch.Acquire(videoSuffix)
	if err != nil {
		document.Cleanup()
		return "", domain.NewStageError(domain.ErrRender, err)
	}

	job := domain.RenderJob{
		DocumentPath: document.Path,
		OutputPath:   video.Path,
		Width:        sticker.Width,
		Height:       sticker.Height,
		Style:        c.style,
	}
	if c.width > 0 && c.height > 0 {
		job.Width, job.Height = c.width, c.height
	}
	if err := c.renderer.Render(ctx, job); err != nil {
		document.Cleanup()
		video.Cleanup()
		return "", asStage(domain.ErrRender, err)
	}

	return c.publisher.Publish(ctx, Delivery{
		ChatID:    msg.ChatID,
		ReplyTo:   msg.MessageID,
		FileName:  c.namer.Name(sticker),
		VideoPath: video.Path,
	}, document, video)
}

// extract fetches the sticker payload into raw and returns the plain
// animation document. raw is always released before returning.
func (c *Converter) extract(ctx context.Context, fileID string, raw *scratch.Resource) ([]byte, error) {
	defer raw.Cleanup()

	if err := c.transport.FetchAsset(ctx, fileID, raw.Path); err != nil {
		return nil, asStage(domain.ErrFetch, err)
	}
	data, err := os.ReadFile(raw.Path)
	if err != nil {
		return nil, domain.NewStageError(domain.ErrFetch, err)
	}
	if len(data) == 0 {
		return nil, domain.NewStageError(domain.ErrFetch, errors.New("empty sticker payload"))
	}

	doc, enc, err := lottie.Extract(data)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("sticker decoded", "file_id", fileID, "encoding", enc, "bytes", len(doc))
	return doc, nil
}

package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"asticker2vid/internal/domain"
	"asticker2vid/internal/errreport"
	"asticker2vid/internal/naming"
	"asticker2vid/internal/scratch"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Transport  Transport
	BaseURL    string // public prefix of download links
	LinkPrefix string // text placed before the link
	LinkFooter string // optional paragraph after the link
	Archiver   Archiver
	Reporter   errreport.Reporter
	Logger     *slog.Logger
}

// Publisher delivers a rendered video and its download link.
type Publisher struct {
	transport  Transport
	baseURL    string
	linkPrefix string
	linkFooter string
	archiver   Archiver
	reporter   errreport.Reporter
	logger     *slog.Logger
}

func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = errreport.Nop{}
	}
	return &Publisher{
		transport:  cfg.Transport,
		baseURL:    cfg.BaseURL,
		linkPrefix: cfg.LinkPrefix,
		linkFooter: cfg.LinkFooter,
		archiver:   cfg.Archiver,
		reporter:   cfg.Reporter,
		logger:     cfg.Logger,
	}
}

// Delivery describes one video to publish.
type Delivery struct {
	ChatID    int64
	ReplyTo   int
	FileName  string
	VideoPath string
}

// Publish sends the video, then a text reply with the download link. It
// takes ownership of owned and releases every resource before returning,
// whether or not the sends succeed.
func (p *Publisher) Publish(ctx context.Context, d Delivery, owned ...*scratch.Resource) (string, error) {
	defer release(owned)

	ack, err := p.transport.SendVideo(ctx, domain.VideoMessage{
		ChatID:   d.ChatID,
		ReplyTo:  d.ReplyTo,
		FileName: d.FileName,
		Path:     d.VideoPath,
	})
	if err != nil {
		return "", asStage(domain.ErrSend, err)
	}

	name := ack.FileName
	if name == "" {
		name = d.FileName
	}
	link := naming.DownloadLink(p.baseURL, ack.FileID, name)

	chatID := ack.ChatID
	if chatID == 0 {
		chatID = d.ChatID
	}
	// The link answers the video message itself.
	replyTo := ack.MessageID
	if replyTo == 0 {
		replyTo = d.ReplyTo
	}
	err = p.transport.SendText(ctx, domain.TextMessage{
		ChatID:             chatID,
		ReplyTo:            replyTo,
		Text:               p.linkText(link),
		DisableLinkPreview: true,
	})
	if err != nil {
		return link, asStage(domain.ErrSend, err)
	}

	p.archive(ctx, ack.FileID, d.VideoPath)
	return link, nil
}

func (p *Publisher) linkText(link string) string {
	text := p.linkPrefix + link
	if p.linkFooter != "" {
		text += "\n\n" + p.linkFooter
	}
	return text
}

// archive never fails the conversion; the video already reached the user.
func (p *Publisher) archive(ctx context.Context, fileID, path string) {
	if p.archiver == nil || fileID == "" {
		return
	}
	if err := p.archiver.Upload(ctx, fileID, path); err != nil {
		p.logger.Warn("archive upload failed", "file_id", fileID, "err", err)
		p.reporter.Capture(ctx, err, map[string]string{"stage": "archive"})
	}
}

func release(rs []*scratch.Resource) {
	for _, r := range rs {
		r.Cleanup()
	}
}

// asStage tags err with kind unless it already carries a stage.
func asStage(kind, err error) error {
	var se *domain.StageError
	if errors.As(err, &se) {
		return err
	}
	return domain.NewStageError(kind, err)
}

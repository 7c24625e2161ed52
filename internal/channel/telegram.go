package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"asticker2vid/internal/domain"
	"asticker2vid/internal/download"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxSendRetries = 3
	defaultPollTimeout     = 60
)

// botClient is the subset of *tgbotapi.BotAPI used outside polling.
type botClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// Fetcher downloads a URL to a local path.
type Fetcher interface {
	ToFile(ctx context.Context, url, dst string) (int64, error)
}

// Telegram is the bot transport: long-poll intake onto the message bus,
// outbound sends for the pipeline, and file resolution for the delivery
// endpoint.
type Telegram struct {
	token       string
	allowFrom   []int64 // empty = allow all
	pollTimeout int

	api     *tgbotapi.BotAPI
	bot     botClient
	fetcher Fetcher
	logger  *slog.Logger
	sleep   func(time.Duration)
}

type TelegramConfig struct {
	Token       string
	AllowFrom   []string // user IDs as strings
	PollTimeout int      // long-poll seconds
	HTTPClient  *http.Client
	Fetcher     Fetcher
	Logger      *slog.Logger
}

// NewTelegram connects to the Bot API and verifies the token.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: time.Duration(cfg.PollTimeout+30) * time.Second}
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, hc)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram bot connected", "username", api.Self.UserName, "id", api.Self.ID)

	return &Telegram{
		token:       cfg.Token,
		allowFrom:   allowed,
		pollTimeout: cfg.PollTimeout,
		api:         api,
		bot:         api,
		fetcher:     cfg.Fetcher,
		logger:      cfg.Logger,
		sleep:       time.Sleep,
	}, nil
}

// Username is the bot's @handle.
func (t *Telegram) Username() string {
	if t.api == nil {
		return ""
	}
	return t.api.Self.UserName
}

// Start polls for updates and publishes accepted messages to bus until ctx
// is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	u.AllowedUpdates = []string{"message"}
	updates := t.api.GetUpdatesChan(u)

	t.logger.Info("telegram polling started", "timeout", t.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(bus, update)
		}
	}
}

func (t *Telegram) handleUpdate(bus domain.MessageBus, update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.Chat == nil {
		return
	}
	if m.From != nil && !t.isAllowed(m.From.ID) {
		t.logger.Warn("message from user outside allow list", "user_id", m.From.ID, "username", m.From.UserName)
		return
	}

	msg := toDomainMessage(m)
	t.logger.Debug("telegram message received",
		"chat_id", msg.ChatID,
		"kind", msg.Kind,
		"forwarded", msg.Forwarded,
	)
	bus.Publish(msg)
}

// toDomainMessage classifies a Telegram message once, at ingestion.
// Forwarded messages carry the forwarded content in the same fields, so the
// same priority applies.
func toDomainMessage(m *tgbotapi.Message) domain.Message {
	msg := domain.Message{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Kind:      domain.ClassifyKind(m.Sticker != nil, m.Document != nil, len(m.Photo) > 0, m.Text != ""),
		Text:      m.Text,
		Forwarded: m.ForwardDate != 0 || m.ForwardFrom != nil || m.ForwardFromChat != nil || m.ForwardSenderName != "",
		Timestamp: time.Unix(int64(m.Date), 0),
	}
	if m.From != nil {
		msg.SenderID = m.From.ID
	}
	if m.Sticker != nil {
		msg.Sticker = &domain.Sticker{
			FileID:     m.Sticker.FileID,
			IsAnimated: m.Sticker.IsAnimated,
			Width:      m.Sticker.Width,
			Height:     m.Sticker.Height,
			Emoji:      m.Sticker.Emoji,
		}
	}
	if m.IsCommand() {
		msg.Command = m.Command()
	}
	return msg
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// FetchAsset downloads the file behind fileID to dst.
func (t *Telegram) FetchAsset(ctx context.Context, fileID, dst string) error {
	file, err := t.ResolveFile(ctx, fileID)
	if err != nil {
		return domain.NewStageError(domain.ErrFetch, err)
	}
	if _, err := t.fetcher.ToFile(ctx, file.URL, dst); err != nil {
		return domain.NewStageError(domain.ErrFetch, fmt.Errorf("download %s: %w", fileID, err))
	}
	return nil
}

// ResolveFile asks the Bot API where fileID can be downloaded. Unknown or
// expired ids yield domain.ErrNotFound.
func (t *Telegram) ResolveFile(ctx context.Context, fileID string) (*domain.ResolvedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStageError(domain.ErrResolution, err)
	}
	f, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, classifyFileError(fileID, download.RedactError(err))
	}
	return &domain.ResolvedFile{
		ID:   f.FileID,
		URL:  f.Link(t.token),
		Path: f.FilePath,
		Size: int64(f.FileSize),
	}, nil
}

// classifyFileError maps Bot API 400 responses to ErrNotFound.
func classifyFileError(fileID string, err error) error {
	if code, ok := apiErrorCode(err); ok && code == http.StatusBadRequest {
		return domain.NewStageError(domain.ErrNotFound, fmt.Errorf("file %s: %w", fileID, err))
	}
	return domain.NewStageError(domain.ErrResolution, fmt.Errorf("file %s: %w", fileID, err))
}

func apiErrorCode(err error) (int, bool) {
	var p *tgbotapi.Error
	if errors.As(err, &p) {
		return p.Code, true
	}
	var v tgbotapi.Error
	if errors.As(err, &v) {
		return v.Code, true
	}
	return 0, false
}

func retryAfter(err error) (time.Duration, bool) {
	var p *tgbotapi.Error
	if errors.As(err, &p) && p.Code == http.StatusTooManyRequests {
		return time.Duration(max(p.RetryAfter, 1)) * time.Second, true
	}
	return 0, false
}

// SendVideo uploads a local mp4 as an animation reply.
func (t *Telegram) SendVideo(ctx context.Context, msg domain.VideoMessage) (*domain.SentVideo, error) {
	f, err := os.Open(msg.Path)
	if err != nil {
		return nil, domain.NewStageError(domain.ErrSend, err)
	}
	defer f.Close()

	anim := tgbotapi.NewAnimation(msg.ChatID, tgbotapi.FileReader{Name: msg.FileName, Reader: f})
	anim.ReplyToMessageID = msg.ReplyTo

	// An upload consumes the reader, so it is not retried.
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStageError(domain.ErrSend, err)
	}
	sent, err := t.bot.Send(anim)
	if err != nil {
		return nil, domain.NewStageError(domain.ErrSend, fmt.Errorf("send animation: %w", download.RedactError(err)))
	}
	ack := sentVideo(sent)
	if ack.FileID == "" {
		return nil, domain.NewStageError(domain.ErrSend, errors.New("send animation: acknowledgement carries no file"))
	}
	return &ack, nil
}

// sentVideo reads the file Telegram stored for an animation upload. Depending
// on the client, it shows up as an animation, a video or a document.
func sentVideo(m tgbotapi.Message) domain.SentVideo {
	ack := domain.SentVideo{MessageID: m.MessageID}
	if m.Chat != nil {
		ack.ChatID = m.Chat.ID
	}
	switch {
	case m.Animation != nil:
		ack.FileID, ack.FileName = m.Animation.FileID, m.Animation.FileName
	case m.Video != nil:
		ack.FileID, ack.FileName = m.Video.FileID, m.Video.FileName
	case m.Document != nil:
		ack.FileID, ack.FileName = m.Document.FileID, m.Document.FileName
	}
	return ack
}

// SendText sends a text message, retrying rate limits and transient errors.
// Markdown that Telegram rejects is resent as plain text.
func (t *Telegram) SendText(ctx context.Context, msg domain.TextMessage) error {
	out := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	out.ReplyToMessageID = msg.ReplyTo
	out.DisableWebPagePreview = msg.DisableLinkPreview
	if msg.Markdown {
		out.ParseMode = tgbotapi.ModeMarkdown
	}

	err := t.send(ctx, out)
	if err != nil && out.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
		out.ParseMode = ""
		err = t.send(ctx, out)
	}
	if err != nil {
		return domain.NewStageError(domain.ErrSend, err)
	}
	return nil
}

// SendFile sends in-memory bytes as a document reply.
func (t *Telegram) SendFile(ctx context.Context, msg domain.FileMessage) error {
	doc := tgbotapi.NewDocument(msg.ChatID, tgbotapi.FileBytes{Name: msg.FileName, Bytes: msg.Data})
	doc.ReplyToMessageID = msg.ReplyTo
	if err := t.send(ctx, doc); err != nil {
		return domain.NewStageError(domain.ErrSend, err)
	}
	return nil
}

func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	var err error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if _, err = t.bot.Send(c); err == nil {
			return nil
		}
		err = download.RedactError(err)

		if wait, ok := retryAfter(err); ok {
			t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
			t.sleep(wait)
			continue
		}
		if code, ok := apiErrorCode(err); ok && code < 500 {
			return err
		}
		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			t.sleep(backoff)
		}
	}
	t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	return err
}

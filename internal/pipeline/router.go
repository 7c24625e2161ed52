package pipeline

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"asticker2vid/internal/assets"
	"asticker2vid/internal/bus"
	"asticker2vid/internal/domain"
	"asticker2vid/internal/errreport"
	"asticker2vid/internal/metrics"
)

// User-facing replies.
const (
	NotAnimatedText = "This sticker isn't animated. There's no point in converting it into a video."
	FailureText     = "Sorry, I couldn't convert this sticker."
)

// RouterConfig configures a Router.
type RouterConfig struct {
	Transport Transport
	Converter *Converter
	Hello     string // Markdown reply for /start and /help
	Confused  []byte // image sent for documents and photos
	Metrics   *metrics.Set
	Events    *bus.EventBus
	Reporter  errreport.Reporter
	Logger    *slog.Logger
}

// Router dispatches inbound messages by kind.
type Router struct {
	transport Transport
	converter *Converter
	hello     string
	confused  []byte
	metrics   *metrics.Set
	events    *bus.EventBus
	reporter  errreport.Reporter
	logger    *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = errreport.Nop{}
	}
	return &Router{
		transport: cfg.Transport,
		converter: cfg.Converter,
		hello:     cfg.Hello,
		confused:  cfg.Confused,
		metrics:   cfg.Metrics,
		events:    cfg.Events,
		reporter:  cfg.Reporter,
		logger:    cfg.Logger,
	}
}

// Handle processes one message. Forwarded messages arrive already
// classified from their own fields and take the same branches.
func (r *Router) Handle(ctx context.Context, msg domain.Message) error {
	r.metrics.MessageReceived(msg.Kind.String())
	r.events.Emit(bus.Event{
		Type:   bus.EventMessageReceived,
		Source: "router",
		Payload: map[string]any{
			"chat_id":   msg.ChatID,
			"kind":      msg.Kind.String(),
			"forwarded": msg.Forwarded,
		},
	})

	switch msg.Kind {
	case domain.KindSticker:
		if msg.Sticker == nil || !msg.Sticker.IsAnimated {
			return r.transport.SendText(ctx, domain.TextMessage{
				ChatID:  msg.ChatID,
				ReplyTo: msg.MessageID,
				Text:    NotAnimatedText,
			})
		}
		return r.convert(ctx, msg)
	case domain.KindDocument, domain.KindPhoto:
		return r.transport.SendFile(ctx, domain.FileMessage{
			ChatID:   msg.ChatID,
			ReplyTo:  msg.MessageID,
			FileName: assets.ConfusedName,
			Data:     r.confused,
		})
	case domain.KindText:
		if msg.Forwarded || r.hello == "" {
			return nil
		}
		if msg.Command == "start" || msg.Command == "help" {
			return r.transport.SendText(ctx, domain.TextMessage{
				ChatID:   msg.ChatID,
				Text:     r.hello,
				Markdown: true,
			})
		}
		return nil
	case domain.KindUnrecognized:
		return nil
	default:
		r.logger.Warn("unhandled message kind", "kind", msg.Kind)
		return nil
	}
}

func (r *Router) convert(ctx context.Context, msg domain.Message) error {
	start := time.Now()
	log := r.logger.With("chat_id", msg.ChatID, "message_id", msg.MessageID, "file_id", msg.Sticker.FileID)

	link, err := r.converter.Convert(ctx, msg)
	took := time.Since(start)
	if err == nil {
		r.metrics.ConversionFinished(metrics.OutcomeOK, took)
		r.events.Emit(bus.Event{
			Type:    bus.EventConversionFinished,
			Source:  "converter",
			Payload: map[string]any{"chat_id": msg.ChatID, "link": link, "took": took},
		})
		log.Info("sticker converted", "took", took.Round(time.Millisecond), "link", link)
		return nil
	}

	stage := domain.StageName(err)
	r.metrics.ConversionFinished(stage, took)
	r.events.Emit(bus.Event{
		Type:    bus.EventConversionFailed,
		Source:  "converter",
		Payload: map[string]any{"chat_id": msg.ChatID, "stage": stage, "error": err.Error()},
	})
	log.Error("conversion failed", "stage", stage, "err", err)
	r.reporter.Capture(ctx, err, map[string]string{
		"stage": stage,
		"chat":  strconv.FormatInt(msg.ChatID, 10),
	})

	ackErr := r.transport.SendText(ctx, domain.TextMessage{
		ChatID:  msg.ChatID,
		ReplyTo: msg.MessageID,
		Text:    FailureText,
	})
	if ackErr != nil {
		log.Warn("failed to send failure notice", "err", ackErr)
	}
	return err
}

package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"asticker2vid/internal/domain"
)

const defaultConcurrency = 4

// LoopConfig holds the dependencies of the worker loop.
type LoopConfig struct {
	Bus         domain.MessageBus
	Router      *Router
	Concurrency int // max messages handled in parallel (default 4)
	Logger      *slog.Logger
}

// Loop consumes the inbound bus and hands each message to the router.
type Loop struct {
	bus         domain.MessageBus
	router      *Router
	concurrency int
	logger      *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		bus:         cfg.Bus,
		router:      cfg.Router,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Run processes inbound messages with bounded concurrency until ctx is done
// or the bus is closed. It waits for in-flight messages before returning.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("worker loop started", "concurrency", l.concurrency)

	var wg sync.WaitGroup
	defer wg.Wait()

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("worker loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, worker loop stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(m domain.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				l.process(ctx, m)
			}(msg)
		}
	}
}

func (l *Loop) process(ctx context.Context, msg domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic while handling message", "chat_id", msg.ChatID, "panic", r)
		}
	}()
	if err := l.router.Handle(ctx, msg); err != nil {
		l.logger.Debug("message handling failed", "chat_id", msg.ChatID, "kind", msg.Kind, "err", err)
	}
}

// Package errreport forwards pipeline and HTTP failures to Sentry when a DSN
// is configured.
package errreport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter captures errors with tags. Implementations never block the
// caller for long and never fail.
type Reporter interface {
	Capture(ctx context.Context, err error, tags map[string]string)
	Flush(timeout time.Duration)
}

// Config configures the Sentry reporter.
type Config struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
	Logger      *slog.Logger
}

// New returns a Sentry-backed reporter, or a logging no-op when DSN is
// empty.
func New(cfg Config) (Reporter, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DSN == "" {
		return Nop{}, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  cfg.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	cfg.Logger.Info("error reporting enabled", "environment", cfg.Environment)
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope()), logger: cfg.Logger}, nil
}

// Sentry reports to a Sentry project.
type Sentry struct {
	hub    *sentry.Hub
	logger *slog.Logger
}

func (s *Sentry) Capture(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	hub := s.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		if id := hub.CaptureException(err); id == nil {
			s.logger.Debug("sentry dropped event", "err", err)
		}
	})
}

func (s *Sentry) Flush(timeout time.Duration) {
	s.hub.Flush(timeout)
}

// Nop discards reports.
type Nop struct{}

func (Nop) Capture(context.Context, error, map[string]string) {}
func (Nop) Flush(time.Duration)                               {}

// Package app wires the process together. A Service is built once from the
// configuration and handed to every component that needs shared state.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"asticker2vid/internal/archive"
	"asticker2vid/internal/assets"
	"asticker2vid/internal/browser"
	"asticker2vid/internal/bus"
	"asticker2vid/internal/cache"
	"asticker2vid/internal/channel"
	"asticker2vid/internal/config"
	"asticker2vid/internal/domain"
	"asticker2vid/internal/download"
	"asticker2vid/internal/errreport"
	"asticker2vid/internal/metrics"
	"asticker2vid/internal/naming"
	"asticker2vid/internal/pipeline"
	"asticker2vid/internal/render"
	"asticker2vid/internal/scratch"
)

const (
	shutdownTimeout = 10 * time.Second
	flushTimeout    = 2 * time.Second
)

// Service holds the long-lived collaborators of one process.
type Service struct {
	Config     *config.Config
	Logger     *slog.Logger
	Version    string
	Metrics    *metrics.Set
	Events     *bus.EventBus
	Reporter   errreport.Reporter
	Scratch    *scratch.Manager
	Downloader *download.Client
	Cache      *cache.Store // nil when caching is disabled
	Bridge     *browser.Bridge
	Renderer   *render.Chrome
	Archive    *archive.S3 // nil when archiving is disabled
	Namer      *naming.Namer

	closers []func() error
}

// New builds every collaborator that does not need the network. The caller
// must Close the service.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*Service, error) {
	s := &Service{
		Config:  cfg,
		Logger:  logger,
		Version: version,
		Events:  bus.NewEventBus(logger),
		Namer:   naming.NewNamer(nil),
	}
	if cfg.Metrics.Enabled {
		s.Metrics = metrics.NewSet(metrics.NewCollector("asticker2vid"))
	}

	reporter, err := errreport.New(errreport.Config{
		DSN:         cfg.ErrorReporting.DSN,
		Environment: cfg.ErrorReporting.Environment,
		Release:     "asticker2vid@" + version,
		SampleRate:  cfg.ErrorReporting.SampleRate,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("error reporting: %w", err)
	}
	s.Reporter = reporter
	s.closers = append(s.closers, func() error {
		reporter.Flush(flushTimeout)
		return nil
	})

	s.Scratch, err = scratch.NewManager(scratch.Config{Dir: cfg.Scratch.Dir, Logger: logger})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Downloader = download.New(download.Config{Logger: logger})

	if cfg.Cache.Enabled {
		s.Cache, err = cache.New(cache.Config{
			Dir:      cfg.Cache.Dir,
			DBPath:   cfg.Cache.DBPath,
			MaxBytes: cfg.Cache.MaxBytes,
			MaxAge:   time.Duration(cfg.Cache.MaxAgeHours) * time.Hour,
			Fetcher:  s.Downloader,
			Metrics:  s.Metrics,
			Logger:   logger,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("delivery cache: %w", err)
		}
		s.closers = append(s.closers, s.Cache.Close)
	}

	s.Bridge = browser.NewBridge(browser.BridgeConfig{
		ExecPath:  cfg.Render.ChromePath,
		NoSandbox: cfg.Render.NoSandbox,
		Logger:    logger,
	})
	player := render.NewPlayer(render.PlayerConfig{
		URL:     cfg.Render.LottieScriptURL,
		Path:    cfg.Render.LottieScriptPath,
		Fetcher: s.Downloader,
		Logger:  logger,
	})
	s.Renderer = render.NewChrome(render.ChromeConfig{
		Bridge:  s.Bridge,
		Encoder: render.Encoder{FFmpegPath: cfg.Render.FFmpegPath},
		Player:  player,
		MaxFPS:  cfg.Render.MaxFPS,
		Timeout: time.Duration(cfg.Render.TimeoutSeconds) * time.Second,
		Metrics: s.Metrics,
		Logger:  logger,
	})

	if cfg.Archive.Enabled {
		s.Archive, err = archive.New(ctx, archive.Config{
			Bucket:          cfg.Archive.Bucket,
			Prefix:          cfg.Archive.Prefix,
			Endpoint:        cfg.Archive.Endpoint,
			Region:          cfg.Archive.Region,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			Logger:          logger,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("archive: %w", err)
		}
	}

	return s, nil
}

// Close releases resources in reverse order of creation.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Style is the render style from configuration.
func (s *Service) Style() domain.RenderStyle {
	return domain.RenderStyle{Background: s.Config.Render.Background}
}

// Files returns the delivery file source: the cache when enabled, otherwise
// per-request scratch downloads.
func (s *Service) Files() channel.FileSource {
	if s.Cache != nil {
		return s.Cache
	}
	return &channel.TransientFiles{Scratch: s.Scratch, Fetcher: s.Downloader}
}

// Router builds the message router on top of transport.
func (s *Service) Router(transport pipeline.Transport) (*pipeline.Router, error) {
	cfg := s.Config
	confused, err := assets.Confused(cfg.Telegram.ConfusedImage)
	if err != nil {
		return nil, err
	}

	pubCfg := pipeline.PublisherConfig{
		Transport:  transport,
		BaseURL:    cfg.HTTP.BaseURL,
		LinkPrefix: cfg.Telegram.LinkPrefix,
		LinkFooter: cfg.Telegram.LinkFooter,
		Reporter:   s.Reporter,
		Logger:     s.Logger,
	}
	if s.Archive != nil {
		pubCfg.Archiver = s.Archive
	}

	converter := pipeline.NewConverter(pipeline.ConverterConfig{
		Scratch:   s.Scratch,
		Transport: transport,
		Renderer:  s.Renderer,
		Publisher: pipeline.NewPublisher(pubCfg),
		Namer:     s.Namer,
		Style:     s.Style(),
		Width:     cfg.Render.Width,
		Height:    cfg.Render.Height,
		Metrics:   s.Metrics,
		Logger:    s.Logger,
	})

	return pipeline.NewRouter(pipeline.RouterConfig{
		Transport: transport,
		Converter: converter,
		Hello:     cfg.Telegram.HelloMessage,
		Confused:  confused,
		Metrics:   s.Metrics,
		Events:    s.Events,
		Reporter:  s.Reporter,
		Logger:    s.Logger,
	}), nil
}

// Serve connects to Telegram and runs intake, workers, the delivery
// endpoint and cache maintenance until ctx is cancelled.
func (s *Service) Serve(ctx context.Context) error {
	cfg := s.Config
	logger := s.Logger

	stale := time.Duration(cfg.Scratch.StaleAfterMinutes) * time.Minute
	if stale > 0 {
		s.Scratch.Sweep(ctx, stale)
	}

	tg, err := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		AllowFrom:   cfg.Telegram.AllowFrom,
		PollTimeout: cfg.Telegram.PollTimeout,
		Fetcher:     s.Downloader,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	router, err := s.Router(tg)
	if err != nil {
		return err
	}

	messageBus := bus.New(cfg.Workers.QueueSize, logger)
	loop := pipeline.NewLoop(pipeline.LoopConfig{
		Bus:         messageBus,
		Router:      router,
		Concurrency: cfg.Workers.Concurrency,
		Logger:      logger,
	})

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	delivery := channel.NewDelivery(channel.DeliveryConfig{
		Addr:        cfg.HTTP.Addr(),
		BotURL:      cfg.Telegram.BotURL,
		Resolver:    tg,
		Files:       s.Files(),
		Metrics:     s.Metrics,
		MetricsPath: metricsPath,
		Events:      s.Events,
		Reporter:    s.Reporter,
		Logger:      logger,
	})

	started := time.Now()
	traceID := s.Events.On("*", func(e bus.Event) {
		logger.Debug("event", "type", e.Type, "source", e.Source, "payload", e.Payload)
	})
	defer s.Events.Off("*", traceID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	if s.Cache != nil {
		go s.Cache.Run(ctx, time.Duration(cfg.Cache.SweepIntervalMinutes)*time.Minute)
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- delivery.Start(ctx)
	}()

	go func() {
		if err := tg.Start(ctx, messageBus); err != nil {
			logger.Error("telegram channel error", "err", err)
		}
	}()

	logger.Info("asticker2vid started",
		"bot", "@"+tg.Username(),
		"http", cfg.HTTP.Addr(),
		"base_url", cfg.HTTP.BaseURL,
		"workers", cfg.Workers.Concurrency,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil {
			runErr = fmt.Errorf("delivery endpoint: %w", err)
			logger.Error("delivery endpoint stopped", "err", err)
		}
		cancel()
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-loopDone
		if n := messageBus.Len(); n > 0 {
			logger.Warn("dropping queued messages", "count", n)
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete",
			"converted", len(s.Events.Replay(bus.EventConversionFinished, started)),
			"failed", len(s.Events.Replay(bus.EventConversionFailed, started)),
			"scratch_live", s.Scratch.Stats().Live(),
		)
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, abandoning in-flight conversions")
		if runErr == nil {
			runErr = errors.New("shutdown timed out")
		}
	}
	return runErr
}

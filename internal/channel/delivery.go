package channel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"asticker2vid/internal/bus"
	"asticker2vid/internal/cache"
	"asticker2vid/internal/domain"
	"asticker2vid/internal/errreport"
	"asticker2vid/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Resolver maps a transport file id to a fetchable location.
type Resolver interface {
	ResolveFile(ctx context.Context, fileID string) (*domain.ResolvedFile, error)
}

// FileSource provides a local readable copy of a resolved file. The caller
// closes the returned file.
type FileSource interface {
	Open(ctx context.Context, key, fileID, url string) (*os.File, error)
}

// Delivery is the HTTP endpoint that serves previously sent videos.
type Delivery struct {
	addr        string
	botURL      string
	resolver    Resolver
	files       FileSource
	metrics     *metrics.Set
	metricsPath string
	events      *bus.EventBus
	reporter    errreport.Reporter
	logger      *slog.Logger
	server      *http.Server
}

type DeliveryConfig struct {
	Addr        string // listen address, host:port
	BotURL      string // target of GET /
	Resolver    Resolver
	Files       FileSource
	Metrics     *metrics.Set
	MetricsPath string // empty disables the metrics endpoint
	Events      *bus.EventBus
	Reporter    errreport.Reporter
	Logger      *slog.Logger
}

func NewDelivery(cfg DeliveryConfig) *Delivery {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:12534"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = errreport.Nop{}
	}
	return &Delivery{
		addr:        cfg.Addr,
		botURL:      cfg.BotURL,
		resolver:    cfg.Resolver,
		files:       cfg.Files,
		metrics:     cfg.Metrics,
		metricsPath: cfg.MetricsPath,
		events:      cfg.Events,
		reporter:    cfg.Reporter,
		logger:      cfg.Logger,
	}
}

// Handler builds the router.
func (d *Delivery) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, d.accessLog, middleware.Recoverer)

	r.Get("/", d.handleRoot)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})
	if d.metricsPath != "" && d.metrics.Collector() != nil {
		r.Get(d.metricsPath, d.metrics.Collector().Handler())
	}
	r.Get("/{id}/{realName}", d.handleFile)
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (d *Delivery) Start(ctx context.Context) error {
	d.server = &http.Server{
		Addr:              d.addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	d.logger.Info("delivery endpoint started", "addr", "http://"+d.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		d.server.Shutdown(shutdownCtx)
	}()

	if err := d.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (d *Delivery) handleRoot(w http.ResponseWriter, r *http.Request) {
	if d.botURL == "" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, d.botURL, http.StatusFound)
}

func (d *Delivery) handleFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	realName := pathParam(r, "realName")
	download := wantsDownload(r.URL.Query().Get("dl"))

	mode := "inline"
	if download {
		mode = "attachment"
	}
	log := d.logger.With("file_id", id, "mode", mode, "request_id", middleware.GetReqID(ctx))

	resolved, err := d.resolver.ResolveFile(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Debug("unknown file id", "err", err)
			d.fail(w, mode, http.StatusNotFound)
			return
		}
		log.Error("file resolution failed", "err", err)
		d.reporter.Capture(ctx, err, map[string]string{"stage": "resolution"})
		d.fail(w, mode, http.StatusInternalServerError)
		return
	}

	f, err := d.files.Open(ctx, cache.Key(resolved.ID, resolved.Path), resolved.ID, resolved.URL)
	if err != nil {
		log.Error("file fetch failed", "err", err)
		d.reporter.Capture(ctx, domain.NewStageError(domain.ErrFetch, err), map[string]string{"stage": "fetch"})
		d.fail(w, mode, http.StatusBadGateway)
		return
	}
	defer f.Close()

	var modTime time.Time
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}

	h := w.Header()
	if download {
		h.Set("Content-Description", "File Transfer")
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Content-Disposition", "attachment; filename="+strconv.Quote(realName))
		h.Set("Content-Transfer-Encoding", "binary")
	} else {
		h.Set("Content-Type", "video/mp4")
	}
	d.metrics.Delivery(mode, http.StatusOK)
	d.events.Emit(bus.Event{
		Type:    bus.EventDeliveryServed,
		Source:  "http",
		Payload: map[string]any{"file_id": id, "mode": mode},
	})
	http.ServeContent(w, r, realName, modTime, f)
}

func (d *Delivery) fail(w http.ResponseWriter, mode string, status int) {
	d.metrics.Delivery(mode, status)
	http.Error(w, http.StatusText(status), status)
}

// pathParam returns a decoded path parameter. chi matches on the escaped
// path when the request carries one.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v
	}
	if dec, err := url.PathUnescape(v); err == nil {
		return dec
	}
	return v
}

// wantsDownload treats any value other than empty, "0" and "false" as set.
func wantsDownload(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false":
		return false
	default:
		return true
	}
}

func (d *Delivery) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		d.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

package channel

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"asticker2vid/internal/bus"
	"asticker2vid/internal/cache"
	"asticker2vid/internal/domain"
	"asticker2vid/internal/metrics"
	"asticker2vid/internal/scratch"
)

type fakeResolver struct {
	files map[string]domain.ResolvedFile
	err   error
}

func (r *fakeResolver) ResolveFile(ctx context.Context, id string) (*domain.ResolvedFile, error) {
	if r.err != nil {
		return nil, r.err
	}
	f, ok := r.files[id]
	if !ok {
		return nil, domain.NewStageError(domain.ErrNotFound, errors.New("Bad Request: invalid file_id"))
	}
	return &f, nil
}

type contentFetcher struct {
	body  string
	calls atomic.Int32
	err   error
}

func (f *contentFetcher) ToFile(ctx context.Context, url, dst string) (int64, error) {
	f.calls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return int64(len(f.body)), os.WriteFile(dst, []byte(f.body), 0o644)
}

type deliveryHarness struct {
	server   *httptest.Server
	resolver *fakeResolver
	fetcher  *contentFetcher
	metrics  *metrics.Set
	events   *bus.EventBus
}

func newDeliveryHarness(t *testing.T) *deliveryHarness {
	t.Helper()
	logger := testLogger()
	h := &deliveryHarness{
		resolver: &fakeResolver{files: map[string]domain.ResolvedFile{
			"FILE1": {ID: "FILE1", URL: "https://files.example/animations/file_1.mp4", Path: "animations/file_1.mp4"},
		}},
		fetcher: &contentFetcher{body: "fake mp4 bytes"},
		metrics: metrics.NewSet(metrics.NewCollector("asticker2vid")),
		events:  bus.NewEventBus(logger),
	}

	store, err := cache.New(cache.Config{Dir: t.TempDir(), Fetcher: h.fetcher, Metrics: h.metrics, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	d := NewDelivery(DeliveryConfig{
		BotURL:      "https://t.me/asticker2vid_bot",
		Resolver:    h.resolver,
		Files:       store,
		Metrics:     h.metrics,
		MetricsPath: "/metrics",
		Events:      h.events,
		Logger:      logger,
	})
	h.server = httptest.NewServer(d.Handler())
	t.Cleanup(h.server.Close)
	return h
}

func noRedirectClient() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := noRedirectClient().Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestDelivery_RootRedirects(t *testing.T) {
	h := newDeliveryHarness(t)
	resp, _ := get(t, h.server.URL+"/")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://t.me/asticker2vid_bot" {
		t.Errorf("location = %q", loc)
	}
}

func TestDelivery_Download(t *testing.T) {
	h := newDeliveryHarness(t)
	resp, body := get(t, h.server.URL+"/FILE1/grinning_animated_sticker.mp4?dl=1")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="grinning_animated_sticker.mp4"` {
		t.Errorf("content-disposition = %q", cd)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content-type = %q", ct)
	}
	if te := resp.Header.Get("Content-Transfer-Encoding"); te != "binary" {
		t.Errorf("content-transfer-encoding = %q", te)
	}
	if body != "fake mp4 bytes" {
		t.Errorf("body = %q", body)
	}
}

func TestDelivery_Inline(t *testing.T) {
	h := newDeliveryHarness(t)
	for _, q := range []string{"", "?dl=0"} {
		resp, body := get(t, h.server.URL+"/FILE1/clip.mp4"+q)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%q: status = %d", q, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
			t.Errorf("%q: content-type = %q", q, ct)
		}
		if cd := resp.Header.Get("Content-Disposition"); cd != "" {
			t.Errorf("%q: unexpected content-disposition %q", q, cd)
		}
		if body != "fake mp4 bytes" {
			t.Errorf("%q: body = %q", q, body)
		}
	}
	if h.fetcher.calls.Load() != 1 {
		t.Errorf("second request should be served from cache, fetches = %d", h.fetcher.calls.Load())
	}
}

func TestDelivery_RealNameTakenVerbatim(t *testing.T) {
	h := newDeliveryHarness(t)
	resp, _ := get(t, h.server.URL+"/FILE1/my%20clip.mp4?dl=1")
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="my clip.mp4"` {
		t.Errorf("content-disposition = %q", cd)
	}
}

func TestDelivery_UnknownID(t *testing.T) {
	h := newDeliveryHarness(t)
	resp, _ := get(t, h.server.URL+"/NOPE/clip.mp4?dl=1")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if h.fetcher.calls.Load() != 0 {
		t.Error("unknown id should not be fetched")
	}
}

func TestDelivery_ResolutionAndFetchFailures(t *testing.T) {
	h := newDeliveryHarness(t)
	h.resolver.err = domain.NewStageError(domain.ErrResolution, errors.New("502 from upstream"))
	if resp, _ := get(t, h.server.URL+"/FILE1/clip.mp4"); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("resolution failure status = %d", resp.StatusCode)
	}

	h.resolver.err = nil
	h.fetcher.err = errors.New("HTTP 500")
	if resp, _ := get(t, h.server.URL+"/FILE1/clip.mp4"); resp.StatusCode != http.StatusBadGateway {
		t.Errorf("fetch failure status = %d", resp.StatusCode)
	}
}

func TestDelivery_MetricsAndEvents(t *testing.T) {
	h := newDeliveryHarness(t)
	var served atomic.Int32
	h.events.On(bus.EventDeliveryServed, func(bus.Event) { served.Add(1) })

	get(t, h.server.URL+"/FILE1/clip.mp4?dl=1")
	get(t, h.server.URL+"/NOPE/clip.mp4")

	if n := served.Load(); n != 1 {
		t.Errorf("served events = %d", n)
	}
	resp, body := get(t, h.server.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	for _, want := range []string{
		`asticker2vid_deliveries_total{mode="attachment",status="200"} 1`,
		`asticker2vid_deliveries_total{mode="inline",status="404"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestDelivery_TransientFiles(t *testing.T) {
	logger := testLogger()
	sm, err := scratch.NewManager(scratch.Config{Dir: t.TempDir(), Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	fetcher := &contentFetcher{body: "bytes"}
	d := NewDelivery(DeliveryConfig{
		Resolver: &fakeResolver{files: map[string]domain.ResolvedFile{"F": {ID: "F", URL: "u"}}},
		Files:    &TransientFiles{Scratch: sm, Fetcher: fetcher},
		Logger:   logger,
	})
	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	for i := 0; i < 2; i++ {
		if _, body := get(t, srv.URL+"/F/a.mp4"); body != "bytes" {
			t.Fatalf("body = %q", body)
		}
	}
	if fetcher.calls.Load() != 2 {
		t.Errorf("fetches = %d", fetcher.calls.Load())
	}
	if st := sm.Stats(); st.Acquired != 2 || st.Live() != 0 {
		t.Errorf("scratch stats = %+v", st)
	}
}

func TestWantsDownload(t *testing.T) {
	for v, want := range map[string]bool{"": false, "0": false, "false": false, "1": true, "true": true, "yes": true} {
		if got := wantsDownload(v); got != want {
			t.Errorf("wantsDownload(%q) = %v", v, got)
		}
	}
}

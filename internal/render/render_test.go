package render

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"asticker2vid/internal/domain"
	"asticker2vid/internal/lottie"
)

func TestEncodeArgs(t *testing.T) {
	args := encodeArgs("/tmp/f/frame_%05d.png", 30, "/tmp/out.mp4")
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-framerate 30",
		"-i /tmp/f/frame_%05d.png",
		"-c:v libx264",
		"-pix_fmt yuv420p",
		"-movflags +faststart",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
	if args[len(args)-1] != "/tmp/out.mp4" {
		t.Errorf("output must be last, got %q", args[len(args)-1])
	}
}

func TestEncodeArgs_FractionalRate(t *testing.T) {
	joined := strings.Join(encodeArgs("x", 29.97, "o"), " ")
	if !strings.Contains(joined, "-framerate 29.97") {
		t.Errorf("got %s", joined)
	}
}

func TestPlanFrames(t *testing.T) {
	tests := []struct {
		name      string
		meta      lottie.Meta
		maxFPS    float64
		wantFPS   float64
		wantCount int
		wantLast  float64
	}{
		{"native rate", lottie.Meta{FrameRate: 60, InPoint: 0, OutPoint: 180}, 0, 60, 180, 179},
		{"capped", lottie.Meta{FrameRate: 60, InPoint: 0, OutPoint: 180}, 30, 30, 90, 178},
		{"cap above native", lottie.Meta{FrameRate: 30, InPoint: 10, OutPoint: 40}, 60, 30, 30, 29},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := planFrames(tt.meta, tt.maxFPS)
			if p.fps != tt.wantFPS {
				t.Errorf("fps = %g, want %g", p.fps, tt.wantFPS)
			}
			if len(p.positions) != tt.wantCount {
				t.Fatalf("count = %d, want %d", len(p.positions), tt.wantCount)
			}
			if p.positions[0] != 0 {
				t.Errorf("first = %g, want 0", p.positions[0])
			}
			if last := p.positions[len(p.positions)-1]; last != tt.wantLast {
				t.Errorf("last = %g, want %g", last, tt.wantLast)
			}
		})
	}
}

func TestDimensions(t *testing.T) {
	meta := lottie.Meta{Width: 512, Height: 256}
	if w, h := dimensions(domain.RenderJob{Width: 100, Height: 200}, meta); w != 100 || h != 200 {
		t.Errorf("explicit: %dx%d", w, h)
	}
	if w, h := dimensions(domain.RenderJob{}, meta); w != 512 || h != 256 {
		t.Errorf("from document: %dx%d", w, h)
	}
	if w, h := dimensions(domain.RenderJob{}, lottie.Meta{}); w != defaultSize || h != defaultSize {
		t.Errorf("fallback: %dx%d", w, h)
	}
}

func TestValidColor(t *testing.T) {
	for _, c := range []string{"white", "black", "#fff", "#00ff00", "#00ff0080", "rgb(0, 0, 0)", "rgba(0,0,0,0.5)"} {
		if !ValidColor(c) {
			t.Errorf("%q rejected", c)
		}
	}
	for _, c := range []string{"", "red; }", "#12", "</style>", "url(x)"} {
		if ValidColor(c) {
			t.Errorf("%q accepted", c)
		}
	}
}

func TestPageURL(t *testing.T) {
	u := pageURL("#000000", 320, 240)
	const prefix = "data:text/html;base64,"
	if !strings.HasPrefix(u, prefix) {
		t.Fatalf("not a data URL: %s", u)
	}
	html, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(u, prefix))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"width: 320px", "height: 240px", "background: #000000"} {
		if !strings.Contains(string(html), want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(string(html), "<script") {
		t.Error("page must not load remote scripts")
	}
}

type scriptFetcher struct {
	calls int
	err   error
}

func (f *scriptFetcher) ToFile(ctx context.Context, url, dst string) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return 0, os.WriteFile(dst, []byte("var lottie = {};"), 0o644)
}

func TestPlayer_UsesLocalCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lottie.min.js")
	os.WriteFile(path, []byte("local player"), 0o644)
	f := &scriptFetcher{}

	p := NewPlayer(PlayerConfig{Path: path, Fetcher: f})
	src, err := p.Script(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if src != "local player" || f.calls != 0 {
		t.Errorf("src = %q, fetch calls = %d", src, f.calls)
	}
}

func TestPlayer_DownloadsOnceAndSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "lottie.min.js")
	f := &scriptFetcher{}
	p := NewPlayer(PlayerConfig{URL: "https://cdn.example/lottie.js", Path: path, Fetcher: f})

	for i := 0; i < 2; i++ {
		if _, err := p.Script(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if f.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", f.calls)
	}
	if data, err := os.ReadFile(path); err != nil || string(data) != "var lottie = {};" {
		t.Errorf("saved copy = %q, %v", data, err)
	}

	// A new process reuses the saved copy even when the CDN is down.
	down := &scriptFetcher{err: errors.New("no such host")}
	p = NewPlayer(PlayerConfig{Path: path, Fetcher: down})
	if _, err := p.Script(context.Background()); err != nil || down.calls != 0 {
		t.Errorf("err = %v, fetch calls = %d", err, down.calls)
	}
}

func TestPlayer_Failures(t *testing.T) {
	dir := t.TempDir()

	p := NewPlayer(PlayerConfig{Path: filepath.Join(dir, "missing.js"), Fetcher: &scriptFetcher{err: errors.New("no such host")}})
	if _, err := p.Script(context.Background()); err == nil {
		t.Error("expected download error")
	}
	if _, err := os.Stat(filepath.Join(dir, "missing.js.part")); !os.IsNotExist(err) {
		t.Error("partial download left behind")
	}

	empty := filepath.Join(dir, "empty.js")
	os.WriteFile(empty, []byte("  \n"), 0o644)
	if _, err := NewPlayer(PlayerConfig{Path: empty}).Script(context.Background()); err == nil {
		t.Error("expected error for empty script")
	}

	if _, err := NewPlayer(PlayerConfig{Path: filepath.Join(dir, "none.js")}).Script(context.Background()); err == nil {
		t.Error("expected error without a downloader")
	}
}

func TestPlayerScript_ReportsRegistration(t *testing.T) {
	got := playerScript("var lottie = {};")
	if !strings.HasPrefix(got, "var lottie = {};") || !strings.HasSuffix(got, "typeof lottie !== 'undefined'") {
		t.Errorf("got %q", got)
	}
}

func TestRender_InvalidDocumentIsRenderError(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "doc.json")
	os.WriteFile(docPath, []byte("{not json"), 0o644)

	c := NewChrome(ChromeConfig{})
	err := c.Render(context.Background(), domain.RenderJob{DocumentPath: docPath, OutputPath: filepath.Join(dir, "out.mp4")})
	if !errors.Is(err, domain.ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
}

func TestRender_EmptyAnimationIsRenderError(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "doc.json")
	os.WriteFile(docPath, []byte(`{"fr":60,"ip":0,"op":0,"w":512,"h":512}`), 0o644)

	c := NewChrome(ChromeConfig{})
	err := c.Render(context.Background(), domain.RenderJob{DocumentPath: docPath, OutputPath: filepath.Join(dir, "out.mp4")})
	if !errors.Is(err, domain.ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
	if errors.Is(err, domain.ErrDecode) {
		t.Error("render failure should not also match ErrDecode")
	}
}

func TestRender_PlayerUnavailableIsRenderError(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "doc.json")
	os.WriteFile(docPath, []byte(`{"fr":30,"ip":0,"op":30,"w":64,"h":64,"layers":[]}`), 0o644)

	player := NewPlayer(PlayerConfig{
		Path:    filepath.Join(dir, "lottie.min.js"),
		Fetcher: &scriptFetcher{err: errors.New("no such host")},
	})
	c := NewChrome(ChromeConfig{Player: player})
	err := c.Render(context.Background(), domain.RenderJob{DocumentPath: docPath, OutputPath: filepath.Join(dir, "out.mp4")})
	if !errors.Is(err, domain.ErrRender) || !strings.Contains(err.Error(), "lottie player") {
		t.Fatalf("expected player RenderError, got %v", err)
	}
}

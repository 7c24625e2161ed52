package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakePutter struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	f.contentType = aws.ToString(in.ContentType)
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestKey(t *testing.T) {
	a, err := New(context.Background(), Config{Bucket: "b", Prefix: "/videos/", Client: &fakePutter{}, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if got := a.Key("CgAC"); got != "videos/CgAC.mp4" {
		t.Errorf("got %q", got)
	}

	a, _ = New(context.Background(), Config{Bucket: "b", Client: &fakePutter{}, Logger: testLogger()})
	if got := a.Key("CgAC"); got != "CgAC.mp4" {
		t.Errorf("got %q", got)
	}
}

func TestUpload(t *testing.T) {
	p := &fakePutter{}
	a, err := New(context.Background(), Config{Bucket: "stickers", Prefix: "v", Client: p, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}

	local := filepath.Join(t.TempDir(), "x.mp4")
	os.WriteFile(local, []byte("video"), 0o644)

	if err := a.Upload(context.Background(), "ID1", local); err != nil {
		t.Fatal(err)
	}
	if p.bucket != "stickers" || p.key != "v/ID1.mp4" || p.contentType != "video/mp4" || string(p.body) != "video" {
		t.Errorf("unexpected put: %+v", p)
	}
}

func TestUpload_Errors(t *testing.T) {
	a, _ := New(context.Background(), Config{Bucket: "b", Client: &fakePutter{err: errors.New("denied")}, Logger: testLogger()})

	if err := a.Upload(context.Background(), "id", filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}

	local := filepath.Join(t.TempDir(), "x.mp4")
	os.WriteFile(local, []byte("v"), 0o644)
	if err := a.Upload(context.Background(), "id", local); err == nil {
		t.Error("expected put error")
	}
}

func TestNew_RequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{Client: &fakePutter{}}); err == nil {
		t.Fatal("expected error")
	}
}

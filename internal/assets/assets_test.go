package assets

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestConfused_EmbeddedIsWebP(t *testing.T) {
	data, err := Confused("")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 12 || !bytes.Equal(data[:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WEBP")) {
		t.Errorf("embedded image is not a WebP container: % x", data)
	}
}

func TestConfused_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.webp")
	os.WriteFile(path, []byte("custom"), 0o644)

	data, err := Confused(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "custom" {
		t.Errorf("got %q", data)
	}
	if _, err := Confused(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing override")
	}
}

// Package lottie classifies and decodes animated sticker payloads. Telegram
// animated stickers (.tgs) are gzip-compressed Lottie JSON documents; some
// clients upload the plain JSON instead.
package lottie

import (
	"bytes"
	"fmt"
	"io"

	"asticker2vid/internal/domain"

	"github.com/klauspost/compress/gzip"
)

// Encoding is the container encoding of a payload.
type Encoding int

const (
	Plain Encoding = iota
	Compressed
)

func (e Encoding) String() string {
	if e == Plain {
		return "plain-document"
	}
	return "compressed-document"
}

// maxDocumentSize caps the decompressed size. Real stickers stay far below it.
const maxDocumentSize = 16 << 20

// Sniff classifies a payload by its first byte: '{' means a plain JSON
// document, anything else is treated as compressed.
func Sniff(data []byte) Encoding {
	if len(data) > 0 && data[0] == '{' {
		return Plain
	}
	return Compressed
}

// Decode returns the plain animation document for a payload of the given
// encoding. Plain payloads are returned unchanged.
func Decode(data []byte, enc Encoding) ([]byte, error) {
	if enc == Plain {
		return data, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewStageError(domain.ErrDecode, fmt.Errorf("open gzip stream: %w", err))
	}
	defer zr.Close()

	doc, err := io.ReadAll(io.LimitReader(zr, maxDocumentSize+1))
	if err != nil {
		return nil, domain.NewStageError(domain.ErrDecode, fmt.Errorf("inflate: %w", err))
	}
	if len(doc) > maxDocumentSize {
		return nil, domain.NewStageError(domain.ErrDecode, fmt.Errorf("document exceeds %d bytes", maxDocumentSize))
	}
	return doc, nil
}

// Extract sniffs and decodes in one step.
func Extract(data []byte) ([]byte, Encoding, error) {
	enc := Sniff(data)
	doc, err := Decode(data, enc)
	return doc, enc, err
}

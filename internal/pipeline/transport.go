// Package pipeline routes inbound chat messages and runs the sticker to
// video conversion.
package pipeline

import (
	"context"

	"asticker2vid/internal/domain"
)

// Transport is the chat-side collaborator. Implementations wrap their own
// failures in the matching domain stage error.
type Transport interface {
	// FetchAsset downloads the file behind fileID into dst.
	FetchAsset(ctx context.Context, fileID, dst string) error
	SendVideo(ctx context.Context, msg domain.VideoMessage) (*domain.SentVideo, error)
	SendText(ctx context.Context, msg domain.TextMessage) error
	SendFile(ctx context.Context, msg domain.FileMessage) error
}

// Renderer turns an animation document on disk into a video file.
type Renderer interface {
	Render(ctx context.Context, job domain.RenderJob) error
}

// Archiver mirrors published videos to long-term storage.
type Archiver interface {
	Upload(ctx context.Context, fileID, localPath string) error
}

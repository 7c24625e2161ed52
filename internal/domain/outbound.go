package domain

// VideoMessage sends a local video file as an animation.
type VideoMessage struct {
	ChatID   int64
	ReplyTo  int // message id to reply to, 0 for none
	FileName string
	Path     string
}

// TextMessage sends plain or Markdown text.
type TextMessage struct {
	ChatID             int64
	ReplyTo            int
	Text               string
	Markdown           bool
	DisableLinkPreview bool
}

// FileMessage sends in-memory bytes as a document.
type FileMessage struct {
	ChatID   int64
	ReplyTo  int
	FileName string
	Data     []byte
}

package domain

// RenderStyle controls how frames are composed.
type RenderStyle struct {
	Background string // CSS color, e.g. "black" or "#00ff00"
}

// RenderJob is one invocation of the rendering engine.
type RenderJob struct {
	DocumentPath string
	OutputPath   string
	Width        int
	Height       int
	Style        RenderStyle
}

// ResolvedFile is what the transport knows about a previously sent file.
type ResolvedFile struct {
	ID   string
	URL  string // fetchable location
	Path string // transport-side path, may be empty
	Size int64
}

// SentVideo is the transport acknowledgement of a video send.
type SentVideo struct {
	ChatID    int64
	MessageID int
	FileID    string
	FileName  string
}

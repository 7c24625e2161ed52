package domain

import "time"

// Kind is the primary content kind of an inbound message, decided once when
// the message is ingested.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindSticker
	KindDocument
	KindPhoto
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindSticker:
		return "sticker"
	case KindDocument:
		return "document"
	case KindPhoto:
		return "photo"
	case KindText:
		return "text"
	default:
		return "unrecognized"
	}
}

// ClassifyKind applies the fixed priority sticker > document > photo > text.
func ClassifyKind(hasSticker, hasDocument, hasPhoto, hasText bool) Kind {
	switch {
	case hasSticker:
		return KindSticker
	case hasDocument:
		return KindDocument
	case hasPhoto:
		return KindPhoto
	case hasText:
		return KindText
	default:
		return KindUnrecognized
	}
}

// Sticker is the inbound sticker asset. It is never mutated after ingestion.
type Sticker struct {
	FileID     string
	IsAnimated bool
	Width      int
	Height     int
	Emoji      string
}

// Message is a transport-neutral inbound message.
type Message struct {
	ChatID    int64
	MessageID int
	SenderID  int64
	Kind      Kind
	Sticker   *Sticker // set when Kind == KindSticker
	Text      string
	Command   string // bot command without the leading slash, if any
	Forwarded bool
	Timestamp time.Time
}

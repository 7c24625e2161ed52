package lottie

import (
	"encoding/json"
	"fmt"
	"math"

	"asticker2vid/internal/domain"
)

// Meta is the timing and canvas header of an animation document.
type Meta struct {
	FrameRate float64 `json:"fr"`
	InPoint   float64 `json:"ip"`
	OutPoint  float64 `json:"op"`
	Width     int     `json:"w"`
	Height    int     `json:"h"`
}

// FrameCount is the number of whole frames between the in and out points.
func (m Meta) FrameCount() int {
	n := int(math.Ceil(m.OutPoint - m.InPoint))
	if n < 0 {
		return 0
	}
	return n
}

// ParseMeta reads the document header. Documents without a positive frame
// rate or frame range cannot be rendered.
func ParseMeta(doc []byte) (Meta, error) {
	var m Meta
	if err := json.Unmarshal(doc, &m); err != nil {
		return Meta{}, domain.NewStageError(domain.ErrDecode, fmt.Errorf("parse animation header: %w", err))
	}
	if m.FrameRate <= 0 || m.FrameCount() == 0 {
		return Meta{}, domain.NewStageError(domain.ErrDecode,
			fmt.Errorf("animation has no frames (fr=%g ip=%g op=%g)", m.FrameRate, m.InPoint, m.OutPoint))
	}
	return m, nil
}

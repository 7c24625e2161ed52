package domain

import "errors"

// Stage error kinds. Match with errors.Is; recover the stage with errors.As
// on *StageError.
var (
	ErrFetch      = errors.New("fetch failed")
	ErrDecode     = errors.New("decode failed")
	ErrRender     = errors.New("render failed")
	ErrSend       = errors.New("send failed")
	ErrNotFound   = errors.New("file not found")
	ErrResolution = errors.New("file resolution failed")
)

// StageError attaches a pipeline stage kind to an underlying failure.
type StageError struct {
	Kind error
	Err  error
}

// NewStageError wraps err with the given kind. A nil err yields nil.
func NewStageError(kind, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Kind: kind, Err: err}
}

func (e *StageError) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// StageName returns a short label for the stage that produced err, suitable
// for log fields and metric labels.
func StageName(err error) string {
	switch {
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrRender):
		return "render"
	case errors.Is(err, ErrSend):
		return "send"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrResolution):
		return "resolution"
	default:
		return "unknown"
	}
}

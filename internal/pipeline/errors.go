package pipeline

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-signs/internal/letterbuf"
	"github.com/loqalabs/loqa-signs/internal/tracker"
)

var (
	// ErrLoad wraps model or camera acquisition failures reported by Start.
	ErrLoad = errors.New("pipeline load failed")
	// ErrCapture wraps frame source failures that end a running session.
	ErrCapture = errors.New("frame capture failed")
	// ErrClassify wraps classifier failures that end a running session.
	ErrClassify = errors.New("frame classification failed")
	// ErrInvalidSettings wraps construction-time invariant violations.
	ErrInvalidSettings = errors.New("invalid pipeline settings")
)

// Code is a coarse error category attached to logs, metrics and published state changes.
type Code string

const (
	CodeNone      Code = ""
	CodeUnknown   Code = "unknown"
	CodeLoad      Code = "load"
	CodeCapture   Code = "capture"
	CodeClassify  Code = "classify"
	CodeInvariant Code = "invariant"
	CodeCancel    Code = "cancel"
)

// CodeOf maps an error onto a Code using sentinel errors only.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancel
	case errors.Is(err, ErrLoad):
		return CodeLoad
	case errors.Is(err, ErrCapture):
		return CodeCapture
	case errors.Is(err, ErrClassify):
		return CodeClassify
	case errors.Is(err, ErrInvalidSettings),
		errors.Is(err, tracker.ErrInvalidFrames),
		errors.Is(err, letterbuf.ErrInvalidLimit):
		return CodeInvariant
	default:
		return CodeUnknown
	}
}

package tracker

import (
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-signs/internal/recognition"
)

// ErrInvalidFrames is returned when the stabilization threshold is not positive.
var ErrInvalidFrames = errors.New("required frames must be positive")

// Tracker debounces a per-frame candidate stream. A letter is reported once it has been seen for
// RequiredFrames consecutive frames, and only once per streak.
type Tracker struct {
	requiredFrames int
	current        recognition.Letter
	count          int
	lastReported   recognition.Letter
}

// State is a point-in-time view of the tracker.
type State struct {
	RequiredFrames int
	Current        recognition.Letter
	Count          int
	LastReported   recognition.Letter
}

func New(requiredFrames int) (*Tracker, error) {
	if requiredFrames <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFrames, requiredFrames)
	}
	return &Tracker{requiredFrames: requiredFrames}, nil
}

// Push feeds one frame's candidate. recognition.None breaks the streak and forgets the last
// reported letter. The returned letter is non-empty only on a stabilization event.
func (t *Tracker) Push(candidate recognition.Letter) recognition.Letter {
	if !candidate.Valid() {
		t.Reset()
		return recognition.None
	}

	if candidate == t.current {
		t.count++
	} else {
		t.current = candidate
		t.count = 1
	}

	if t.count >= t.requiredFrames && candidate != t.lastReported {
		t.lastReported = candidate
		return candidate
	}
	return recognition.None
}

func (t *Tracker) Reset() {
	t.current = recognition.None
	t.count = 0
	t.lastReported = recognition.None
}

func (t *Tracker) RequiredFrames() int { return t.requiredFrames }

func (t *Tracker) State() State {
	return State{
		RequiredFrames: t.requiredFrames,
		Current:        t.current,
		Count:          t.count,
		LastReported:   t.lastReported,
	}
}

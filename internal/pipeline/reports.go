package pipeline

import (
	"time"

	"github.com/loqalabs/loqa-signs/internal/classifier"
	"github.com/loqalabs/loqa-signs/internal/recognition"
	"github.com/loqalabs/loqa-signs/internal/tracker"
)

// Status describes what the current frame contributed.
type Status string

const (
	StatusNoPrediction Status = "no_prediction"
	StatusScanning     Status = "scanning"
	StatusTracking     Status = "tracking"
)

// State is the pipeline lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateRunning State = "running"
)

// FrameReport is the outcome of one frame cycle.
type FrameReport struct {
	SessionID string
	Seq       uint64
	Status    Status
	// Best is nil when the classifier returned nothing.
	Best      *classifier.Prediction
	Candidate recognition.Letter
	// Stabilized is what the tracker emitted; Locked is set only if the buffer accepted it.
	Stabilized recognition.Letter
	Locked     recognition.Letter
	Buffer     []recognition.Letter
	History    []recognition.Letter
	FPS        float64
	Latency    time.Duration
	At         time.Time
}

type LetterReport struct {
	SessionID string
	Letter    recognition.Letter
	Buffer    []recognition.Letter
	History   []recognition.Letter
	At        time.Time
}

type WordReport struct {
	SessionID string
	Word      string
	History   []recognition.Letter
	At        time.Time
}

type BufferReport struct {
	SessionID string
	History   []recognition.Letter
	At        time.Time
}

type StateReport struct {
	SessionID string
	State     State
	Reason    string
	Err       error
	Code      Code
	Source    string
	Classes   int
	At        time.Time
}

// Snapshot is a read-only view of the session for presentation.
type Snapshot struct {
	SessionID string
	State     State
	Buffer    []recognition.Letter
	History   []recognition.Letter
	Word      string
	Detected  recognition.Letter
	Best      *classifier.Prediction
	Tracker   tracker.State
	Frames    uint64
	Source    string
	Classes   int
	Err       string
}

// Listener receives pipeline signals. Calls are synchronous from the goroutine that produced
// them and must not call back into the Pipeline's lifecycle methods.
type Listener interface {
	FrameProcessed(FrameReport)
	LetterLocked(LetterReport)
	WordInterpreted(WordReport)
	BufferCleared(BufferReport)
	StateChanged(StateReport)
}

// Listeners fans signals out in order.
type Listeners []Listener

func (ls Listeners) FrameProcessed(r FrameReport) {
	for _, l := range ls {
		l.FrameProcessed(r)
	}
}

func (ls Listeners) LetterLocked(r LetterReport) {
	for _, l := range ls {
		l.LetterLocked(r)
	}
}

func (ls Listeners) WordInterpreted(r WordReport) {
	for _, l := range ls {
		l.WordInterpreted(r)
	}
}

func (ls Listeners) BufferCleared(r BufferReport) {
	for _, l := range ls {
		l.BufferCleared(r)
	}
}

func (ls Listeners) StateChanged(r StateReport) {
	for _, l := range ls {
		l.StateChanged(r)
	}
}

// NopListener ignores every signal. Embed it to implement only some methods.
type NopListener struct{}

func (NopListener) FrameProcessed(FrameReport) {}
func (NopListener) LetterLocked(LetterReport)  {}
func (NopListener) WordInterpreted(WordReport) {}
func (NopListener) BufferCleared(BufferReport) {}
func (NopListener) StateChanged(StateReport)   {}

package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-signs/internal/classifier"
	"github.com/loqalabs/loqa-signs/internal/letterbuf"
	"github.com/loqalabs/loqa-signs/internal/recognition"
	"github.com/loqalabs/loqa-signs/internal/tracker"
)

// Settings are the tunables of the decision policy.
type Settings struct {
	RequiredFrames      int
	BufferLimit         int
	HistoryLimit        int
	ConfidenceThreshold float64
}

// Session owns the tracker and letter store for one user session. The frame loop writes to it
// while control requests and snapshots arrive from other goroutines, so every method locks.
type Session struct {
	mu        sync.Mutex
	id        string
	threshold float64
	tracker   *tracker.Tracker
	store     *letterbuf.Store
	clock     func() time.Time

	detected recognition.Letter
	best     *classifier.Prediction
	frames   uint64
}

func NewSession(s Settings) (*Session, error) {
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("%w: confidence threshold %v outside [0,1]", ErrInvalidSettings, s.ConfidenceThreshold)
	}
	tr, err := tracker.New(s.RequiredFrames)
	if err != nil {
		return nil, err
	}
	store, err := letterbuf.New(s.BufferLimit, s.HistoryLimit)
	if err != nil {
		return nil, err
	}
	return &Session{
		id:        uuid.NewString(),
		threshold: s.ConfidenceThreshold,
		tracker:   tr,
		store:     store,
		clock:     time.Now,
	}, nil
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// HandlePredictions applies the per-frame policy: pick the best prediction, threshold it,
// extract a letter, feed the tracker and, on a stabilized letter, the store.
func (s *Session) HandlePredictions(preds []classifier.Prediction) FrameReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	report := FrameReport{SessionID: s.id, At: s.clock()}

	best, ok := classifier.Best(preds)
	if !ok {
		s.best = nil
		s.detected = recognition.None
		s.tracker.Reset()
		report.Status = StatusNoPrediction
		return report
	}
	s.best = &best
	report.Best = &best

	var candidate recognition.Letter
	if best.Probability >= s.threshold {
		candidate = recognition.ExtractLetter(best.Label)
	}
	s.detected = candidate
	report.Candidate = candidate
	if candidate.Valid() {
		report.Status = StatusTracking
	} else {
		report.Status = StatusScanning
	}

	stable := s.tracker.Push(candidate)
	report.Stabilized = stable
	if stable.Valid() && s.store.TryAppend(stable) {
		report.Locked = stable
		report.Buffer = s.store.Buffer()
		report.History = s.store.History()
	}
	return report
}

// Interpret consumes the buffered word. History is kept.
func (s *Session) Interpret() WordReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	word := s.store.Word()
	s.store.ResetBuffer()
	s.tracker.Reset()
	s.detected = recognition.None
	return WordReport{SessionID: s.id, Word: word, History: s.store.History(), At: s.clock()}
}

// Clear empties the buffer without producing a word.
func (s *Session) Clear() BufferReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.ResetBuffer()
	s.tracker.Reset()
	s.detected = recognition.None
	return BufferReport{SessionID: s.id, History: s.store.History(), At: s.clock()}
}

// Restart returns the session to its just-created state under a new ID.
func (s *Session) Restart() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.ResetAll()
	s.tracker.Reset()
	s.detected = recognition.None
	s.best = nil
	s.frames = 0
	s.id = uuid.NewString()
	return s.id
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID: s.id,
		Buffer:    s.store.Buffer(),
		History:   s.store.History(),
		Word:      s.store.Word(),
		Detected:  s.detected,
		Tracker:   s.tracker.State(),
		Frames:    s.frames,
	}
	if s.best != nil {
		best := *s.best
		snap.Best = &best
	}
	return snap
}

package protocol

import "time"

// Prediction mirrors a single classifier score on the wire.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// FrameEvent summarizes one processed camera frame.
type FrameEvent struct {
	SessionID  string      `json:"session_id"`
	Sequence   uint64      `json:"sequence"`
	Status     string      `json:"status"`
	Best       *Prediction `json:"best,omitempty"`
	Candidate  string      `json:"candidate,omitempty"`
	Stabilized string      `json:"stabilized,omitempty"`
	Locked     string      `json:"locked,omitempty"`
	FPS        float64     `json:"fps"`
	LatencyMS  float64     `json:"latency_ms"`
	Timestamp  time.Time   `json:"timestamp"`
}

// LetterEvent is published when a stabilized letter enters the buffer.
type LetterEvent struct {
	SessionID string    `json:"session_id"`
	Letter    string    `json:"letter"`
	Buffer    string    `json:"buffer"`
	History   []string  `json:"history"`
	Timestamp time.Time `json:"timestamp"`
}

// WordEvent is published when the buffer is interpreted.
type WordEvent struct {
	SessionID string    `json:"session_id"`
	Word      string    `json:"word"`
	History   []string  `json:"history"`
	Timestamp time.Time `json:"timestamp"`
}

// BufferClearedEvent is published when the buffer is discarded without a word.
type BufferClearedEvent struct {
	SessionID string    `json:"session_id"`
	History   []string  `json:"history"`
	Timestamp time.Time `json:"timestamp"`
}

// StateEvent reports pipeline lifecycle transitions.
type StateEvent struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"`
	Source    string    `json:"source,omitempty"`
	Classes   int       `json:"classes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Heartbeat announces a running node and its pipeline state.
type Heartbeat struct {
	NodeID    string    `json:"node_id"`
	Role      string    `json:"role"`
	State     string    `json:"state"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ControlRequest is the optional body of a control message.
type ControlRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ControlReply acknowledges a control message.
type ControlReply struct {
	OK        bool      `json:"ok"`
	Command   string    `json:"command"`
	State     string    `json:"state"`
	SessionID string    `json:"session_id"`
	Word      string    `json:"word,omitempty"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectFrame         = "signs.frame"
	SubjectLetter        = "signs.letter"
	SubjectWord          = "signs.word"
	SubjectBufferCleared = "signs.buffer.cleared"
	SubjectState         = "signs.state"
	SubjectHeartbeat     = "signs.heartbeat"

	SubjectControlPrefix    = "signs.control"
	SubjectControlStart     = SubjectControlPrefix + ".start"
	SubjectControlStop      = SubjectControlPrefix + ".stop"
	SubjectControlInterpret = SubjectControlPrefix + ".interpret"
	SubjectControlClear     = SubjectControlPrefix + ".clear"
)

// StreamSubjects are the subjects retained by the JetStream stream when one is configured.
var StreamSubjects = []string{SubjectLetter, SubjectWord, SubjectBufferCleared, SubjectState}

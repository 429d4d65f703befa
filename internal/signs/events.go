package signs

import (
	"strings"

	"github.com/loqalabs/loqa-signs/internal/pipeline"
	"github.com/loqalabs/loqa-signs/internal/protocol"
	"github.com/loqalabs/loqa-signs/internal/recognition"
)

func letters(ls []recognition.Letter) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = string(l)
	}
	return out
}

func joined(ls []recognition.Letter) string {
	var b strings.Builder
	for _, l := range ls {
		b.WriteString(string(l))
	}
	return b.String()
}

func FrameEvent(r pipeline.FrameReport) protocol.FrameEvent {
	evt := protocol.FrameEvent{
		SessionID:  r.SessionID,
		Sequence:   r.Seq,
		Status:     string(r.Status),
		Candidate:  string(r.Candidate),
		Stabilized: string(r.Stabilized),
		Locked:     string(r.Locked),
		FPS:        r.FPS,
		LatencyMS:  float64(r.Latency.Microseconds()) / 1000,
		Timestamp:  r.At.UTC(),
	}
	if r.Best != nil {
		evt.Best = &protocol.Prediction{Label: r.Best.Label, Probability: r.Best.Probability}
	}
	return evt
}

func LetterEvent(r pipeline.LetterReport) protocol.LetterEvent {
	return protocol.LetterEvent{
		SessionID: r.SessionID,
		Letter:    string(r.Letter),
		Buffer:    joined(r.Buffer),
		History:   letters(r.History),
		Timestamp: r.At.UTC(),
	}
}

func WordEvent(r pipeline.WordReport) protocol.WordEvent {
	return protocol.WordEvent{
		SessionID: r.SessionID,
		Word:      r.Word,
		History:   letters(r.History),
		Timestamp: r.At.UTC(),
	}
}

func BufferClearedEvent(r pipeline.BufferReport) protocol.BufferClearedEvent {
	return protocol.BufferClearedEvent{
		SessionID: r.SessionID,
		History:   letters(r.History),
		Timestamp: r.At.UTC(),
	}
}

func StateEvent(r pipeline.StateReport) protocol.StateEvent {
	evt := protocol.StateEvent{
		SessionID: r.SessionID,
		State:     string(r.State),
		Reason:    r.Reason,
		Code:      string(r.Code),
		Source:    r.Source,
		Classes:   r.Classes,
		Timestamp: r.At.UTC(),
	}
	if r.Err != nil {
		evt.Error = r.Err.Error()
	}
	return evt
}

package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-signs/internal/eventstore"
	"github.com/loqalabs/loqa-signs/internal/pipeline"
	"github.com/loqalabs/loqa-signs/internal/protocol"
)

// sessionAPI serves the session control and inspection endpoints.
type sessionAPI struct {
	ctx    context.Context
	pipe   *pipeline.Pipeline
	store  *eventstore.Store
	logger *slog.Logger
}

type trackerView struct {
	RequiredFrames int    `json:"required_frames"`
	Current        string `json:"current"`
	Count          int    `json:"count"`
	LastReported   string `json:"last_reported"`
}

type sessionView struct {
	SessionID string               `json:"session_id"`
	State     string               `json:"state"`
	Word      string               `json:"word"`
	Buffer    []string             `json:"buffer"`
	History   []string             `json:"history"`
	Detected  string               `json:"detected"`
	Best      *protocol.Prediction `json:"best,omitempty"`
	Tracker   trackerView          `json:"tracker"`
	Frames    uint64               `json:"frames"`
	Source    string               `json:"source,omitempty"`
	Classes   int                  `json:"classes"`
	Error     string               `json:"error,omitempty"`
}

type sessionSummary struct {
	SessionID string     `json:"session_id"`
	NodeID    string     `json:"node_id"`
	Source    string     `json:"source"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}

func (a *sessionAPI) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/session", a.handleSnapshot)
	mux.HandleFunc("POST /v1/session/start", a.handleStart)
	mux.HandleFunc("POST /v1/session/stop", a.handleStop)
	mux.HandleFunc("POST /v1/session/interpret", a.handleInterpret)
	mux.HandleFunc("POST /v1/session/clear", a.handleClear)
	mux.HandleFunc("GET /v1/sessions", a.handleSessions)
	mux.HandleFunc("GET /v1/sessions/{id}/words", a.handleWords)
}

func viewOf(s pipeline.Snapshot) sessionView {
	view := sessionView{
		SessionID: s.SessionID,
		State:     string(s.State),
		Word:      s.Word,
		Buffer:    toStrings(s.Buffer),
		History:   toStrings(s.History),
		Detected:  string(s.Detected),
		Tracker: trackerView{
			RequiredFrames: s.Tracker.RequiredFrames,
			Current:        string(s.Tracker.Current),
			Count:          s.Tracker.Count,
			LastReported:   string(s.Tracker.LastReported),
		},
		Frames:  s.Frames,
		Source:  s.Source,
		Classes: s.Classes,
		Error:   s.Err,
	}
	if s.Best != nil {
		view.Best = &protocol.Prediction{Label: s.Best.Label, Probability: s.Best.Probability}
	}
	return view
}

func (a *sessionAPI) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(a.pipe.Snapshot()))
}

func (a *sessionAPI) reply(command, word string, err error) protocol.ControlReply {
	snap := a.pipe.Snapshot()
	out := protocol.ControlReply{
		OK:        err == nil,
		Command:   command,
		State:     string(snap.State),
		SessionID: snap.SessionID,
		Word:      word,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		out.Error = err.Error()
		out.Code = string(pipeline.CodeOf(err))
	}
	return out
}

func (a *sessionAPI) handleStart(w http.ResponseWriter, _ *http.Request) {
	if err := a.pipe.Start(a.ctx); err != nil {
		a.logger.Warn("session start failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, a.reply("start", "", err))
		return
	}
	writeJSON(w, http.StatusOK, a.reply("start", "", nil))
}

func (a *sessionAPI) handleStop(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "stopped via http"
	}
	a.pipe.Stop(reason)
	writeJSON(w, http.StatusOK, a.reply("stop", "", nil))
}

func (a *sessionAPI) handleInterpret(w http.ResponseWriter, _ *http.Request) {
	report := a.pipe.Interpret()
	writeJSON(w, http.StatusOK, a.reply("interpret", report.Word, nil))
}

func (a *sessionAPI) handleClear(w http.ResponseWriter, _ *http.Request) {
	a.pipe.Clear()
	writeJSON(w, http.StatusOK, a.reply("clear", "", nil))
}

func (a *sessionAPI) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := a.store.ListSessions(r.Context(), limit)
	if err != nil {
		a.logger.Warn("list sessions failed", slog.String("error", err.Error()))
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summary := sessionSummary{
			SessionID: s.ID,
			NodeID:    s.NodeID,
			Source:    s.Source,
			StartedAt: s.StartedAt,
			EndReason: s.EndReason,
		}
		if !s.EndedAt.IsZero() {
			ended := s.EndedAt
			summary.EndedAt = &ended
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *sessionAPI) handleWords(w http.ResponseWriter, r *http.Request) {
	words, err := a.store.Words(r.Context(), r.PathValue("id"))
	if err != nil {
		a.logger.Warn("list words failed", slog.String("error", err.Error()))
		http.Error(w, "failed to list words", http.StatusInternalServerError)
		return
	}
	if words == nil {
		words = []string{}
	}
	writeJSON(w, http.StatusOK, words)
}

func toStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package journal records pipeline signals on the session timeline in the event store.
package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-signs/internal/eventstore"
	"github.com/loqalabs/loqa-signs/internal/pipeline"
	"github.com/loqalabs/loqa-signs/internal/signs"
)

const queueSize = 256

// Journal is a pipeline.Listener. Writes happen on a background goroutine so the frame loop never
// waits on disk; when the queue is full entries are dropped and logged.
type Journal struct {
	store  *eventstore.Store
	nodeID string
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan func(context.Context)
	wg     sync.WaitGroup

	mu      sync.Mutex
	current string
	closed  bool
}

var _ pipeline.Listener = (*Journal)(nil)

func New(parent context.Context, store *eventstore.Store, nodeID string, log *slog.Logger) *Journal {
	ctx, cancel := context.WithCancel(parent)
	j := &Journal{
		store:  store,
		nodeID: nodeID,
		log:    log.With(slog.String("component", "journal")),
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan func(context.Context), queueSize),
	}
	j.wg.Add(1)
	go j.run()
	return j
}

func (j *Journal) run() {
	defer j.wg.Done()
	for task := range j.queue {
		task(j.ctx)
	}
}

// Close flushes queued writes and stops the writer.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()
	j.wg.Wait()
	j.cancel()
}

func (j *Journal) enqueue(task func(context.Context)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- task:
	default:
		j.log.Warn("journal queue full, dropping entry")
	}
}

func (j *Journal) append(evt eventstore.Event, payload any) {
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			j.log.Warn("failed to marshal journal payload", slog.String("error", err.Error()))
		} else {
			evt.Payload = data
		}
	}
	j.enqueue(func(ctx context.Context) {
		if err := j.store.AppendEvent(ctx, evt); err != nil {
			j.log.Warn("failed to append event",
				slog.String("type", evt.Type),
				slog.String("session_id", evt.SessionID),
				slog.String("error", err.Error()))
		}
	})
}

// FrameProcessed is not journaled; frames are too frequent for the timeline.
func (j *Journal) FrameProcessed(pipeline.FrameReport) {}

func (j *Journal) LetterLocked(r pipeline.LetterReport) {
	if !j.isOpen(r.SessionID) {
		return
	}
	j.append(eventstore.Event{
		SessionID: r.SessionID,
		Type:      eventstore.TypeLetterLocked,
		Letter:    string(r.Letter),
		CreatedAt: r.At,
	}, signs.LetterEvent(r))
}

func (j *Journal) WordInterpreted(r pipeline.WordReport) {
	if !j.isOpen(r.SessionID) {
		return
	}
	j.append(eventstore.Event{
		SessionID: r.SessionID,
		Type:      eventstore.TypeWord,
		Word:      r.Word,
		CreatedAt: r.At,
	}, signs.WordEvent(r))
}

func (j *Journal) BufferCleared(r pipeline.BufferReport) {
	if !j.isOpen(r.SessionID) {
		return
	}
	j.append(eventstore.Event{
		SessionID: r.SessionID,
		Type:      eventstore.TypeBufferCleared,
		CreatedAt: r.At,
	}, nil)
}

func (j *Journal) StateChanged(r pipeline.StateReport) {
	switch r.State {
	case pipeline.StateRunning:
		j.mu.Lock()
		j.current = r.SessionID
		j.mu.Unlock()
		source := r.Source
		j.enqueue(func(ctx context.Context) {
			if err := j.store.OpenSession(ctx, r.SessionID, j.nodeID, source); err != nil {
				j.log.Warn("failed to open session", slog.String("session_id", r.SessionID), slog.String("error", err.Error()))
			}
		})
		j.append(eventstore.Event{SessionID: r.SessionID, Type: eventstore.TypeSessionStarted, CreatedAt: r.At}, signs.StateEvent(r))
	case pipeline.StateIdle:
		j.mu.Lock()
		opened := j.current == r.SessionID && r.SessionID != ""
		if opened {
			j.current = ""
		}
		j.mu.Unlock()
		if !opened {
			return
		}
		typ := eventstore.TypeSessionEnded
		reason := r.Reason
		if r.Err != nil {
			typ = eventstore.TypeSessionFailed
			reason = string(r.Code) + ": " + r.Err.Error()
		}
		j.append(eventstore.Event{SessionID: r.SessionID, Type: typ, CreatedAt: r.At}, signs.StateEvent(r))
		j.enqueue(func(ctx context.Context) {
			if err := j.store.EndSession(ctx, r.SessionID, reason); err != nil {
				j.log.Warn("failed to end session", slog.String("session_id", r.SessionID), slog.String("error", err.Error()))
			}
		})
	}
}

// isOpen reports whether sessionID is the session currently recorded. Interpret and Clear may be
// called while no session is running; those are not journaled.
func (j *Journal) isOpen(sessionID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return sessionID != "" && j.current == sessionID
}

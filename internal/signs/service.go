// Package signs exposes a recognition pipeline on the NATS bus. It publishes locked letters,
// interpreted words and lifecycle changes, and answers control requests.
package signs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-signs/internal/bus"
	"github.com/loqalabs/loqa-signs/internal/config"
	"github.com/loqalabs/loqa-signs/internal/pipeline"
	"github.com/loqalabs/loqa-signs/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Controller is the part of a pipeline the service drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(reason string)
	Interpret() pipeline.WordReport
	Clear() pipeline.BufferReport
	Snapshot() pipeline.Snapshot
}

type Service struct {
	cfg    config.SignsConfig
	node   config.NodeConfig
	bus    *bus.Client
	log    *slog.Logger
	ctrl   Controller
	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup
	ready  atomic.Bool
}

var _ pipeline.Listener = (*Service)(nil)

func NewService(parent context.Context, cfg config.SignsConfig, node config.NodeConfig, busClient *bus.Client, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		node:   node,
		bus:    busClient,
		log:    log.With(slog.String("component", "signs-bus")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to control subjects on behalf of ctrl, provisions the JetStream stream when
// JetStream is available and begins heartbeats.
func (s *Service) Start(ctrl Controller) error {
	if !s.cfg.Enabled {
		return nil
	}
	if ctrl == nil {
		return errors.New("signs service requires a controller")
	}
	s.ctrl = ctrl

	if js := s.bus.JetStream(); js != nil && s.cfg.Stream != "" {
		if err := s.ensureStream(js); err != nil {
			return err
		}
	}

	handlers := map[string]nats.MsgHandler{
		protocol.SubjectControlStart:     s.handleStart,
		protocol.SubjectControlStop:      s.handleStop,
		protocol.SubjectControlInterpret: s.handleInterpret,
		protocol.SubjectControlClear:     s.handleClear,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.bus.Conn().Flush(); err != nil {
		s.unsubscribe()
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	if interval := time.Duration(s.node.HeartbeatInterval) * time.Millisecond; interval > 0 {
		s.wg.Add(1)
		go s.heartbeat(interval)
	}

	s.ready.Store(true)
	s.log.Info("signs service started", slog.Int("control_subjects", len(s.subs)))
	return nil
}

func (s *Service) ensureStream(js nats.JetStreamContext) error {
	maxAge := time.Duration(s.cfg.StreamMaxAge) * time.Hour
	info, err := js.StreamInfo(s.cfg.Stream)
	if err == nil {
		s.log.Info("using existing stream", slog.String("stream", info.Config.Name))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("lookup stream %s: %w", s.cfg.Stream, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     s.cfg.Stream,
		Subjects: protocol.StreamSubjects,
		Storage:  nats.FileStorage,
		MaxAge:   maxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", s.cfg.Stream, err)
	}
	s.log.Info("created stream", slog.String("stream", s.cfg.Stream), slog.Duration("max_age", maxAge))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
	s.ready.Store(false)
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || (s.ready.Load() && s.bus.Healthy())
}

func (s *Service) heartbeat(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			snap := s.ctrl.Snapshot()
			s.publish(protocol.SubjectHeartbeat, protocol.Heartbeat{
				NodeID:    s.node.ID,
				Role:      s.node.Role,
				State:     string(snap.State),
				SessionID: snap.SessionID,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

func (s *Service) FrameProcessed(r pipeline.FrameReport) {
	if s.cfg.PublishFrames {
		s.publish(protocol.SubjectFrame, FrameEvent(r))
	}
}

func (s *Service) LetterLocked(r pipeline.LetterReport) {
	s.publish(protocol.SubjectLetter, LetterEvent(r))
}

func (s *Service) WordInterpreted(r pipeline.WordReport) {
	s.publish(protocol.SubjectWord, WordEvent(r))
}

func (s *Service) BufferCleared(r pipeline.BufferReport) {
	s.publish(protocol.SubjectBufferCleared, BufferClearedEvent(r))
}

func (s *Service) StateChanged(r pipeline.StateReport) {
	s.publish(protocol.SubjectState, StateEvent(r))
}

func (s *Service) publish(subject string, v any) {
	if !s.cfg.Enabled {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("failed to marshal event", slog.String("subject", subject), slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.log.Warn("failed to publish event", slog.String("subject", subject), slogError(err))
	}
}

func decodeRequest(msg *nats.Msg) protocol.ControlRequest {
	var req protocol.ControlRequest
	if len(strings.TrimSpace(string(msg.Data))) > 0 {
		_ = json.Unmarshal(msg.Data, &req)
	}
	return req
}

func (s *Service) handleStart(msg *nats.Msg) {
	err := s.ctrl.Start(s.ctx)
	s.reply(msg, "start", "", err)
}

func (s *Service) handleStop(msg *nats.Msg) {
	reason := decodeRequest(msg).Reason
	if reason == "" {
		reason = "stopped via bus"
	}
	s.ctrl.Stop(reason)
	s.reply(msg, "stop", "", nil)
}

func (s *Service) handleInterpret(msg *nats.Msg) {
	report := s.ctrl.Interpret()
	s.reply(msg, "interpret", report.Word, nil)
}

func (s *Service) handleClear(msg *nats.Msg) {
	s.ctrl.Clear()
	s.reply(msg, "clear", "", nil)
}

func (s *Service) reply(msg *nats.Msg, command, word string, err error) {
	snap := s.ctrl.Snapshot()
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
		s.log.Warn("control command failed", slog.String("command", command), slogError(err))
	}
	if msg.Reply == "" {
		return
	}
	data, merr := json.Marshal(out)
	if merr != nil {
		s.log.Warn("failed to marshal control reply", slogError(merr))
		return
	}
	if rerr := msg.Respond(data); rerr != nil {
		s.log.Warn("failed to send control reply", slogError(rerr))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

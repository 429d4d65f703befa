package signs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-signs/internal/bus"
	"github.com/loqalabs/loqa-signs/internal/config"
	"github.com/loqalabs/loqa-signs/internal/natsserver"
	"github.com/loqalabs/loqa-signs/internal/pipeline"
	"github.com/loqalabs/loqa-signs/internal/protocol"
	"github.com/loqalabs/loqa-signs/internal/recognition"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeController struct {
	mu       sync.Mutex
	state    pipeline.State
	startErr error
	stops    []string
	clears   int
	word     string
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.state = pipeline.StateRunning
	return nil
}

func (f *fakeController) Stop(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, reason)
	f.state = pipeline.StateIdle
}

func (f *fakeController) Interpret() pipeline.WordReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pipeline.WordReport{SessionID: "session-1", Word: f.word}
}

func (f *fakeController) Clear() pipeline.BufferReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return pipeline.BufferReport{SessionID: "session-1"}
}

func (f *fakeController) Snapshot() pipeline.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.state
	if state == "" {
		state = pipeline.StateIdle
	}
	return pipeline.Snapshot{SessionID: "session-1", State: state}
}

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	log := newLogger()
	busCfg := config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1, JetStream: true, StoreDir: t.TempDir(), ConnectTimeout: 2000}
	srv, err := natsserver.Start(busCfg, log)
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	busCfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), busCfg, "signs-test", log)
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func startService(t *testing.T, client *bus.Client, ctrl Controller, heartbeatMS int) *Service {
	t.Helper()
	cfg := config.SignsConfig{Enabled: true, Stream: "SIGNS_TEST", StreamMaxAge: 1}
	node := config.NodeConfig{ID: "node-test", Role: "signs", HeartbeatInterval: heartbeatMS}
	svc := NewService(context.Background(), cfg, node, client, newLogger())
	if err := svc.Start(ctrl); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func request(t *testing.T, client *bus.Client, subject string, body any) protocol.ControlReply {
	t.Helper()
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal request: %v", err)
		}
	}
	msg, err := client.Conn().Request(subject, data, 2*time.Second)
	if err != nil {
		t.Fatalf("request %s: %v", subject, err)
	}
	var reply protocol.ControlReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return reply
}

func TestControlCommands(t *testing.T) {
	client := startBus(t)
	ctrl := &fakeController{word: "HI"}
	svc := startService(t, client, ctrl, 0)
	if !svc.Healthy() {
		t.Fatal("expected healthy service")
	}

	if reply := request(t, client, protocol.SubjectControlStart, nil); !reply.OK || reply.State != string(pipeline.StateRunning) {
		t.Fatalf("unexpected start reply %+v", reply)
	}
	if reply := request(t, client, protocol.SubjectControlInterpret, nil); reply.Word != "HI" || reply.Command != "interpret" {
		t.Fatalf("unexpected interpret reply %+v", reply)
	}
	if reply := request(t, client, protocol.SubjectControlClear, nil); !reply.OK {
		t.Fatalf("unexpected clear reply %+v", reply)
	}
	reply := request(t, client, protocol.SubjectControlStop, protocol.ControlRequest{Reason: "kiosk closed"})
	if !reply.OK || reply.State != string(pipeline.StateIdle) {
		t.Fatalf("unexpected stop reply %+v", reply)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.clears != 1 || len(ctrl.stops) != 1 || ctrl.stops[0] != "kiosk closed" {
		t.Fatalf("unexpected controller calls clears=%d stops=%v", ctrl.clears, ctrl.stops)
	}
}

func TestStartFailureReply(t *testing.T) {
	client := startBus(t)
	ctrl := &fakeController{startErr: fmt.Errorf("%w: no model", pipeline.ErrLoad)}
	startService(t, client, ctrl, 0)

	reply := request(t, client, protocol.SubjectControlStart, nil)
	if reply.OK || reply.Code != string(pipeline.CodeLoad) || reply.Error == "" {
		t.Fatalf("expected load failure reply, got %+v", reply)
	}
}

func TestPublishesPipelineSignals(t *testing.T) {
	client := startBus(t)
	svc := startService(t, client, &fakeController{}, 0)

	letters := make(chan *nats.Msg, 4)
	words := make(chan *nats.Msg, 4)
	states := make(chan *nats.Msg, 4)
	for subject, ch := range map[string]chan *nats.Msg{
		protocol.SubjectLetter: letters,
		protocol.SubjectWord:   words,
		protocol.SubjectState:  states,
	} {
		sub, err := client.Conn().ChanSubscribe(subject, ch)
		if err != nil {
			t.Fatalf("subscribe %s: %v", subject, err)
		}
		t.Cleanup(func() { _ = sub.Unsubscribe() })
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	now := time.Now()
	svc.LetterLocked(pipeline.LetterReport{
		SessionID: "session-1",
		Letter:    "I",
		Buffer:    []recognition.Letter{"H", "I"},
		History:   []recognition.Letter{"I", "H"},
		At:        now,
	})
	svc.WordInterpreted(pipeline.WordReport{SessionID: "session-1", Word: "HI", At: now})
	svc.StateChanged(pipeline.StateReport{
		SessionID: "session-1",
		State:     pipeline.StateIdle,
		Err:       fmt.Errorf("%w: boom", pipeline.ErrClassify),
		Code:      pipeline.CodeClassify,
		At:        now,
	})
	svc.FrameProcessed(pipeline.FrameReport{SessionID: "session-1"})

	var letter protocol.LetterEvent
	decode(t, letters, &letter)
	if letter.Letter != "I" || letter.Buffer != "HI" || len(letter.History) != 2 || letter.History[0] != "I" {
		t.Fatalf("unexpected letter event %+v", letter)
	}
	var word protocol.WordEvent
	decode(t, words, &word)
	if word.Word != "HI" {
		t.Fatalf("unexpected word event %+v", word)
	}
	var state protocol.StateEvent
	decode(t, states, &state)
	if state.State != "idle" || state.Code != "classify" || state.Error == "" {
		t.Fatalf("unexpected state event %+v", state)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		info, err := client.JetStream().StreamInfo("SIGNS_TEST")
		if err != nil {
			t.Fatalf("stream info: %v", err)
		}
		if info.State.Msgs >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected retained messages in stream, got %d", info.State.Msgs)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHeartbeat(t *testing.T) {
	client := startBus(t)
	beats := make(chan *nats.Msg, 4)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectHeartbeat, beats)
	if err != nil {
		t.Fatalf("subscribe heartbeat: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	startService(t, client, &fakeController{}, 20)

	var hb protocol.Heartbeat
	decode(t, beats, &hb)
	if hb.NodeID != "node-test" || hb.State != "idle" || hb.SessionID != "session-1" {
		t.Fatalf("unexpected heartbeat %+v", hb)
	}
}

func TestDisabledServiceIsInert(t *testing.T) {
	svc := NewService(context.Background(), config.SignsConfig{Enabled: false}, config.NodeConfig{}, nil, newLogger())
	if err := svc.Start(nil); err != nil {
		t.Fatalf("disabled start: %v", err)
	}
	svc.WordInterpreted(pipeline.WordReport{Word: "IGNORED"})
	if !svc.Healthy() {
		t.Fatal("disabled service should report healthy")
	}
	svc.Close()
}

func TestStartRequiresController(t *testing.T) {
	client := startBus(t)
	svc := NewService(context.Background(), config.SignsConfig{Enabled: true}, config.NodeConfig{}, client, newLogger())
	if err := svc.Start(nil); err == nil {
		t.Fatal("expected error without controller")
	}
}

func decode(t *testing.T, ch <-chan *nats.Msg, v any) {
	t.Helper()
	select {
	case msg := <-ch:
		if err := json.Unmarshal(msg.Data, v); err != nil {
			t.Fatalf("decode %s: %v", msg.Subject, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

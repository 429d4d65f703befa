package emitter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/loqalabs/loqa-signs/internal/config"
	"github.com/loqalabs/loqa-signs/internal/pipeline"
	"github.com/loqalabs/loqa-signs/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	err          error
	messages     []message
	disconnected bool
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return doneToken{err: f.err}
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func newEmitter(c *fakeClient) *MQTTEmitter {
	e := NewMQTTEmitter(config.MQTTConfig{TopicPrefix: "booth/signs/", QoS: 1}, newLogger())
	e.client = c
	return e
}

func TestEmitterPublishesTopics(t *testing.T) {
	c := &fakeClient{connected: true}
	e := newEmitter(c)

	e.LetterLocked(pipeline.LetterReport{SessionID: "s", Letter: "A"})
	e.WordInterpreted(pipeline.WordReport{SessionID: "s", Word: "AB"})
	e.BufferCleared(pipeline.BufferReport{SessionID: "s"})
	e.StateChanged(pipeline.StateReport{SessionID: "s", State: pipeline.StateRunning})
	e.FrameProcessed(pipeline.FrameReport{SessionID: "s"})
	e.Disconnect()

	want := []struct {
		topic    string
		retained bool
	}{
		{"booth/signs/letter", false},
		{"booth/signs/word", false},
		{"booth/signs/buffer/cleared", false},
		{"booth/signs/state", true},
	}
	if len(c.messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(c.messages))
	}
	for i, w := range want {
		m := c.messages[i]
		if m.topic != w.topic || m.retained != w.retained || m.qos != 1 {
			t.Fatalf("message %d: unexpected %+v", i, m)
		}
	}
	var word protocol.WordEvent
	if err := json.Unmarshal(c.messages[1].payload, &word); err != nil || word.Word != "AB" {
		t.Fatalf("unexpected word payload %s (%v)", c.messages[1].payload, err)
	}
	if !c.disconnected {
		t.Fatal("expected disconnect")
	}

	stats := e.Stats()
	if stats.Errors != 0 || stats.Published["booth/signs/letter"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestEmitterCountsFailures(t *testing.T) {
	offline := &fakeClient{}
	e := newEmitter(offline)
	e.WordInterpreted(pipeline.WordReport{Word: "X"})
	if e.Stats().Errors != 1 || len(offline.messages) != 0 {
		t.Fatalf("expected offline publish to be counted, got %+v", e.Stats())
	}

	broken := &fakeClient{connected: true, err: errors.New("not authorized")}
	e = newEmitter(broken)
	e.LetterLocked(pipeline.LetterReport{Letter: "B"})
	e.Disconnect()
	if e.Stats().Errors != 1 {
		t.Fatalf("expected delivery error counted, got %+v", e.Stats())
	}
}

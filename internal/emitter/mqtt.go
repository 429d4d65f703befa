// Package emitter forwards pipeline signals to an MQTT broker for consumers outside the NATS bus.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/loqalabs/loqa-signs/internal/config"
	"github.com/loqalabs/loqa-signs/internal/pipeline"
	"github.com/loqalabs/loqa-signs/internal/signs"
)

const publishTimeout = 2 * time.Second

var ErrNotConnected = errors.New("mqtt not connected")

// client is the subset of mqtt.Client the emitter uses.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTEmitter publishes letters, words, buffer clears and state changes under a topic prefix.
// State is retained so late subscribers see whether recognition is running.
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	client client
	log    *slog.Logger

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	wg        sync.WaitGroup
}

var _ pipeline.Listener = (*MQTTEmitter)(nil)

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func NewMQTTEmitter(cfg config.MQTTConfig, log *slog.Logger) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		log:       log.With(slog.String("component", "mqtt-emitter")),
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection. Reconnects are automatic afterwards.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	if e.cfg.Username != "" {
		opts.SetUsername(e.cfg.Username)
		opts.SetPassword(e.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		e.log.Info("mqtt connection established", slog.String("broker", e.cfg.Broker), slog.String("client_id", e.cfg.ClientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.log.Warn("mqtt connection lost, will auto-reconnect", slog.String("error", err.Error()))
	}

	c := mqtt.NewClient(opts)
	e.log.Info("connecting to mqtt broker", slog.String("broker", e.cfg.Broker))

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		c.Disconnect(0)
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		c.Disconnect(0)
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.client = c
	return nil
}

// Disconnect waits for in-flight publishes and closes the connection.
func (e *MQTTEmitter) Disconnect() {
	e.wg.Wait()
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.log.Info("mqtt disconnected")
	}
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.client != nil && e.client.IsConnected(),
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) topic(kind string) string {
	return strings.TrimSuffix(e.cfg.TopicPrefix, "/") + "/" + kind
}

func (e *MQTTEmitter) FrameProcessed(pipeline.FrameReport) {}

func (e *MQTTEmitter) LetterLocked(r pipeline.LetterReport) {
	e.publish("letter", false, signs.LetterEvent(r))
}

func (e *MQTTEmitter) WordInterpreted(r pipeline.WordReport) {
	e.publish("word", false, signs.WordEvent(r))
}

func (e *MQTTEmitter) BufferCleared(r pipeline.BufferReport) {
	e.publish("buffer/cleared", false, signs.BufferClearedEvent(r))
}

func (e *MQTTEmitter) StateChanged(r pipeline.StateReport) {
	e.publish("state", true, signs.StateEvent(r))
}

// publish hands the message to the client without blocking the caller; delivery errors are
// counted when the token completes.
func (e *MQTTEmitter) publish(kind string, retained bool, v any) {
	if e.client == nil || !e.client.IsConnected() {
		e.fail(kind, ErrNotConnected)
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		e.fail(kind, err)
		return
	}
	topic := e.topic(kind)
	token := e.client.Publish(topic, byte(e.cfg.QoS), retained, payload)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if !token.WaitTimeout(publishTimeout) {
			e.fail(kind, fmt.Errorf("publish timeout"))
			return
		}
		if err := token.Error(); err != nil {
			e.fail(kind, err)
			return
		}
		e.mu.Lock()
		e.published[topic]++
		e.mu.Unlock()
	}()
}

func (e *MQTTEmitter) fail(kind string, err error) {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
	e.log.Debug("mqtt publish failed", slog.String("kind", kind), slog.String("error", err.Error()))
}

// Package pipeline turns classified frames into stable letters and words.
//
// A Pipeline moves through idle, loading and running. Start loads the classifier, trying each
// configured source in order, then opens the camera and runs a single frame loop. The loop asks
// the camera for the next frame, classifies it and applies the decision policy before asking
// for another. A frame is fully handled before the next one is requested. A capture or
// classification failure ends the session, and recovery is left to whoever calls Start again.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-signs/internal/camera"
	"github.com/loqalabs/loqa-signs/internal/classifier"
)

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Loader   classifier.Loader
	Sources  []string
	Camera   camera.Source
	Listener Listener
	Logger   *slog.Logger
}

type Pipeline struct {
	session  *Session
	loader   classifier.Loader
	sources  []string
	camera   camera.Source
	listener Listener
	log      *slog.Logger
	metrics  instruments
	tracer   trace.Tracer
	parent   context.Context

	mu         sync.Mutex
	state      State
	loadCancel context.CancelFunc
	loadDone   chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}
	stopReason string
	source     string
	classes    int
	err        error
	lastFrame  time.Time
}

// New builds a Pipeline. The frame loop runs under parent, not under the context passed to
// Start, so a short-lived request can start a long-lived session.
func New(parent context.Context, session *Session, deps Deps) *Pipeline {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "signs-pipeline"))
	listener := deps.Listener
	if listener == nil {
		listener = NopListener{}
	}
	return &Pipeline{
		session:  session,
		loader:   deps.Loader,
		sources:  append([]string(nil), deps.Sources...),
		camera:   deps.Camera,
		listener: listener,
		log:      log,
		metrics:  newInstruments(log),
		tracer:   otel.Tracer(instrumentationName),
		parent:   parent,
		state:    StateIdle,
	}
}

func (p *Pipeline) Session() *Session { return p.session }

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Busy reports whether the pipeline is loading or running.
func (p *Pipeline) Busy() bool {
	return p.State() != StateIdle
}

// Err returns the failure that ended the last session, if any.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Start loads the model and camera and begins the frame loop. It is a no-op while the pipeline
// is already loading or running. On failure, including a Stop that arrives while loading, the
// camera and model are released before the error is returned.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		state := p.state
		p.mu.Unlock()
		p.log.Info("model already running or loading", slog.String("state", string(state)))
		return nil
	}
	loadCtx, loadCancel := context.WithCancel(ctx)
	defer loadCancel()
	loadDone := make(chan struct{})
	defer close(loadDone)
	p.state = StateLoading
	p.loadCancel = loadCancel
	p.loadDone = loadDone
	p.err = nil
	p.stopReason = ""
	p.mu.Unlock()

	p.listener.StateChanged(StateReport{SessionID: p.session.ID(), State: StateLoading, Reason: "loading model", At: time.Now()})
	p.log.Info("loading model", slog.Int("sources", len(p.sources)))

	model, source, err := classifier.LoadWithFallback(loadCtx, p.loader, p.sources, p.log)
	if err != nil {
		return p.failStart(fmt.Errorf("%w: %w", ErrLoad, err), nil, false)
	}
	classes := model.Classes()
	if classes == 0 {
		p.log.Warn("model metadata missing", slog.String("source", source))
	}
	p.log.Info("model ready",
		slog.Int("classes", classes),
		slog.String("source", source),
		slog.String("kind", classifier.DescribeSource(source)))

	if err := p.camera.Open(loadCtx); err != nil {
		return p.failStart(fmt.Errorf("%w: open camera: %w", ErrLoad, err), model, true)
	}
	p.log.Info("camera ready")

	// Stop cancels loadCtx under p.mu, so this check and the switch to running cannot interleave
	// with it.
	p.mu.Lock()
	if err := loadCtx.Err(); err != nil {
		p.mu.Unlock()
		return p.failStart(fmt.Errorf("%w: %w", ErrLoad, err), model, true)
	}
	sessionID := p.session.Restart()
	runCtx, cancel := context.WithCancel(p.parent)
	done := make(chan struct{})
	p.state = StateRunning
	p.loadCancel = nil
	p.loadDone = nil
	p.cancel = cancel
	p.done = done
	p.source = source
	p.classes = classes
	p.lastFrame = time.Time{}
	p.mu.Unlock()

	p.listener.StateChanged(StateReport{
		SessionID: sessionID,
		State:     StateRunning,
		Reason:    "frame loop started",
		Source:    source,
		Classes:   classes,
		At:        time.Now(),
	})
	p.log.Info("starting frame loop", slog.String("session_id", sessionID))

	go p.loop(runCtx, model, done)
	return nil
}

func (p *Pipeline) failStart(err error, model classifier.Classifier, cameraOpened bool) error {
	if cameraOpened {
		if cerr := p.camera.Close(); cerr != nil {
			p.log.Warn("camera release failed", slogError(cerr))
		}
	}
	if model != nil {
		if cerr := model.Close(); cerr != nil {
			p.log.Warn("model release failed", slogError(cerr))
		}
	}
	code := CodeOf(err)
	p.metrics.recordFailure(context.Background(), code)

	p.mu.Lock()
	p.state = StateIdle
	p.loadCancel = nil
	p.loadDone = nil
	p.err = err
	reason := "initialization error"
	if p.stopReason != "" {
		reason = p.stopReason
	}
	p.mu.Unlock()

	p.log.Error("model initialization failed", slogError(err), slog.String("code", string(code)))
	p.listener.StateChanged(StateReport{
		SessionID: p.session.ID(),
		State:     StateIdle,
		Reason:    reason,
		Err:       err,
		Code:      code,
		At:        time.Now(),
	})
	return err
}

// Stop ends a running session, or aborts one that is still loading, and waits until the camera
// and classifier are released. It is safe to call when idle. It must not be called from inside
// Start, for example from a listener handling the loading state change.
func (p *Pipeline) Stop(reason string) {
	p.mu.Lock()
	switch p.state {
	case StateLoading:
		p.stopReason = reason
		if p.loadCancel != nil {
			p.loadCancel()
		}
		loadDone := p.loadDone
		p.mu.Unlock()
		if loadDone != nil {
			<-loadDone
		}
		return
	case StateIdle:
		p.mu.Unlock()
		return
	}
	p.stopReason = reason
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// Wait blocks until the current frame loop exits and returns the error that ended it.
func (p *Pipeline) Wait() error {
	p.mu.Lock()
	done := p.done
	running := p.state == StateRunning
	p.mu.Unlock()
	if running && done != nil {
		<-done
	}
	return p.Err()
}

func (p *Pipeline) loop(ctx context.Context, model classifier.Classifier, done chan struct{}) {
	var loopErr error
	defer func() {
		p.teardown(model, loopErr)
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := p.camera.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			loopErr = fmt.Errorf("%w: %w", ErrCapture, err)
			return
		}

		spanCtx, span := p.tracer.Start(ctx, "signs.classify",
			trace.WithAttributes(attribute.Int64("frame.seq", int64(frame.Seq))))
		started := time.Now()
		preds, err := model.Classify(spanCtx, frame)
		latency := time.Since(started)
		if err != nil {
			span.RecordError(err)
			span.End()
			if ctx.Err() != nil {
				return
			}
			loopErr = fmt.Errorf("%w: %w", ErrClassify, err)
			return
		}
		span.SetAttributes(attribute.Int("predictions", len(preds)))
		span.End()

		report := p.session.HandlePredictions(preds)
		report.Seq = frame.Seq
		report.Latency = latency
		report.FPS = p.tick(report.At)
		p.metrics.recordFrame(ctx, report)

		p.listener.FrameProcessed(report)
		if report.Locked.Valid() {
			p.log.Info("letter locked", slog.String("letter", report.Locked.String()))
			p.listener.LetterLocked(LetterReport{
				SessionID: report.SessionID,
				Letter:    report.Locked,
				Buffer:    report.Buffer,
				History:   report.History,
				At:        report.At,
			})
		}
	}
}

// tick records a frame time and returns the instantaneous frame rate.
func (p *Pipeline) tick(now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.lastFrame
	p.lastFrame = now
	if prev.IsZero() {
		return 0
	}
	delta := now.Sub(prev)
	if delta <= 0 {
		return 0
	}
	return float64(time.Second) / float64(delta)
}

func (p *Pipeline) teardown(model classifier.Classifier, loopErr error) {
	if err := p.camera.Close(); err != nil {
		p.log.Warn("camera release failed", slogError(err))
	}
	if err := model.Close(); err != nil {
		p.log.Warn("model release failed", slogError(err))
	}

	p.mu.Lock()
	reason := p.stopReason
	if p.cancel != nil {
		p.cancel()
	}
	p.state = StateIdle
	p.cancel = nil
	p.err = loopErr
	p.mu.Unlock()

	report := StateReport{SessionID: p.session.ID(), State: StateIdle, Reason: reason, At: time.Now()}
	if loopErr != nil {
		report.Err = loopErr
		report.Code = CodeOf(loopErr)
		report.Reason = "pipeline failure"
		p.metrics.recordFailure(context.Background(), report.Code)
		p.log.Error("frame loop stopped", slogError(loopErr), slog.String("code", string(report.Code)))
	} else {
		p.log.Info("frame loop stopped", slog.String("reason", reason))
	}
	p.listener.StateChanged(report)
}

// Interpret materializes the buffered word, empties the buffer and resets stabilization.
func (p *Pipeline) Interpret() WordReport {
	report := p.session.Interpret()
	if report.Word == "" {
		p.log.Info("word interpreted", slog.String("word", "empty buffer"))
	} else {
		p.metrics.words.Add(context.Background(), 1)
		p.log.Info("word interpreted", slog.String("word", report.Word))
	}
	p.listener.WordInterpreted(report)
	return report
}

// Clear empties the buffer and resets stabilization without producing a word.
func (p *Pipeline) Clear() BufferReport {
	report := p.session.Clear()
	p.log.Info("buffer cleared manually")
	p.listener.BufferCleared(report)
	return report
}

func (p *Pipeline) Snapshot() Snapshot {
	snap := p.session.Snapshot()
	p.mu.Lock()
	defer p.mu.Unlock()
	snap.State = p.state
	snap.Source = p.source
	snap.Classes = p.classes
	if p.err != nil {
		snap.Err = p.err.Error()
	}
	return snap
}

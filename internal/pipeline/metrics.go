package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/loqalabs/loqa-signs/pipeline"

type instruments struct {
	frames   metric.Int64Counter
	letters  metric.Int64Counter
	words    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

func newInstruments(log *slog.Logger) instruments {
	var nop noop.Meter
	inst := instruments{}
	inst.frames, _ = nop.Int64Counter("")
	inst.letters, _ = nop.Int64Counter("")
	inst.words, _ = nop.Int64Counter("")
	inst.failures, _ = nop.Int64Counter("")
	inst.latency, _ = nop.Float64Histogram("")

	meter := otel.Meter(instrumentationName)
	warn := func(name string, err error) {
		log.Warn("failed to initialize metric", slog.String("metric", name), slogError(err))
	}
	if c, err := meter.Int64Counter("loqa.signs.frames", metric.WithDescription("Frames processed by status")); err == nil {
		inst.frames = c
	} else {
		warn("loqa.signs.frames", err)
	}
	if c, err := meter.Int64Counter("loqa.signs.letters", metric.WithDescription("Letters locked into the buffer")); err == nil {
		inst.letters = c
	} else {
		warn("loqa.signs.letters", err)
	}
	if c, err := meter.Int64Counter("loqa.signs.words", metric.WithDescription("Words interpreted")); err == nil {
		inst.words = c
	} else {
		warn("loqa.signs.words", err)
	}
	if c, err := meter.Int64Counter("loqa.signs.failures", metric.WithDescription("Pipeline failures by code")); err == nil {
		inst.failures = c
	} else {
		warn("loqa.signs.failures", err)
	}
	if h, err := meter.Float64Histogram("loqa.signs.classify.duration",
		metric.WithDescription("Classifier latency per frame"),
		metric.WithUnit("ms"),
	); err == nil {
		inst.latency = h
	} else {
		warn("loqa.signs.classify.duration", err)
	}
	return inst
}

func (i instruments) recordFrame(ctx context.Context, r FrameReport) {
	i.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(r.Status))))
	i.latency.Record(ctx, float64(r.Latency)/float64(time.Millisecond))
	if r.Locked.Valid() {
		i.letters.Add(ctx, 1)
	}
}

func (i instruments) recordFailure(ctx context.Context, code Code) {
	i.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("code", string(code))))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

package camera

import (
	"context"
	"errors"
	"time"
)

// Frame is one captured image. Data MUST NOT be modified once handed to a consumer.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Flipped   bool
	Timestamp time.Time
	Seq       uint64
}

// Source supplies frames. Next blocks until the next frame is due, which makes it the tick
// primitive of the frame loop.
type Source interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Options are capture settings shared by all sources.
type Options struct {
	Width  int
	Height int
	Flip   bool
	FPS    int
}

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("camera closed")

// maxFPS bounds the pacing rate so the ticker interval stays positive.
const maxFPS = 1000

func (o Options) interval() time.Duration {
	switch {
	case o.FPS <= 0:
		return time.Second / 30
	case o.FPS > maxFPS:
		return time.Second / maxFPS
	}
	return time.Second / time.Duration(o.FPS)
}

// pacer spaces frames at the configured rate.
type pacer struct {
	ticker *time.Ticker
}

func newPacer(opts Options) *pacer {
	return &pacer{ticker: time.NewTicker(opts.interval())}
}

func (p *pacer) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ticker.C:
		return nil
	}
}

func (p *pacer) stop() {
	if p != nil && p.ticker != nil {
		p.ticker.Stop()
	}
}

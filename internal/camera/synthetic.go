package camera

import (
	"context"
	"sync"
	"time"
)

type syntheticSource struct {
	opts  Options
	mu    sync.Mutex
	pace  *pacer
	seq   uint64
	blank []byte
}

// NewSynthetic returns a source producing blank frames at the configured rate. It pairs with the
// mock classifier for demos and soak runs.
func NewSynthetic(opts Options) Source {
	return &syntheticSource{opts: opts}
}

func (s *syntheticSource) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pace = newPacer(s.opts)
	s.seq = 0
	s.blank = make([]byte, s.opts.Width*s.opts.Height)
	return nil
}

func (s *syntheticSource) Next(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	pace := s.pace
	s.mu.Unlock()
	if pace == nil {
		return Frame{}, ErrClosed
	}
	if err := pace.wait(ctx); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return Frame{
		Data:      s.blank,
		Width:     s.opts.Width,
		Height:    s.opts.Height,
		Flipped:   s.opts.Flip,
		Timestamp: time.Now(),
		Seq:       s.seq,
	}, nil
}

func (s *syntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pace.stop()
	s.pace = nil
	return nil
}

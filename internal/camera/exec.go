package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

type execSource struct {
	cmd  []string
	opts Options
	mu   sync.Mutex
	pace *pacer
	seq  uint64
}

// NewExecSource captures each frame by running command, which must write one encoded image to
// stdout. Width, height and flip are appended as flags.
func NewExecSource(command string, opts Options) (Source, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse camera command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("camera command is empty")
	}
	return &execSource{cmd: args, opts: opts}, nil
}

func (e *execSource) Open(ctx context.Context) error {
	if _, err := exec.LookPath(e.cmd[0]); err != nil {
		return fmt.Errorf("camera command unavailable: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pace = newPacer(e.opts)
	e.seq = 0
	return nil
}

func (e *execSource) Next(ctx context.Context) (Frame, error) {
	e.mu.Lock()
	pace := e.pace
	e.mu.Unlock()
	if pace == nil {
		return Frame{}, ErrClosed
	}
	if err := pace.wait(ctx); err != nil {
		return Frame{}, err
	}

	args := append([]string{}, e.cmd[1:]...)
	args = append(args,
		"--width", strconv.Itoa(e.opts.Width),
		"--height", strconv.Itoa(e.opts.Height),
	)
	if e.opts.Flip {
		args = append(args, "--flip")
	}
	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return Frame{}, fmt.Errorf("camera command failed: %w: %s", err, stderr.String())
	}

	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()
	return Frame{
		Data:      stdout.Bytes(),
		Width:     e.opts.Width,
		Height:    e.opts.Height,
		Flipped:   e.opts.Flip,
		Timestamp: time.Now(),
		Seq:       seq,
	}, nil
}

func (e *execSource) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pace.stop()
	e.pace = nil
	return nil
}

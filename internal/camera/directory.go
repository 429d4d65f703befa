package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

type directorySource struct {
	dir   string
	opts  Options
	mu    sync.Mutex
	files []string
	next  int
	seq   uint64
	pace  *pacer
}

// NewDirectory replays the images in dir in lexical order, looping forever.
func NewDirectory(dir string, opts Options) Source {
	return &directorySource{dir: dir, opts: opts}
}

func (d *directorySource) Open(_ context.Context) error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("read frame directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
			files = append(files, filepath.Join(d.dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no frames found in %s", d.dir)
	}
	sort.Strings(files)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.files = files
	d.next = 0
	d.seq = 0
	d.pace = newPacer(d.opts)
	return nil
}

func (d *directorySource) Next(ctx context.Context) (Frame, error) {
	d.mu.Lock()
	pace := d.pace
	d.mu.Unlock()
	if pace == nil {
		return Frame{}, ErrClosed
	}
	if err := pace.wait(ctx); err != nil {
		return Frame{}, err
	}

	d.mu.Lock()
	path := d.files[d.next]
	d.next = (d.next + 1) % len(d.files)
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("read frame: %w", err)
	}
	return Frame{
		Data:      data,
		Width:     d.opts.Width,
		Height:    d.opts.Height,
		Flipped:   d.opts.Flip,
		Timestamp: time.Now(),
		Seq:       seq,
	}, nil
}

func (d *directorySource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pace.stop()
	d.pace = nil
	d.files = nil
	return nil
}

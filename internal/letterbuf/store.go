// Package letterbuf holds the in-progress word buffer and the recent-letter history.
package letterbuf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-signs/internal/recognition"
)

// ErrInvalidLimit is returned when a buffer or history limit is not positive.
var ErrInvalidLimit = errors.New("limit must be positive")

// Store is a bounded FIFO of accepted letters plus a bounded most-recent-first history.
type Store struct {
	bufferLimit  int
	historyLimit int
	buffer       []recognition.Letter
	history      []recognition.Letter
}

func New(bufferLimit, historyLimit int) (*Store, error) {
	if bufferLimit <= 0 {
		return nil, fmt.Errorf("%w: buffer limit %d", ErrInvalidLimit, bufferLimit)
	}
	if historyLimit <= 0 {
		return nil, fmt.Errorf("%w: history limit %d", ErrInvalidLimit, historyLimit)
	}
	return &Store{
		bufferLimit:  bufferLimit,
		historyLimit: historyLimit,
		buffer:       make([]recognition.Letter, 0, bufferLimit),
		history:      make([]recognition.Letter, 0, historyLimit+1),
	}, nil
}

// TryAppend accepts l unless it is empty or equals the current buffer tail.
func (s *Store) TryAppend(l recognition.Letter) bool {
	if !l.Valid() {
		return false
	}
	if n := len(s.buffer); n > 0 && s.buffer[n-1] == l {
		return false
	}

	if len(s.buffer) >= s.bufferLimit {
		s.buffer = append(s.buffer[:0], s.buffer[1:]...)
	}
	s.buffer = append(s.buffer, l)

	s.history = append(s.history, recognition.None)
	copy(s.history[1:], s.history)
	s.history[0] = l
	if len(s.history) > s.historyLimit {
		s.history = s.history[:s.historyLimit]
	}
	return true
}

// Word concatenates the buffer in order.
func (s *Store) Word() string {
	var b strings.Builder
	for _, l := range s.buffer {
		b.WriteString(string(l))
	}
	return b.String()
}

func (s *Store) Buffer() []recognition.Letter {
	return append([]recognition.Letter(nil), s.buffer...)
}

// History returns accepted letters, most recent first.
func (s *Store) History() []recognition.Letter {
	return append([]recognition.Letter(nil), s.history...)
}

func (s *Store) Len() int { return len(s.buffer) }

func (s *Store) ResetBuffer() { s.buffer = s.buffer[:0] }

func (s *Store) ResetHistory() { s.history = s.history[:0] }

func (s *Store) ResetAll() {
	s.ResetBuffer()
	s.ResetHistory()
}

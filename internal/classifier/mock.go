package classifier

import (
	"context"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-signs/internal/camera"
	"github.com/loqalabs/loqa-signs/internal/recognition"
)

type mockClassifier struct {
	mu    sync.Mutex
	word  []recognition.Letter
	hold  int
	frame int
}

// NewMockLoader returns a Loader whose classifier spells word over and over, holding each letter
// for hold frames followed by one low-confidence frame.
func NewMockLoader(word string, hold int) Loader {
	var letters []recognition.Letter
	for _, r := range strings.ToUpper(word) {
		if l := recognition.ExtractLetter(string(r)); l.Valid() {
			letters = append(letters, l)
		}
	}
	if len(letters) == 0 {
		letters = []recognition.Letter{"A"}
	}
	if hold <= 0 {
		hold = 1
	}
	return LoaderFunc(func(_ context.Context, _ string) (Classifier, error) {
		return &mockClassifier{word: letters, hold: hold}, nil
	})
}

func (m *mockClassifier) Classify(ctx context.Context, _ camera.Frame) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	step := m.frame
	m.frame++
	m.mu.Unlock()

	period := m.hold + 1
	idx := (step / period) % len(m.word)
	gap := step%period == m.hold

	preds := make([]Prediction, 0, len(recognition.SupportedSigns))
	for _, sign := range recognition.SupportedSigns {
		p := 0.01
		if gap {
			p = 0.1
		} else if sign == m.word[idx] {
			p = 0.95
		}
		preds = append(preds, Prediction{Label: string(sign), Probability: p})
	}
	return preds, nil
}

func (m *mockClassifier) Classes() int { return len(recognition.SupportedSigns) }

func (m *mockClassifier) Close() error { return nil }

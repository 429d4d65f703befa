package classifier

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-signs/internal/camera"
)

// Prediction is one class score for a frame. Probabilities are independent and need not sum to 1.
type Prediction struct {
	Label       string  `json:"label" yaml:"label"`
	Probability float64 `json:"probability" yaml:"probability"`
}

// Classifier abstracts image classification backends.
type Classifier interface {
	Classify(ctx context.Context, frame camera.Frame) ([]Prediction, error)
	// Classes reports how many labels the loaded model knows. Zero means metadata is missing.
	Classes() int
	Close() error
}

// Loader loads a classifier from a model source (URL or directory).
type Loader interface {
	Load(ctx context.Context, source string) (Classifier, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, source string) (Classifier, error)

func (f LoaderFunc) Load(ctx context.Context, source string) (Classifier, error) {
	return f(ctx, source)
}

// Best returns the highest-probability prediction. Ties keep the earliest entry.
func Best(preds []Prediction) (Prediction, bool) {
	if len(preds) == 0 {
		return Prediction{}, false
	}
	best := preds[0]
	for _, p := range preds[1:] {
		if p.Probability > best.Probability {
			best = p
		}
	}
	return best, true
}

type timeoutClassifier struct {
	Classifier
	timeout time.Duration
}

func (t timeoutClassifier) Classify(ctx context.Context, frame camera.Frame) ([]Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Classifier.Classify(ctx, frame)
}

// WithTimeout bounds every Classify call of classifiers produced by l. A non-positive timeout
// returns l unchanged.
func WithTimeout(l Loader, timeout time.Duration) Loader {
	if timeout <= 0 {
		return l
	}
	return LoaderFunc(func(ctx context.Context, source string) (Classifier, error) {
		c, err := l.Load(ctx, source)
		if err != nil {
			return nil, err
		}
		return timeoutClassifier{Classifier: c, timeout: timeout}, nil
	})
}

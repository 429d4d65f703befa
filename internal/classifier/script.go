package classifier

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/loqalabs/loqa-signs/internal/camera"
	"gopkg.in/yaml.v3"
)

// Script is a recorded sequence of classifier outputs, optionally interleaved with user actions.
type Script struct {
	Labels []string     `yaml:"labels,omitempty"`
	Loop   bool         `yaml:"loop,omitempty"`
	Steps  []ScriptStep `yaml:"frames"`
}

// ScriptStep is either a frame (Predictions, repeated Repeat times) or an Action such as
// "interpret" or "clear".
type ScriptStep struct {
	Predictions []Prediction `yaml:"predictions,omitempty"`
	Repeat      int          `yaml:"repeat,omitempty"`
	Action      string       `yaml:"action,omitempty"`
}

const (
	ActionInterpret = "interpret"
	ActionClear     = "clear"
)

// LoadScript reads a script from disk.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

func ParseScript(data []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("decode script: %w", err)
	}
	for i, step := range s.Steps {
		switch step.Action {
		case "", ActionInterpret, ActionClear:
		default:
			return Script{}, fmt.Errorf("frames[%d]: unknown action %q", i, step.Action)
		}
		if step.Action != "" && len(step.Predictions) > 0 {
			return Script{}, fmt.Errorf("frames[%d]: action and predictions are exclusive", i)
		}
		if step.Repeat < 0 {
			return Script{}, fmt.Errorf("frames[%d]: repeat must be >= 0", i)
		}
	}
	return s, nil
}

// Frames expands repeats and drops actions.
func (s Script) Frames() [][]Prediction {
	var out [][]Prediction
	for _, step := range s.Steps {
		if step.Action != "" {
			continue
		}
		n := step.Repeat
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			out = append(out, step.Predictions)
		}
	}
	return out
}

type scriptClassifier struct {
	mu     sync.Mutex
	frames [][]Prediction
	labels []string
	loop   bool
	next   int
}

// NewScriptLoader plays the script at path back one frame per Classify call. Once exhausted it
// returns no predictions, or restarts when the script loops.
func NewScriptLoader(path string) Loader {
	return LoaderFunc(func(_ context.Context, _ string) (Classifier, error) {
		s, err := LoadScript(path)
		if err != nil {
			return nil, err
		}
		return NewScripted(s), nil
	})
}

// NewScripted builds a classifier directly from a script.
func NewScripted(s Script) Classifier {
	return &scriptClassifier{frames: s.Frames(), labels: s.Labels, loop: s.Loop}
}

func (c *scriptClassifier) Classify(ctx context.Context, _ camera.Frame) ([]Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.frames) {
		if !c.loop || len(c.frames) == 0 {
			return nil, nil
		}
		c.next = 0
	}
	preds := c.frames[c.next]
	c.next++
	return append([]Prediction(nil), preds...), nil
}

func (c *scriptClassifier) Classes() int { return len(c.labels) }

func (c *scriptClassifier) Close() error { return nil }

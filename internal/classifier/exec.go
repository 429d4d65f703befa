package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-signs/internal/camera"
	"github.com/mattn/go-shellwords"
)

type execClassifier struct {
	cmd    []string
	source string
	labels []string
	mu     sync.Mutex
}

type execResult struct {
	Predictions []Prediction `json:"predictions"`
}

// NewExecLoader returns a Loader that resolves model metadata from the source and classifies
// frames by running command with --frame <path> --model <source>. The command must print
// {"predictions":[{"label":..,"probability":..}]} on stdout.
func NewExecLoader(command string, client *http.Client) (Loader, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse classifier command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("classifier command is empty")
	}
	return LoaderFunc(func(ctx context.Context, source string) (Classifier, error) {
		meta, err := FetchMetadata(ctx, client, source)
		if err != nil {
			return nil, err
		}
		return &execClassifier{cmd: args, source: source, labels: meta.Labels}, nil
	}), nil
}

func (c *execClassifier) Classify(ctx context.Context, frame camera.Frame) ([]Prediction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "loqa_frame_*.img")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()
	if _, err := file.Write(frame.Data); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}

	args := append([]string{}, c.cmd[1:]...)
	args = append(args, "--frame", file.Name(), "--model", c.source)
	command := exec.CommandContext(ctx, c.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("classifier command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}
	return resp.Predictions, nil
}

func (c *execClassifier) Classes() int { return len(c.labels) }

func (c *execClassifier) Close() error { return nil }

package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNoSources is returned when no model source is configured.
var ErrNoSources = errors.New("no model sources configured")

// LoadWithFallback tries each source in order and returns the first classifier that loads along
// with the source it came from.
func LoadWithFallback(ctx context.Context, loader Loader, sources []string, log *slog.Logger) (Classifier, string, error) {
	var lastErr error
	for _, source := range sources {
		source = strings.TrimSpace(source)
		if source == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		c, err := loader.Load(ctx, source)
		if err != nil {
			lastErr = err
			log.Warn("model load failed", slog.String("source", source), slog.String("error", err.Error()))
			continue
		}
		return c, source, nil
	}
	if lastErr == nil {
		return nil, "", ErrNoSources
	}
	return nil, "", fmt.Errorf("unable to load model: %w", lastErr)
}

// DescribeSource labels a source for logs.
func DescribeSource(source string) string {
	if isRemote(source) {
		return "remote model"
	}
	return "local model export"
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

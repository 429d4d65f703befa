package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-signs/internal/camera"
	"github.com/loqalabs/loqa-signs/internal/classifier"
	"github.com/loqalabs/loqa-signs/internal/config"
	"github.com/loqalabs/loqa-signs/internal/pipeline"
)

func buildLoader(cfg config.ClassifierConfig, logger *slog.Logger) (classifier.Loader, []string, error) {
	var loader classifier.Loader
	sources := cfg.Sources
	switch cfg.Mode {
	case "mock":
		loader = classifier.NewMockLoader(cfg.MockWord, cfg.MockHold)
		if len(sources) == 0 {
			sources = []string{"mock"}
		}
	case "script":
		loader = classifier.NewScriptLoader(cfg.Script)
		sources = []string{cfg.Script}
	case "exec":
		timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		exec, err := classifier.NewExecLoader(cfg.Command, &http.Client{Timeout: timeout})
		if err != nil {
			return nil, nil, err
		}
		loader = exec
	default:
		return nil, nil, fmt.Errorf("unsupported classifier mode %q", cfg.Mode)
	}
	logger.Info("classifier configured", slog.String("mode", cfg.Mode), slog.Int("sources", len(sources)))
	return classifier.WithTimeout(loader, time.Duration(cfg.TimeoutMS)*time.Millisecond), sources, nil
}

func buildCamera(cfg config.CameraConfig) (camera.Source, error) {
	opts := camera.Options{Width: cfg.Width, Height: cfg.Height, Flip: cfg.Flip, FPS: cfg.FPS}
	switch cfg.Mode {
	case "synthetic":
		return camera.NewSynthetic(opts), nil
	case "directory":
		return camera.NewDirectory(cfg.Directory, opts), nil
	case "exec":
		return camera.NewExecSource(cfg.Command, opts)
	default:
		return nil, fmt.Errorf("unsupported camera mode %q", cfg.Mode)
	}
}

func sessionSettings(cfg config.RecognitionConfig) pipeline.Settings {
	return pipeline.Settings{
		RequiredFrames:      cfg.RequiredFrames,
		BufferLimit:         cfg.BufferLimit,
		HistoryLimit:        cfg.HistoryLimit,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	}
}

// buildPipeline assembles session, classifier loader and camera into a Pipeline.
func buildPipeline(parent context.Context, cfg config.Config, listener pipeline.Listener, logger *slog.Logger) (*pipeline.Pipeline, error) {
	session, err := pipeline.NewSession(sessionSettings(cfg.Recognition))
	if err != nil {
		return nil, err
	}
	loader, sources, err := buildLoader(cfg.Classifier, logger)
	if err != nil {
		return nil, err
	}
	cam, err := buildCamera(cfg.Camera)
	if err != nil {
		return nil, err
	}
	return pipeline.New(parent, session, pipeline.Deps{
		Loader:   loader,
		Sources:  sources,
		Camera:   cam,
		Listener: listener,
		Logger:   logger,
	}), nil
}

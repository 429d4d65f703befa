package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-signs/internal/bus"
	"github.com/loqalabs/loqa-signs/internal/config"
	"github.com/loqalabs/loqa-signs/internal/emitter"
	"github.com/loqalabs/loqa-signs/internal/eventstore"
	"github.com/loqalabs/loqa-signs/internal/journal"
	"github.com/loqalabs/loqa-signs/internal/natsserver"
	"github.com/loqalabs/loqa-signs/internal/pipeline"
	"github.com/loqalabs/loqa-signs/internal/signs"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	ready         atomic.Bool
	wg            sync.WaitGroup

	bus      *bus.Client
	signs    *signs.Service
	pipeline *pipeline.Pipeline
	cleanup  []func(context.Context)
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up telemetry, the bus, the event store and the recognition pipeline, serves HTTP
// until ctx is cancelled and then shuts everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	err := r.setup(ctx, mux)
	if err != nil {
		r.shutdown()
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if r.cfg.Signs.Enabled && r.cfg.Signs.AutoStart {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.pipeline.Start(ctx); err != nil {
				r.logger.Error("auto start failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	return nil
}

func (r *Runtime) setup(ctx context.Context, mux *http.ServeMux) error {
	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.onShutdown(func(ctx context.Context) {
		if err := shutdownTelemetry(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	})
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
		if bind := r.cfg.Telemetry.PrometheusBind; bind != "" {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", metricHandler)
			r.metricsServer = &http.Server{Addr: bind, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
			r.serve(r.metricsServer, "metrics")
		}
	}

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	r.onShutdown(func(context.Context) { embedded.Shutdown() })

	busCfg := r.cfg.Bus
	if url := embedded.ClientURL(); url != "" {
		busCfg.Servers = []string{url}
	}
	r.bus, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return err
	}
	r.onShutdown(func(context.Context) { r.bus.Close() })

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.onShutdown(func(context.Context) {
		if err := store.Close(); err != nil {
			r.logger.Warn("event store close failed", slog.String("error", err.Error()))
		}
	})

	if !r.cfg.Signs.Enabled {
		r.logger.Info("signs pipeline disabled")
		return nil
	}

	listeners := pipeline.Listeners{}

	r.signs = signs.NewService(ctx, r.cfg.Signs, r.cfg.Node, r.bus, r.logger)
	r.onShutdown(func(context.Context) { r.signs.Close() })
	listeners = append(listeners, r.signs)

	j := journal.New(ctx, store, r.cfg.Node.ID, r.logger)
	r.onShutdown(func(context.Context) { j.Close() })
	listeners = append(listeners, j)

	if r.cfg.MQTT.Enabled {
		mq := emitter.NewMQTTEmitter(r.cfg.MQTT, r.logger)
		if err := mq.Connect(ctx); err != nil {
			r.logger.Warn("mqtt emitter unavailable", slog.String("error", err.Error()))
		} else {
			r.onShutdown(func(context.Context) { mq.Disconnect() })
			listeners = append(listeners, mq)
		}
	}

	r.pipeline, err = buildPipeline(ctx, r.cfg, listeners, r.logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	r.onShutdown(func(context.Context) { r.pipeline.Stop("runtime shutdown") })

	if err := r.signs.Start(r.pipeline); err != nil {
		return fmt.Errorf("start signs service: %w", err)
	}

	api := &sessionAPI{ctx: ctx, pipe: r.pipeline, store: store, logger: r.logger}
	api.routes(mux)
	return nil
}

// onShutdown registers a cleanup step; steps run in reverse order of registration.
func (r *Runtime) onShutdown(fn func(context.Context)) {
	r.cleanup = append(r.cleanup, fn)
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	// Stop the pipeline, services and stores before waiting on background goroutines.
	for i := len(r.cleanup) - 1; i >= 0; i-- {
		r.cleanup[i](shutdownCtx)
	}
	r.cleanup = nil
	r.wg.Wait()
}

func (r *Runtime) healthy() bool {
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	if r.signs != nil && !r.signs.Healthy() {
		return false
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !r.healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

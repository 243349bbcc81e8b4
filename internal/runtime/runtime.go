package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quizowl/quizowl-tutor/internal/bus"
	"github.com/quizowl/quizowl-tutor/internal/config"
	"github.com/quizowl/quizowl-tutor/internal/eventstore"
	"github.com/quizowl/quizowl-tutor/internal/explain"
	"github.com/quizowl/quizowl-tutor/internal/natsserver"
	"github.com/quizowl/quizowl-tutor/internal/registry"
	"github.com/quizowl/quizowl-tutor/internal/synth"
	"github.com/quizowl/quizowl-tutor/internal/tutor"
)

// Runtime assembles the tutor pipeline: embedded bus, event store,
// client registry and the tutor service, plus health and metrics
// endpoints. Start blocks until ctx is cancelled and then tears the
// pieces down in reverse order.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	metricsSrv  *http.Server
	tracerClose func(context.Context) error
	embedded    *natsserver.EmbeddedServer
	busClient   *bus.Client
	store       *eventstore.Store
	registry    *registry.Registry
	service     *tutor.Service
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.embedded.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		r.teardown()
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store

	if r.cfg.Registry.Enabled {
		reg, err := registry.New(ctx, r.cfg.Registry, busClient, r.logger)
		if err != nil {
			r.teardown()
			return fmt.Errorf("failed to start client registry: %w", err)
		}
		r.registry = reg
	}

	streamer, err := buildStreamer(r.cfg.Explain)
	if err != nil {
		r.teardown()
		return fmt.Errorf("failed to build explanation backend: %w", err)
	}
	synthesizer, err := buildSynth(r.cfg.Synth)
	if err != nil {
		r.teardown()
		return fmt.Errorf("failed to build synthesis backend: %w", err)
	}

	r.service = tutor.NewService(ctx, r.cfg, busClient, streamer, synthesizer, store, r.logger)
	if err := r.service.Start(); err != nil {
		r.teardown()
		return fmt.Errorf("failed to start tutor service: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsSrv = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.teardown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// teardown stops components in reverse dependency order; each field is
// nil until its startup step succeeded.
func (r *Runtime) teardown() {
	if r.service != nil {
		r.service.Close()
		r.service = nil
	}
	if r.registry != nil {
		r.registry.Close()
		r.registry = nil
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
		r.store = nil
	}
	if r.busClient != nil {
		r.busClient.Close()
		r.busClient = nil
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
		r.embedded = nil
	}
}

func buildStreamer(cfg config.ExplainConfig) (explain.Streamer, error) {
	switch cfg.Mode {
	case "ollama":
		return explain.NewOllamaStreamer(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return explain.NewExecStreamer(cfg.Command)
	default:
		return explain.NewMockStreamer(), nil
	}
}

func buildSynth(cfg config.SynthConfig) (synth.Synthesizer, error) {
	switch cfg.Mode {
	case "http":
		return synth.NewHTTPSynth(cfg.Endpoint, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
	case "exec":
		return synth.NewExecSynth(cfg.Command)
	default:
		return synth.NewMockSynth(50 * time.Millisecond), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.service.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxpaylabs/voxpay-core/internal/audit"
	"github.com/voxpaylabs/voxpay-core/internal/bus"
	"github.com/voxpaylabs/voxpay-core/internal/codec"
	"github.com/voxpaylabs/voxpay-core/internal/config"
	"github.com/voxpaylabs/voxpay-core/internal/ledger"
	"github.com/voxpaylabs/voxpay-core/internal/pipeline"
	"github.com/voxpaylabs/voxpay-core/internal/sarvam"
	"github.com/voxpaylabs/voxpay-core/internal/stream"
	"github.com/voxpaylabs/voxpay-core/internal/tools"
)

// Runtime assembles the daemon: telephony endpoints, the turn pipeline,
// the audit store and the optional event bus, all behind one HTTP server.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	auditStore  *audit.Store
	busClient   *bus.Client
	streams     *stream.Handler
	tracerClose func(context.Context) error
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

	r.auditStore, err = audit.Open(ctx, r.cfg.Audit, r.logger.With(slog.String("component", "audit")))
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	defer r.auditStore.Close()

	var events pipeline.EventSink
	if r.cfg.Bus.Enabled {
		embedded, err := bus.StartEmbedded(r.cfg.Bus, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		defer embedded.Shutdown()

		r.busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return fmt.Errorf("failed to connect event bus: %w", err)
		}
		defer r.busClient.Close()
		events = bus.NewPublisher(r.busClient)
	}

	provider := sarvam.NewClient(r.cfg.Provider, r.logger)
	ledgerClient := ledger.NewClient(r.cfg.Ledger, r.logger)
	payments := ledger.NewPaymentClient(r.cfg.Payment, r.logger)
	registry := tools.NewRegistry(ledgerClient, payments, r.cfg.Tools.ExpenseSummaryLimit, r.logger)
	reasoner := pipeline.NewReasoner(provider, registry, r.logger)
	adapter := codec.NewAdapter(r.cfg.Stream.SampleRate, r.logger)
	turns := pipeline.New(adapter, provider, reasoner, provider, r.auditStore, events, r.logger)

	r.streams = stream.NewHandler(r.cfg.Stream, turns, r.auditStore, r.logger)
	webhook := stream.NewWebhook(r.cfg.Stream, r.logger)

	mux := http.NewServeMux()
	mux.Handle(r.cfg.Stream.WebhookPath, webhook)
	mux.Handle(r.cfg.Stream.MediaPath, r.streams)
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

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

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("webhook_path", r.cfg.Stream.WebhookPath),
		slog.String("media_path", r.cfg.Stream.MediaPath))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	if r.cfg.Bus.Enabled && !r.busClient.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus unavailable"))
		return
	}
	fmt.Fprintf(w, "ready, %d active calls", r.streams.Sessions().Len())
}

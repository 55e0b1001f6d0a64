package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/concordlab/concord/internal/audit"
	"github.com/concordlab/concord/internal/backends"
	"github.com/concordlab/concord/internal/config"
	"github.com/concordlab/concord/internal/consensus"
	"github.com/concordlab/concord/internal/health"
	"github.com/concordlab/concord/internal/httpapi"
	"github.com/concordlab/concord/internal/judge"
	"github.com/concordlab/concord/internal/runstore"
	"github.com/concordlab/concord/internal/streaming"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Model backends: Ollama by default, OpenAI-compatible for models
	// explicitly routed to it.
	registry := backends.NewRegistry(
		backends.NewOllamaBackend(cfg.Backends.Ollama.BaseURL,
			time.Duration(cfg.Backends.Ollama.TimeoutSeconds)*time.Second, logger),
		logger,
	)
	if cfg.Backends.OpenAI.APIKey != "" {
		oai := backends.NewOpenAIBackend(cfg.Backends.OpenAI.APIKey, cfg.Backends.OpenAI.BaseURL, logger)
		for _, model := range cfg.Backends.OpenAI.Models {
			registry.Register(model, oai)
		}
	}
	for model, rl := range cfg.Backends.RateLimits {
		registry.SetRateLimit(model, rl.PerSecond, rl.Burst)
	}

	// Audit sink: SQL store when configured, structured log otherwise.
	var sink audit.Sink = &audit.LogSink{Logger: logger}
	hm := health.NewManager(logger)
	if cfg.Audit.Driver != "" {
		store, err := audit.OpenSQLStore(cfg.Audit.Driver, cfg.Audit.DSN, logger)
		if err != nil {
			logger.Fatal("Failed to open audit store", zap.Error(err))
		}
		defer store.Close()
		sink = &audit.Multi{Sinks: []audit.Sink{store, &audit.LogSink{Logger: logger}}, Logger: logger}
		hm.Register(health.CheckerFunc{CheckerName: "audit", Fn: store.Ping})
	}

	// Run store is optional; without Redis the GET endpoint 404s.
	var store *runstore.Store
	if cfg.Redis.Addr != "" {
		store, err = runstore.New(cfg.Redis.Addr, cfg.Redis.Password,
			time.Duration(cfg.Redis.TTLHours)*time.Hour, logger)
		if err != nil {
			logger.Fatal("Failed to connect run store", zap.Error(err))
		}
		defer store.Close()
		hm.Register(health.CheckerFunc{CheckerName: "redis", Fn: store.Ping})
	}

	// Pool presets with hot reload, if a preset file is configured.
	var pools httpapi.PoolResolver
	if cfg.Pools.File != "" {
		pm, err := config.NewPoolManager(cfg.Pools.File, logger)
		if err != nil {
			logger.Fatal("Failed to load pool presets", zap.Error(err))
		}
		if err := pm.Watch(ctx); err != nil {
			logger.Warn("Pool preset watch unavailable", zap.Error(err))
		}
		logger.Info("Pool presets available", zap.Strings("names", pm.Names()))
		pools = pm
	}

	events := streaming.NewManager(streaming.DefaultCapacity)
	orch := consensus.New(registry, logger,
		consensus.WithJudge(judgeFromConfig(cfg.Consensus)),
		consensus.WithEmitter(&eventFanout{events: events, sink: sink, logger: logger}),
	)

	mux := http.NewServeMux()
	httpapi.NewConsensusHandler(orch, store, logger).
		WithAuditSink(sink).
		WithPoolResolver(pools).
		WithDefaultMaxRounds(cfg.Consensus.DefaultMaxRounds).
		RegisterRoutes(mux)
	httpapi.NewStreamingHandler(events, logger).RegisterRoutes(mux)
	health.NewHTTPHandler(hm, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("concordd listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
		os.Exit(1)
	}
}

// judgeFromConfig maps the configured policy name to a judge.
func judgeFromConfig(c config.ConsensusConfig) judge.Judge {
	if c.Judge == "levenshtein" {
		return judge.Levenshtein{Threshold: c.JudgeThreshold}
	}
	return judge.Exact{}
}

// eventFanout bridges orchestrator events to the streaming manager and the
// audit sink.
type eventFanout struct {
	events *streaming.Manager
	sink   audit.Sink
	logger *zap.Logger
}

func (f *eventFanout) Emit(ctx context.Context, ev consensus.Event) {
	f.events.Publish(ev.RunID, streaming.Event{
		RunID:     ev.RunID,
		Type:      ev.Type,
		Round:     ev.Round,
		ModelID:   ev.ModelID,
		Message:   ev.Message,
		Timestamp: ev.Timestamp,
	})
	if err := f.sink.RecordEvent(ctx, ev); err != nil {
		f.logger.Warn("Audit event dropped", zap.Error(err))
	}
}

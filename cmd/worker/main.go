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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agent_trace/internal/config"
	"agent_trace/internal/eventlog"
	"agent_trace/internal/metrics"
	"agent_trace/internal/pipeline"
	"agent_trace/internal/storage"
	"agent_trace/internal/utils"
	"agent_trace/migrations"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.NewLogger("trace-worker", utils.LevelFromString(cfg.LogLevel))

	mainLog, err := eventlog.NewRedisLog(eventlog.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Stream:   cfg.Redis.Stream,
		MaxLen:   cfg.Redis.MaxLogLen,
	})
	if err != nil {
		log.Fatalf("Failed to connect to event log: %v", err)
	}
	// The dead-letter stream shares the connection pool and is never
	// trimmed.
	dlqLog := eventlog.NewRedisLogWith(mainLog.Client(), cfg.Redis.DeadLetterStream, 0)

	m := metrics.New(prometheus.DefaultRegisterer)
	if err := m.Register(); err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	if cfg.Database.Migrate {
		db, err := storage.Open(storage.DefaultConfig(cfg.Database.URL))
		if err != nil {
			log.Fatalf("Failed to connect for migrations: %v", err)
		}
		if err := migrations.Apply(ctx, db.Conn().DB); err != nil {
			log.Fatalf("Failed to apply migrations: %v", err)
		}
		db.Close()
		logger.Info("schema migrations applied")
	}

	writer := storage.NewTraceWriter(storage.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger.Named("writer"))

	consumer := cfg.Pipeline.Consumer
	if consumer == "" {
		host, _ := os.Hostname()
		consumer = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	coord := pipeline.NewCoordinator(
		mainLog,
		pipeline.NewProcessor(logger.Named("processor")),
		writer,
		pipeline.NewDeadLetter(mainLog, dlqLog, cfg.Pipeline.Group, logger.Named("deadletter")),
		pipeline.Config{
			Group:             cfg.Pipeline.Group,
			Consumer:          consumer,
			BatchSize:         cfg.Pipeline.BatchSize,
			BlockTimeout:      cfg.Pipeline.BlockTimeout,
			VisibilityTimeout: cfg.Pipeline.VisibilityTimeout,
			ErrorBackoff:      cfg.Pipeline.ErrorBackoff,
		},
		logger,
		m,
	)

	if err := coord.Start(ctx); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}

	// Ops endpoint: metrics, health and queue depth.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		state := coord.State()
		if state != pipeline.StateRunning {
			http.Error(w, state.String(), http.StatusServiceUnavailable)
			return
		}
		depth, err := mainLog.Len(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "ok state=%s queue_depth=%d\n", state, depth)
	})

	server := &http.Server{
		Addr:         cfg.OpsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("ops endpoint listening", "addr", cfg.OpsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Ops server error: %v", err)
		}
	}()

	// Wait for interrupt signal, then drain: stop claiming new batches,
	// finish the in-flight one, close the store connection.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	if err := coord.Stop(); err != nil {
		logger.Error("failed to stop pipeline", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server forced to shut down", "error", err)
	}

	if err := mainLog.Close(); err != nil {
		logger.Error("failed to close event log", "error", err)
	}

	logger.Info("worker exited")
}

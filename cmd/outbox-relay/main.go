// Package main provides the outbox relay service entry point.
// Publishes committed schedule events from the transactional outbox.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-medsched/internal/api/handlers"
	"github.com/drfirst/go-medsched/internal/config"
	"github.com/drfirst/go-medsched/internal/infrastructure/postgres"
	"github.com/drfirst/go-medsched/internal/infrastructure/redpanda"
	"github.com/drfirst/go-medsched/internal/observability/metrics"
	"github.com/drfirst/go-medsched/internal/observability/tracing"
)

const serviceName = "outbox-relay"

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("service", serviceName))

	if cfg.Store != config.StorePostgres {
		logger.Fatal("outbox relay requires STORE=postgres", zap.String("store", cfg.Store))
	}

	ctx := context.Background()
	tp, err := tracing.Init(ctx, cfg.Tracing(serviceName, version))
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pool, err := postgres.Connect(ctx, cfg.Pool())
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database")

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	outbox := postgres.NewOutbox(pool, producer, postgres.DefaultOutboxConfig(), m, logger)
	outbox.Start()

	health := handlers.NewHealth(serviceName, version, map[string]handlers.Check{
		"postgres": pool.Ping,
		"kafka":    producer.Ping,
	})
	r := chi.NewRouter()
	r.Get("/health", health.Live)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", metrics.Handler(reg))
	server := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	logger.Info("outbox relay started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	outbox.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("outbox relay stopped")
}

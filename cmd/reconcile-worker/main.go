// Package main provides the reconcile worker entry point.
// Consumes record signals and converges record schedules.
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
	"github.com/drfirst/go-medsched/internal/directory"
	"github.com/drfirst/go-medsched/internal/domain/schedule"
	"github.com/drfirst/go-medsched/internal/infrastructure/postgres"
	"github.com/drfirst/go-medsched/internal/infrastructure/redpanda"
	"github.com/drfirst/go-medsched/internal/observability/metrics"
	"github.com/drfirst/go-medsched/internal/observability/tracing"
	"github.com/drfirst/go-medsched/internal/scheduling"
	"github.com/drfirst/go-medsched/pkg/circuitbreaker"
	"github.com/drfirst/go-medsched/pkg/idempotency"
	"github.com/drfirst/go-medsched/pkg/workerpool"
)

const serviceName = "reconcile-worker"

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
		logger.Fatal("reconcile worker requires STORE=postgres", zap.String("store", cfg.Store))
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

	var dir scheduling.Directory
	if cfg.DirectoryURL != "" {
		dc := directory.DefaultConfig(cfg.DirectoryURL)
		dc.Timeout = cfg.DirectoryTimeout
		dc.Breaker.OnStateChange = func(name string, to circuitbreaker.State) {
			m.BreakerState(name, to.Gauge())
		}
		client, err := directory.New(dc, logger)
		if err != nil {
			logger.Fatal("directory client creation failed", zap.Error(err))
		}
		dir = client
	}

	store := postgres.NewScheduleStore(pool, postgres.TopicScheduleEvents, logger)
	engine := scheduling.NewEngine(store, postgres.NewRecordSource(pool), dir, m, logger)

	inboxCfg := idempotency.DefaultInboxConfig()
	inboxCfg.Terminal = schedule.IsTerminal
	inbox := idempotency.NewInbox(pool, inboxCfg, logger)
	if n, err := inbox.RecoverStaleEntries(ctx); err != nil {
		logger.Warn("stale inbox recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered stale inbox entries", zap.Int64("count", n))
	}
	inbox.StartCleanup()
	defer inbox.Stop()

	signals := scheduling.NewSignalHandler(engine, inbox, m, logger)

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.Workers
	workers, err := workerpool.New(poolCfg, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		raw, _ := task.Payload.([]byte)
		if err := signals.Handle(ctx, raw); err != nil {
			return workerpool.Fail(task.ID, err, schedule.IsTerminal(err))
		}
		return &workerpool.Result{TaskID: task.ID, Success: true}
	}, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	workers.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = cfg.ConsumerGroup

	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		res, err := workers.SubmitWait(ctx, &workerpool.Task{
			ID:      string(msg.Key),
			Payload: msg.Value,
			Context: ctx,
		})
		if err != nil {
			return err
		}
		if !res.Success {
			return res.Error
		}
		return nil
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()

	health := handlers.NewHealth(serviceName, version, map[string]handlers.Check{
		"postgres": pool.Ping,
		"kafka":    consumer.Ping,
		"workers": func(context.Context) error {
			if !workers.IsHealthy() {
				return errors.New("worker queue saturated")
			}
			return nil
		},
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

	logger.Info("reconcile worker started",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("group", cfg.ConsumerGroup),
		zap.Int("workers", cfg.Workers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop failed", zap.Error(err))
	}
	if err := workers.Stop(); err != nil {
		logger.Error("worker pool stop failed", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("reconcile worker stopped")
}

// Package main provides the schedule API service entry point.
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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-medsched/internal/api/handlers"
	"github.com/drfirst/go-medsched/internal/api/middleware"
	"github.com/drfirst/go-medsched/internal/clinical"
	"github.com/drfirst/go-medsched/internal/config"
	"github.com/drfirst/go-medsched/internal/directory"
	"github.com/drfirst/go-medsched/internal/domain/schedule"
	"github.com/drfirst/go-medsched/internal/infrastructure/memory"
	"github.com/drfirst/go-medsched/internal/infrastructure/postgres"
	"github.com/drfirst/go-medsched/internal/observability/metrics"
	"github.com/drfirst/go-medsched/internal/observability/tracing"
	"github.com/drfirst/go-medsched/internal/scheduling"
	"github.com/drfirst/go-medsched/pkg/circuitbreaker"
)

const serviceName = "schedule-api"

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

	ctx := context.Background()
	tp, err := tracing.Init(ctx, cfg.Tracing(serviceName, version))
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		store   schedule.Store
		records clinical.Source
		checks  = map[string]handlers.Check{}
	)
	switch cfg.Store {
	case config.StorePostgres:
		var pool *pgxpool.Pool
		pool, err = postgres.Connect(ctx, cfg.Pool())
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("connected to database")

		store = postgres.NewScheduleStore(pool, postgres.TopicScheduleEvents, logger)
		records = postgres.NewRecordSource(pool)
		checks["postgres"] = pool.Ping
	default:
		logger.Warn("using in-memory store, data is lost on restart")
		store = memory.NewScheduleStore()
		records = memory.NewRecordSource()
	}

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

	engine := scheduling.NewEngine(store, records, dir, m, logger)
	manager := scheduling.NewManager(store, m, logger)
	queries := scheduling.NewQueries(store, cfg.SummaryMaxRecords)
	scheduleHandler := handlers.NewScheduleHandler(engine, manager, queries, logger)
	health := handlers.NewHealth(serviceName, version, checks)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/health", health.Live)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", metrics.Handler(reg))

	r.With(middleware.APIKeyAuth(cfg.APIKeys)).Mount("/api/v1", scheduleHandler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting schedule API",
		zap.String("port", cfg.Port),
		zap.String("store", cfg.Store),
		zap.String("version", version))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"propertyops/internal/config"
	"propertyops/internal/costs"
	"propertyops/internal/health"
	"propertyops/internal/queue"
	"propertyops/internal/store"
	"propertyops/internal/telemetry"
	"propertyops/internal/worker"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.Env)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalw("connect postgres", "error", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalw("run migrations", "error", err)
	}

	q := queue.NewRedisQueue(cfg)
	if err := q.Ping(ctx); err != nil {
		log.Fatalw("connect redis", "error", err)
	}

	exporter, err := costs.NewReportExporter(ctx, cfg)
	if err != nil {
		log.Fatalw("build cost report exporter", "error", err)
	}
	monitor := costs.NewMonitor(cfg, st, exporter, log)

	registry := health.NewRegistry(cfg, st, log)
	registry.Register("postgres", health.PingProbe(st))
	registry.Register("redis", health.PingProbe(q))
	registry.Register("disk", health.DiskProbe("/", 85, 95))
	if client, bucket := exporter.S3Client(); client != nil {
		registry.Register("s3", health.S3Probe(client, bucket))
	}
	if err := registry.EnsureChecks(ctx); err != nil {
		log.Fatalw("persist health checks", "error", err)
	}

	// Periodic probe sweep runs in the worker so the API never blocks on it.
	go func() {
		ticker := time.NewTicker(cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				registry.RunAll(ctx)
			}
		}
	}()

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infow("metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics serve", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	proc := worker.NewProcessor(cfg, q, st, log)
	proc.RegisterHandler("email_send", worker.EmailSendHandler(log))
	proc.RegisterHandler("cost_report_export", worker.CostReportExportHandler(monitor, log))

	log.Infow("worker started", "queues", cfg.Queues, "env", cfg.Env)
	if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalw("worker run", "error", err)
	}
	log.Infow("worker stopped")
}

func newLogger(env string) *zap.SugaredLogger {
	var logger *zap.Logger
	var err error
	if env == "prod" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger.Sugar()
}

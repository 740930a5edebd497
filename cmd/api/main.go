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

	"propertyops/internal/api"
	"propertyops/internal/config"
	"propertyops/internal/costs"
	"propertyops/internal/health"
	"propertyops/internal/queue"
	"propertyops/internal/ratelimit"
	"propertyops/internal/store"
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

	limiter := ratelimit.NewOrgLimiter(queue.NewRedisClient(cfg), cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

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

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.New(cfg, st, q, registry, monitor, limiter, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("shutdown", "error", err)
		}
	}()

	log.Infow("api listening", "port", cfg.HTTPPort, "env", cfg.Env)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalw("serve", "error", err)
	}
	log.Infow("api stopped")
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

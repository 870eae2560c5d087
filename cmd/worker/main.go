package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/PolicyPro/internal/app"
	"github.com/dharsanguruparan/PolicyPro/internal/config"
	"github.com/dharsanguruparan/PolicyPro/internal/logging"
	"github.com/dharsanguruparan/PolicyPro/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(logging.Config{Service: "worker"})
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Service: "worker"})
	if cfg.QueueMode == config.QueueInline {
		log.Fatal().Msg("queue mode is inline; jobs run inside the api process")
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}
	defer a.Close()
	if err := a.Files.EnsureBuckets(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure buckets")
	}

	if cfg.MetricsAddress != "" {
		go serveMetrics(ctx, cfg.MetricsAddress, a, log)
	}

	server := asynq.NewServer(a.RedisOpt(), asynq.Config{
		Concurrency: cfg.ProcessingPool,
		Logger:      asynqLogger{log: logging.Component(log, "asynq")},
	})
	mux := worker.NewProcessor(a.Jobs).Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		a.Close()
		os.Exit(1)
	}
}

func serveMetrics(ctx context.Context, addr string, a *app.App, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

// asynqLogger routes asynq's own logging through zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{}) { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{}) { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }

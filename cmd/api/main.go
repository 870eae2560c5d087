package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/PolicyPro/internal/api"
	"github.com/dharsanguruparan/PolicyPro/internal/app"
	"github.com/dharsanguruparan/PolicyPro/internal/config"
	"github.com/dharsanguruparan/PolicyPro/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New(logging.Config{Service: "api"})
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Service: "api"})

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}
	defer a.Close()
	if err := a.Files.EnsureBuckets(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure buckets")
	}

	deps := api.Deps{
		Store:       a.Store,
		Files:       a.Files,
		Jobs:        a.Dispatcher(ctx),
		Scans:       a.Scans,
		Remediation: a.Remediation,
		Metrics:     a.Metrics,
		Logger:      logging.Component(log, "http"),
	}
	if a.Search != nil {
		deps.Search = a.Search
	}
	if err := api.New(cfg, deps).Run(ctx); err != nil {
		log.Error().Err(err).Msg("api stopped")
		a.Close()
		os.Exit(1)
	}
}

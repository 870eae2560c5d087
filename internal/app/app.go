// Package app assembles the components shared by the api, worker and CLI
// binaries from a Config.
package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/PolicyPro/internal/config"
	"github.com/dharsanguruparan/PolicyPro/internal/database"
	"github.com/dharsanguruparan/PolicyPro/internal/llm"
	"github.com/dharsanguruparan/PolicyPro/internal/logging"
	"github.com/dharsanguruparan/PolicyPro/internal/metrics"
	"github.com/dharsanguruparan/PolicyPro/internal/notify"
	"github.com/dharsanguruparan/PolicyPro/internal/parser"
	"github.com/dharsanguruparan/PolicyPro/internal/processing"
	"github.com/dharsanguruparan/PolicyPro/internal/prompts"
	"github.com/dharsanguruparan/PolicyPro/internal/queue"
	"github.com/dharsanguruparan/PolicyPro/internal/remediation"
	"github.com/dharsanguruparan/PolicyPro/internal/repository"
	"github.com/dharsanguruparan/PolicyPro/internal/s3storage"
	"github.com/dharsanguruparan/PolicyPro/internal/scan"
	"github.com/dharsanguruparan/PolicyPro/internal/search"
	"github.com/dharsanguruparan/PolicyPro/internal/storage"
	"github.com/dharsanguruparan/PolicyPro/internal/worker"
)

// MemoryDSN selects the in-memory store instead of Postgres.
const MemoryDSN = "memory"

// App holds the wired components.
type App struct {
	Config      *config.Config
	Log         zerolog.Logger
	Metrics     *metrics.Metrics
	Store       repository.Store
	Files       *s3storage.Storage
	Sink        notify.Sink
	Search      *search.Meili
	Parser      *parser.Parser
	Scans       *scan.Orchestrator
	Remediation *remediation.Service
	Jobs        *worker.Jobs

	closers []func()
}

// Build connects to the backing services and wires every component.
// Redis notifications and Meilisearch are optional: when unreachable or
// unset the app logs notifications and skips indexing.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics.New(nil)}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	files, err := s3storage.New(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Files = files

	a.Sink = a.openSink()
	if cfg.MeiliURL != "" {
		a.Search = search.NewMeili(cfg.MeiliURL, cfg.MeiliKey, logging.Component(log, "search"))
		a.closers = append(a.closers, a.Search.Close)
	}

	set, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	client := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey,
		llm.WithMetrics(a.Metrics),
		llm.WithLogger(logging.Component(log, "llm")))

	a.Parser = parser.New(client, set, parser.Options{
		PandocPath:   cfg.PandocPath,
		PdftoppmPath: cfg.PdftoppmPath,
		DPI:          cfg.RasterDPI,
		Logger:       logging.Component(log, "parser"),
		Metrics:      a.Metrics,
	})

	scanLog := logging.Component(log, "scan")
	scanners := []scan.Scanner{
		scan.NewSpellingScanner(client, store, set.Spelling, scanLog),
		scan.NewComplianceScanner(client, store, set.Compliance, scanLog),
		scan.NewConflictScanner(client, store, set.Conflict, scan.ConflictOptions{
			MaxIterations: cfg.ConflictMaxIterations,
			Retry:         llm.RetryPolicy{MaxRetries: cfg.ConflictMaxRetries, BaseDelay: cfg.ConflictBaseDelay},
			Logger:        scanLog,
			Metrics:       a.Metrics,
		}),
	}

	// Interfaces stay nil when search is off.
	var scanIndex scan.Indexer
	var remediationIndex remediation.Indexer
	if a.Search != nil {
		scanIndex = a.Search
		remediationIndex = a.Search
	}
	a.Scans = scan.NewOrchestrator(store, scanners, scan.Options{
		Sink:    a.Sink,
		Index:   scanIndex,
		Logger:  scanLog,
		Metrics: a.Metrics,
	})
	a.Remediation = remediation.NewService(store, remediation.Options{
		Sink:    a.Sink,
		Index:   remediationIndex,
		Logger:  logging.Component(log, "remediation"),
		Metrics: a.Metrics,
	})
	a.Jobs = worker.NewJobs(store, files, a.Parser, a.Scans, a.Sink, logging.Component(log, "worker"))
	return a, nil
}

func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	if a.Config.DatabaseURL == MemoryDSN {
		a.Log.Warn().Msg("using in-memory store; data is lost on exit")
		return storage.NewMemoryStore(), nil
	}
	pool, err := database.Connect(ctx, a.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repository.NewPolicyRepository(pool), nil
}

func (a *App) openSink() notify.Sink {
	sinkLog := logging.Component(a.Log, "notify")
	if a.Config.RedisAddr == "" {
		return notify.LogSink{Log: sinkLog}
	}
	sink, err := notify.NewRedisSink(a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB)
	if err != nil {
		sinkLog.Warn().Err(err).Msg("redis unavailable, notifications will only be logged")
		return notify.LogSink{Log: sinkLog}
	}
	a.closers = append(a.closers, func() { sink.Close() })
	return sink
}

// RedisOpt returns the asynq connection options.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	}
}

// Dispatcher returns the job sink for the configured queue mode. Inline
// mode starts an in-process worker pool that lives until ctx is done.
func (a *App) Dispatcher(ctx context.Context) queue.Dispatcher {
	if a.Config.QueueMode == config.QueueInline {
		p := processing.New(a.Jobs, a.Config.ProcessingPool, logging.Component(a.Log, "processing"))
		p.Start(ctx)
		return p
	}
	client := queue.NewClient(asynq.NewClient(a.RedisOpt()))
	a.closers = append(a.closers, func() { client.Close() })
	return client
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Package app initializes and holds long-lived services: logger, database
// pool, fetch client, progress sinks, and the optional ops server. Built
// once at process start and passed explicitly to every component.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/licitabr/pncp-mirror/internal/api"
	"github.com/licitabr/pncp-mirror/internal/clock/system"
	"github.com/licitabr/pncp-mirror/internal/config"
	"github.com/licitabr/pncp-mirror/internal/fetch"
	"github.com/licitabr/pncp-mirror/internal/ingest"
	"github.com/licitabr/pncp-mirror/internal/logging"
	"github.com/licitabr/pncp-mirror/internal/pncp"
	"github.com/licitabr/pncp-mirror/internal/progress"
	"github.com/licitabr/pncp-mirror/internal/progress/sinks"
	"github.com/licitabr/pncp-mirror/internal/skiplog"
	"github.com/licitabr/pncp-mirror/internal/store"
)

// App holds all shared, long-lived services for one process.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Pool        *pgxpool.Pool
	Checkpoints *store.CheckpointStore
	Stats       *store.RunStatStore
	Counter     *store.Counter
	Writer      *store.Writer
	API         *pncp.Client
	SkipLog     *skiplog.Log
	Reporter    *progress.Reporter

	serverStop context.CancelFunc
}

// New builds the App from configuration, failing fast when any critical
// service cannot be initialized.
func New(ctx context.Context, cfg config.Config, trace bool) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, trace)
	if err != nil {
		return nil, err
	}

	pool, err := store.NewPool(ctx, store.PoolConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.ConnLifetime(),
	})
	if err != nil {
		return nil, err
	}

	policy := fetch.NewExponentialRetryPolicy(
		cfg.HTTP.MaxAttempts,
		time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
	)
	fetcher := fetch.NewClient(cfg.HTTPTimeout(), policy, cfg.HTTP.UserAgent, logger)

	skipLog, err := skiplog.Open(cfg.Sync.SkipLogPath)
	if err != nil {
		pool.Close()
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	reporter := progress.NewReporter(uuid.New(), sinks.NewLogSink(logger), promSink)

	a := &App{
		Config:      cfg,
		Logger:      logger,
		Pool:        pool,
		Checkpoints: store.NewCheckpointStore(pool),
		Stats:       store.NewRunStatStore(pool),
		Counter:     store.NewCounter(pool),
		Writer:      store.NewWriter(pool, cfg.Sync.UpsertChunk),
		API:         pncp.NewClient(fetcher, cfg.HTTP.BaseURL),
		SkipLog:     skipLog,
		Reporter:    reporter,
	}

	if cfg.Server.Enabled {
		a.startOpsServer(logger)
	}
	return a, nil
}

func (a *App) startOpsServer(logger *zap.Logger) {
	srv := api.NewServer(a.Checkpoints, a.Stats, logger)
	srvCtx, cancel := context.WithCancel(context.Background())
	a.serverStop = cancel
	go func() {
		logger.Info("starting ops server", zap.Int("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(srvCtx, a.Config.Server.Port); err != nil {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()
}

// IngestDeps assembles the dependency bundle the syncers consume.
func (a *App) IngestDeps() ingest.Deps {
	return ingest.Deps{
		API:         a.API,
		Writer:      a.Writer,
		Counts:      a.Counter,
		Checkpoints: a.Checkpoints,
		Stats:       a.Stats,
		SkipLog:     a.SkipLog,
		DB:          a.Pool,
		Reporter:    a.Reporter,
		Logger:      a.Logger,
		Clock:       system.New(),
	}
}

// Close shuts down all services.
func (a *App) Close() {
	if a.serverStop != nil {
		a.serverStop()
	}
	if a.SkipLog != nil {
		if err := a.SkipLog.Close(); err != nil {
			a.Logger.Warn("closing skip log", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	_ = a.Logger.Sync()
}

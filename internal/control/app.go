// Package control wires the engine together and manages its lifecycle:
// storage, chain client, gate, HTTP server and the reconciliation
// worker start and stop as one unit.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/paymnee/paygate/internal/access"
	"github.com/paymnee/paygate/internal/api"
	"github.com/paymnee/paygate/internal/core/config"
	"github.com/paymnee/paygate/internal/gate"
	"github.com/paymnee/paygate/internal/infra/chain/evm"
	redisclient "github.com/paymnee/paygate/internal/infra/redis"
	"github.com/paymnee/paygate/internal/infra/storage/postgres"
	"github.com/paymnee/paygate/internal/ledger"
	"github.com/paymnee/paygate/internal/scan"
	"github.com/paymnee/paygate/internal/verify"
)

// App owns every long-lived component of the engine.
type App struct {
	cfg        *config.AppConfig
	db         *postgres.DB
	redis      *redisclient.Client
	chain      *evm.Client
	server     *api.Server
	reconciler *gate.Reconciler
	log        *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errCh  chan error
}

// NewApp initializes storage, runs migrations, connects to the chain
// and builds the service graph. Redis is optional: without it, failed
// scan chunks are only logged.
func NewApp(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*App, error) {
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate db: %w", err)
	}

	chainClient, err := evm.NewClient(cfg.Chain)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init chain client: %w", err)
	}

	decimals, err := chainClient.TokenDecimals(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to resolve token decimals: %w", err)
	}
	log.Info("token resolved", "address", cfg.Chain.TokenAddress, "decimals", decimals)

	var redisClient *redisclient.Client
	var failedQueue scan.FailedChunkQueue
	var failedStore gate.FailedChunkStore
	if cfg.Redis.URL != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		repo := redisclient.NewFailedChunkRepo(redisClient)
		failedQueue = repo
		failedStore = repo
	} else {
		log.Warn("redis not configured, failed scan chunks will only be logged")
	}

	payments := postgres.NewPaymentRepo(db)
	items := postgres.NewItemRepo(db)
	pages := postgres.NewPageRepo(db)
	checkpoints := postgres.NewCheckpointRepo(db)

	verifier := verify.New(chainClient, log)
	led := ledger.New(payments, decimals, log)
	resolver := access.New(items, payments, log)
	scanner := scan.New(chainClient, payments, checkpoints, failedQueue, cfg.Scanner, log)

	g := gate.New(verifier, led, resolver, scanner,
		items, pages, payments, failedStore, decimals, cfg.Scanner.Retry, log)

	app := &App{
		cfg:    cfg,
		db:     db,
		redis:  redisClient,
		chain:  chainClient,
		server: api.NewServer(g, cfg.Server.Port, log),
		log:    log,
		errCh:  make(chan error, 2),
	}
	if cfg.Reconciler.Enabled {
		app.reconciler = gate.NewReconciler(g, cfg.Reconciler, log)
	}
	return app, nil
}

// Start launches the HTTP server and the reconciliation worker.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.server.Run(runCtx); err != nil {
			a.errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.reconciler != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.reconciler.Run(runCtx); err != nil {
				a.errCh <- fmt.Errorf("reconciler: %w", err)
			}
		}()
	}

	return nil
}

// Err reports a fatal component failure, if any occurred.
func (a *App) Err() <-chan error {
	return a.errCh
}

// Stop shuts everything down and waits for goroutines to drain.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown timed out waiting for workers")
	}

	a.chain.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close redis", "error", err)
		}
	}
	return a.db.Close()
}

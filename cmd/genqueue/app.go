package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/internal/config"
	"github.com/xraph/genqueue/ledger"
	memledger "github.com/xraph/genqueue/ledger/memory"
	pgledger "github.com/xraph/genqueue/ledger/postgres"
	sqliteledger "github.com/xraph/genqueue/ledger/sqlite"
	"github.com/xraph/genqueue/notify"
	"github.com/xraph/genqueue/queue"
	redisstore "github.com/xraph/genqueue/store/redis"
)

// app holds the configuration and the connections opened for one command.
type app struct {
	cfg    genqueue.Config
	logger *slog.Logger

	client    *goredis.Client
	store     *redisstore.Store
	ledger    ledger.Ledger
	publisher *notify.AMQPPublisher
	notifier  *notify.Extension

	// ledgerOwned is set once an engine has taken over closing the ledger.
	ledgerOwned bool
}

// load reads the configuration and builds the logger.
func (a *app) load() error {
	a.logger = config.NewLogger(os.Stderr, os.LookupEnv)
	slog.SetDefault(a.logger)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// connect opens the queue store and, when needLedger is set, the ledger,
// verifying both concurrently. Either being unreachable is fatal.
func (a *app) connect(ctx context.Context, needLedger bool) error {
	opts, err := goredis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	a.client = goredis.NewClient(opts)
	a.store = redisstore.New(a.client,
		redisstore.WithNamespace(a.cfg.QueueName),
		redisstore.WithLogger(a.logger),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.store.Ping(gctx); err != nil {
			return fmt.Errorf("%w: redis: %v", genqueue.ErrStoreUnavailable, err)
		}
		return nil
	})
	if needLedger {
		g.Go(func() error {
			l, err := openLedger(gctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			a.ledger = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if a.cfg.AMQPURL != "" {
		p, err := notify.DialAMQP(ctx, a.cfg.AMQPURL, a.cfg.AMQPExchange)
		if err != nil {
			// Notifications are optional; polling still works.
			a.logger.Warn("lifecycle notifications disabled", slog.String("error", err.Error()))
		} else {
			a.publisher = p
			a.notifier = notify.New(p, a.notifyOptions()...)
		}
	}
	return nil
}

func (a *app) notifyOptions() []notify.Option {
	opts := []notify.Option{notify.WithLogger(a.logger)}
	if len(a.cfg.AMQPEvents) > 0 {
		opts = append(opts, notify.WithEvents(a.cfg.AMQPEvents...))
	}
	return opts
}

// openLedger opens the configured ledger backend and checks it responds.
func openLedger(ctx context.Context, cfg genqueue.Config, logger *slog.Logger) (ledger.Ledger, error) {
	switch cfg.LedgerDriver {
	case "postgres":
		l, err := pgledger.New(ctx, cfg.LedgerDSN, pgledger.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := l.Ping(ctx); err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("%w: ledger: %v", genqueue.ErrStoreUnavailable, err)
		}
		if err := l.Migrate(ctx); err != nil {
			_ = l.Close()
			return nil, err
		}
		return l, nil
	case "sqlite":
		return sqliteledger.Open(ctx, cfg.LedgerDSN, sqliteledger.WithLogger(logger))
	case "memory":
		logger.Warn("using the in-memory ledger; balances are lost on exit")
		return memledger.New(), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}
}

// manager builds a queue manager for producer and admin commands.
func (a *app) manager() *queue.Manager {
	registry := ext.NewRegistry(a.logger)
	if a.notifier != nil {
		registry.Register(a.notifier)
	}
	return queue.NewManager(a.store,
		queue.WithQueueName(a.cfg.QueueName),
		queue.WithRetention(a.cfg.Retention),
		queue.WithLeaseTTL(a.cfg.LeaseTTL),
		queue.WithPriorityLanes(a.cfg.PriorityLanes),
		queue.WithDefaultMaxAttempts(a.cfg.MaxAttempts),
		queue.WithExtensions(registry),
		queue.WithLogger(a.logger),
	)
}

// close releases every connection the command opened.
func (a *app) close() {
	if a.publisher != nil {
		_ = a.publisher.Close() //nolint:errcheck // best-effort on exit
	}
	if c, ok := a.ledger.(interface{ Close() error }); ok && !a.ledgerOwned {
		_ = c.Close() //nolint:errcheck // best-effort on exit
	}
	if a.client != nil {
		_ = a.client.Close() //nolint:errcheck // best-effort on exit
	}
}

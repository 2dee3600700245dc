// Package app assembles a ledger and its collaborators from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Clark-Hu/stars/internal/cache"
	"github.com/Clark-Hu/stars/internal/config"
	"github.com/Clark-Hu/stars/internal/events"
	"github.com/Clark-Hu/stars/internal/ledger"
	"github.com/Clark-Hu/stars/internal/logger"
	"github.com/Clark-Hu/stars/internal/repository"
	"github.com/Clark-Hu/stars/internal/store"
)

// Options toggles the parts of the assembly a caller needs.
type Options struct {
	// Migrate applies pending PostgreSQL migrations on open.
	Migrate bool
	// Publish attaches the configured Redis and webhook event sinks.
	Publish bool
}

// App owns every long-lived resource behind a Ledger.
type App struct {
	Config config.Config
	Ledger *ledger.Ledger
	Events *events.Dispatcher
	Store  ledger.Store
	Redis  *goredis.Client

	logger  *logger.Logger
	closers []func(context.Context) error
}

// Open builds the ledger described by cfg. On error every resource opened so
// far is released.
func Open(ctx context.Context, cfg config.Config, log *logger.Logger, opts Options) (a *App, err error) {
	if log == nil {
		log = logger.Nop()
	}
	a = &App{Config: cfg, logger: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
			a = nil
		}
	}()

	if a.Store, err = a.openStore(ctx, opts.Migrate); err != nil {
		return nil, err
	}

	needRedis := (cfg.CacheEnabled && cfg.CacheBackend == config.CacheRedis) || (opts.Publish && cfg.RedisAddr != "")
	if needRedis {
		rdb, err := cache.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		a.Redis = rdb
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
	}

	var summaries ledger.SummaryCache
	if cfg.CacheEnabled {
		ttl := summaryTTL(cfg)
		switch cfg.CacheBackend {
		case config.CacheRedis:
			summaries = cache.NewRedis(a.Redis, ttl)
		default:
			mem := cache.NewMemory(ttl)
			if ttl > 0 {
				stop := mem.PurgeEvery(ttl)
				a.closers = append(a.closers, func(context.Context) error { stop(); return nil })
			}
			summaries = mem
		}
		log.Info("summary cache enabled", "backend", cfg.CacheBackend, "ttl", ttl.String())
	}

	a.Events = events.NewDispatcher(log)
	a.Events.Subscribe("log", events.PublisherFunc(func(_ context.Context, ev ledger.Event) error {
		log.Debug("rating event", "event", string(ev.Name), "eventId", ev.ID, "target", ev.Rating.Target.String(), "rate", ev.Rating.Rate)
		return nil
	}))
	if opts.Publish {
		if err := a.attachSinks(); err != nil {
			return nil, err
		}
	}

	a.Ledger, err = ledger.New(a.Store, ledger.Config{
		MinRate:       cfg.MinRate,
		MaxRate:       cfg.MaxRate,
		DefaultSource: cfg.DefaultSource,
	},
		ledger.WithNotifier(a.Events),
		ledger.WithCache(summaries),
		ledger.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// MaxRedisSummaryTTL bounds Redis summaries configured to live forever. A
// shared cache can miss an invalidation, and an entry without expiry would
// then stay stale for good.
const MaxRedisSummaryTTL = time.Hour

func summaryTTL(cfg config.Config) time.Duration {
	if cfg.CacheBackend == config.CacheRedis && cfg.CacheTTL <= 0 {
		return MaxRedisSummaryTTL
	}
	return cfg.CacheTTL
}

func (a *App) openStore(ctx context.Context, migrate bool) (ledger.Store, error) {
	cfg := a.Config
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		st, err := store.New(dbCtx, cfg.DBURL, store.Options{
			MaxConns:               int32(cfg.DBMaxConns),
			MinConns:               int32(cfg.DBMinConns),
			MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
			MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
			ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
			StatementCacheCapacity: cfg.DBStatementCache,
			Logger:                 a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { st.Close(); return nil })
		if migrate {
			if err := st.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return repository.New(st), nil
	case config.DriverSQLite:
		st, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return st.Close() })
		a.logger.Info("using sqlite storage", "path", cfg.SQLitePath)
		return st, nil
	case config.DriverMemory:
		a.logger.Warn("using in-memory storage; ratings are lost on exit")
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func (a *App) attachSinks() error {
	cfg := a.Config
	if a.Redis != nil {
		pub, err := events.NewRedisPublisher(a.Redis, cfg.RedisChannel, a.logger)
		if err != nil {
			return err
		}
		a.subscribeAsync("redis", pub, 0)
		a.logger.Info("publishing events to redis", "channel", cfg.RedisChannel)
	}
	if cfg.EventWebhookURL != "" {
		timeout := time.Duration(cfg.EventWebhookTimeoutSecs) * time.Second
		hook, err := events.NewWebhook(cfg.EventWebhookURL, cfg.AuthToken, timeout, a.logger)
		if err != nil {
			return err
		}
		a.subscribeAsync("webhook", hook, timeout)
		a.logger.Info("publishing events to webhook", "url", cfg.EventWebhookURL)
	}
	return nil
}

func (a *App) subscribeAsync(name string, pub events.Publisher, timeout time.Duration) {
	async := events.NewAsync(pub, 0, timeout, a.logger.With("sink", name))
	a.Events.Subscribe(name, async, events.Committed()...)
	a.closers = append(a.closers, async.Close)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

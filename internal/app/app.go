// Package app wires configuration into the running components for the CLI
// commands.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/atmx/price-tracker/internal/config"
	"github.com/atmx/price-tracker/internal/retention"
	"github.com/atmx/price-tracker/internal/source"
	"github.com/atmx/price-tracker/internal/store"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// openStore connects the configured durable store. The returned closer
// releases its connections.
func (a *App) openStore(ctx context.Context) (store.Store, func(), error) {
	switch a.Config.Store.Driver {
	case config.DriverPostgres:
		db := a.Config.Database
		pool, err := store.NewPool(ctx, store.PoolOptions{
			DSN:             db.DSN,
			MaxConns:        db.MaxOpenConns,
			MinConns:        db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgresStore(pool, db.Table, a.Logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		a.Logger.Info().Str("table", db.Table).Msg("connected to PostgreSQL")
		return pg, pool.Close, nil

	case config.DriverRedis:
		rdb, err := store.NewRedisClient(ctx, a.Config.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		a.Logger.Info().Str("key", a.Config.Redis.Key).Msg("connected to Redis")
		return store.NewRedisStore(rdb, a.Config.Redis.Key, a.Logger), func() { rdb.Close() }, nil

	case config.DriverMemory:
		a.Logger.Warn().Msg("using in-memory store; data will not persist")
		return store.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", a.Config.Store.Driver)
}

// Stack is the decorated store the service reads and writes through.
type Stack struct {
	// Store is the outermost layer.
	Store store.Store
	// Cache is nil when caching is disabled.
	Cache *store.CachedStore
	// Retention is nil when compaction is disabled.
	Retention *retention.Store
}

// buildStack layers durable -> CachedStore -> retention.Store according to
// configuration.
func (a *App) buildStack(durable store.Store) (Stack, error) {
	stack := Stack{Store: durable}

	if a.Config.Cache.Enabled {
		stack.Cache = store.NewCachedStore(stack.Store)
		stack.Store = stack.Cache
	}

	if a.Config.Retention.Enabled {
		loc, err := a.Config.Location()
		if err != nil {
			return Stack{}, err
		}
		stack.Retention = retention.NewStore(stack.Store, retention.DefaultPolicy(loc), a.Logger)
		stack.Store = stack.Retention
	}
	return stack, nil
}

func (a *App) newSource() source.Source {
	src := a.Config.Source
	if src.Kind == config.SourceGenerator {
		a.Logger.Warn().Float64("start_price", src.Generator.StartPrice).Msg("using synthetic price generator")
		return source.NewGenerator(src.Generator.StartPrice, src.Generator.Volatility, src.Generator.Seed)
	}
	return source.NewCoinGecko(source.CoinGeckoOptions{
		BaseURL:    src.CoinGecko.BaseURL,
		APIKey:     src.CoinGecko.APIKey,
		CoinID:     src.CoinGecko.CoinID,
		VsCurrency: src.CoinGecko.VsCurrency,
		Timeout:    src.CoinGecko.RequestTimeout,
		UserAgent:  src.CoinGecko.UserAgent,
	}, a.Logger)
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/cheese-coach/internal/cache"
	"github.com/park285/cheese-coach/internal/chess/analysis"
	"github.com/park285/cheese-coach/internal/chess/uci"
	"github.com/park285/cheese-coach/internal/config"
	"github.com/park285/cheese-coach/internal/obslog"
)

func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "coach",
		Short: "Chess coaching engine: analysis, bot moves and drill feed",
		Args:  cobra.NoArgs,

		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := obslog.InitFromEnv(); err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			return nil
		},
	}

	root.AddCommand(Analyze())
	root.AddCommand(Bot())
	root.AddCommand(Serve())
	return root
}

// app holds what every command builds from the environment.
type app struct {
	cfg    *config.AppConfig
	pool   *uci.Pool
	store  *cache.Store
	logger *zap.Logger
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := obslog.Named("coach")

	pool, err := uci.NewPool(uci.PoolConfig{
		BinaryPath: cfg.StockfishPath,
		Logger:     obslog.Named("pool"),
		SessionOptions: []uci.SessionOption{
			uci.WithLogger(obslog.Named("uci")),
			uci.WithReadyTimeout(cfg.ReadyTimeout),
		},
	})
	if err != nil {
		return nil, err
	}

	rt := &app{cfg: cfg, pool: pool, logger: logger}
	if cfg.RedisURL != "" {
		store, err := cache.Dial(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			logger.Warn("snapshot cache disabled", zap.Error(err))
		} else {
			rt.store = store
		}
	}
	return rt, nil
}

func (rt *app) engineOptions(lines int) uci.Options {
	return uci.Options{
		Threads: rt.cfg.EngineThreads,
		HashMB:  rt.cfg.EngineHashMB,
		MultiPV: lines,
	}
}

func (rt *app) analyzerOptions() []analysis.Option {
	opts := []analysis.Option{analysis.WithLogger(obslog.Named("analysis"))}
	if rt.store != nil {
		opts = append(opts, analysis.WithStore(rt.store))
	}
	return opts
}

func (rt *app) Close() {
	if err := rt.pool.Close(); err != nil {
		rt.logger.Warn("engine pool close", zap.Error(err))
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

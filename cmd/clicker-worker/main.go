package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clicker/internal/config"
	"clicker/internal/db"
	"clicker/internal/game"
	"clicker/internal/leaderboard"
	"clicker/internal/live"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel(cfg.LogLevel)}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := game.NewService(game.NewPGStore(pool), logger)
	board := leaderboard.NewCache(nil, svc, logger)
	var fanout *live.RedisFanout
	if cfg.RedisURL != "" {
		rdb, err := db.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()

		// Auto-clicks made here reach viewers through the API instances.
		fanout = live.NewRedisFanout(rdb, live.NewHub(logger), logger)
		svc.SetPublisher(fanout)
		if !cfg.RunOnce {
			go func() {
				if err := fanout.Run(ctx); err != nil {
					logger.Error("live fanout stopped", "err", err)
				}
			}()
		}
		board = leaderboard.NewCache(rdb, svc, logger)
	}

	if cfg.RunOnce {
		autoClick(ctx, logger, svc)
		if fanout != nil {
			logger.Info("live updates flushed", "count", fanout.Flush(ctx))
		}
		refreshLeaderboard(ctx, logger, board, pool)
		logger.Info("worker run-once completed")
		return
	}

	clickTicker := time.NewTicker(cfg.AutoClickEvery)
	defer clickTicker.Stop()
	boardTicker := time.NewTicker(cfg.LeaderboardEvery)
	defer boardTicker.Stop()

	logger.Info("worker started",
		"autoclick_every", cfg.AutoClickEvery.String(),
		"leaderboard_every", cfg.LeaderboardEvery.String(),
	)
	refreshLeaderboard(ctx, logger, board, pool)
	for {
		select {
		case <-ctx.Done():
			if fanout != nil {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				fanout.Flush(flushCtx)
				cancel()
			}
			logger.Info("worker shutdown")
			return
		case <-clickTicker.C:
			autoClick(ctx, logger, svc)
		case <-boardTicker.C:
			refreshLeaderboard(ctx, logger, board, pool)
		}
	}
}

func autoClick(ctx context.Context, logger *slog.Logger, svc *game.Service) {
	n, err := svc.AutoClick(ctx)
	if err != nil {
		logger.Error("auto click pass failed", "err", err)
		return
	}
	if n > 0 {
		logger.Debug("auto click pass complete", "clicked", n)
	}
}

func refreshLeaderboard(ctx context.Context, logger *slog.Logger, board *leaderboard.Cache, pool *pgxpool.Pool) {
	if err := board.Rebuild(ctx); err != nil {
		logger.Error("leaderboard rebuild failed", "err", err)
	}
	pruned, err := db.PruneSessions(ctx, pool, time.Now())
	if err != nil {
		logger.Error("session prune failed", "err", err)
		return
	}
	if pruned > 0 {
		logger.Info("expired sessions pruned", "count", pruned)
	}
}

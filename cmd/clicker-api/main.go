package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clicker/internal/api"
	"clicker/internal/auth"
	"clicker/internal/config"
	"clicker/internal/db"
	"clicker/internal/game"
	"clicker/internal/leaderboard"
	"clicker/internal/live"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.LogLevel(cfg.LogLevel)}))

	var store game.Store
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store, state is lost on restart")
		store = game.NewMemoryStore(nil)
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("db migrate failed", "err", err)
			os.Exit(1)
		}
		store = game.NewPGStore(pool)
	}

	hub := live.NewHub(logger, live.WithOriginPatterns(cfg.WSOrigins...))
	gameSvc := game.NewService(store, logger,
		game.WithPublisher(hub),
		game.WithSessionTTL(cfg.SessionTTL),
	)
	opts := []api.Option{api.WithHub(hub)}

	if cfg.RedisURL != "" {
		rdb, err := db.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()

		fanout := live.NewRedisFanout(rdb, hub, logger)
		gameSvc.SetPublisher(fanout)
		go func() {
			if err := fanout.Run(ctx); err != nil {
				logger.Error("live fanout stopped", "err", err)
			}
		}()
		opts = append(opts, api.WithLeaderboard(leaderboard.NewCache(rdb, gameSvc, logger)))
	}

	if cfg.SeedUpgrades {
		if err := gameSvc.SeedDefaults(ctx); err != nil {
			logger.Error("seed defaults failed", "err", err)
			os.Exit(1)
		}
	}
	if cfg.TelegramBotToken != "" {
		opts = append(opts, api.WithTelegram(auth.NewTelegramVerifier(cfg.TelegramBotToken, auth.DefaultInitDataMaxAge)))
	}

	server := api.New(logger, gameSvc, opts...)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("clicker api listening", "addr", cfg.Addr, "store", cfg.Store, "redis", cfg.RedisURL != "")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

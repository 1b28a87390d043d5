package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type APIConfig struct {
	Addr             string
	Store            string
	DatabaseURL      string
	RedisURL         string
	TelegramBotToken string
	SessionTTL       time.Duration
	SeedUpgrades     bool
	LogLevel         string

	// WSOrigins are host patterns a browser may open /v1/ws from, besides
	// the API's own host.
	WSOrigins []string
}

// DefaultWSOrigins lets local dev servers reach the socket.
const DefaultWSOrigins = "localhost:*,127.0.0.1:*"

type WorkerConfig struct {
	DatabaseURL      string
	RedisURL         string
	AutoClickEvery   time.Duration
	LeaderboardEvery time.Duration
	RunOnce          bool
	LogLevel         string
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("CLICKER_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:             addr,
		Store:            strings.ToLower(envDefault("CLICKER_STORE", StorePostgres)),
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:         strings.TrimSpace(os.Getenv("REDIS_URL")),
		TelegramBotToken: strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		SessionTTL:       envDurationDefault("CLICKER_SESSION_TTL", 720*time.Hour),
		SeedUpgrades:     envBoolDefault("CLICKER_SEED_UPGRADES", true),
		LogLevel:         envDefault("CLICKER_LOG_LEVEL", "info"),
		WSOrigins:        envList("CLICKER_WS_ORIGINS", DefaultWSOrigins),
	}
	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return cfg, fmt.Errorf("CLICKER_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:         strings.TrimSpace(os.Getenv("REDIS_URL")),
		AutoClickEvery:   envDurationDefault("CLICKER_AUTOCLICK_EVERY", 2*time.Second),
		LeaderboardEvery: envDurationDefault("CLICKER_LEADERBOARD_EVERY", 30*time.Second),
		RunOnce:          envBoolDefault("CLICKER_WORKER_RUN_ONCE", false),
		LogLevel:         envDefault("CLICKER_LOG_LEVEL", "info"),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AutoClickEvery <= 0 || cfg.LeaderboardEvery <= 0 {
		return cfg, fmt.Errorf("worker intervals must be positive")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("CLK_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

// LogLevel maps CLICKER_LOG_LEVEL onto slog; unknown values mean info.
func LogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envList(key, fallback string) []string {
	var out []string
	for _, part := range strings.Split(envDefault(key, fallback), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

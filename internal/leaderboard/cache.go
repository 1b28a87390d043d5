package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"clicker/internal/game"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "clicker:leaderboard:"
	builtKey  = keyPrefix + "built_at"

	// Depth is how many rows per metric the cache keeps.
	Depth = 100
)

// Source produces authoritative rankings. *game.Service satisfies it.
type Source interface {
	Leaderboard(ctx context.Context, metric game.LeaderboardMetric, limit int) ([]game.LeaderboardRow, error)
}

type playerMeta struct {
	Username      string `json:"username"`
	PrestigeLevel int64  `json:"prestige_level"`
	Value         int64  `json:"value"`
}

// Cache serves rankings from redis sorted sets rebuilt by the worker and
// falls back to the source when redis is missing, cold or failing.
type Cache struct {
	rdb *redis.Client
	src Source
	log *slog.Logger
}

func NewCache(rdb *redis.Client, src Source, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{rdb: rdb, src: src, log: logger}
}

func rankingKey(metric game.LeaderboardMetric) string {
	return keyPrefix + string(metric)
}

func rowsKey(metric game.LeaderboardMetric) string {
	return rankingKey(metric) + ":rows"
}

// Rebuild replaces every ranking with a fresh snapshot from the source.
func (c *Cache) Rebuild(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	pipe := c.rdb.TxPipeline()
	for _, metric := range game.Metrics() {
		rows, err := c.src.Leaderboard(ctx, metric, Depth)
		if err != nil {
			return fmt.Errorf("load %s ranking: %w", metric, err)
		}
		members, meta, err := snapshot(rows)
		if err != nil {
			return fmt.Errorf("encode %s ranking: %w", metric, err)
		}
		pipe.Del(ctx, rankingKey(metric), rowsKey(metric))
		if len(members) == 0 {
			continue
		}
		pipe.ZAdd(ctx, rankingKey(metric), members...)
		pipe.HSet(ctx, rowsKey(metric), meta)
	}
	pipe.Set(ctx, builtKey, time.Now().UTC().Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write rankings: %w", err)
	}
	return nil
}

// snapshot scores rows by their position in the source ranking, so the
// sorted set keeps the source's tiebreaks. Displayed values live in meta.
func snapshot(rows []game.LeaderboardRow) ([]redis.Z, map[string]any, error) {
	members := make([]redis.Z, 0, len(rows))
	meta := make(map[string]any, len(rows))
	for i, r := range rows {
		members = append(members, redis.Z{Score: float64(len(rows) - i), Member: r.UserID})
		raw, err := json.Marshal(playerMeta{Username: r.Username, PrestigeLevel: r.PrestigeLevel, Value: r.Value})
		if err != nil {
			return nil, nil, err
		}
		meta[r.UserID] = raw
	}
	return members, meta, nil
}

func (c *Cache) Leaderboard(ctx context.Context, metric game.LeaderboardMetric, limit int) ([]game.LeaderboardRow, error) {
	if limit <= 0 || limit > Depth {
		limit = 10
	}
	if c.rdb == nil {
		return c.src.Leaderboard(ctx, metric, limit)
	}
	rows, err := c.top(ctx, metric, limit)
	if err != nil {
		c.log.Warn("leaderboard cache read failed", "metric", metric, "err", err)
		return c.src.Leaderboard(ctx, metric, limit)
	}
	if len(rows) == 0 {
		return c.src.Leaderboard(ctx, metric, limit)
	}
	return rows, nil
}

func (c *Cache) top(ctx context.Context, metric game.LeaderboardMetric, limit int) ([]game.LeaderboardRow, error) {
	zs, err := c.rdb.ZRevRangeWithScores(ctx, rankingKey(metric), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(zs) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(zs))
	for _, z := range zs {
		ids = append(ids, fmt.Sprint(z.Member))
	}
	meta, err := c.rdb.HMGet(ctx, rowsKey(metric), ids...).Result()
	if err != nil {
		return nil, err
	}
	return rowsFromRanking(zs, meta), nil
}

// rowsFromRanking joins a ZREVRANGE result with the row metadata that
// HMGET returned for the same members, in the same order.
func rowsFromRanking(zs []redis.Z, meta []any) []game.LeaderboardRow {
	out := make([]game.LeaderboardRow, 0, len(zs))
	for i, z := range zs {
		row := game.LeaderboardRow{
			Rank:   int64(i + 1),
			UserID: fmt.Sprint(z.Member),
		}
		if i < len(meta) {
			if s, ok := meta[i].(string); ok {
				var m playerMeta
				if json.Unmarshal([]byte(s), &m) == nil {
					row.Username = m.Username
					row.PrestigeLevel = m.PrestigeLevel
					row.Value = m.Value
				}
			}
		}
		out = append(out, row)
	}
	return out
}

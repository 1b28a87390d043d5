package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"clicker/internal/game"

	"github.com/redis/go-redis/v9"
)

const ChannelPrefix = "clicker:live:"

type envelope struct {
	userID  string
	payload []byte
}

// RedisFanout relays updates through redis pub/sub so that every API
// instance can reach viewers connected to any other instance. Updates
// received from redis are handed to the local hub.
type RedisFanout struct {
	rdb   *redis.Client
	local *Hub
	log   *slog.Logger
	out   chan envelope
}

func NewRedisFanout(rdb *redis.Client, local *Hub, logger *slog.Logger) *RedisFanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisFanout{
		rdb:   rdb,
		local: local,
		log:   logger,
		out:   make(chan envelope, 256),
	}
}

func Channel(userID string) string {
	return ChannelPrefix + userID
}

// Publish queues u for redis. It drops the update when the queue is full.
func (f *RedisFanout) Publish(userID string, u game.Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		f.log.Error("encode live update", "user_id", userID, "err", err)
		return
	}
	select {
	case f.out <- envelope{userID: userID, payload: payload}:
	default:
		f.log.Warn("live fanout queue full, update dropped", "user_id", userID)
	}
}

// Run publishes queued updates and relays subscribed ones until ctx ends.
func (f *RedisFanout) Run(ctx context.Context) error {
	sub := f.rdb.PSubscribe(ctx, ChannelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	go f.publishLoop(ctx)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.relay(msg.Channel, msg.Payload)
		}
	}
}

func (f *RedisFanout) relay(channel, payload string) {
	userID := strings.TrimPrefix(channel, ChannelPrefix)
	if userID == "" || userID == channel {
		return
	}
	var u game.Update
	if err := json.Unmarshal([]byte(payload), &u); err != nil {
		f.log.Warn("decode live update", "channel", channel, "err", err)
		return
	}
	f.local.Publish(userID, u)
}

func (f *RedisFanout) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-f.out:
			f.send(ctx, env)
		}
	}
}

// Flush publishes every queued update and reports how many reached redis.
// It returns once the queue is empty.
func (f *RedisFanout) Flush(ctx context.Context) int {
	sent := 0
	for {
		select {
		case env := <-f.out:
			if f.send(ctx, env) {
				sent++
			}
		default:
			return sent
		}
	}
}

func (f *RedisFanout) send(ctx context.Context, env envelope) bool {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.rdb.Publish(pctx, Channel(env.userID), env.payload).Err(); err != nil {
		f.log.Warn("publish live update", "user_id", env.userID, "err", err)
		return false
	}
	return true
}

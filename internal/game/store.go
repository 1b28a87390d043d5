package game

import (
	"context"
	"time"
)

// Store persists users, game state and the upgrade catalog.
//
// Update is the only write path for game state. It must serialize calls
// for the same user, hand fn a private copy of the current state, and
// persist that copy (stamping UpdatedAt) only when fn returns nil.
// Anything fn recorded through Tx is committed or discarded with it.
type Store interface {
	GetState(ctx context.Context, userID string) (State, error)
	CreateState(ctx context.Context, st State) (State, error)
	Update(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx, st *State) error) (State, error)

	SeedUpgrades(ctx context.Context, upgrades []Upgrade) error
	Upgrades(ctx context.Context) ([]Upgrade, error)
	Owned(ctx context.Context, userID string) ([]Ownership, error)

	// EnsureUser finds a user by telegram id (when set) or username and
	// creates one with newID otherwise. created reports which happened.
	EnsureUser(ctx context.Context, in LoginInput, newID string) (u User, created bool, err error)
	CreateSession(ctx context.Context, userID, token string, expiresAt time.Time) error
	SessionUser(ctx context.Context, token string, now time.Time) (User, error)

	AutoClickerUsers(ctx context.Context) ([]string, error)
	Leaderboard(ctx context.Context, metric LeaderboardMetric, limit int) ([]LeaderboardRow, error)
}

// Tx is the part of a store reachable from inside Update.
type Tx interface {
	ClaimIdempotency(ctx context.Context, key, action string) error
	Upgrade(ctx context.Context, upgradeID string) (Upgrade, error)
	Owns(ctx context.Context, upgradeID string) (bool, error)
	RecordPurchase(ctx context.Context, upgradeID string, at time.Time) error
}

// Publisher delivers updates to live viewers. Publish must not block and
// has no way to report failure.
type Publisher interface {
	Publish(userID string, u Update)
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

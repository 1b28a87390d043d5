package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clicker/internal/economy"

	"github.com/google/uuid"
)

const DefaultSessionTTL = 30 * 24 * time.Hour

type Service struct {
	store      Store
	pub        Publisher
	log        *slog.Logger
	clock      Clock
	rand       economy.Source
	sessionTTL time.Duration
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithRandom(src economy.Source) Option {
	return func(s *Service) { s.rand = src }
}

func WithSessionTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:      store,
		log:        logger,
		clock:      RealClock{},
		rand:       economy.NewTimeSeededSource(),
		sessionTTL: DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPublisher swaps the live-update sink. Call before serving traffic.
func (s *Service) SetPublisher(p Publisher) {
	s.pub = p
}

func (s *Service) SeedDefaults(ctx context.Context) error {
	return s.store.SeedUpgrades(ctx, DefaultCatalog())
}

func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	var out LoginResult
	in.Username = strings.TrimSpace(in.Username)
	in.TelegramID = strings.TrimSpace(in.TelegramID)
	if in.Username == "" {
		in.Username = fmt.Sprintf("user_%d", s.clock.Now().UnixMilli())
	}
	if in.TelegramID == "" {
		if err := ValidateUsername(in.Username); err != nil {
			return out, err
		}
	}

	user, created, err := s.store.EnsureUser(ctx, in, uuid.NewString())
	if err != nil {
		return out, err
	}
	if _, err := s.store.CreateState(ctx, NewState(user.ID)); err != nil {
		return out, err
	}
	if created {
		s.log.Info("player created", "user_id", user.ID, "platform", user.Platform)
	}

	token := uuid.NewString()
	expiresAt := s.clock.Now().Add(s.sessionTTL)
	if err := s.store.CreateSession(ctx, user.ID, token, expiresAt); err != nil {
		return out, err
	}
	return LoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *Service) Authenticate(ctx context.Context, token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, ErrUnauthorized
	}
	return s.store.SessionUser(ctx, token, s.clock.Now())
}

// State returns the user's state, creating the initial one on first read.
func (s *Service) State(ctx context.Context, userID string) (View, error) {
	st, err := s.store.GetState(ctx, userID)
	if errors.Is(err, ErrStateNotFound) {
		st, err = s.store.CreateState(ctx, NewState(userID))
	}
	if err != nil {
		return View{}, err
	}
	return NewView(st, s.clock.Now()), nil
}

func (s *Service) Click(ctx context.Context, userID string) (ClickResult, error) {
	var res ClickOutcome
	st, err := s.store.Update(ctx, userID, func(_ context.Context, _ Tx, st *State) error {
		next, out, err := Click(*st, s.clock.Now(), s.rand)
		if err != nil {
			return err
		}
		*st = next
		res = out
		return nil
	})
	if err != nil {
		return ClickResult{}, err
	}
	if res.ResetOccurred {
		s.log.Debug("reset rolled", "user_id", userID, "insured", res.Insured, "chance", res.ResetChance)
	}
	view := s.broadcast(st)
	return ClickResult{
		State:         view,
		ClicksAdded:   res.ClicksAdded,
		ResetOccurred: res.ResetOccurred,
		Insured:       res.Insured,
		ResetChance:   res.ResetChance,
	}, nil
}

func (s *Service) PurchaseUpgrade(ctx context.Context, in PurchaseInput) (PurchaseResult, error) {
	var up Upgrade
	st, err := s.store.Update(ctx, in.UserID, func(ctx context.Context, tx Tx, st *State) error {
		if err := tx.ClaimIdempotency(ctx, in.IdempotencyKey, "purchase_upgrade"); err != nil {
			return err
		}
		var err error
		up, err = tx.Upgrade(ctx, in.UpgradeID)
		if err != nil {
			return err
		}
		if !up.Repeatable {
			owned, err := tx.Owns(ctx, up.ID)
			if err != nil {
				return err
			}
			if owned {
				return ErrAlreadyOwned
			}
		}
		now := s.clock.Now()
		next, err := Purchase(*st, up, now)
		if err != nil {
			return err
		}
		if err := tx.RecordPurchase(ctx, up.ID, now); err != nil {
			return err
		}
		*st = next
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	s.log.Info("upgrade purchased", "user_id", in.UserID, "upgrade_id", up.ID)
	return PurchaseResult{State: s.broadcast(st), Upgrade: up.View()}, nil
}

func (s *Service) Prestige(ctx context.Context, in PrestigeInput) (PrestigeResult, error) {
	var gained int64
	st, err := s.store.Update(ctx, in.UserID, func(ctx context.Context, tx Tx, st *State) error {
		if err := tx.ClaimIdempotency(ctx, in.IdempotencyKey, "prestige"); err != nil {
			return err
		}
		next, points, err := Prestige(*st)
		if err != nil {
			return err
		}
		*st = next
		gained = points
		return nil
	})
	if err != nil {
		return PrestigeResult{}, err
	}
	s.log.Info("prestige reached", "user_id", in.UserID, "level", st.PrestigeLevel, "points_gained", gained)
	return PrestigeResult{State: s.broadcast(st), PointsGained: gained}, nil
}

func (s *Service) Upgrades(ctx context.Context) ([]UpgradeView, error) {
	ups, err := s.store.Upgrades(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UpgradeView, 0, len(ups))
	for _, u := range ups {
		out = append(out, u.View())
	}
	return out, nil
}

func (s *Service) OwnedUpgrades(ctx context.Context, userID string) ([]Ownership, error) {
	return s.store.Owned(ctx, userID)
}

func (s *Service) Leaderboard(ctx context.Context, metric LeaderboardMetric, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return s.store.Leaderboard(ctx, metric, limit)
}

// AutoClick runs one click for every player holding the auto-clicker.
// Players still on cooldown are skipped silently.
func (s *Service) AutoClick(ctx context.Context) (int, error) {
	ids, err := s.store.AutoClickerUsers(ctx)
	if err != nil {
		return 0, err
	}
	clicked := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return clicked, err
		}
		_, err := s.Click(ctx, id)
		switch {
		case err == nil:
			clicked++
		case errors.Is(err, ErrCooldownActive):
		default:
			s.log.Warn("auto click failed", "user_id", id, "err", err)
		}
	}
	return clicked, nil
}

func (s *Service) broadcast(st State) View {
	view := NewView(st, s.clock.Now())
	if s.pub != nil {
		s.pub.Publish(st.UserID, Update{Type: UpdateTypeGameState, Data: view})
	}
	return view
}

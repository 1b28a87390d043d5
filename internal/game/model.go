package game

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"clicker/internal/economy"
)

const (
	DefaultCooldownSeconds = 1.0
	MinCooldownSeconds     = 0.1
	DefaultClickMultiplier = int64(1)

	// InsuranceSaveChance is the odds that reset insurance halves the
	// counter instead of zeroing it.
	InsuranceSaveChance = 0.5
)

var (
	ErrStateNotFound         = errors.New("game state not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrUpgradeNotFound       = errors.New("upgrade not found")
	ErrRequirementsNotMet    = errors.New("requirements not met")
	ErrInsufficientResources = errors.New("insufficient resources")
	ErrAlreadyOwned          = errors.New("upgrade already owned")
	ErrCooldownActive        = errors.New("button on cooldown")
	ErrPrestigeIneligible    = errors.New("not enough resets to prestige")
	ErrDuplicateIdempotency  = errors.New("duplicate idempotency key")
	ErrTxConflict            = errors.New("transaction conflict, retry")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidUsername       = errors.New("username must be 3-32 letters, digits or underscores")
)

// CooldownError is a gating signal, not a failure: the caller may retry
// after Remaining seconds.
type CooldownError struct {
	Remaining float64
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %.2fs remaining", ErrCooldownActive, e.Remaining)
}

func (e *CooldownError) Unwrap() error { return ErrCooldownActive }

type PrestigeError struct {
	Required int64
	Current  int64
}

func (e *PrestigeError) Error() string {
	return fmt.Sprintf("%s: need %d, have %d", ErrPrestigeIneligible, e.Required, e.Current)
}

func (e *PrestigeError) Unwrap() error { return ErrPrestigeIneligible }

type EffectKind string

const (
	EffectAutoClicker    EffectKind = "auto_clicker"
	EffectResetInsurance EffectKind = "reset_insurance"
	EffectRageMode       EffectKind = "rage_mode"
)

// ActiveEffect is one entry of a state's effect set. A nil ExpiresAt marks
// a latch that stays on until prestige clears the set.
type ActiveEffect struct {
	Kind        EffectKind `json:"kind"`
	ActivatedAt time.Time  `json:"activated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (e ActiveEffect) expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

type State struct {
	UserID                string
	CurrentNumber         int64
	MaxNumber             int64
	TotalClicks           int64
	TotalResets           int64
	PrestigeLevel         int64
	PrestigePoints        int64
	ClickMultiplier       int64
	ButtonCooldown        float64
	ResetChanceReduction  float64
	LuckyStreakProtection int64
	Effects               []ActiveEffect
	LastClick             *time.Time
	UpdatedAt             time.Time
}

func NewState(userID string) State {
	return State{
		UserID:          userID,
		ClickMultiplier: DefaultClickMultiplier,
		ButtonCooldown:  DefaultCooldownSeconds,
	}
}

// Clone returns a copy that shares no slices or pointers with s.
func (s State) Clone() State {
	out := s
	if s.Effects != nil {
		out.Effects = make([]ActiveEffect, len(s.Effects))
		for i, e := range s.Effects {
			if e.ExpiresAt != nil {
				at := *e.ExpiresAt
				e.ExpiresAt = &at
			}
			out.Effects[i] = e
		}
	}
	if s.LastClick != nil {
		at := *s.LastClick
		out.LastClick = &at
	}
	return out
}

func (s State) effect(kind EffectKind) (ActiveEffect, bool) {
	for _, e := range s.Effects {
		if e.Kind == kind {
			return e, true
		}
	}
	return ActiveEffect{}, false
}

// Active reports whether kind is present and unexpired at now.
func (s State) Active(kind EffectKind, now time.Time) bool {
	e, ok := s.effect(kind)
	return ok && !e.expired(now)
}

func (s State) AutoClickerActive() bool {
	_, ok := s.effect(EffectAutoClicker)
	return ok
}

func (s State) ResetInsuranceActive() bool {
	_, ok := s.effect(EffectResetInsurance)
	return ok
}

func (s State) RageModeEndTime() *time.Time {
	e, ok := s.effect(EffectRageMode)
	if !ok {
		return nil
	}
	return e.ExpiresAt
}

// Expire drops timed effects whose end time is strictly before now.
func (s *State) Expire(now time.Time) {
	if len(s.Effects) == 0 {
		return
	}
	kept := s.Effects[:0:0]
	for _, e := range s.Effects {
		if !e.expired(now) {
			kept = append(kept, e)
		}
	}
	s.Effects = kept
}

func (s *State) activate(kind EffectKind, now time.Time, expiresAt *time.Time) {
	next := ActiveEffect{Kind: kind, ActivatedAt: now, ExpiresAt: expiresAt}
	for i, e := range s.Effects {
		if e.Kind == kind {
			s.Effects[i] = next
			return
		}
	}
	s.Effects = append(s.Effects, next)
}

// Normalize enforces the persisted-state invariant: every counter finite,
// floored and non-negative, every real finite. Bad values fall back to
// safe defaults rather than aborting the transaction.
func (s *State) Normalize() {
	s.CurrentNumber = economy.NonNegative(s.CurrentNumber)
	s.MaxNumber = economy.NonNegative(s.MaxNumber)
	if s.MaxNumber < s.CurrentNumber {
		s.MaxNumber = s.CurrentNumber
	}
	s.TotalClicks = economy.NonNegative(s.TotalClicks)
	s.TotalResets = economy.NonNegative(s.TotalResets)
	s.PrestigeLevel = economy.NonNegative(s.PrestigeLevel)
	s.PrestigePoints = economy.NonNegative(s.PrestigePoints)
	if s.ClickMultiplier < DefaultClickMultiplier {
		s.ClickMultiplier = DefaultClickMultiplier
	}
	s.LuckyStreakProtection = economy.NonNegative(s.LuckyStreakProtection)
	s.ButtonCooldown = economy.Real(s.ButtonCooldown, MinCooldownSeconds, DefaultCooldownSeconds)
	s.ResetChanceReduction = economy.Real(s.ResetChanceReduction, 0, 0)
}

// EffectiveMultiplier folds the prestige bonus into the stored multiplier.
func (s State) EffectiveMultiplier() int64 {
	return economy.SaturatingAdd(s.ClickMultiplier, economy.PrestigeBonus(s.PrestigeLevel).ClickMultiplier)
}

func (s State) EffectiveReduction() float64 {
	r := s.ResetChanceReduction + economy.PrestigeBonus(s.PrestigeLevel).ResetChanceReduction
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	TelegramID string    `json:"telegram_id,omitempty"`
	Platform   string    `json:"platform"`
	CreatedAt  time.Time `json:"created_at"`
}

var usernameRE = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

func ValidateUsername(username string) error {
	if !usernameRE.MatchString(strings.TrimSpace(username)) {
		return ErrInvalidUsername
	}
	return nil
}

func normalizePlatform(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "telegram":
		return "telegram"
	default:
		return "web"
	}
}

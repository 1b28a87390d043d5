package game

import (
	"time"

	"clicker/internal/economy"
)

type View struct {
	UserID                string        `json:"user_id"`
	CurrentNumber         int64         `json:"current_number"`
	MaxNumber             int64         `json:"max_number"`
	TotalClicks           int64         `json:"total_clicks"`
	TotalResets           int64         `json:"total_resets"`
	PrestigeLevel         int64         `json:"prestige_level"`
	PrestigePoints        int64         `json:"prestige_points"`
	ClickMultiplier       int64         `json:"click_multiplier"`
	ButtonCooldown        float64       `json:"button_cooldown"`
	ResetChanceReduction  float64       `json:"reset_chance_reduction"`
	IsAutoClickerActive   bool          `json:"is_auto_clicker_active"`
	ResetInsuranceActive  bool          `json:"reset_insurance_active"`
	LuckyStreakProtection int64         `json:"lucky_streak_protection"`
	RageMode              bool          `json:"rage_mode"`
	RageModeEndTime       *time.Time    `json:"rage_mode_end_time"`
	LastClick             *time.Time    `json:"last_click"`
	UpdatedAt             time.Time     `json:"updated_at"`
	ResetChance           float64       `json:"reset_chance"`
	RemainingCooldown     float64       `json:"remaining_cooldown"`
	PrestigeCost          int64         `json:"prestige_cost"`
	CanPrestige           bool          `json:"can_prestige"`
	PrestigeBonus         economy.Bonus `json:"prestige_bonus"`
}

// NewView renders st as seen at now. Expired timed effects are hidden.
func NewView(st State, now time.Time) View {
	st = st.Clone()
	st.Expire(now)
	return View{
		UserID:                st.UserID,
		CurrentNumber:         st.CurrentNumber,
		MaxNumber:             st.MaxNumber,
		TotalClicks:           st.TotalClicks,
		TotalResets:           st.TotalResets,
		PrestigeLevel:         st.PrestigeLevel,
		PrestigePoints:        st.PrestigePoints,
		ClickMultiplier:       st.ClickMultiplier,
		ButtonCooldown:        st.ButtonCooldown,
		ResetChanceReduction:  st.ResetChanceReduction,
		IsAutoClickerActive:   st.AutoClickerActive(),
		ResetInsuranceActive:  st.ResetInsuranceActive(),
		LuckyStreakProtection: st.LuckyStreakProtection,
		RageMode:              st.Active(EffectRageMode, now),
		RageModeEndTime:       st.RageModeEndTime(),
		LastClick:             st.LastClick,
		UpdatedAt:             st.UpdatedAt,
		ResetChance:           economy.ResetChance(float64(st.CurrentNumber), st.EffectiveReduction()),
		RemainingCooldown:     economy.RemainingCooldown(st.LastClick, st.ButtonCooldown, now),
		PrestigeCost:          economy.PrestigeCost(st.PrestigeLevel),
		CanPrestige:           economy.CanPrestige(st.TotalResets, st.PrestigeLevel),
		PrestigeBonus:         economy.PrestigeBonus(st.PrestigeLevel),
	}
}

type ClickResult struct {
	State         View    `json:"game_state"`
	ClicksAdded   int64   `json:"clicks_added"`
	ResetOccurred bool    `json:"reset_occurred"`
	Insured       bool    `json:"insured"`
	ResetChance   float64 `json:"reset_chance"`
}

type PurchaseInput struct {
	UserID         string
	UpgradeID      string
	IdempotencyKey string
}

type PurchaseResult struct {
	State   View        `json:"game_state"`
	Upgrade UpgradeView `json:"upgrade"`
}

type PrestigeInput struct {
	UserID         string
	IdempotencyKey string
}

type PrestigeResult struct {
	State        View  `json:"game_state"`
	PointsGained int64 `json:"prestige_points_gained"`
}

type LoginInput struct {
	Username   string
	TelegramID string
	Platform   string
}

type LoginResult struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Update is the payload pushed to live viewers of a user.
type Update struct {
	Type string `json:"type"`
	Data View   `json:"data"`
}

const UpdateTypeGameState = "game_state"

type LeaderboardMetric string

const (
	MetricClicks   LeaderboardMetric = "clicks"
	MetricMax      LeaderboardMetric = "max"
	MetricPrestige LeaderboardMetric = "prestige"
)

func ParseMetric(s string) LeaderboardMetric {
	switch LeaderboardMetric(s) {
	case MetricMax, MetricPrestige:
		return LeaderboardMetric(s)
	default:
		return MetricClicks
	}
}

func Metrics() []LeaderboardMetric {
	return []LeaderboardMetric{MetricClicks, MetricMax, MetricPrestige}
}

type LeaderboardRow struct {
	Rank          int64  `json:"rank"`
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	Value         int64  `json:"value"`
	PrestigeLevel int64  `json:"prestige_level"`
}

// MetricValue picks the ranked value for metric out of st.
func MetricValue(st State, metric LeaderboardMetric) int64 {
	switch metric {
	case MetricMax:
		return st.MaxNumber
	case MetricPrestige:
		return st.PrestigeLevel
	default:
		return st.TotalClicks
	}
}

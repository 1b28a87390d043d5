package economy

import (
	"math"
	"time"
)

const (
	MinResetChance = 0.001
	MaxResetChance = 0.95

	BasePrestigeCost   = 100
	PrestigeCostGrowth = 1.2
	PointsPerPrestige  = 10
)

// ResetChance is the probability that a counter at n is wiped by the next
// click. The curve grows as (n/100)^1.5 and is capped at MaxResetChance
// before the reduction is subtracted.
func ResetChance(n, reduction float64) float64 {
	if !finite(n) || n < 0 {
		return MinResetChance
	}
	if !finite(reduction) {
		reduction = 0
	}
	base := math.Min(MaxResetChance, math.Pow(n/100, 1.5)*0.1)
	chance := math.Max(MinResetChance, base-reduction)
	// A negative reduction must not push the chance past the cap.
	return math.Min(MaxResetChance, chance)
}

// RollReset draws once from src. A positive protection counter blocks the
// reset outright and no sample is taken; consuming a charge is up to the caller.
func RollReset(src Source, n, reduction float64, protection int64) bool {
	if protection > 0 {
		return false
	}
	return src.Float64() < ResetChance(n, reduction)
}

func ClickYield(base, multiplier float64, rage bool) int64 {
	if !finite(base) || base < 0 {
		base = 1
	}
	if !finite(multiplier) || multiplier < 1 {
		multiplier = 1
	}
	y := base * multiplier
	if rage {
		y *= 2
	}
	y = math.Floor(y)
	if !finite(y) || y > math.MaxInt64/2 {
		return 1
	}
	return int64(y)
}

func IsOnCooldown(lastClick *time.Time, cooldownSeconds float64, now time.Time) bool {
	if lastClick == nil {
		return false
	}
	return now.Sub(*lastClick).Seconds() < cooldownSeconds
}

func RemainingCooldown(lastClick *time.Time, cooldownSeconds float64, now time.Time) float64 {
	if lastClick == nil {
		return 0
	}
	remaining := cooldownSeconds - now.Sub(*lastClick).Seconds()
	if !finite(remaining) || remaining < 0 {
		return 0
	}
	return remaining
}

func PrestigeCost(level int64) int64 {
	if level < 0 {
		level = 0
	}
	cost := math.Floor(BasePrestigeCost * math.Pow(PrestigeCostGrowth, float64(level)))
	if !finite(cost) || cost >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(cost)
}

func PrestigePoints(newLevel int64) int64 {
	if newLevel < 0 {
		return 0
	}
	return SaturatingMul(newLevel, PointsPerPrestige)
}

// Bonus is the permanent reward for a prestige level. It is derived from
// the level on demand and never stored.
type Bonus struct {
	ClickMultiplier          int64   `json:"click_multiplier"`
	ResetChanceReduction     float64 `json:"reset_chance_reduction"`
	PrestigePointsMultiplier float64 `json:"prestige_points_multiplier"`
}

func PrestigeBonus(level int64) Bonus {
	if level < 0 {
		level = 0
	}
	return Bonus{
		ClickMultiplier:          level / 2,
		ResetChanceReduction:     float64(level) * 0.01,
		PrestigePointsMultiplier: 1 + float64(level)*0.1,
	}
}

func CanPrestige(totalResets, level int64) bool {
	return totalResets >= PrestigeCost(level)
}

package game

import (
	"fmt"
	"time"

	"clicker/internal/economy"
)

type ClickOutcome struct {
	ClicksAdded   int64
	ResetOccurred bool
	// Insured is set when reset insurance halved the counter instead of zeroing it.
	Insured bool
	// ResetChance is the odds that were rolled against, before any reset.
	ResetChance float64
}

// Click runs one click against st. A click inside the cooldown window
// returns a *CooldownError and st unchanged.
func Click(st State, now time.Time, rng economy.Source) (State, ClickOutcome, error) {
	var res ClickOutcome
	if economy.IsOnCooldown(st.LastClick, st.ButtonCooldown, now) {
		return st, res, &CooldownError{Remaining: economy.RemainingCooldown(st.LastClick, st.ButtonCooldown, now)}
	}

	out := st.Clone()
	out.Expire(now)

	reduction := out.EffectiveReduction()
	res.ClicksAdded = economy.ClickYield(1, float64(out.EffectiveMultiplier()), out.Active(EffectRageMode, now))
	newNumber := economy.SaturatingAdd(out.CurrentNumber, res.ClicksAdded)
	out.TotalClicks = economy.SaturatingAdd(out.TotalClicks, res.ClicksAdded)
	if newNumber > out.MaxNumber {
		out.MaxNumber = newNumber
	}
	res.ResetChance = economy.ResetChance(float64(newNumber), reduction)

	out.CurrentNumber = newNumber
	if economy.RollReset(rng, float64(newNumber), reduction, out.LuckyStreakProtection) {
		res.ResetOccurred = true
		if out.ResetInsuranceActive() && rng.Float64() < InsuranceSaveChance {
			res.Insured = true
			out.CurrentNumber = newNumber / 2
		} else {
			out.CurrentNumber = 0
			out.TotalResets = economy.SaturatingAdd(out.TotalResets, 1)
			// Unreachable while RollReset treats protection as a hard block.
			if out.LuckyStreakProtection > 0 {
				out.LuckyStreakProtection--
			}
		}
	}

	out.Normalize()
	at := now
	out.LastClick = &at
	return out, res, nil
}

// Purchase applies up to st if the requirements for its type hold.
// Repeatability is the caller's concern.
func Purchase(st State, up Upgrade, now time.Time) (State, error) {
	switch up.Type {
	case UpgradeRecommended:
		if st.TotalClicks < up.RequiredClicks || st.TotalResets < up.RequiredResets {
			return st, fmt.Errorf("%w: need %d clicks and %d resets", ErrRequirementsNotMet, up.RequiredClicks, up.RequiredResets)
		}
	case UpgradePurchasable:
		if st.TotalClicks < up.ClickCost || st.TotalResets < up.ResetCost {
			return st, fmt.Errorf("%w: costs %d clicks and %d resets", ErrInsufficientResources, up.ClickCost, up.ResetCost)
		}
	default:
		return st, fmt.Errorf("%w: unknown upgrade type %q", ErrRequirementsNotMet, up.Type)
	}

	base := st.Clone()
	base.Expire(now)
	out := ApplyEffect(base, up.Effect, now)
	if up.Type == UpgradePurchasable {
		out.TotalClicks -= up.ClickCost
		out.TotalResets -= up.ResetCost
	}
	out.Normalize()
	return out, nil
}

// Prestige spends resets for the next level. Progress fields and every
// upgrade effect are wiped; MaxNumber and leftover resets survive.
func Prestige(st State) (State, int64, error) {
	cost := economy.PrestigeCost(st.PrestigeLevel)
	if st.TotalResets < cost {
		return st, 0, &PrestigeError{Required: cost, Current: st.TotalResets}
	}
	newLevel := st.PrestigeLevel + 1
	gained := economy.PrestigePoints(newLevel)

	out := st.Clone()
	out.CurrentNumber = 0
	out.TotalClicks = 0
	out.TotalResets -= cost
	out.PrestigeLevel = newLevel
	out.PrestigePoints = economy.SaturatingAdd(out.PrestigePoints, gained)
	out.ClickMultiplier = DefaultClickMultiplier
	out.ButtonCooldown = DefaultCooldownSeconds
	out.ResetChanceReduction = 0
	out.LuckyStreakProtection = 0
	out.Effects = nil
	out.LastClick = nil
	out.Normalize()
	return out, gained, nil
}

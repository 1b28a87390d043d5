package game

import (
	"errors"
	"math"
	"testing"
	"time"

	"clicker/internal/economy"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestClickAddsYield(t *testing.T) {
	st := NewState("u1")
	next, res, err := Click(st, t0, economy.NewSequence(0.99))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ClicksAdded != 1 || res.ResetOccurred {
		t.Fatalf("unexpected outcome %+v", res)
	}
	if next.CurrentNumber != 1 || next.TotalClicks != 1 || next.MaxNumber != 1 {
		t.Fatalf("unexpected state %+v", next)
	}
	if next.LastClick == nil || !next.LastClick.Equal(t0) {
		t.Fatalf("expected last click stamped at %v, got %v", t0, next.LastClick)
	}
	if st.LastClick != nil || st.CurrentNumber != 0 {
		t.Fatalf("input state mutated: %+v", st)
	}
}

func TestClickCooldownRejection(t *testing.T) {
	st := NewState("u1")
	last := t0.Add(-500 * time.Millisecond)
	st.LastClick = &last
	st.CurrentNumber = 7

	src := economy.NewSequence(0)
	for i := 0; i < 2; i++ {
		next, _, err := Click(st, t0, src)
		var cd *CooldownError
		if !errors.As(err, &cd) {
			t.Fatalf("attempt %d: expected cooldown error, got %v", i, err)
		}
		if !errors.Is(err, ErrCooldownActive) {
			t.Fatalf("cooldown error must match ErrCooldownActive")
		}
		if math.Abs(cd.Remaining-0.5) > 1e-9 {
			t.Fatalf("remaining = %v want 0.5", cd.Remaining)
		}
		if next.CurrentNumber != 7 || next.LastClick != st.LastClick {
			t.Fatalf("state changed on rejection: %+v", next)
		}
	}
	if src.Draws() != 0 {
		t.Fatalf("rejected click must not draw random samples")
	}
}

func TestClickRageModeAndExpiry(t *testing.T) {
	st := ApplyEffect(NewState("u1"), RageMode{Duration: 30 * time.Second}, t0)
	st.ClickMultiplier = 3

	_, res, err := Click(st, t0.Add(10*time.Second), economy.NewSequence(0.99))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ClicksAdded != 6 {
		t.Fatalf("rage click added %d want 6", res.ClicksAdded)
	}

	next, res, err := Click(st, t0.Add(31*time.Second), economy.NewSequence(0.99))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ClicksAdded != 3 {
		t.Fatalf("expired rage click added %d want 3", res.ClicksAdded)
	}
	if next.RageModeEndTime() != nil || next.Active(EffectRageMode, t0.Add(31*time.Second)) {
		t.Fatalf("expected rage mode cleared, effects=%+v", next.Effects)
	}
}

func TestClickPrestigeBonusFoldsIn(t *testing.T) {
	st := NewState("u1")
	st.PrestigeLevel = 4 // +2 multiplier, +0.04 reduction
	st.CurrentNumber = 99

	next, res, err := Click(st, t0, economy.NewSequence(0.99))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ClicksAdded != 3 {
		t.Fatalf("clicks added %d want 3", res.ClicksAdded)
	}
	want := economy.ResetChance(102, 0.04)
	if math.Abs(res.ResetChance-want) > 1e-12 {
		t.Fatalf("reset chance %v want %v", res.ResetChance, want)
	}
	if next.CurrentNumber != 102 {
		t.Fatalf("current %d want 102", next.CurrentNumber)
	}
}

func TestClickReset(t *testing.T) {
	st := NewState("u1")
	st.CurrentNumber = 500
	st.MaxNumber = 400
	st.TotalResets = 2

	next, res, err := Click(st, t0, economy.NewSequence(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ResetOccurred || res.Insured {
		t.Fatalf("unexpected outcome %+v", res)
	}
	if next.CurrentNumber != 0 || next.TotalResets != 3 {
		t.Fatalf("unexpected state after reset %+v", next)
	}
	if next.MaxNumber != 501 {
		t.Fatalf("max number %d want 501", next.MaxNumber)
	}
	if next.TotalClicks != 1 {
		t.Fatalf("total clicks %d want 1", next.TotalClicks)
	}
}

func TestClickProtectionBlocksResetWithoutConsuming(t *testing.T) {
	st := NewState("u1")
	st.CurrentNumber = 10_000
	st.LuckyStreakProtection = 2

	next, res, err := Click(st, t0, economy.NewSequence(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ResetOccurred {
		t.Fatalf("protection must block reset")
	}
	if next.LuckyStreakProtection != 2 {
		t.Fatalf("protection consumed: %d", next.LuckyStreakProtection)
	}
	if next.CurrentNumber != 10_001 {
		t.Fatalf("current %d want 10001", next.CurrentNumber)
	}
}

func TestClickInsurance(t *testing.T) {
	st := ApplyEffect(NewState("u1"), ResetInsurance{}, t0)
	st.CurrentNumber = 200

	// First sample triggers the reset, second wins the insurance coin.
	next, res, err := Click(st, t0, economy.NewSequence(0, 0.3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ResetOccurred || !res.Insured {
		t.Fatalf("expected insured reset, got %+v", res)
	}
	if next.CurrentNumber != 100 || next.TotalResets != 0 {
		t.Fatalf("insured reset state %+v", next)
	}

	next, res, err = Click(st, t0, economy.NewSequence(0, 0.7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.ResetOccurred || res.Insured {
		t.Fatalf("expected uninsured reset, got %+v", res)
	}
	if next.CurrentNumber != 0 || next.TotalResets != 1 {
		t.Fatalf("uninsured reset state %+v", next)
	}
}

func TestClickInsuranceRoughlyHalf(t *testing.T) {
	src := economy.NewSource(42)
	st := ApplyEffect(NewState("u1"), ResetInsurance{}, t0)
	st.CurrentNumber = 1_000_000 // reset chance is capped at 0.95

	resets, insured := 0, 0
	for i := 0; i < 4000; i++ {
		_, res, err := Click(st, t0, src)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.ResetOccurred {
			resets++
			if res.Insured {
				insured++
			}
		}
	}
	ratio := float64(insured) / float64(resets)
	if ratio < 0.45 || ratio > 0.55 {
		t.Fatalf("insured ratio %.3f out of expected band (resets=%d)", ratio, resets)
	}
}

func TestPurchaseRecommended(t *testing.T) {
	up := Upgrade{ID: "x", Type: UpgradeRecommended, Effect: ClickMultiplier{Amount: 1}, RequiredClicks: 100, RequiredResets: 5}

	st := NewState("u1")
	st.TotalClicks = 99
	st.TotalResets = 5
	if _, err := Purchase(st, up, t0); !errors.Is(err, ErrRequirementsNotMet) {
		t.Fatalf("expected requirements error, got %v", err)
	}

	st.TotalClicks = 100
	next, err := Purchase(st, up, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ClickMultiplier != 2 || next.TotalClicks != 100 || next.TotalResets != 5 {
		t.Fatalf("recommended upgrade must be free: %+v", next)
	}
}

func TestPurchasePurchasable(t *testing.T) {
	up := Upgrade{ID: "y", Type: UpgradePurchasable, Effect: CooldownDelta{Seconds: -0.05}, ClickCost: 50, ResetCost: 1}

	st := NewState("u1")
	st.TotalClicks = 60
	if _, err := Purchase(st, up, t0); !errors.Is(err, ErrInsufficientResources) {
		t.Fatalf("expected insufficient resources, got %v", err)
	}

	st.TotalResets = 3
	next, err := Purchase(st, up, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.TotalClicks != 10 || next.TotalResets != 2 {
		t.Fatalf("costs not deducted: %+v", next)
	}
	if math.Abs(next.ButtonCooldown-0.95) > 1e-9 {
		t.Fatalf("cooldown %v want 0.95", next.ButtonCooldown)
	}
}

func TestPrestige(t *testing.T) {
	st := NewState("u1")
	st.TotalResets = 150
	st.TotalClicks = 9000
	st.CurrentNumber = 42
	st.MaxNumber = 777
	st.ClickMultiplier = 4
	st.LuckyStreakProtection = 3
	st = ApplyEffect(st, AutoClicker{}, t0)
	last := t0
	st.LastClick = &last

	next, gained, err := Prestige(st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gained != 10 {
		t.Fatalf("gained %d want 10", gained)
	}
	if next.PrestigeLevel != 1 || next.TotalResets != 50 || next.TotalClicks != 0 || next.PrestigePoints != 10 || next.CurrentNumber != 0 {
		t.Fatalf("unexpected prestige state %+v", next)
	}
	if next.MaxNumber != 777 {
		t.Fatalf("max number must survive prestige, got %d", next.MaxNumber)
	}
	if next.ClickMultiplier != 1 || next.ButtonCooldown != DefaultCooldownSeconds || next.LuckyStreakProtection != 0 {
		t.Fatalf("upgrades not cleared: %+v", next)
	}
	if next.AutoClickerActive() || len(next.Effects) != 0 || next.LastClick != nil {
		t.Fatalf("effects or last click not cleared: %+v", next)
	}
}

func TestPrestigeIneligible(t *testing.T) {
	st := NewState("u1")
	st.PrestigeLevel = 1
	st.TotalResets = 100

	next, _, err := Prestige(st)
	var pe *PrestigeError
	if !errors.As(err, &pe) {
		t.Fatalf("expected prestige error, got %v", err)
	}
	if pe.Required != 120 || pe.Current != 100 {
		t.Fatalf("unexpected prestige error %+v", pe)
	}
	if next.PrestigeLevel != 1 || next.TotalResets != 100 {
		t.Fatalf("state changed on rejection")
	}
}

func TestNormalizeClampsCorruptValues(t *testing.T) {
	st := State{
		CurrentNumber:         -5,
		MaxNumber:             -1,
		TotalClicks:           -3,
		ClickMultiplier:       0,
		ButtonCooldown:        math.NaN(),
		ResetChanceReduction:  math.Inf(1),
		LuckyStreakProtection: -2,
	}
	st.Normalize()
	assertValid(t, st)
	if st.ClickMultiplier != 1 || st.ButtonCooldown != DefaultCooldownSeconds || st.ResetChanceReduction != 0 {
		t.Fatalf("unexpected normalized state %+v", st)
	}
}

func assertValid(t *testing.T, st State) {
	t.Helper()
	ints := []int64{st.CurrentNumber, st.MaxNumber, st.TotalClicks, st.TotalResets, st.PrestigeLevel, st.PrestigePoints, st.ClickMultiplier, st.LuckyStreakProtection}
	for i, v := range ints {
		if v < 0 {
			t.Fatalf("field %d negative: %d", i, v)
		}
	}
	for _, v := range []float64{st.ButtonCooldown, st.ResetChanceReduction} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			t.Fatalf("real field invalid: %v", v)
		}
	}
	if st.MaxNumber < st.CurrentNumber {
		t.Fatalf("max %d below current %d", st.MaxNumber, st.CurrentNumber)
	}
}

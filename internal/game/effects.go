package game

import (
	"encoding/json"
	"fmt"
	"time"

	"clicker/internal/economy"
)

// Effect is the closed set of things an upgrade can do to a state.
// Only the variants declared in this file implement it.
type Effect interface {
	kind() string
}

type ResetChanceReduction struct{ Amount float64 }

type ClickMultiplier struct{ Amount int64 }

// CooldownDelta is added to the button cooldown; upgrades use negative values.
type CooldownDelta struct{ Seconds float64 }

type AutoClicker struct{}

type ResetInsurance struct{}

type LuckyStreakProtection struct{ Charges int64 }

type RageMode struct{ Duration time.Duration }

func (ResetChanceReduction) kind() string  { return "reset_chance_reduction" }
func (ClickMultiplier) kind() string       { return "click_multiplier" }
func (CooldownDelta) kind() string         { return "button_cooldown" }
func (AutoClicker) kind() string           { return "auto_clicker" }
func (ResetInsurance) kind() string        { return "reset_insurance" }
func (LuckyStreakProtection) kind() string { return "lucky_streak_protection" }
func (RageMode) kind() string              { return "rage_mode" }

// ApplyEffect returns a copy of st with eff applied. st is not modified.
func ApplyEffect(st State, eff Effect, now time.Time) State {
	out := st.Clone()
	switch e := eff.(type) {
	case ResetChanceReduction:
		out.ResetChanceReduction = economy.Real(out.ResetChanceReduction+e.Amount, 0, out.ResetChanceReduction)
	case ClickMultiplier:
		out.ClickMultiplier = economy.SaturatingAdd(out.ClickMultiplier, e.Amount)
	case CooldownDelta:
		out.ButtonCooldown = economy.Real(out.ButtonCooldown+e.Seconds, MinCooldownSeconds, out.ButtonCooldown)
	case AutoClicker:
		out.activate(EffectAutoClicker, now, nil)
	case ResetInsurance:
		out.activate(EffectResetInsurance, now, nil)
	case LuckyStreakProtection:
		out.LuckyStreakProtection = economy.SaturatingAdd(out.LuckyStreakProtection, e.Charges)
	case RageMode:
		end := now.Add(e.Duration)
		out.activate(EffectRageMode, now, &end)
	case nil:
	default:
		panic(fmt.Sprintf("game: unhandled effect %T", eff))
	}
	return out
}

type effectJSON struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

func EncodeEffect(eff Effect) ([]byte, error) {
	var value any
	switch e := eff.(type) {
	case ResetChanceReduction:
		value = e.Amount
	case ClickMultiplier:
		value = e.Amount
	case CooldownDelta:
		value = e.Seconds
	case AutoClicker, ResetInsurance:
		value = true
	case LuckyStreakProtection:
		value = e.Charges
	case RageMode:
		value = e.Duration.Seconds()
	default:
		return nil, fmt.Errorf("encode effect: unsupported %T", eff)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(effectJSON{Kind: eff.kind(), Value: raw})
}

func DecodeEffect(raw []byte) (Effect, error) {
	var in effectJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode effect: %w", err)
	}
	switch in.Kind {
	case "reset_chance_reduction":
		var v float64
		if err := json.Unmarshal(in.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", in.Kind, err)
		}
		return ResetChanceReduction{Amount: v}, nil
	case "click_multiplier":
		var v int64
		if err := json.Unmarshal(in.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", in.Kind, err)
		}
		return ClickMultiplier{Amount: v}, nil
	case "button_cooldown":
		var v float64
		if err := json.Unmarshal(in.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", in.Kind, err)
		}
		return CooldownDelta{Seconds: v}, nil
	case "auto_clicker":
		return AutoClicker{}, nil
	case "reset_insurance":
		return ResetInsurance{}, nil
	case "lucky_streak_protection":
		var v int64
		if err := json.Unmarshal(in.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", in.Kind, err)
		}
		return LuckyStreakProtection{Charges: v}, nil
	case "rage_mode":
		var v float64
		if err := json.Unmarshal(in.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", in.Kind, err)
		}
		return RageMode{Duration: time.Duration(v * float64(time.Second))}, nil
	default:
		return nil, fmt.Errorf("decode effect: unknown kind %q", in.Kind)
	}
}

// EffectView is the client-facing form of an upgrade effect.
type EffectView struct {
	Kind  string  `json:"kind"`
	Value float64 `json:"value"`
}

func viewEffect(eff Effect) EffectView {
	v := EffectView{Kind: eff.kind()}
	switch e := eff.(type) {
	case ResetChanceReduction:
		v.Value = e.Amount
	case ClickMultiplier:
		v.Value = float64(e.Amount)
	case CooldownDelta:
		v.Value = e.Seconds
	case AutoClicker, ResetInsurance:
		v.Value = 1
	case LuckyStreakProtection:
		v.Value = float64(e.Charges)
	case RageMode:
		v.Value = e.Duration.Seconds()
	}
	return v
}

package game

import "time"

type UpgradeType string

const (
	// Recommended upgrades are free once the lifetime thresholds are met.
	UpgradeRecommended UpgradeType = "recommended"
	UpgradePurchasable UpgradeType = "purchasable"
)

type Upgrade struct {
	ID             string
	Name           string
	Description    string
	Type           UpgradeType
	Effect         Effect
	ClickCost      int64
	ResetCost      int64
	RequiredClicks int64
	RequiredResets int64
	Repeatable     bool
}

type UpgradeView struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Type           UpgradeType `json:"type"`
	Effect         EffectView  `json:"effect"`
	ClickCost      int64       `json:"click_cost"`
	ResetCost      int64       `json:"reset_cost"`
	RequiredClicks int64       `json:"required_clicks"`
	RequiredResets int64       `json:"required_resets"`
	Repeatable     bool        `json:"is_repeatable"`
}

func (u Upgrade) View() UpgradeView {
	return UpgradeView{
		ID:             u.ID,
		Name:           u.Name,
		Description:    u.Description,
		Type:           u.Type,
		Effect:         viewEffect(u.Effect),
		ClickCost:      u.ClickCost,
		ResetCost:      u.ResetCost,
		RequiredClicks: u.RequiredClicks,
		RequiredResets: u.RequiredResets,
		Repeatable:     u.Repeatable,
	}
}

// Ownership marks an upgrade as held by a user.
type Ownership struct {
	UserID      string    `json:"user_id"`
	UpgradeID   string    `json:"upgrade_id"`
	PurchasedAt time.Time `json:"purchased_at"`
	TimesUsed   int64     `json:"times_used"`
}

func DefaultCatalog() []Upgrade {
	return []Upgrade{
		{
			ID:             "steady-hand",
			Name:           "Steady Hand",
			Description:    "Lowers reset chance by 1%",
			Type:           UpgradeRecommended,
			Effect:         ResetChanceReduction{Amount: 0.01},
			RequiredClicks: 100,
			RequiredResets: 5,
			Repeatable:     true,
		},
		{
			ID:             "double-tap",
			Name:           "Double Tap",
			Description:    "Every click counts as two",
			Type:           UpgradeRecommended,
			Effect:         ClickMultiplier{Amount: 1},
			RequiredClicks: 250,
			RequiredResets: 10,
			Repeatable:     true,
		},
		{
			ID:             "lucky-streak",
			Name:           "Lucky Streak",
			Description:    "Immune to the next 3 resets",
			Type:           UpgradeRecommended,
			Effect:         LuckyStreakProtection{Charges: 3},
			RequiredClicks: 500,
			RequiredResets: 20,
		},
		{
			ID:             "quick-fingers",
			Name:           "Quick Fingers",
			Description:    "Button cooldown 0.1s shorter",
			Type:           UpgradeRecommended,
			Effect:         CooldownDelta{Seconds: -0.1},
			RequiredClicks: 50,
			Repeatable:     true,
		},
		{
			ID:             "precision-master",
			Name:           "Precision Master",
			Description:    "Lowers reset chance by another 2%",
			Type:           UpgradeRecommended,
			Effect:         ResetChanceReduction{Amount: 0.02},
			RequiredClicks: 1000,
			RequiredResets: 50,
			Repeatable:     true,
		},
		{
			ID:             "triple-force",
			Name:           "Triple Force",
			Description:    "Every click counts as three",
			Type:           UpgradeRecommended,
			Effect:         ClickMultiplier{Amount: 2},
			RequiredClicks: 2000,
			RequiredResets: 100,
		},
		{
			ID:          "button-boost",
			Name:        "Button Boost",
			Description: "Button cooldown 0.05s shorter",
			Type:        UpgradePurchasable,
			Effect:      CooldownDelta{Seconds: -0.05},
			ClickCost:   50,
			ResetCost:   1,
			Repeatable:  true,
		},
		{
			ID:          "auto-clicker",
			Name:        "Auto Clicker",
			Description: "Clicks for you every couple of seconds",
			Type:        UpgradePurchasable,
			Effect:      AutoClicker{},
			ClickCost:   500,
			ResetCost:   10,
		},
		{
			ID:          "reset-insurance",
			Name:        "Reset Insurance",
			Description: "50% chance to keep half the counter on reset",
			Type:        UpgradePurchasable,
			Effect:      ResetInsurance{},
			ClickCost:   300,
			ResetCost:   5,
		},
		{
			ID:          "rage-mode",
			Name:        "Rage Mode",
			Description: "Double clicks for 30 seconds",
			Type:        UpgradePurchasable,
			Effect:      RageMode{Duration: 30 * time.Second},
			ClickCost:   200,
			ResetCost:   3,
			Repeatable:  true,
		},
		{
			ID:          "champion-shield",
			Name:        "Champion Shield",
			Description: "Immune to the next 5 resets",
			Type:        UpgradePurchasable,
			Effect:      LuckyStreakProtection{Charges: 5},
			ClickCost:   800,
			ResetCost:   15,
			Repeatable:  true,
		},
	}
}

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"clicker/internal/game"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
	muted       = color.New(color.FgHiBlack)
)

type upgradesPayload struct {
	Upgrades []game.UpgradeView `json:"upgrades"`
}

type ownedPayload struct {
	Owned []game.Ownership `json:"owned"`
}

type leaderboardPayload struct {
	Metric game.LeaderboardMetric `json:"metric"`
	Rows   []game.LeaderboardRow  `json:"rows"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func renderState(v game.View) {
	accent.Println("\n== COUNTER ==")
	fmt.Printf("Current:            %s\n", comma(v.CurrentNumber))
	fmt.Printf("Best:               %s\n", comma(v.MaxNumber))
	fmt.Printf("Reset chance:       %s\n", colorizeChance(v.ResetChance))
	fmt.Printf("Clicks banked:      %s\n", comma(v.TotalClicks))
	fmt.Printf("Resets banked:      %s\n", comma(v.TotalResets))
	fmt.Printf("Multiplier:         x%d (+%d prestige)\n", v.ClickMultiplier, v.PrestigeBonus.ClickMultiplier)
	fmt.Printf("Cooldown:           %.2fs\n", v.ButtonCooldown)
	if v.RemainingCooldown > 0 {
		fmt.Printf("Ready in:           %s\n", warn.Sprintf("%.2fs", v.RemainingCooldown))
	}

	fmt.Println()
	accent.Println("Prestige")
	fmt.Printf("Level:              %d (%d points)\n", v.PrestigeLevel, v.PrestigePoints)
	progress := fmt.Sprintf("%s / %s resets", comma(v.TotalResets), comma(v.PrestigeCost))
	if v.CanPrestige {
		fmt.Printf("Next level:         %s\n", success.Sprint(progress+" (ready)"))
	} else {
		fmt.Printf("Next level:         %s\n", progress)
	}

	effects := activeEffects(v)
	fmt.Println()
	accent.Println("Effects")
	if len(effects) == 0 {
		printInfo("No active effects.")
	}
	for _, e := range effects {
		fmt.Printf("  - %s\n", e)
	}
	fmt.Println()
}

func activeEffects(v game.View) []string {
	var out []string
	if v.IsAutoClickerActive {
		out = append(out, "Auto clicker")
	}
	if v.ResetInsuranceActive {
		out = append(out, "Reset insurance")
	}
	if v.LuckyStreakProtection > 0 {
		out = append(out, fmt.Sprintf("Lucky streak (%d charges)", v.LuckyStreakProtection))
	}
	if v.RageMode && v.RageModeEndTime != nil {
		left := time.Until(*v.RageModeEndTime).Round(time.Second)
		out = append(out, fmt.Sprintf("Rage mode (%s left)", left))
	}
	if v.ResetChanceReduction > 0 {
		out = append(out, fmt.Sprintf("Reset chance -%.1f%%", v.ResetChanceReduction*100))
	}
	return out
}

func renderClick(res game.ClickResult) {
	switch {
	case res.ResetOccurred && res.Insured:
		warn.Printf("RESET! Insurance saved half: %s\n", comma(res.State.CurrentNumber))
	case res.ResetOccurred:
		danger.Printf("RESET! Counter back to 0 (chance was %s)\n", formatPercent(res.ResetChance))
	default:
		fmt.Printf("+%d -> %s  %s\n", res.ClicksAdded, comma(res.State.CurrentNumber),
			muted.Sprintf("next reset %s", formatPercent(res.State.ResetChance)))
	}
}

func renderLiveLine(v game.View) {
	fmt.Printf("[%s] %s  best %s  clicks %s  resets %s  %s\n",
		time.Now().Format("15:04:05"),
		accent.Sprint(comma(v.CurrentNumber)),
		comma(v.MaxNumber),
		comma(v.TotalClicks),
		comma(v.TotalResets),
		colorizeChance(v.ResetChance),
	)
}

func renderUpgrades(catalogRaw, ownedRaw, stateRaw map[string]any) error {
	catalog, err := decodeInto[upgradesPayload](catalogRaw)
	if err != nil {
		return err
	}
	owned, err := decodeInto[ownedPayload](ownedRaw)
	if err != nil {
		return err
	}
	state, err := decodeInto[game.View](stateRaw)
	if err != nil {
		return err
	}
	times := make(map[string]int64, len(owned.Owned))
	for _, o := range owned.Owned {
		times[o.UpgradeID] = o.TimesUsed
	}

	for _, kind := range []game.UpgradeType{game.UpgradeRecommended, game.UpgradePurchasable} {
		accent.Printf("\n== %s ==\n", strings.ToUpper(string(kind)))
		fmt.Printf("%-18s %-40s %14s %8s\n", "ID", "EFFECT", "PRICE", "STATUS")
		for _, u := range catalog.Upgrades {
			if u.Type != kind {
				continue
			}
			fmt.Printf("%-18s %-40s %14s %8s\n",
				u.ID,
				truncate(u.Description, 40),
				upgradePrice(u),
				upgradeStatus(u, times[u.ID], state),
			)
		}
	}
	fmt.Println()
	return nil
}

func upgradePrice(u game.UpgradeView) string {
	if u.Type == game.UpgradeRecommended {
		return fmt.Sprintf("%sc/%sr req", compact(u.RequiredClicks), compact(u.RequiredResets))
	}
	return fmt.Sprintf("%sc + %sr", compact(u.ClickCost), compact(u.ResetCost))
}

func upgradeStatus(u game.UpgradeView, timesOwned int64, v game.View) string {
	if timesOwned > 0 && !u.Repeatable {
		return muted.Sprint("owned")
	}
	affordable := v.TotalClicks >= u.ClickCost && v.TotalResets >= u.ResetCost
	if u.Type == game.UpgradeRecommended {
		affordable = v.TotalClicks >= u.RequiredClicks && v.TotalResets >= u.RequiredResets
	}
	label := "locked"
	if affordable {
		label = "ready"
	}
	if timesOwned > 0 {
		label = fmt.Sprintf("%s x%d", label, timesOwned)
	}
	if affordable {
		return success.Sprint(label)
	}
	return danger.Sprint(label)
}

func renderLeaderboard(raw map[string]any, metric game.LeaderboardMetric, selfID string) error {
	out, err := decodeInto[leaderboardPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== LEADERBOARD (%s) ==\n", strings.ToUpper(string(metric)))
	if len(out.Rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return nil
	}
	fmt.Printf("%-6s %-20s %16s %9s\n", "RANK", "PLAYER", strings.ToUpper(string(metric)), "PRESTIGE")
	for _, row := range out.Rows {
		line := fmt.Sprintf("%-6d %-20s %16s %9d",
			row.Rank,
			truncate(row.Username, 20),
			comma(row.Value),
			row.PrestigeLevel,
		)
		if row.UserID == selfID {
			success.Println(line)
			continue
		}
		fmt.Println(line)
	}
	fmt.Println()
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeChance(p float64) string {
	text := formatPercent(p)
	switch {
	case p >= 0.25:
		return danger.Sprint(text)
	case p >= 0.05:
		return warn.Sprint(text)
	default:
		return success.Sprint(text)
	}
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p*100, 'f', 2, 64) + "%"
}

func compact(v int64) string {
	switch {
	case v >= 1_000_000:
		return strconv.FormatFloat(float64(v)/1_000_000, 'f', 1, 64) + "M"
	case v >= 10_000:
		return strconv.FormatFloat(float64(v)/1_000, 'f', 1, 64) + "k"
	default:
		return strconv.FormatInt(v, 10)
	}
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const stateColumns = `
	user_id, current_number, max_number, total_clicks, total_resets,
	prestige_level, prestige_points, click_multiplier, button_cooldown,
	reset_chance_reduction, lucky_streak_protection, effects, last_click, updated_at`

func scanState(row pgx.Row) (State, error) {
	var st State
	var effects []byte
	err := row.Scan(
		&st.UserID, &st.CurrentNumber, &st.MaxNumber, &st.TotalClicks, &st.TotalResets,
		&st.PrestigeLevel, &st.PrestigePoints, &st.ClickMultiplier, &st.ButtonCooldown,
		&st.ResetChanceReduction, &st.LuckyStreakProtection, &effects, &st.LastClick, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return st, ErrStateNotFound
		}
		return st, err
	}
	if len(effects) > 0 {
		if err := json.Unmarshal(effects, &st.Effects); err != nil {
			return st, fmt.Errorf("decode effects: %w", err)
		}
	}
	return st, nil
}

func encodeEffects(effects []ActiveEffect) (string, error) {
	if effects == nil {
		effects = []ActiveEffect{}
	}
	raw, err := json.Marshal(effects)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (p *PGStore) GetState(ctx context.Context, userID string) (State, error) {
	return scanState(p.db.QueryRow(ctx, `SELECT `+stateColumns+` FROM clicker.game_state WHERE user_id = $1`, userID))
}

func (p *PGStore) CreateState(ctx context.Context, st State) (State, error) {
	st.Normalize()
	effects, err := encodeEffects(st.Effects)
	if err != nil {
		return st, err
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO clicker.game_state (
			user_id, current_number, max_number, total_clicks, total_resets,
			prestige_level, prestige_points, click_multiplier, button_cooldown,
			reset_chance_reduction, lucky_streak_protection, effects, last_click, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, now())
		ON CONFLICT (user_id) DO NOTHING
	`, st.UserID, st.CurrentNumber, st.MaxNumber, st.TotalClicks, st.TotalResets,
		st.PrestigeLevel, st.PrestigePoints, st.ClickMultiplier, st.ButtonCooldown,
		st.ResetChanceReduction, st.LuckyStreakProtection, effects, st.LastClick)
	if err != nil {
		return st, err
	}
	return p.GetState(ctx, st.UserID)
}

// Update locks the user's row for the duration of fn. Serialization
// failures are retried with backoff; fn may therefore run more than once
// and must not have effects outside st and tx.
func (p *PGStore) Update(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx, st *State) error) (State, error) {
	const maxAttempts = 8
	retryDelay := 25 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err := p.updateOnce(ctx, userID, fn)
		if err == nil {
			return out, nil
		}
		if !isSerializationError(err) {
			return out, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return out, err
		}
		if retryDelay < 800*time.Millisecond {
			retryDelay *= 2
		}
	}
	return State{}, ErrTxConflict
}

func (p *PGStore) updateOnce(ctx context.Context, userID string, fn func(ctx context.Context, tx Tx, st *State) error) (State, error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return State{}, err
	}
	defer tx.Rollback(ctx)

	st, err := scanState(tx.QueryRow(ctx, `SELECT `+stateColumns+` FROM clicker.game_state WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return st, err
	}
	if err := fn(ctx, &pgTx{tx: tx, userID: userID}, &st); err != nil {
		return st, err
	}

	effects, err := encodeEffects(st.Effects)
	if err != nil {
		return st, err
	}
	err = tx.QueryRow(ctx, `
		UPDATE clicker.game_state
		SET current_number = $2, max_number = $3, total_clicks = $4, total_resets = $5,
		    prestige_level = $6, prestige_points = $7, click_multiplier = $8, button_cooldown = $9,
		    reset_chance_reduction = $10, lucky_streak_protection = $11, effects = $12::jsonb,
		    last_click = $13, updated_at = now()
		WHERE user_id = $1
		RETURNING updated_at
	`, userID, st.CurrentNumber, st.MaxNumber, st.TotalClicks, st.TotalResets,
		st.PrestigeLevel, st.PrestigePoints, st.ClickMultiplier, st.ButtonCooldown,
		st.ResetChanceReduction, st.LuckyStreakProtection, effects, st.LastClick).Scan(&st.UpdatedAt)
	if err != nil {
		return st, err
	}
	if err := tx.Commit(ctx); err != nil {
		return st, err
	}
	return st, nil
}

type pgTx struct {
	tx     pgx.Tx
	userID string
}

func (t *pgTx) ClaimIdempotency(ctx context.Context, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO clicker.idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, t.userID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateIdempotency
	}
	return nil
}

func (t *pgTx) Upgrade(ctx context.Context, upgradeID string) (Upgrade, error) {
	return scanUpgrade(t.tx.QueryRow(ctx, `SELECT `+upgradeColumns+` FROM clicker.upgrades WHERE id = $1`, upgradeID))
}

func (t *pgTx) Owns(ctx context.Context, upgradeID string) (bool, error) {
	var owned bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM clicker.user_upgrades WHERE user_id = $1 AND upgrade_id = $2)
	`, t.userID, upgradeID).Scan(&owned)
	return owned, err
}

func (t *pgTx) RecordPurchase(ctx context.Context, upgradeID string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO clicker.user_upgrades (user_id, upgrade_id, purchased_at, times_used)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, upgrade_id)
		DO UPDATE SET times_used = clicker.user_upgrades.times_used + 1, purchased_at = EXCLUDED.purchased_at
	`, t.userID, upgradeID, at)
	return err
}

const upgradeColumns = `
	id, name, description, type, effect, click_cost, reset_cost,
	required_clicks, required_resets, is_repeatable`

func scanUpgrade(row pgx.Row) (Upgrade, error) {
	var u Upgrade
	var kind string
	var effect []byte
	if err := row.Scan(&u.ID, &u.Name, &u.Description, &kind, &effect, &u.ClickCost, &u.ResetCost,
		&u.RequiredClicks, &u.RequiredResets, &u.Repeatable); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return u, ErrUpgradeNotFound
		}
		return u, err
	}
	u.Type = UpgradeType(kind)
	eff, err := DecodeEffect(effect)
	if err != nil {
		return u, fmt.Errorf("upgrade %s: %w", u.ID, err)
	}
	u.Effect = eff
	return u, nil
}

// SeedUpgrades upserts the catalog so that edits to built-in upgrades reach
// existing databases. Ownership rows are left alone.
func (p *PGStore) SeedUpgrades(ctx context.Context, upgrades []Upgrade) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, u := range upgrades {
		effect, err := EncodeEffect(u.Effect)
		if err != nil {
			return fmt.Errorf("upgrade %s: %w", u.ID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO clicker.upgrades (id, name, description, type, effect, click_cost, reset_cost,
			                              required_clicks, required_resets, is_repeatable)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, description = EXCLUDED.description, type = EXCLUDED.type,
				effect = EXCLUDED.effect, click_cost = EXCLUDED.click_cost, reset_cost = EXCLUDED.reset_cost,
				required_clicks = EXCLUDED.required_clicks, required_resets = EXCLUDED.required_resets,
				is_repeatable = EXCLUDED.is_repeatable
		`, u.ID, u.Name, u.Description, string(u.Type), string(effect), u.ClickCost, u.ResetCost,
			u.RequiredClicks, u.RequiredResets, u.Repeatable)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *PGStore) Upgrades(ctx context.Context) ([]Upgrade, error) {
	rows, err := p.db.Query(ctx, `SELECT `+upgradeColumns+` FROM clicker.upgrades ORDER BY type DESC, required_clicks, click_cost, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Upgrade
	for rows.Next() {
		u, err := scanUpgrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *PGStore) Owned(ctx context.Context, userID string) ([]Ownership, error) {
	rows, err := p.db.Query(ctx, `
		SELECT user_id, upgrade_id, purchased_at, times_used
		FROM clicker.user_upgrades
		WHERE user_id = $1
		ORDER BY upgrade_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Ownership, 0)
	for rows.Next() {
		var o Ownership
		if err := rows.Scan(&o.UserID, &o.UpgradeID, &o.PurchasedAt, &o.TimesUsed); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// EnsureUser finds the user by telegram id, or by username among users
// without one, and creates it when missing. Telegram accounts are never
// reachable through a bare username.
func (p *PGStore) EnsureUser(ctx context.Context, in LoginInput, newID string) (User, bool, error) {
	query := `SELECT id, username, telegram_id, platform, created_at FROM clicker.users WHERE lower(username) = lower($1) AND telegram_id IS NULL`
	arg := in.Username
	if in.TelegramID != "" {
		query = `SELECT id, username, telegram_id, platform, created_at FROM clicker.users WHERE telegram_id = $1`
		arg = in.TelegramID
	}

	for attempt := 0; attempt < 2; attempt++ {
		u, err := scanUser(p.db.QueryRow(ctx, query, arg))
		if err == nil {
			return u, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return User{}, false, err
		}

		var tg any
		if in.TelegramID != "" {
			tg = in.TelegramID
		}
		u, err = scanUser(p.db.QueryRow(ctx, `
			INSERT INTO clicker.users (id, username, telegram_id, platform)
			VALUES ($1, $2, $3, $4)
			RETURNING id, username, telegram_id, platform, created_at
		`, newID, in.Username, tg, normalizePlatform(in.Platform)))
		if err == nil {
			return u, true, nil
		}
		// A concurrent login created the same user; read it back.
		if !isUniqueViolation(err) {
			return User{}, false, err
		}
	}
	return User{}, false, fmt.Errorf("ensure user %q: %w", in.Username, ErrTxConflict)
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	var telegramID *string
	if err := row.Scan(&u.ID, &u.Username, &telegramID, &u.Platform, &u.CreatedAt); err != nil {
		return User{}, err
	}
	if telegramID != nil {
		u.TelegramID = *telegramID
	}
	return u, nil
}

func (p *PGStore) CreateSession(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO clicker.sessions (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	return err
}

func (p *PGStore) SessionUser(ctx context.Context, token string, now time.Time) (User, error) {
	var u User
	var telegramID *string
	err := p.db.QueryRow(ctx, `
		SELECT u.id, u.username, u.telegram_id, u.platform, u.created_at
		FROM clicker.sessions s
		JOIN clicker.users u ON u.id = s.user_id
		WHERE s.token = $1 AND s.expires_at > $2
	`, token, now).Scan(&u.ID, &u.Username, &telegramID, &u.Platform, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return u, ErrUnauthorized
		}
		return u, err
	}
	if telegramID != nil {
		u.TelegramID = *telegramID
	}
	return u, nil
}

func (p *PGStore) AutoClickerUsers(ctx context.Context) ([]string, error) {
	rows, err := p.db.Query(ctx, `
		SELECT user_id
		FROM clicker.game_state
		WHERE effects @> '[{"kind":"auto_clicker"}]'::jsonb
		ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *PGStore) Leaderboard(ctx context.Context, metric LeaderboardMetric, limit int) ([]LeaderboardRow, error) {
	valueExpr, order := "gs.total_clicks", "gs.total_clicks DESC"
	switch metric {
	case MetricMax:
		valueExpr, order = "gs.max_number", "gs.max_number DESC"
	case MetricPrestige:
		valueExpr, order = "gs.prestige_level", "gs.prestige_level DESC, gs.prestige_points DESC"
	}
	rows, err := p.db.Query(ctx, `
		SELECT u.id, u.username, `+valueExpr+`, gs.prestige_level
		FROM clicker.game_state gs
		JOIN clicker.users u ON u.id = gs.user_id
		ORDER BY `+order+`, u.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeaderboardRow
	var rank int64 = 1
	for rows.Next() {
		var r LeaderboardRow
		if err := rows.Scan(&r.UserID, &r.Username, &r.Value, &r.PrestigeLevel); err != nil {
			return nil, err
		}
		r.Rank = rank
		rank++
		out = append(out, r)
	}
	return out, rows.Err()
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

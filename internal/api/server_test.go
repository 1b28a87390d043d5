package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"clicker/internal/auth"
	"clicker/internal/economy"
	"clicker/internal/game"
)

type testEnv struct {
	srv   *httptest.Server
	store *game.MemoryStore
}

func newTestEnv(t *testing.T, opts ...Option) testEnv {
	t.Helper()
	store := game.NewMemoryStore(nil)
	svc := game.NewService(store, nil, game.WithRandom(economy.NewSequence(0.99)))
	if err := svc.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	srv := httptest.NewServer(New(nil, svc, opts...).Handler())
	t.Cleanup(srv.Close)
	return testEnv{srv: srv, store: store}
}

func (e testEnv) do(t *testing.T, method, path, token string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (e testEnv) login(t *testing.T, username string) (string, string) {
	t.Helper()
	status, out := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{"username": username}, nil)
	if status != http.StatusOK {
		t.Fatalf("login status %d: %v", status, out)
	}
	user := out["user"].(map[string]any)
	return out["token"].(string), user["id"].(string)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	status, out := env.do(t, http.MethodGet, "/healthz", "", nil, nil)
	if status != http.StatusOK || out["ok"] != true {
		t.Fatalf("healthz: %d %v", status, out)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	if status, _ := env.do(t, http.MethodGet, "/v1/state", "", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, "/v1/state", "not-a-session", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{"username": "x"}, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for short username, got %d", status)
	}
}

func TestClickAndCooldown(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.login(t, "alice")

	status, out := env.do(t, http.MethodPost, "/v1/click", token, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("click status %d: %v", status, out)
	}
	st := out["game_state"].(map[string]any)
	if st["current_number"].(float64) != 1 || out["clicks_added"].(float64) != 1 {
		t.Fatalf("unexpected click response %v", out)
	}

	status, out = env.do(t, http.MethodPost, "/v1/click", token, nil, nil)
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %v", status, out)
	}
	if rem, ok := out["remaining_cooldown"].(float64); !ok || rem <= 0 || rem > 1 {
		t.Fatalf("unexpected remaining cooldown %v", out["remaining_cooldown"])
	}

	status, out = env.do(t, http.MethodGet, "/v1/state", token, nil, nil)
	if status != http.StatusOK || out["total_clicks"].(float64) != 1 {
		t.Fatalf("state after rejected click: %d %v", status, out)
	}
}

func TestPurchaseAndPrestige(t *testing.T) {
	env := newTestEnv(t)
	token, userID := env.login(t, "bob")

	status, _ := env.do(t, http.MethodPost, "/v1/upgrades/auto-clicker/purchase", token, nil, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 for insufficient resources, got %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, "/v1/upgrades/ghost/purchase", token, nil, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown upgrade, got %d", status)
	}

	_, err := env.store.Update(context.Background(), userID, func(_ context.Context, _ game.Tx, st *game.State) error {
		st.TotalClicks = 5000
		st.TotalResets = 200
		return nil
	})
	if err != nil {
		t.Fatalf("seed state: %v", err)
	}

	idem := map[string]string{"Idempotency-Key": "buy-1"}
	status, out := env.do(t, http.MethodPost, "/v1/upgrades/auto-clicker/purchase", token, nil, idem)
	if status != http.StatusOK {
		t.Fatalf("purchase status %d: %v", status, out)
	}
	if out["game_state"].(map[string]any)["is_auto_clicker_active"] != true {
		t.Fatalf("auto clicker not active: %v", out)
	}
	if status, _ := env.do(t, http.MethodPost, "/v1/upgrades/rage-mode/purchase", token, nil, idem); status != http.StatusConflict {
		t.Fatalf("expected 409 for reused key, got %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, "/v1/upgrades/auto-clicker/purchase", token, nil, nil); status != http.StatusConflict {
		t.Fatalf("expected 409 for owned upgrade, got %d", status)
	}

	status, out = env.do(t, http.MethodGet, "/v1/upgrades/owned", token, nil, nil)
	if status != http.StatusOK || len(out["owned"].([]any)) != 1 {
		t.Fatalf("owned: %d %v", status, out)
	}

	status, out = env.do(t, http.MethodPost, "/v1/prestige", token, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("prestige status %d: %v", status, out)
	}
	if out["prestige_points_gained"].(float64) != 10 {
		t.Fatalf("unexpected prestige response %v", out)
	}
	st := out["game_state"].(map[string]any)
	if st["prestige_level"].(float64) != 1 || st["total_resets"].(float64) != 90 || st["is_auto_clicker_active"] != false {
		t.Fatalf("unexpected post-prestige state %v", st)
	}

	status, out = env.do(t, http.MethodPost, "/v1/prestige", token, nil, nil)
	if status != http.StatusBadRequest || out["required_resets"].(float64) != 120 {
		t.Fatalf("expected prestige rejection, got %d %v", status, out)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	env := newTestEnv(t)
	tokenA, idA := env.login(t, "carol")
	_, idB := env.login(t, "dave")
	for id, clicks := range map[string]int64{idA: 10, idB: 99} {
		clicks := clicks
		_, err := env.store.Update(context.Background(), id, func(_ context.Context, _ game.Tx, st *game.State) error {
			st.TotalClicks = clicks
			return nil
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	status, out := env.do(t, http.MethodGet, "/v1/leaderboard?metric=clicks&limit=5", tokenA, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("leaderboard status %d", status)
	}
	rows := out["rows"].([]any)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %v", rows)
	}
	first := rows[0].(map[string]any)
	if first["username"] != "dave" || first["rank"].(float64) != 1 {
		t.Fatalf("unexpected first row %v", first)
	}
}

func TestTelegramLogin(t *testing.T) {
	verifier := auth.NewTelegramVerifier("42:TOKEN", time.Hour)
	env := newTestEnv(t, WithTelegram(verifier))

	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	values.Set("user", `{"id":777,"username":"tg_player"}`)
	values.Set("hash", verifier.Sign(values))

	status, out := env.do(t, http.MethodPost, "/v1/auth/telegram", "", map[string]any{"init_data": values.Encode()}, nil)
	if status != http.StatusOK {
		t.Fatalf("telegram login status %d: %v", status, out)
	}
	user := out["user"].(map[string]any)
	if user["telegram_id"] != "777" || user["username"] != "tg_player" {
		t.Fatalf("unexpected user %v", user)
	}

	values.Set("user", `{"id":778,"username":"forged"}`)
	status, _ = env.do(t, http.MethodPost, "/v1/auth/telegram", "", map[string]any{"init_data": values.Encode()}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged init data, got %d", status)
	}
}

func TestTelegramLoginDisabled(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, http.MethodPost, "/v1/auth/telegram", "", map[string]any{"init_data": "x"}, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

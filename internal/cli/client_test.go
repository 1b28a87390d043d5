package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientSendsHeadersAndDecodesErrors(t *testing.T) {
	var gotAuth, gotIdem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		switch r.URL.Path {
		case "/v1/click":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"button on cooldown: 0.40s remaining","remaining_cooldown":0.4}`))
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	ctx := context.Background()
	if _, err := c.Purchase(ctx, "tok", "rage-mode", "idem-1"); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if gotAuth != "Bearer tok" || gotIdem != "idem-1" {
		t.Fatalf("headers not sent: auth=%q idem=%q", gotAuth, gotIdem)
	}

	_, err := c.Click(ctx, "tok")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.RemainingCooldown != 0.4 {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestTransportErrorIsNotAPIError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	c.HTTP.Timeout = time.Second
	_, err := c.State(context.Background(), "tok")
	if err == nil || IsAPIError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080":   "ws://localhost:8080/v1/ws",
		"https://clicker.example": "wss://clicker.example/v1/ws",
	}
	for base, want := range tests {
		if got := NewClient(base).WebsocketURL(); got != want {
			t.Fatalf("WebsocketURL(%q) = %q want %q", base, got, want)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected missing session error")
	}
	if err := SaveSession(Session{Token: "abc", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s, err := LoadSession()
	if err != nil || s.Token != "abc" {
		t.Fatalf("load: %v %+v", err, s)
	}
	if err := SaveSession(Session{Token: "old", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected expired session error")
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("clear: %v", err)
	}
}

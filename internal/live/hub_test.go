package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clicker/internal/game"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/redis/go-redis/v9"
)

type stubAuth struct{}

func (stubAuth) Authenticate(_ context.Context, token string) (game.User, error) {
	if token != "good" {
		return game.User{}, game.ErrUnauthorized
	}
	return game.User{ID: "u1", Username: "alice"}, nil
}

func (stubAuth) State(_ context.Context, userID string) (game.View, error) {
	return game.View{UserID: userID, CurrentNumber: 5}, nil
}

func TestPublishWithoutViewersDoesNotBlock(t *testing.T) {
	h := NewHub(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish("nobody", game.Update{Type: game.UpdateTypeGameState})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil)
	slow := h.Subscribe("u1")
	fast := h.Subscribe("u1")
	if h.Connections("u1") != 2 {
		t.Fatalf("expected two connections")
	}

	for i := 0; i < sendBuffer+5; i++ {
		h.Publish("u1", game.Update{Type: game.UpdateTypeGameState, Data: game.View{CurrentNumber: int64(i)}})
		if i < sendBuffer {
			<-fast.C
		}
	}
	if len(slow.C) != sendBuffer {
		t.Fatalf("slow buffer len %d want %d", len(slow.C), sendBuffer)
	}
	first := <-slow.C
	if first.Data.CurrentNumber != 0 {
		t.Fatalf("expected oldest update first, got %d", first.Data.CurrentNumber)
	}

	h.Unsubscribe(slow)
	h.Unsubscribe(fast)
	h.Unsubscribe(fast)
	if h.Connections("u1") != 0 {
		t.Fatalf("expected no connections after unsubscribe")
	}
}

func TestWebsocketAuthAndUpdates(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h.Handler(stubAuth{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, authMessage{Type: "auth", Token: "good"}); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	var initial game.Update
	if err := wsjson.Read(ctx, conn, &initial); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if initial.Type != game.UpdateTypeGameState || initial.Data.CurrentNumber != 5 {
		t.Fatalf("unexpected initial update %+v", initial)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Connections("u1") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	h.Publish("u1", game.Update{Type: game.UpdateTypeGameState, Data: game.View{UserID: "u1", CurrentNumber: 6}})

	var next game.Update
	if err := wsjson.Read(ctx, conn, &next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.Data.CurrentNumber != 6 {
		t.Fatalf("unexpected update %+v", next)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h.Handler(stubAuth{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, authMessage{Type: "auth", Token: "bad"}); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	var msg errorMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if msg.Type != "error" || msg.Error != "unauthorized" {
		t.Fatalf("unexpected message %+v", msg)
	}
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if h.Connections("u1") != 0 {
		t.Fatalf("rejected viewer must not be registered")
	}
}

func TestRelayRoutesByChannel(t *testing.T) {
	h := NewHub(nil)
	f := NewRedisFanout(nil, h, nil)
	sub := h.Subscribe("u9")
	defer h.Unsubscribe(sub)

	f.relay(Channel("u9"), `{"type":"game_state","data":{"user_id":"u9","current_number":42}}`)
	f.relay("other:u9", `{"type":"game_state"}`)
	f.relay(Channel("u9"), `not json`)

	select {
	case u := <-sub.C:
		if u.Data.CurrentNumber != 42 {
			t.Fatalf("unexpected relayed update %+v", u)
		}
	default:
		t.Fatalf("expected relayed update")
	}
	if len(sub.C) != 0 {
		t.Fatalf("unexpected extra updates")
	}
}

func TestFanoutPublishQueueNeverBlocks(t *testing.T) {
	f := NewRedisFanout(nil, NewHub(nil), nil)
	for i := 0; i < cap(f.out)+10; i++ {
		f.Publish("u1", game.Update{Type: game.UpdateTypeGameState})
	}
	if len(f.out) != cap(f.out) {
		t.Fatalf("queue len %d want %d", len(f.out), cap(f.out))
	}
}

func TestFanoutFlushDrainsQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub := rdb.Subscribe(ctx, Channel("u1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	f := NewRedisFanout(rdb, NewHub(nil), nil)
	for i := 1; i <= 3; i++ {
		f.Publish("u1", game.Update{Type: game.UpdateTypeGameState, Data: game.View{UserID: "u1", CurrentNumber: int64(i)}})
	}
	if sent := f.Flush(ctx); sent != 3 {
		t.Fatalf("flushed %d updates, want 3", sent)
	}
	if len(f.out) != 0 {
		t.Fatalf("queue not drained: %d left", len(f.out))
	}

	for i := 1; i <= 3; i++ {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		var u game.Update
		if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if u.Data.CurrentNumber != int64(i) {
			t.Fatalf("update %d carried %d", i, u.Data.CurrentNumber)
		}
	}
}

func TestWebsocketOriginCheck(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		ok      bool
	}{
		{"no origin header", nil, "", true},
		{"foreign origin rejected", nil, "https://evil.example", false},
		{"listed origin accepted", []string{"game.example.com"}, "https://game.example.com", true},
		{"wildcard pattern", []string{"*.example.com"}, "https://play.example.com", true},
	}
	for _, tc := range tests {
		h := NewHub(nil, WithOriginPatterns(tc.origins...))
		srv := httptest.NewServer(h.Handler(stubAuth{}))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
		if tc.origin != "" {
			opts.HTTPHeader.Set("Origin", tc.origin)
		}
		conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), opts)
		if tc.ok && err != nil {
			t.Fatalf("%s: dial: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected handshake to be refused", tc.name)
		}
		if conn != nil {
			conn.CloseNow()
		}
		cancel()
		srv.Close()
	}
}

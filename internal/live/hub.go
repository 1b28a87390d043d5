package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"clicker/internal/game"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	sendBuffer   = 16
	authTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
	pingEvery    = 30 * time.Second
)

// Authenticator resolves a session token and loads the first snapshot a
// new viewer receives. *game.Service satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (game.User, error)
	State(ctx context.Context, userID string) (game.View, error)
}

// Hub keeps the live connections of every user and pushes state updates
// to all of them. A user may hold several connections at once.
type Hub struct {
	log     *slog.Logger
	origins []string

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

type Subscription struct {
	UserID string
	C      <-chan game.Update

	ch      chan game.Update
	dropped int
}

type HubOption func(*Hub)

// WithOriginPatterns lists the browser origins, as host patterns, that may
// open a socket. Same-host requests and clients without an Origin header
// are always accepted.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = append(h.origins, patterns...) }
}

func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{log: logger, subs: make(map[string]map[*Subscription]struct{})}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Subscribe(userID string) *Subscription {
	ch := make(chan game.Update, sendBuffer)
	sub := &Subscription{UserID: userID, C: ch, ch: ch}
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[userID]
	if set == nil {
		set = make(map[*Subscription]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.UserID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.UserID)
	}
	close(sub.ch)
}

// Publish never blocks. A viewer whose buffer is full misses the update;
// the next one carries the full state anyway.
func (h *Hub) Publish(userID string, u game.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[userID] {
		select {
		case sub.ch <- u:
		default:
			sub.dropped++
			h.log.Debug("live update dropped", "user_id", userID, "dropped", sub.dropped)
		}
	}
}

// Connections reports how many live connections userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Handler upgrades the request and expects {"type":"auth","token":...} as
// the first frame. After that the connection only receives updates.
func (h *Hub) Handler(auth Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
		if err != nil {
			h.log.Warn("websocket accept failed", "err", err)
			return
		}
		defer conn.CloseNow()

		if err := h.serve(r.Context(), conn, auth); err != nil && !isClosed(err) {
			h.log.Debug("websocket closed", "err", err)
		}
	}
}

func (h *Hub) serve(ctx context.Context, conn *websocket.Conn, auth Authenticator) error {
	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	var msg authMessage
	err := wsjson.Read(authCtx, conn, &msg)
	cancel()
	if err != nil {
		return err
	}
	if msg.Type != "auth" {
		return reject(ctx, conn, "expected auth message")
	}
	user, err := auth.Authenticate(ctx, msg.Token)
	if err != nil {
		return reject(ctx, conn, "unauthorized")
	}

	sub := h.Subscribe(user.ID)
	defer h.Unsubscribe(sub)

	view, err := auth.State(ctx, user.ID)
	if err != nil {
		return reject(ctx, conn, "state unavailable")
	}
	if err := write(ctx, conn, game.Update{Type: game.UpdateTypeGameState, Data: view}); err != nil {
		return err
	}
	h.log.Info("live viewer connected", "user_id", user.ID, "connections", h.Connections(user.ID))

	// The client never sends after auth; CloseRead handles control frames
	// and cancels ctx when the peer goes away.
	ctx = conn.CloseRead(ctx)
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := write(ctx, conn, u); err != nil {
				return err
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

func reject(ctx context.Context, conn *websocket.Conn, reason string) error {
	_ = write(ctx, conn, errorMessage{Type: "error", Error: reason})
	return conn.Close(websocket.StatusPolicyViolation, reason)
}

func isClosed(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

package cli

import (
	"context"
	"fmt"
	"strings"

	"clicker/internal/game"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WebsocketURL turns the API base URL into the live endpoint address.
func (c *Client) WebsocketURL() string {
	base := c.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/ws"
}

// Watch streams live updates for the session owner until ctx ends or the
// server closes the socket. fn sees the initial snapshot first.
func (c *Client) Watch(ctx context.Context, token string, fn func(game.Update)) error {
	conn, _, err := websocket.Dial(ctx, c.WebsocketURL(), nil)
	if err != nil {
		return fmt.Errorf("connect live updates: %w", err)
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, map[string]string{"type": "auth", "token": token}); err != nil {
		return err
	}
	for {
		var msg struct {
			game.Update
			Error string `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		if msg.Type == "error" {
			return fmt.Errorf("live updates refused: %s", msg.Error)
		}
		fn(msg.Update)
	}
}

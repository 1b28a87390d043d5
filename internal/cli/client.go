package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// APIError is a non-2xx answer from the API. Anything else returned by
// the client is a transport failure and may be retried later.
type APIError struct {
	Status            int
	Message           string
	RemainingCooldown float64
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Login(ctx context.Context, username string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"username": username,
		"platform": "cli",
	}, &out, "")
	return out, err
}

func (c *Client) State(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/state", token, nil, &out, "")
	return out, err
}

func (c *Client) Click(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/click", token, nil, &out, "")
	return out, err
}

func (c *Client) Upgrades(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/upgrades", token, nil, &out, "")
	return out, err
}

func (c *Client) OwnedUpgrades(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/upgrades/owned", token, nil, &out, "")
	return out, err
}

func PurchasePath(upgradeID string) string {
	return "/v1/upgrades/" + url.PathEscape(upgradeID) + "/purchase"
}

const PrestigePath = "/v1/prestige"

func (c *Client) Purchase(ctx context.Context, token, upgradeID, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, PurchasePath(upgradeID), token, nil, &out, idem)
	return out, err
}

func (c *Client) Prestige(ctx context.Context, token, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, PrestigePath, token, nil, &out, idem)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, token, metric string, limit int) (map[string]any, error) {
	q := url.Values{}
	q.Set("metric", metric)
	q.Set("limit", strconv.Itoa(limit))
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard?"+q.Encode(), token, nil, &out, "")
	return out, err
}

func (c *Client) Do(ctx context.Context, method, path, token string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, token, in, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, token string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(status int, raw []byte) error {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(raw))}
	var body struct {
		Error             string  `json:"error"`
		RemainingCooldown float64 `json:"remaining_cooldown"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.RemainingCooldown = body.RemainingCooldown
	}
	return apiErr
}

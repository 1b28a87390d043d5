package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clicker/internal/auth"
	"clicker/internal/game"
	"clicker/internal/live"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID   string
	Username string
	Token    string
}

// Leaderboard serves rankings; the redis cache or the game service itself.
type Leaderboard interface {
	Leaderboard(ctx context.Context, metric game.LeaderboardMetric, limit int) ([]game.LeaderboardRow, error)
}

type Server struct {
	log      *slog.Logger
	game     *game.Service
	board    Leaderboard
	hub      *live.Hub
	telegram *auth.TelegramVerifier
	mux      *chi.Mux
}

type Option func(*Server)

func WithLeaderboard(b Leaderboard) Option {
	return func(s *Server) { s.board = b }
}

func WithHub(h *live.Hub) Option {
	return func(s *Server) { s.hub = h }
}

func WithTelegram(v *auth.TelegramVerifier) Option {
	return func(s *Server) { s.telegram = v }
}

func New(logger *slog.Logger, gameSvc *game.Service, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:   logger,
		game:  gameSvc,
		board: gameSvc,
		mux:   chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		// The socket authenticates with its first frame and must not
		// inherit the request timeout.
		if s.hub != nil {
			r.Get("/ws", s.hub.Handler(s.game))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/telegram", s.handleTelegramLogin)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/state", s.handleState)
				r.Post("/click", s.handleClick)
				r.Get("/upgrades", s.handleUpgrades)
				r.Get("/upgrades/owned", s.handleOwnedUpgrades)
				r.Post("/upgrades/{id}/purchase", s.handlePurchase)
				r.Post("/prestige", s.handlePrestige)
				r.Get("/leaderboard", s.handleLeaderboard)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.game.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, game.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}
			writeDomainError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID:   user.ID,
			Username: user.Username,
			Token:    token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Platform string `json:"platform"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Login(r.Context(), game.LoginInput{Username: in.Username, Platform: in.Platform})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTelegramLogin(w http.ResponseWriter, r *http.Request) {
	if s.telegram == nil {
		writeError(w, http.StatusNotFound, "telegram login is not configured")
		return
	}
	var in struct {
		InitData string `json:"init_data"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tgUser, err := s.telegram.Verify(in.InitData)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Login(r.Context(), game.LoginInput{
		Username:   tgUser.DisplayName(),
		TelegramID: strconv.FormatInt(tgUser.ID, 10),
		Platform:   "telegram",
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.State(r.Context(), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Click(r.Context(), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpgrades(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Upgrades(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"upgrades": out})
}

func (s *Server) handleOwnedUpgrades(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.OwnedUpgrades(r.Context(), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owned": out})
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.PurchaseUpgrade(r.Context(), game.PurchaseInput{
		UserID:         user.UserID,
		UpgradeID:      strings.TrimSpace(chi.URLParam(r, "id")),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePrestige(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Prestige(r.Context(), game.PrestigeInput{
		UserID:         user.UserID,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	metric := game.ParseMetric(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("metric"))))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := s.board.Leaderboard(r.Context(), metric, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metric": metric, "rows": rows})
}

func writeDomainError(w http.ResponseWriter, err error) {
	var cd *game.CooldownError
	var pe *game.PrestigeError
	switch {
	case errors.As(err, &cd):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":              err.Error(),
			"remaining_cooldown": cd.Remaining,
		})
	case errors.As(err, &pe):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":           err.Error(),
			"required_resets": pe.Required,
			"current_resets":  pe.Current,
		})
	case errors.Is(err, game.ErrStateNotFound), errors.Is(err, game.ErrUpgradeNotFound), errors.Is(err, game.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrRequirementsNotMet), errors.Is(err, game.ErrInsufficientResources), errors.Is(err, game.ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrAlreadyOwned), errors.Is(err, game.ErrDuplicateIdempotency), errors.Is(err, game.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

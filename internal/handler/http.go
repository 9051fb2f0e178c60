package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/elo-ladder/internal/domain"
	"github.com/elo-ladder/internal/redis"
	"github.com/elo-ladder/internal/service"
	"github.com/elo-ladder/internal/websocket"
)

// Handler provides HTTP handlers for the ladder API
type Handler struct {
	ledger *service.Ledger
	cache  *redis.RatingCache
	hub    *websocket.Hub
	logger *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(ledger *service.Ledger, cache *redis.RatingCache, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		cache:  cache,
		hub:    hub,
		logger: logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/games", h.ReportGame)
		r.Route("/games/{gameID}", func(r chi.Router) {
			r.Get("/", h.GetGame)
			r.Post("/confirm", h.ConfirmGame)
			r.Post("/reverse", h.ReverseGame)
			r.Delete("/", h.DeleteGame)
		})

		r.Post("/recalculate", h.Recalculate)

		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/leaderboard/realtime", h.GetRealtimeLeaderboard)

		r.Get("/players", h.SearchPlayers)
		r.Route("/players/{externalID}", func(r chi.Router) {
			r.Get("/", h.GetPlayer)
			r.Get("/rank", h.GetPlayerRank)
			r.Put("/ban", h.SetPlayerBan)
			r.Put("/name", h.RenamePlayer)
		})

		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeLedgerError maps domain errors onto HTTP statuses
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSelfPlay),
		errors.Is(err, domain.ErrScoreRequired),
		errors.Is(err, domain.ErrInvalidScore),
		errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrAlreadyConfirmed),
		errors.Is(err, domain.ErrNotConfirmed),
		errors.Is(err, domain.ErrDuplicatePendingGame),
		errors.Is(err, domain.ErrConflict):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("ledger operation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

func (h *Handler) gameID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "gameID"), 10, 64)
}

func (h *Handler) externalID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "externalID"), 10, 64)
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// ReportGameResponse wraps a reported game with its creation status: a
// report matching an existing pending game returns that game with
// created=false instead of a duplicate
type ReportGameResponse struct {
	Game    *domain.Game `json:"game"`
	Created bool         `json:"created"`
}

// ReportGame records a win claim
func (h *Handler) ReportGame(w http.ResponseWriter, r *http.Request) {
	var res domain.ResultEvent
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if res.WinnerExternalID == 0 || res.LoserExternalID == 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	game, created, err := h.ledger.Report(r.Context(), res)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, APIResponse{
		Success: true,
		Data:    ReportGameResponse{Game: game, Created: created},
	})
}

// GetGame returns a game by id
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	id, err := h.gameID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	game, err := h.ledger.Game(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeSuccess(w, game)
}

// ConfirmGame confirms a pending game and applies rating changes
func (h *Handler) ConfirmGame(w http.ResponseWriter, r *http.Request) {
	id, err := h.gameID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	game, err := h.ledger.Confirm(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeSuccess(w, game)
}

// ReverseGame undoes a confirmation without deleting the game
func (h *Handler) ReverseGame(w http.ResponseWriter, r *http.Request) {
	id, err := h.gameID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.ledger.Reverse(r.Context(), id); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "reversed"})
}

// DeleteGame deletes a game, replaying later confirmations if needed
func (h *Handler) DeleteGame(w http.ResponseWriter, r *http.Request) {
	id, err := h.gameID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.ledger.Delete(r.Context(), id); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// Recalculate resets all ratings and replays the confirmed history
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.RecalculateAll(r.Context()); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "recalculated"})
}

// LeaderboardResponse pairs the displayed entries with the ladder size
type LeaderboardResponse struct {
	Entries []domain.LadderEntry `json:"entries"`
	Total   int                  `json:"total"`
}

// GetLeaderboard returns the ranked ladder from the primary store
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	opts := service.LeaderboardOptions{
		UseMax: r.URL.Query().Get("max") == "true",
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			opts.Limit = l
		}
	}

	entries, total, err := h.ledger.Leaderboard(r.Context(), opts)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeSuccess(w, LeaderboardResponse{Entries: entries, Total: total})
}

// GetRealtimeLeaderboard returns the cached ladder from Redis
func (h *Handler) GetRealtimeLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	useMax := r.URL.Query().Get("max") == "true"

	entries, err := h.cache.Top(r.Context(), limit, useMax)
	if err != nil {
		h.logger.Error("failed to read rating cache", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}
	h.writeSuccess(w, entries)
}

// SearchPlayers finds players matching a query string
func (h *Handler) SearchPlayers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	players, err := h.ledger.Search(r.Context(), query)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeSuccess(w, players)
}

// PlayerResponse pairs a player with their win/loss record
type PlayerResponse struct {
	Player *domain.Player `json:"player"`
	Record domain.Record  `json:"record"`
}

// GetPlayer returns a player and their confirmed record
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	id, err := h.externalID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	player, record, err := h.ledger.Player(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeSuccess(w, PlayerResponse{Player: player, Record: record})
}

// RankResponse reports a player's ladder position; rank 0 with ranked=false
// means the player does not appear in the filtered set
type RankResponse struct {
	Ranked bool  `json:"ranked"`
	Rank   int64 `json:"rank,omitempty"`
	Total  int   `json:"total"`
}

// GetPlayerRank returns a player's leaderboard position. With realtime=true
// the position comes from the rating cache, which skips the activity filter.
func (h *Handler) GetPlayerRank(w http.ResponseWriter, r *http.Request) {
	id, err := h.externalID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if r.URL.Query().Get("realtime") == "true" {
		entry, err := h.cache.Rank(r.Context(), id, r.URL.Query().Get("max") == "true")
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
		total, err := h.cache.Count(r.Context())
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
		h.writeSuccess(w, RankResponse{Ranked: true, Rank: entry.Rank, Total: int(total)})
		return
	}

	rank, total, err := h.ledger.Rank(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeSuccess(w, RankResponse{Ranked: rank > 0, Rank: rank, Total: total})
}

// SetPlayerBan applies an external ban or unban event
func (h *Handler) SetPlayerBan(w http.ResponseWriter, r *http.Request) {
	id, err := h.externalID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req struct {
		Banned bool `json:"banned"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.ledger.SetBanned(r.Context(), id, req.Banned); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeSuccess(w, map[string]bool{"banned": req.Banned})
}

// RenamePlayer applies an external display-name change
func (h *Handler) RenamePlayer(w http.ResponseWriter, r *http.Request) {
	id, err := h.externalID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.ledger.Rename(r.Context(), id, req.Name); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.writeSuccess(w, map[string]string{"name": req.Name})
}

package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/streme-leaderboard/internal/config"
	"github.com/streme-leaderboard/internal/domain"
	"github.com/streme-leaderboard/internal/metrics"
	"github.com/streme-leaderboard/internal/service"
	"github.com/streme-leaderboard/internal/websocket"
)

const maxBodyBytes = 64 << 10

// Handler provides HTTP handlers for the leaderboard API
type Handler struct {
	service *service.LeaderboardService
	hub     *websocket.Hub
	cors    config.CORSConfig
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *service.LeaderboardService, hub *websocket.Hub, corsCfg config.CORSConfig, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		cors:    corsCfg,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool                     `json:"success"`
	Data    interface{}              `json:"data,omitempty"`
	Stats   *domain.LeaderboardStats `json:"stats,omitempty"`
	Error   string                   `json:"error,omitempty"`
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
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.cors.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusNotFound, APIResponse{Error: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusMethodNotAllowed, APIResponse{Error: "method not allowed"})
	})

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/leaderboard", h.leaderboardRoutes)
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	// Path used by the deployed game client
	r.Route("/.netlify/functions/leaderboard", h.leaderboardRoutes)

	return r
}

func (h *Handler) leaderboardRoutes(r chi.Router) {
	r.Get("/", h.GetLeaderboard)
	r.Post("/", h.SubmitScore)
	r.Get("/stats", h.GetStats)
	r.Get("/user/{fid}", h.GetPlayerBest)
	r.Post("/reset", h.ResetLeaderboard)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
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

// writeServiceError maps a service error to its HTTP status. Server-side
// failures are logged and their cause hidden from the caller.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	// Ineligible submitters are client errors too, but answer 403.
	case errors.Is(err, domain.ErrIneligibleSubmitter):
		h.writeError(w, http.StatusForbidden, domain.ErrIneligibleSubmitter)
	case errors.Is(err, domain.ErrResetDisabled):
		h.writeError(w, http.StatusForbidden, domain.ErrResetDisabled)
	case domain.IsClientError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, domain.ErrPlayerNotFound)
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.logger.Error("leaderboard store unavailable", "op", op, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrStoreUnavailable)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
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

// ReadyCheck reports ready once the backing store answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrStoreUnavailable)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// SubmitScore records a finished game session and returns it with the
// player's current rank
func (h *Handler) SubmitScore(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if len(body) == 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrMissingBody)
		return
	}

	var input domain.ScoreInput
	if err := json.Unmarshal(body, &input); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.service.SubmitScore(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, "submit", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    result.Entry,
	})
}

// GetLeaderboard returns the ranked best-score view with aggregate stats
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, stats, err := h.service.GetLeaderboard(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, "leaderboard", err)
		return
	}

	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    entries,
		Stats:   &stats,
	})
}

// GetStats returns statistics for the leaderboard
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		h.writeServiceError(w, "stats", err)
		return
	}

	h.writeSuccess(w, stats)
}

// GetPlayerBest returns a player's best session and rank
func (h *Handler) GetPlayerBest(w http.ResponseWriter, r *http.Request) {
	playerID, err := strconv.ParseInt(chi.URLParam(r, "fid"), 10, 64)
	if err != nil || playerID <= 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidPlayerID)
		return
	}

	entry, err := h.service.GetPlayerBest(r.Context(), playerID)
	if err != nil {
		h.writeServiceError(w, "player_best", err)
		return
	}
	if entry == nil {
		h.writeError(w, http.StatusNotFound, domain.ErrPlayerNotFound)
		return
	}

	h.writeSuccess(w, entry)
}

// ResetLeaderboard clears all sessions when resets are enabled
func (h *Handler) ResetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(r.Context()); err != nil {
		h.writeServiceError(w, "reset", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "reset"})
}

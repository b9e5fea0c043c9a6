package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/tickpilot/internal/copytrade"
	"github.com/alanyoungcy/tickpilot/internal/domain"
)

// CopyTradeHandler serves follow/unfollow and copy-trade reporting endpoints.
type CopyTradeHandler struct {
	registry *copytrade.Registry
	trades   domain.TradeStore
	logger   *slog.Logger
}

// NewCopyTradeHandler creates a CopyTradeHandler.
func NewCopyTradeHandler(registry *copytrade.Registry, trades domain.TradeStore, logger *slog.Logger) *CopyTradeHandler {
	return &CopyTradeHandler{
		registry: registry,
		trades:   trades,
		logger:   logHandler(logger, "copytrade"),
	}
}

type followRequest struct {
	LeaderID   string `json:"leader_id"`
	FollowerID string `json:"follower_id"`
}

// Follow registers a follower with a leader. Idempotent.
// POST /api/follows
func (h *CopyTradeHandler) Follow(w http.ResponseWriter, r *http.Request) {
	var req followRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.LeaderID == "" || req.FollowerID == "" || req.LeaderID == req.FollowerID {
		writeError(w, http.StatusBadRequest, "leader_id and follower_id must be distinct and non-empty")
		return
	}
	h.registry.Register(req.LeaderID, req.FollowerID)
	h.logger.Info("follower registered",
		slog.String("leader_id", req.LeaderID),
		slog.String("follower_id", req.FollowerID),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"leader_id":      req.LeaderID,
		"follower_count": h.registry.FollowerCount(req.LeaderID),
	})
}

// Unfollow removes a follower from a leader. Idempotent.
// DELETE /api/follows
func (h *CopyTradeHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	var req followRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.LeaderID == "" || req.FollowerID == "" {
		writeError(w, http.StatusBadRequest, "leader_id and follower_id are required")
		return
	}
	h.registry.Unregister(req.LeaderID, req.FollowerID)
	writeJSON(w, http.StatusOK, map[string]any{
		"leader_id":      req.LeaderID,
		"follower_count": h.registry.FollowerCount(req.LeaderID),
	})
}

// Followers returns the follower count for a leader.
// GET /api/leaders/{id}/followers
func (h *CopyTradeHandler) Followers(w http.ResponseWriter, r *http.Request) {
	leaderID := pathParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"leader_id":      leaderID,
		"follower_count": h.registry.FollowerCount(leaderID),
	})
}

// ProfitByLeader aggregates a follower's copy-trade profit per leader.
// GET /api/users/{id}/profit/leaders
func (h *CopyTradeHandler) ProfitByLeader(w http.ResponseWriter, r *http.Request) {
	followerID := pathParam(r, "id")
	profits, err := h.trades.ProfitByLeader(r.Context(), followerID)
	if err != nil {
		h.logger.Error("profit by leader failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not aggregate profit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"follower_id": followerID,
		"by_leader":   profits,
		"daily_loss":  h.registry.DailyLoss(followerID),
	})
}

// ProfitByDay aggregates a user's realized profit per day over the last N
// days (default 30).
// GET /api/users/{id}/profit/daily?days=N
func (h *CopyTradeHandler) ProfitByDay(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "id")
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 365 {
			days = n
		}
	}

	to := time.Now()
	from := to.AddDate(0, 0, -days)
	profits, err := h.trades.ProfitByDay(r.Context(), userID, from, to)
	if err != nil {
		h.logger.Error("profit by day failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not aggregate profit")
		return
	}

	out := make(map[string]float64, len(profits))
	for day, p := range profits {
		out[day.Format("2006-01-02")] = p
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"by_day":  out,
	})
}

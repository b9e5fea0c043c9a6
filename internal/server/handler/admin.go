package handler

import (
	"log/slog"
	"net/http"
)

// AdminHandler serves operator endpoints.
type AdminHandler struct {
	resetDailyLoss func()
	logger         *slog.Logger
}

// NewAdminHandler creates an AdminHandler. resetDailyLoss zeroes the bot and
// follower daily-loss accumulators; it is normally driven by the rollover
// sweep, with this endpoint as the manual override.
func NewAdminHandler(resetDailyLoss func(), logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		resetDailyLoss: resetDailyLoss,
		logger:         logHandler(logger, "admin"),
	}
}

// ResetDailyLoss zeroes every daily-loss accumulator immediately.
// POST /api/admin/reset-daily-loss
func (h *AdminHandler) ResetDailyLoss(w http.ResponseWriter, r *http.Request) {
	h.resetDailyLoss()
	h.logger.Info("daily loss reset triggered manually")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

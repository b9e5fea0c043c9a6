package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tickpilot/internal/crypto"
	"github.com/alanyoungcy/tickpilot/internal/domain"
)

// UserHandler serves account-linking and copy-settings endpoints.
type UserHandler struct {
	users  domain.UserStore
	vault  *crypto.Vault
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users domain.UserStore, vault *crypto.Vault, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		vault:  vault,
		logger: logHandler(logger, "user"),
	}
}

// LinkToken encrypts and stores a user's venue API token.
// POST /api/users/{id}/token
func (h *UserHandler) LinkToken(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req struct {
		Token string `json:"token"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if h.vault == nil {
		writeError(w, http.StatusServiceUnavailable, "token vault not configured")
		return
	}
	encrypted, err := h.vault.Encrypt(req.Token)
	if err != nil {
		h.logger.Error("token encryption failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not store token")
		return
	}
	if err := h.users.UpdateToken(r.Context(), id, encrypted); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not store token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

type copySettingsRequest struct {
	CopyTradingEnabled bool    `json:"copy_trading_enabled"`
	InvestmentPerTrade float64 `json:"investment_per_trade"`
	RiskPercentage     float64 `json:"risk_percentage"`
	MaxDailyLoss       float64 `json:"max_daily_loss"`
}

// UpdateCopySettings rewrites the user's copy-trading policy knobs.
// PUT /api/users/{id}/copy-settings
func (h *UserHandler) UpdateCopySettings(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req copySettingsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.InvestmentPerTrade < 0 || req.RiskPercentage < 0 || req.RiskPercentage > 100 || req.MaxDailyLoss < 0 {
		writeError(w, http.StatusBadRequest, "settings out of range")
		return
	}

	u := &domain.User{
		ID:                 id,
		CopyTradingEnabled: req.CopyTradingEnabled,
		InvestmentPerTrade: req.InvestmentPerTrade,
		RiskPercentage:     req.RiskPercentage,
		MaxDailyLoss:       req.MaxDailyLoss,
	}
	if err := h.users.UpdateCopySettings(r.Context(), u); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not update settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

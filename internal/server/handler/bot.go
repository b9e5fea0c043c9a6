package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tickpilot/internal/domain"
)

// BotRuntime is the slice of the execution engine the bot handler drives.
type BotRuntime interface {
	StartBot(ctx context.Context, botID string) error
	StopBot(ctx context.Context, botID string) error
	PauseBot(ctx context.Context, botID string) error
	ResumeBot(ctx context.Context, botID string) error
	Stats(botID string) (domain.BotStats, bool)
	DailyLoss(botID string) (float64, bool)
}

// BotHandler serves bot configuration and lifecycle endpoints.
type BotHandler struct {
	bots    domain.BotStore
	stats   domain.StatsStore
	runtime BotRuntime
	logger  *slog.Logger
}

// NewBotHandler creates a BotHandler.
func NewBotHandler(bots domain.BotStore, stats domain.StatsStore, runtime BotRuntime, logger *slog.Logger) *BotHandler {
	return &BotHandler{
		bots:    bots,
		stats:   stats,
		runtime: runtime,
		logger:  logHandler(logger, "bot"),
	}
}

type createBotRequest struct {
	UserID        string  `json:"user_id"`
	Name          string  `json:"name"`
	Symbol        string  `json:"symbol"`
	Strategy      string  `json:"strategy"`
	Stake         float64 `json:"stake"`
	Duration      int     `json:"duration"`
	DurationUnit  string  `json:"duration_unit"`
	Currency      string  `json:"currency"`
	MaxDailyLoss  float64 `json:"max_daily_loss"`
	MaxLossStreak int     `json:"max_loss_streak"`
	StartHour     int     `json:"start_hour"`
	EndHour       int     `json:"end_hour"`
}

// CreateBot registers a new bot configuration in stopped state.
// POST /api/bots
func (h *BotHandler) CreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.Symbol == "" || req.Strategy == "" {
		writeError(w, http.StatusBadRequest, "user_id, symbol, and strategy are required")
		return
	}
	if req.Stake <= 0 || req.Duration <= 0 {
		writeError(w, http.StatusBadRequest, "stake and duration must be positive")
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}
	if req.DurationUnit == "" {
		req.DurationUnit = "t"
	}

	bot := &domain.Bot{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Name:          req.Name,
		Symbol:        req.Symbol,
		Strategy:      req.Strategy,
		Stake:         req.Stake,
		Duration:      req.Duration,
		DurationUnit:  req.DurationUnit,
		Currency:      req.Currency,
		MaxDailyLoss:  req.MaxDailyLoss,
		MaxLossStreak: req.MaxLossStreak,
		StartHour:     req.StartHour,
		EndHour:       req.EndHour,
		Status:        domain.BotStatusStopped,
	}
	if err := h.bots.Create(r.Context(), bot); err != nil {
		h.logger.Error("create bot failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "could not create bot")
		return
	}
	writeJSON(w, http.StatusCreated, bot)
}

// GetBot returns one bot configuration.
// GET /api/bots/{id}
func (h *BotHandler) GetBot(w http.ResponseWriter, r *http.Request) {
	bot, err := h.bots.FindByID(r.Context(), pathParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bot not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load bot")
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

// ListBots returns all of a user's bots.
// GET /api/users/{id}/bots
func (h *BotHandler) ListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := h.bots.ListByUser(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list bots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": bots})
}

// StartBot activates a bot.
// POST /api/bots/{id}/start
func (h *BotHandler) StartBot(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "start", func(ctx context.Context, id string) error { return h.runtime.StartBot(ctx, id) })
}

// StopBot deactivates a bot.
// POST /api/bots/{id}/stop
func (h *BotHandler) StopBot(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "stop", func(ctx context.Context, id string) error { return h.runtime.StopBot(ctx, id) })
}

// PauseBot suspends evaluation without dropping the bot context.
// POST /api/bots/{id}/pause
func (h *BotHandler) PauseBot(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "pause", func(ctx context.Context, id string) error { return h.runtime.PauseBot(ctx, id) })
}

// ResumeBot re-enables a paused bot.
// POST /api/bots/{id}/resume
func (h *BotHandler) ResumeBot(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "resume", func(ctx context.Context, id string) error { return h.runtime.ResumeBot(ctx, id) })
}

func (h *BotHandler) lifecycle(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) error) {
	if h.runtime == nil {
		writeError(w, http.StatusServiceUnavailable, "execution engine not running")
		return
	}
	id := pathParam(r, "id")
	if err := fn(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrBotNotFound):
			writeError(w, http.StatusNotFound, "bot not found")
		case errors.Is(err, domain.ErrBotAlreadyRunning):
			writeError(w, http.StatusConflict, "bot already running")
		default:
			h.logger.Error("bot lifecycle op failed",
				slog.String("op", op),
				slog.String("bot_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "could not "+op+" bot")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": op + "ed"})
}

// GetStats returns a bot's aggregate performance: the live in-memory
// counters when the bot is running, the persisted snapshot otherwise.
// GET /api/bots/{id}/stats
func (h *BotHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if h.runtime != nil {
		if stats, ok := h.runtime.Stats(id); ok {
			dailyLoss, _ := h.runtime.DailyLoss(id)
			writeJSON(w, http.StatusOK, statsResponse(stats, dailyLoss, true))
			return
		}
	}

	stats, err := h.stats.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no stats for bot")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load stats")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse(*stats, 0, false))
}

func statsResponse(s domain.BotStats, dailyLoss float64, live bool) map[string]any {
	return map[string]any{
		"bot_id":         s.BotID,
		"wins":           s.Wins,
		"losses":         s.Losses,
		"current_streak": s.CurrentStreak,
		"best_trade":     s.BestTrade,
		"worst_trade":    s.WorstTrade,
		"gross_profit":   s.GrossProfit,
		"gross_loss":     s.GrossLoss,
		"profit_factor":  s.ProfitFactor(),
		"avg_win":        s.AvgWin(),
		"avg_loss":       s.AvgLoss(),
		"daily_loss":     dailyLoss,
		"live":           live,
	}
}

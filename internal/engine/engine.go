package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tickpilot/internal/domain"
	"github.com/alanyoungcy/tickpilot/internal/feed"
	"github.com/alanyoungcy/tickpilot/internal/platform/deriv"
	"github.com/alanyoungcy/tickpilot/internal/strategy"
)

// persistTimeout bounds the asynchronous store writes issued off the event
// path.
const persistTimeout = 5 * time.Second

// SessionGateway is the slice of the session manager the engine depends on.
type SessionGateway interface {
	Send(userID string, msg any) (bool, error)
	SubscribeTicks(userID, symbol string) error
	UnsubscribeTicks(userID, symbol string) error
	Authenticated(userID string) bool
	NextReqID() int64
}

// Alerter delivers operator notifications. May be nil.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Engine hosts the bot execution contexts and wires them to the session
// event stream. It implements the tick, proposal, buy, settlement, and
// session-observer consumer interfaces.
type Engine struct {
	sessions SessionGateway
	windows  *feed.Windows
	registry *strategy.Registry
	bots     domain.BotStore
	trades   domain.TradeStore
	stats    domain.StatsStore
	limiter  domain.RateLimiter
	alerter  Alerter
	logger   *slog.Logger
	bufCap   int

	mu       sync.RWMutex
	contexts map[string]*botContext

	// persistWG tracks in-flight async store writes so shutdown and tests
	// can drain them.
	persistWG sync.WaitGroup
}

// New creates an Engine. limiter and alerter may be nil.
func New(
	sessions SessionGateway,
	windows *feed.Windows,
	registry *strategy.Registry,
	bots domain.BotStore,
	trades domain.TradeStore,
	stats domain.StatsStore,
	limiter domain.RateLimiter,
	alerter Alerter,
	bufCap int,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		sessions: sessions,
		windows:  windows,
		registry: registry,
		bots:     bots,
		trades:   trades,
		stats:    stats,
		limiter:  limiter,
		alerter:  alerter,
		bufCap:   bufCap,
		logger:   logger.With(slog.String("component", "engine")),
		contexts: make(map[string]*botContext),
	}
}

// ---------------------------------------------------------------------------
// Bot lifecycle
// ---------------------------------------------------------------------------

// StartBot activates a bot: loads its configuration and stats, warms the
// private buffer from the shared tick window, and subscribes its symbol on
// the owner's session.
func (e *Engine) StartBot(ctx context.Context, botID string) error {
	e.mu.RLock()
	_, exists := e.contexts[botID]
	e.mu.RUnlock()
	if exists {
		return domain.ErrBotAlreadyRunning
	}

	bot, err := e.bots.FindByID(ctx, botID)
	if err != nil {
		return fmt.Errorf("engine: load bot %s: %w", botID, err)
	}
	strat, err := e.registry.Get(bot.Strategy)
	if err != nil {
		return fmt.Errorf("engine: bot %s: %w", botID, err)
	}

	botStats, err := e.stats.Get(ctx, botID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("engine: load stats for bot %s: %w", botID, err)
		}
		botStats = &domain.BotStats{BotID: bot.ID, UserID: bot.UserID}
	}

	c := newBotContext(*bot, strat, e.bufCap, *botStats)
	for _, tick := range e.windows.Recent(bot.Symbol, e.bufCap) {
		c.push(tick.Price)
	}

	if err := e.sessions.SubscribeTicks(bot.UserID, bot.Symbol); err != nil {
		return fmt.Errorf("engine: subscribe %s for bot %s: %w", bot.Symbol, botID, err)
	}

	e.mu.Lock()
	if _, raced := e.contexts[botID]; raced {
		e.mu.Unlock()
		return domain.ErrBotAlreadyRunning
	}
	e.contexts[botID] = c
	e.mu.Unlock()

	if err := e.bots.UpdateStatus(ctx, botID, domain.BotStatusRunning); err != nil {
		e.logger.Warn("failed to persist bot status",
			slog.String("bot_id", botID),
			slog.String("error", err.Error()),
		)
	}
	e.logger.Info("bot started",
		slog.String("bot_id", botID),
		slog.String("user_id", bot.UserID),
		slog.String("symbol", bot.Symbol),
		slog.String("strategy", bot.Strategy),
	)
	return nil
}

// StopBot deactivates a bot and drops its context. The symbol subscription
// is kept while another of the user's bots still trades it. An in-flight
// trade is left to the venue; its settlement will no longer be tracked.
func (e *Engine) StopBot(ctx context.Context, botID string) error {
	e.mu.Lock()
	c, ok := e.contexts[botID]
	if ok {
		delete(e.contexts, botID)
	}
	stillNeeded := false
	if ok {
		for _, other := range e.contexts {
			if other.bot.UserID == c.bot.UserID && other.bot.Symbol == c.bot.Symbol {
				stillNeeded = true
				break
			}
		}
	}
	e.mu.Unlock()
	if !ok {
		return domain.ErrBotNotFound
	}

	if c.slot.Load() != slotEmpty {
		c.mu.Lock()
		tradeID := c.tradeID
		c.mu.Unlock()
		e.logger.Warn("bot stopped with trade in flight",
			slog.String("bot_id", botID),
			slog.String("trade_id", tradeID),
		)
	}
	if !stillNeeded {
		if err := e.sessions.UnsubscribeTicks(c.bot.UserID, c.bot.Symbol); err != nil {
			e.logger.Warn("unsubscribe failed",
				slog.String("bot_id", botID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := e.bots.UpdateStatus(ctx, botID, domain.BotStatusStopped); err != nil {
		e.logger.Warn("failed to persist bot status",
			slog.String("bot_id", botID),
			slog.String("error", err.Error()),
		)
	}
	e.logger.Info("bot stopped", slog.String("bot_id", botID))
	return nil
}

// PauseBot stops evaluation but keeps the subscription and lets any
// in-flight trade settle normally.
func (e *Engine) PauseBot(ctx context.Context, botID string) error {
	c, ok := e.context(botID)
	if !ok {
		return domain.ErrBotNotFound
	}
	c.active.Store(false)
	if err := e.bots.UpdateStatus(ctx, botID, domain.BotStatusPaused); err != nil {
		e.logger.Warn("failed to persist bot status",
			slog.String("bot_id", botID),
			slog.String("error", err.Error()),
		)
	}
	e.logger.Info("bot paused", slog.String("bot_id", botID))
	return nil
}

// ResumeBot re-enables evaluation for a paused bot.
func (e *Engine) ResumeBot(ctx context.Context, botID string) error {
	c, ok := e.context(botID)
	if !ok {
		return domain.ErrBotNotFound
	}
	c.active.Store(true)
	if err := e.bots.UpdateStatus(ctx, botID, domain.BotStatusRunning); err != nil {
		e.logger.Warn("failed to persist bot status",
			slog.String("bot_id", botID),
			slog.String("error", err.Error()),
		)
	}
	e.logger.Info("bot resumed", slog.String("bot_id", botID))
	return nil
}

// RestoreRunning starts every bot the store marks as running, typically at
// process startup after the owners' sessions have been connected.
func (e *Engine) RestoreRunning(ctx context.Context) error {
	running, err := e.bots.ListByStatus(ctx, domain.BotStatusRunning)
	if err != nil {
		return fmt.Errorf("engine: list running bots: %w", err)
	}
	for _, bot := range running {
		if err := e.StartBot(ctx, bot.ID); err != nil {
			e.logger.Warn("could not restore bot",
				slog.String("bot_id", bot.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// ResetDailyLoss zeroes every context's daily-loss accumulator. Invoked by
// the daily rollover sweep.
func (e *Engine) ResetDailyLoss() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, c := range e.contexts {
		c.resetDailyLoss()
	}
}

// Stats returns the current aggregate stats for a running bot.
func (e *Engine) Stats(botID string) (domain.BotStats, bool) {
	c, ok := e.context(botID)
	if !ok {
		return domain.BotStats{}, false
	}
	return c.snapshotStats(), true
}

// DailyLoss returns a running bot's daily-loss accumulator.
func (e *Engine) DailyLoss(botID string) (float64, bool) {
	c, ok := e.context(botID)
	if !ok {
		return 0, false
	}
	return c.dailyLossTotal(), true
}

// Drain waits for in-flight asynchronous store writes, for shutdown.
func (e *Engine) Drain() {
	e.persistWG.Wait()
}

// ---------------------------------------------------------------------------
// Event consumers
// ---------------------------------------------------------------------------

// OnTick feeds a price tick to every context trading that user and symbol.
func (e *Engine) OnTick(userID string, tick domain.Tick) {
	for _, c := range e.matching(userID, tick.Symbol) {
		e.evaluate(c, tick)
	}
}

// evaluate runs the gate chain and, on a non-hold signal, atomically claims
// the trade slot and issues the proposal request.
func (e *Engine) evaluate(c *botContext, tick domain.Tick) {
	depth := c.push(tick.Price)

	if !c.active.Load() || c.suppressed.Load() {
		return
	}
	if c.slot.Load() != slotEmpty {
		return
	}
	if c.riskBlocked() {
		e.logger.Debug("risk gate closed", slog.String("bot_id", c.bot.ID))
		return
	}
	if !c.bot.TradingHoursOpen(tick.Timestamp) {
		return
	}
	if depth < strategy.MinTicks {
		return
	}

	ind := strategy.Compute(c.prices())
	sig := c.strat.Evaluate(ind, tick)
	if sig.Action == strategy.Hold {
		return
	}

	// Claim the slot before anything else; a concurrent tick that lost the
	// race backs off here.
	if !c.slot.CompareAndSwap(slotEmpty, slotPending) {
		return
	}
	e.placeOrder(c, tick, sig)
}

// placeOrder creates the pending trade record and requests a proposal. The
// slot is already claimed; any failure releases it.
func (e *Engine) placeOrder(c *botContext, tick domain.Tick, sig strategy.Signal) {
	if e.limiter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		allowed, err := e.limiter.Allow(ctx, "orders:"+c.bot.UserID)
		cancel()
		if err != nil || !allowed {
			c.abort()
			e.logger.Warn("order rate limited",
				slog.String("bot_id", c.bot.ID),
				slog.String("user_id", c.bot.UserID),
			)
			return
		}
	}

	trade := &domain.Trade{
		ID:           uuid.NewString(),
		UserID:       c.bot.UserID,
		BotID:        c.bot.ID,
		Symbol:       c.bot.Symbol,
		ContractType: sig.Action.ContractType(),
		Stake:        c.bot.Stake,
		Duration:     c.bot.Duration,
		DurationUnit: c.bot.DurationUnit,
		Status:       domain.TradeStatusPending,
		CreatedAt:    time.Now(),
	}

	reqID := e.sessions.NextReqID()
	c.mu.Lock()
	c.tradeID = trade.ID
	c.reqID = reqID
	c.buySent = false
	c.mu.Unlock()

	e.persist("create trade", func(ctx context.Context) error {
		return e.trades.Create(ctx, trade)
	})

	_, err := e.sessions.Send(c.bot.UserID, deriv.ProposalRequest{
		Proposal:     1,
		Amount:       c.bot.Stake,
		Basis:        "stake",
		ContractType: string(trade.ContractType),
		Currency:     c.bot.Currency,
		Duration:     c.bot.Duration,
		DurationUnit: c.bot.DurationUnit,
		Symbol:       c.bot.Symbol,
		Subscribe:    1,
		ReqID:        reqID,
	})
	if err != nil {
		c.abort()
		e.logger.Warn("proposal request failed",
			slog.String("bot_id", c.bot.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	e.logger.Info("signal fired",
		slog.String("bot_id", c.bot.ID),
		slog.String("trade_id", trade.ID),
		slog.String("action", sig.Action.String()),
		slog.Float64("confidence", sig.Confidence),
		slog.String("reason", sig.Reason),
	)
}

// OnProposal answers the quote for a pending trade with a buy request.
// Later quote updates for the same subscription are ignored once the buy
// has been sent.
func (e *Engine) OnProposal(p domain.Proposal) {
	c, ok := e.byReqID(p.UserID, p.ReqID)
	if !ok || c.slot.Load() != slotPending {
		return
	}

	c.mu.Lock()
	if c.buySent {
		c.mu.Unlock()
		return
	}
	c.buySent = true
	c.entrySpot = p.Spot
	c.mu.Unlock()

	_, err := e.sessions.Send(c.bot.UserID, deriv.BuyRequest{
		Buy:   p.ID,
		Price: p.AskPrice,
		ReqID: p.ReqID,
	})
	if err != nil {
		tradeID := c.abort()
		e.logger.Warn("buy request failed",
			slog.String("bot_id", c.bot.ID),
			slog.String("trade_id", tradeID),
			slog.String("error", err.Error()),
		)
	}
}

// OnBuyConfirmation moves the pending trade to open and subscribes to its
// contract lifecycle.
func (e *Engine) OnBuyConfirmation(b domain.BuyConfirmation) {
	c, ok := e.byReqID(b.UserID, b.ReqID)
	if !ok {
		return
	}
	if !c.slot.CompareAndSwap(slotPending, slotOpen) {
		return
	}

	c.mu.Lock()
	c.contractID = b.ContractID
	tradeID := c.tradeID
	entry := c.entrySpot
	c.mu.Unlock()

	e.persist("mark trade open", func(ctx context.Context) error {
		return e.trades.MarkOpen(ctx, tradeID, b.ContractID, entry, b.StartTime)
	})

	if _, err := e.sessions.Send(c.bot.UserID, deriv.OpenContractRequest{
		ProposalOpenContract: 1,
		ContractID:           b.ContractID,
		Subscribe:            1,
	}); err != nil {
		e.logger.Warn("contract subscribe failed",
			slog.String("bot_id", c.bot.ID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.Info("trade opened",
		slog.String("bot_id", c.bot.ID),
		slog.String("trade_id", tradeID),
		slog.String("contract_id", b.ContractID),
		slog.Float64("buy_price", b.BuyPrice),
	)
}

// OnContractUpdate settles the context's current trade when the venue
// reports the contract sold, feeding risk counters and aggregate stats.
func (e *Engine) OnContractUpdate(u domain.ContractUpdate) {
	if !u.IsSold {
		return
	}
	c, ok := e.byContract(u.UserID, u.ContractID)
	if !ok {
		return
	}

	tradeID := c.settle(u.Profit, u.SettledAt)
	status := domain.TradeStatusWon
	if u.Profit < 0 {
		status = domain.TradeStatusLost
	}

	e.persist("settle trade", func(ctx context.Context) error {
		return e.trades.Settle(ctx, tradeID, status, u.ExitSpot, u.SettledAt, u.Profit)
	})
	stats := c.snapshotStats()
	stats.UpdatedAt = u.SettledAt
	e.persist("upsert stats", func(ctx context.Context) error {
		return e.stats.Upsert(ctx, &stats)
	})

	e.logger.Info("trade settled",
		slog.String("bot_id", c.bot.ID),
		slog.String("trade_id", tradeID),
		slog.String("status", string(status)),
		slog.Float64("profit", u.Profit),
	)

	if c.riskBlocked() {
		e.notify("risk_halt", "Bot halted by risk limits",
			fmt.Sprintf("bot %s (%s) reached its loss ceiling", c.bot.Name, c.bot.ID))
	}
}

// OnSessionAuthenticated lifts the offline suppression for a user's bots.
func (e *Engine) OnSessionAuthenticated(userID string) {
	for _, c := range e.byUser(userID) {
		c.suppressed.Store(false)
	}
}

// OnSessionError clears a pending trade whose venue request was rejected.
// The request is considered failed; no retry is issued.
func (e *Engine) OnSessionError(apiErr domain.APIError) {
	if apiErr.ReqID == 0 {
		return
	}
	c, ok := e.byReqID(apiErr.UserID, apiErr.ReqID)
	if !ok || c.slot.Load() != slotPending {
		return
	}
	tradeID := c.abort()
	e.logger.Warn("venue rejected trade request",
		slog.String("bot_id", c.bot.ID),
		slog.String("trade_id", tradeID),
		slog.String("code", apiErr.Code),
		slog.String("message", apiErr.Message),
	)
}

// OnSessionGiveUp suppresses trading for all of a user's bots until a fresh
// connect authenticates again.
func (e *Engine) OnSessionGiveUp(userID string) {
	bots := e.byUser(userID)
	for _, c := range bots {
		c.suppressed.Store(true)
	}
	if len(bots) > 0 {
		e.logger.Warn("user offline, trading suppressed",
			slog.String("user_id", userID),
			slog.Int("bots", len(bots)),
		)
		e.notify("session_give_up", "User session lost",
			fmt.Sprintf("session for user %s gave up after max reconnect attempts; %d bot(s) suppressed", userID, len(bots)))
	}
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (e *Engine) context(botID string) (*botContext, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.contexts[botID]
	return c, ok
}

func (e *Engine) matching(userID, symbol string) []*botContext {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*botContext
	for _, c := range e.contexts {
		if c.bot.UserID == userID && c.bot.Symbol == symbol {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) byUser(userID string) []*botContext {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*botContext
	for _, c := range e.contexts {
		if c.bot.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) byReqID(userID string, reqID int64) (*botContext, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, c := range e.contexts {
		if c.bot.UserID != userID {
			continue
		}
		c.mu.Lock()
		match := c.reqID == reqID && c.reqID != 0
		c.mu.Unlock()
		if match {
			return c, true
		}
	}
	return nil, false
}

func (e *Engine) byContract(userID, contractID string) (*botContext, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, c := range e.contexts {
		if c.bot.UserID != userID {
			continue
		}
		c.mu.Lock()
		match := c.contractID == contractID && contractID != ""
		c.mu.Unlock()
		if match {
			return c, true
		}
	}
	return nil, false
}

// persist runs a store write off the event path.
func (e *Engine) persist(op string, fn func(ctx context.Context) error) {
	e.persistWG.Add(1)
	go func() {
		defer e.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			e.logger.Warn("async persist failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (e *Engine) notify(event, title, message string) {
	if e.alerter == nil {
		return
	}
	e.persistWG.Add(1)
	go func() {
		defer e.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		_ = e.alerter.Notify(ctx, event, title, message)
	}()
}

var (
	_ domain.TickConsumer       = (*Engine)(nil)
	_ domain.ProposalConsumer   = (*Engine)(nil)
	_ domain.BuyConsumer        = (*Engine)(nil)
	_ domain.SettlementConsumer = (*Engine)(nil)
	_ domain.SessionObserver    = (*Engine)(nil)
)

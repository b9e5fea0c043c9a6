package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/tickpilot/internal/domain"
	"github.com/alanyoungcy/tickpilot/internal/feed"
	"github.com/alanyoungcy/tickpilot/internal/platform/deriv"
	"github.com/alanyoungcy/tickpilot/internal/strategy"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeGateway struct {
	mu    sync.Mutex
	sent  []any
	reqID atomic.Int64
	subs  map[string]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{subs: make(map[string]int)}
}

func (g *fakeGateway) Send(userID string, msg any) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	return true, nil
}

func (g *fakeGateway) SubscribeTicks(userID, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs[userID+"/"+symbol]++
	return nil
}

func (g *fakeGateway) UnsubscribeTicks(userID, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs[userID+"/"+symbol]--
	return nil
}

func (g *fakeGateway) Authenticated(userID string) bool { return true }

func (g *fakeGateway) NextReqID() int64 { return g.reqID.Add(1) }

func (g *fakeGateway) proposals() []deriv.ProposalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []deriv.ProposalRequest
	for _, m := range g.sent {
		if p, ok := m.(deriv.ProposalRequest); ok {
			out = append(out, p)
		}
	}
	return out
}

func (g *fakeGateway) buys() []deriv.BuyRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []deriv.BuyRequest
	for _, m := range g.sent {
		if b, ok := m.(deriv.BuyRequest); ok {
			out = append(out, b)
		}
	}
	return out
}

type fakeBotStore struct {
	mu       sync.Mutex
	bots     map[string]domain.Bot
	statuses map[string]domain.BotStatus
}

func newFakeBotStore(bots ...domain.Bot) *fakeBotStore {
	s := &fakeBotStore{
		bots:     make(map[string]domain.Bot),
		statuses: make(map[string]domain.BotStatus),
	}
	for _, b := range bots {
		s.bots[b.ID] = b
	}
	return s
}

func (s *fakeBotStore) Create(ctx context.Context, bot *domain.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[bot.ID] = *bot
	return nil
}

func (s *fakeBotStore) FindByID(ctx context.Context, id string) (*domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (s *fakeBotStore) ListByUser(ctx context.Context, userID string) ([]domain.Bot, error) {
	return nil, nil
}

func (s *fakeBotStore) ListByStatus(ctx context.Context, status domain.BotStatus) ([]domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bot
	for id, b := range s.bots {
		if s.statuses[id] == status {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeBotStore) UpdateStatus(ctx context.Context, id string, status domain.BotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func (s *fakeBotStore) Update(ctx context.Context, bot *domain.Bot) error {
	return s.Create(ctx, bot)
}

type fakeTradeStore struct {
	mu     sync.Mutex
	trades map[string]*domain.Trade
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{trades: make(map[string]*domain.Trade)}
}

func (s *fakeTradeStore) Create(ctx context.Context, t *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *fakeTradeStore) FindByID(ctx context.Context, id string) (*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTradeStore) FindByContract(ctx context.Context, userID, contractID string) (*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trades {
		if t.UserID == userID && t.ContractID == contractID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeTradeStore) MarkOpen(ctx context.Context, id, contractID string, entryPrice float64, entryTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = domain.TradeStatusOpen
	t.ContractID = contractID
	t.EntryPrice = entryPrice
	t.EntryTime = entryTime
	return nil
}

func (s *fakeTradeStore) Settle(ctx context.Context, id string, status domain.TradeStatus, exitPrice float64, exitTime time.Time, profit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	t.ExitPrice = exitPrice
	t.ExitTime = exitTime
	t.Profit = profit
	return nil
}

func (s *fakeTradeStore) ListSettledBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	return nil, nil
}

func (s *fakeTradeStore) ProfitByDay(ctx context.Context, userID string, from, to time.Time) (map[time.Time]float64, error) {
	return nil, nil
}

func (s *fakeTradeStore) ProfitByLeader(ctx context.Context, followerID string) (map[string]float64, error) {
	return nil, nil
}

func (s *fakeTradeStore) byStatus(status domain.TradeStatus) []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.Status == status {
			out = append(out, *t)
		}
	}
	return out
}

type fakeStatsStore struct {
	mu    sync.Mutex
	stats map[string]domain.BotStats
}

func newFakeStatsStore() *fakeStatsStore {
	return &fakeStatsStore{stats: make(map[string]domain.BotStats)}
}

func (s *fakeStatsStore) Get(ctx context.Context, botID string) (*domain.BotStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[botID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}

func (s *fakeStatsStore) Upsert(ctx context.Context, stats *domain.BotStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[stats.BotID] = *stats
	return nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	engine  *Engine
	gateway *fakeGateway
	trades  *fakeTradeStore
	stats   *fakeStatsStore
	bot     domain.Bot
	price   float64
}

func newHarness(t *testing.T, mutate func(*domain.Bot)) *harness {
	t.Helper()
	bot := domain.Bot{
		ID:           "bot-1",
		UserID:       "u1",
		Name:         "momentum on R_100",
		Symbol:       "R_100",
		Strategy:     "momentum",
		Stake:        10,
		Duration:     5,
		DurationUnit: "t",
		Currency:     "USD",
	}
	if mutate != nil {
		mutate(&bot)
	}

	gw := newFakeGateway()
	trades := newFakeTradeStore()
	stats := newFakeStatsStore()
	eng := New(
		gw,
		feed.NewWindows(100),
		strategy.NewRegistry(),
		newFakeBotStore(bot),
		trades,
		stats,
		nil,
		nil,
		100,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	if err := eng.StartBot(context.Background(), bot.ID); err != nil {
		t.Fatalf("StartBot: %v", err)
	}
	return &harness{engine: eng, gateway: gw, trades: trades, stats: stats, bot: bot, price: 1000}
}

// feedFalling delivers n strictly decreasing prices, continuing from the
// last delivered price. A purely falling series drives RSI to 0, so the
// momentum strategy wants to enter long on every tick once the buffer is
// deep enough.
func (h *harness) feedFalling(n int) {
	for i := 0; i < n; i++ {
		h.price--
		h.engine.OnTick("u1", domain.Tick{
			Symbol:    "R_100",
			Price:     h.price,
			Timestamp: time.Now(),
		})
	}
}

// openTrade walks the harness bot through signal, proposal, and buy
// confirmation for one new trade on the given contract id.
func (h *harness) openTrade(t *testing.T, contractID string) {
	t.Helper()
	base := len(h.gateway.proposals())
	buysBase := len(h.gateway.buys())
	h.feedFalling(strategy.MinTicks + 2)
	props := h.gateway.proposals()
	if len(props) != base+1 {
		t.Fatalf("got %d new proposal requests, want 1", len(props)-base)
	}
	reqID := props[len(props)-1].ReqID

	h.engine.OnProposal(domain.Proposal{
		UserID: "u1", ReqID: reqID, ID: "prop-1", AskPrice: 10, Spot: 980,
	})
	if got := len(h.gateway.buys()); got != buysBase+1 {
		t.Fatalf("got %d new buy requests, want 1", got-buysBase)
	}
	h.engine.OnBuyConfirmation(domain.BuyConfirmation{
		UserID: "u1", ReqID: reqID, ContractID: contractID, BuyPrice: 10, StartTime: time.Now(),
	})
}

func (h *harness) settle(contractID string, profit float64) {
	h.engine.OnContractUpdate(domain.ContractUpdate{
		UserID:     "u1",
		ContractID: contractID,
		ExitSpot:   990,
		Profit:     profit,
		IsSold:     true,
		SettledAt:  time.Now(),
	})
	h.engine.Drain()
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAtMostOneOrderUntilSettlement(t *testing.T) {
	h := newHarness(t, nil)

	// Every tick past the minimum depth wants to enter; only the first may
	// place an order.
	h.feedFalling(strategy.MinTicks + 50)
	if got := len(h.gateway.proposals()); got != 1 {
		t.Fatalf("got %d proposal requests under rapid ticks, want 1", got)
	}

	// More ticks while the trade is pending: still nothing.
	h.feedFalling(10)
	if got := len(h.gateway.proposals()); got != 1 {
		t.Errorf("got %d proposal requests while pending, want 1", got)
	}
}

func TestNoDuplicateOrdersUnderConcurrentTicks(t *testing.T) {
	h := newHarness(t, nil)
	h.feedFalling(strategy.MinTicks - 1) // one tick short of a signal

	// Race a burst of ticks against the free slot. All of them cross the
	// depth threshold and want to enter; the CAS lets exactly one through.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h.engine.OnTick("u1", domain.Tick{
				Symbol:    "R_100",
				Price:     900 - float64(n),
				Timestamp: time.Now(),
			})
		}(i)
	}
	wg.Wait()

	if got := len(h.gateway.proposals()); got != 1 {
		t.Errorf("got %d proposal requests after concurrent ticks, want 1", got)
	}
}

func TestFullTradeLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	h.openTrade(t, "c-1")
	h.engine.Drain()

	open := h.trades.byStatus(domain.TradeStatusOpen)
	if len(open) != 1 {
		t.Fatalf("got %d open trades, want 1", len(open))
	}
	if open[0].ContractID != "c-1" || open[0].EntryPrice != 980 {
		t.Errorf("open trade = %+v, want contract c-1 entry 980", open[0])
	}

	h.settle("c-1", -10)
	lost := h.trades.byStatus(domain.TradeStatusLost)
	if len(lost) != 1 {
		t.Fatalf("got %d lost trades, want 1", len(lost))
	}
	if lost[0].Profit != -10 {
		t.Errorf("profit = %v, want -10", lost[0].Profit)
	}

	stats, ok := h.engine.Stats(h.bot.ID)
	if !ok {
		t.Fatal("no stats for running bot")
	}
	if stats.Losses != 1 || stats.CurrentStreak != -1 || stats.WorstTrade != -10 {
		t.Errorf("stats = %+v, want 1 loss, streak -1, worst -10", stats)
	}
	if loss, _ := h.engine.DailyLoss(h.bot.ID); loss != 10 {
		t.Errorf("daily loss = %v, want 10", loss)
	}

	// Slot is free again: the next burst may open exactly one new trade.
	h.feedFalling(5)
	if got := len(h.gateway.proposals()); got != 2 {
		t.Errorf("got %d proposal requests after settlement, want 2", got)
	}
}

func TestDailyLossAccumulatorSumsLossMagnitudes(t *testing.T) {
	h := newHarness(t, nil)

	losses := []float64{-10, -7.5, -2.5}
	wins := []float64{4}
	contract := 0
	for _, p := range append(losses, wins...) {
		contract++
		id := "c-" + string(rune('0'+contract))
		h.openTrade(t, id)
		h.settle(id, p)
	}

	want := 20.0
	if got, _ := h.engine.DailyLoss(h.bot.ID); got != want {
		t.Errorf("daily loss = %v, want %v (sum of loss magnitudes)", got, want)
	}

	h.engine.ResetDailyLoss()
	if got, _ := h.engine.DailyLoss(h.bot.ID); got != 0 {
		t.Errorf("daily loss after reset = %v, want 0", got)
	}
}

func TestRiskGateBlocksNewOrders(t *testing.T) {
	h := newHarness(t, func(b *domain.Bot) { b.MaxDailyLoss = 15 })

	h.openTrade(t, "c-1")
	h.settle("c-1", -20) // past the ceiling

	h.feedFalling(10)
	if got := len(h.gateway.proposals()); got != 1 {
		t.Errorf("got %d proposal requests with risk gate closed, want 1", got)
	}
}

func TestLossStreakGate(t *testing.T) {
	h := newHarness(t, func(b *domain.Bot) { b.MaxLossStreak = 2 })

	h.openTrade(t, "c-1")
	h.settle("c-1", -1)
	h.openTrade(t, "c-2")
	h.settle("c-2", -1)

	h.feedFalling(10)
	if got := len(h.gateway.proposals()); got != 2 {
		t.Errorf("got %d proposal requests after streak ceiling, want 2", got)
	}
}

func TestTradingHoursGate(t *testing.T) {
	now := time.Now()
	closedHour := (now.Hour() + 6) % 24
	h := newHarness(t, func(b *domain.Bot) {
		b.StartHour = closedHour
		b.EndHour = (closedHour + 1) % 24
	})

	h.feedFalling(strategy.MinTicks + 10)
	if got := len(h.gateway.proposals()); got != 0 {
		t.Errorf("got %d proposal requests outside trading hours, want 0", got)
	}
}

func TestMinimumBufferDepth(t *testing.T) {
	h := newHarness(t, nil)
	h.feedFalling(strategy.MinTicks - 1)
	if got := len(h.gateway.proposals()); got != 0 {
		t.Errorf("got %d proposal requests below minimum depth, want 0", got)
	}
}

func TestPauseKeepsInFlightTradeAlive(t *testing.T) {
	h := newHarness(t, nil)
	h.feedFalling(strategy.MinTicks + 2)
	props := h.gateway.proposals()
	if len(props) != 1 {
		t.Fatalf("got %d proposal requests, want 1", len(props))
	}

	// Pause lands between signal and confirmation.
	if err := h.engine.PauseBot(context.Background(), h.bot.ID); err != nil {
		t.Fatalf("PauseBot: %v", err)
	}

	h.engine.OnProposal(domain.Proposal{UserID: "u1", ReqID: props[0].ReqID, ID: "p", AskPrice: 10, Spot: 1})
	h.engine.OnBuyConfirmation(domain.BuyConfirmation{UserID: "u1", ReqID: props[0].ReqID, ContractID: "c-1", StartTime: time.Now()})
	h.settle("c-1", 8)

	stats, _ := h.engine.Stats(h.bot.ID)
	if stats.Wins != 1 {
		t.Errorf("in-flight trade was not settled under pause: stats = %+v", stats)
	}

	// But no new evaluation happens while paused.
	h.feedFalling(10)
	if got := len(h.gateway.proposals()); got != 1 {
		t.Errorf("got %d proposal requests while paused, want 1", got)
	}

	if err := h.engine.ResumeBot(context.Background(), h.bot.ID); err != nil {
		t.Fatalf("ResumeBot: %v", err)
	}
	h.feedFalling(5)
	if got := len(h.gateway.proposals()); got != 2 {
		t.Errorf("got %d proposal requests after resume, want 2", got)
	}
}

func TestVenueErrorClearsPendingTrade(t *testing.T) {
	h := newHarness(t, nil)
	h.feedFalling(strategy.MinTicks + 2)
	props := h.gateway.proposals()
	if len(props) != 1 {
		t.Fatalf("got %d proposal requests, want 1", len(props))
	}

	h.engine.OnSessionError(domain.APIError{
		UserID: "u1", ReqID: props[0].ReqID, Code: "ContractBuyValidationError", Message: "stake too low",
	})

	// Evaluation is re-enabled.
	h.feedFalling(5)
	if got := len(h.gateway.proposals()); got != 2 {
		t.Errorf("got %d proposal requests after venue rejection, want 2", got)
	}
}

func TestGiveUpSuppressesUntilReauth(t *testing.T) {
	h := newHarness(t, nil)

	h.engine.OnSessionGiveUp("u1")
	h.feedFalling(strategy.MinTicks + 10)
	if got := len(h.gateway.proposals()); got != 0 {
		t.Errorf("got %d proposal requests while user offline, want 0", got)
	}

	h.engine.OnSessionAuthenticated("u1")
	h.feedFalling(5)
	if got := len(h.gateway.proposals()); got != 1 {
		t.Errorf("got %d proposal requests after reauth, want 1", got)
	}
}

func TestStopBotUnsubscribesWhenLastOnSymbol(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.engine.StopBot(context.Background(), h.bot.ID); err != nil {
		t.Fatalf("StopBot: %v", err)
	}
	h.gateway.mu.Lock()
	defer h.gateway.mu.Unlock()
	if got := h.gateway.subs["u1/R_100"]; got != 0 {
		t.Errorf("subscription refcount = %d after stop, want 0", got)
	}
}

func TestStartBotTwiceFails(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.engine.StartBot(context.Background(), h.bot.ID); err != domain.ErrBotAlreadyRunning {
		t.Errorf("second StartBot = %v, want ErrBotAlreadyRunning", err)
	}
}

package copytrade

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tickpilot/internal/domain"
	"github.com/alanyoungcy/tickpilot/internal/platform/deriv"
)

const persistTimeout = 5 * time.Second

// SessionGateway is the slice of the session manager the replicator uses to
// place follower orders.
type SessionGateway interface {
	Send(userID string, msg any) (bool, error)
	Authenticated(userID string) bool
	NextReqID() int64
}

type pendKey struct {
	userID string
	reqID  int64
}

type openKey struct {
	userID     string
	contractID string
}

// pendingCopy tracks one replicated order between proposal and buy
// confirmation.
type pendingCopy struct {
	tradeID  string
	leaderID string
	buySent  bool
}

// Replicator fans a leader's buy confirmations out to the leader's
// followers, placing each replicated order through the follower's own
// session. One settlement listener per replicated trade updates the
// follower's daily loss and then detaches.
type Replicator struct {
	registry *Registry
	sessions SessionGateway
	users    domain.UserStore
	trades   domain.TradeStore
	balances domain.BalanceCache
	logger   *slog.Logger
	currency string

	mu      sync.Mutex
	pending map[pendKey]*pendingCopy
	open    map[openKey]string // -> trade id

	persistWG sync.WaitGroup
}

func NewReplicator(
	registry *Registry,
	sessions SessionGateway,
	users domain.UserStore,
	trades domain.TradeStore,
	balances domain.BalanceCache,
	currency string,
	logger *slog.Logger,
) *Replicator {
	if currency == "" {
		currency = "USD"
	}
	return &Replicator{
		registry: registry,
		sessions: sessions,
		users:    users,
		trades:   trades,
		balances: balances,
		currency: currency,
		logger:   logger.With(slog.String("component", "copytrade")),
		pending:  make(map[pendKey]*pendingCopy),
		open:     make(map[openKey]string),
	}
}

// Registry returns the follower registry, for follow/unfollow callers.
func (r *Replicator) Registry() *Registry { return r.registry }

// Drain waits for in-flight asynchronous store writes.
func (r *Replicator) Drain() { r.persistWG.Wait() }

// OnBuyConfirmation handles both sides of the replication flow: a
// confirmation completing one of our own follower orders, and a leader
// confirmation that triggers fan-out.
func (r *Replicator) OnBuyConfirmation(b domain.BuyConfirmation) {
	if r.completeFollowerOrder(b) {
		return
	}
	if r.registry.FollowerCount(b.UserID) == 0 {
		return
	}
	// Fan-out leaves the dispatch path: it reads stores and may briefly wait
	// for the leader's own trade record to land.
	r.persistWG.Add(1)
	go func() {
		defer r.persistWG.Done()
		r.replicate(b)
	}()
}

// completeFollowerOrder moves a pending replicated order to open and
// attaches its one-shot settlement listener. Reports whether the
// confirmation belonged to a replicated order.
func (r *Replicator) completeFollowerOrder(b domain.BuyConfirmation) bool {
	r.mu.Lock()
	pc, ok := r.pending[pendKey{b.UserID, b.ReqID}]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, pendKey{b.UserID, b.ReqID})
	r.open[openKey{b.UserID, b.ContractID}] = pc.tradeID
	r.mu.Unlock()

	tradeID := pc.tradeID
	r.persist("mark copy trade open", func(ctx context.Context) error {
		return r.trades.MarkOpen(ctx, tradeID, b.ContractID, b.BuyPrice, b.StartTime)
	})

	if _, err := r.sessions.Send(b.UserID, deriv.OpenContractRequest{
		ProposalOpenContract: 1,
		ContractID:           b.ContractID,
		Subscribe:            1,
	}); err != nil {
		r.logger.Warn("contract subscribe failed",
			slog.String("follower_id", b.UserID),
			slog.String("trade_id", tradeID),
			slog.String("error", err.Error()),
		)
	}

	r.logger.Info("copy trade opened",
		slog.String("follower_id", b.UserID),
		slog.String("leader_id", pc.leaderID),
		slog.String("trade_id", tradeID),
		slog.String("contract_id", b.ContractID),
	)
	return true
}

// replicate fans a leader confirmation out to every registered follower.
// Followers are handled independently; one follower's rejection never
// affects the others.
func (r *Replicator) replicate(b domain.BuyConfirmation) {
	followers := r.registry.Followers(b.UserID)
	if len(followers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	src, err := r.findSource(ctx, b.UserID, b.ContractID)
	if err != nil {
		r.logger.Warn("leader trade not found for confirmation",
			slog.String("leader_id", b.UserID),
			slog.String("contract_id", b.ContractID),
			slog.String("error", err.Error()),
		)
		return
	}
	// Replicated trades never chain.
	if src.IsCopy() {
		return
	}

	for _, followerID := range followers {
		r.replicateOne(ctx, src, followerID)
	}
}

// findSource fetches the leader's trade record, tolerating the small window
// in which the engine's contract-id write has not yet landed.
func (r *Replicator) findSource(ctx context.Context, leaderID, contractID string) (*domain.Trade, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
		trade, err := r.trades.FindByContract(ctx, leaderID, contractID)
		if err == nil {
			return trade, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (r *Replicator) replicateOne(ctx context.Context, src *domain.Trade, followerID string) {
	log := r.logger.With(
		slog.String("leader_id", src.UserID),
		slog.String("follower_id", followerID),
		slog.String("source_trade_id", src.ID),
	)

	user, err := r.users.FindByID(ctx, followerID)
	if err != nil {
		log.Warn("follower lookup failed", slog.String("error", err.Error()))
		return
	}
	if !user.CopyTradingEnabled {
		r.registry.Unregister(src.UserID, followerID)
		log.Info("follower disabled copy trading, unregistered")
		return
	}
	if user.MaxDailyLoss > 0 && r.registry.DailyLoss(followerID) >= user.MaxDailyLoss {
		log.Info("follower daily-loss ceiling reached, skipping")
		return
	}
	if !r.sessions.Authenticated(followerID) {
		log.Warn("follower session not authenticated, skipping")
		return
	}

	balance, err := r.balances.GetBalance(ctx, followerID)
	if err != nil {
		log.Warn("follower balance unavailable, skipping", slog.String("error", err.Error()))
		return
	}
	stake := user.CopyStake(src.Stake, balance)
	if stake <= 0 || stake > balance {
		log.Info("insufficient balance for replicated trade",
			slog.Float64("stake", stake),
			slog.Float64("balance", balance),
		)
		return
	}

	trade := &domain.Trade{
		ID:            uuid.NewString(),
		UserID:        followerID,
		LeaderID:      src.UserID,
		SourceTradeID: src.ID,
		Symbol:        src.Symbol,
		ContractType:  src.ContractType,
		Stake:         stake,
		Duration:      src.Duration,
		DurationUnit:  src.DurationUnit,
		Status:        domain.TradeStatusPending,
		CreatedAt:     time.Now(),
	}
	r.persist("create copy trade", func(ctx context.Context) error {
		return r.trades.Create(ctx, trade)
	})

	reqID := r.sessions.NextReqID()
	r.mu.Lock()
	r.pending[pendKey{followerID, reqID}] = &pendingCopy{
		tradeID:  trade.ID,
		leaderID: src.UserID,
	}
	r.mu.Unlock()

	if _, err := r.sessions.Send(followerID, deriv.ProposalRequest{
		Proposal:     1,
		Amount:       stake,
		Basis:        "stake",
		ContractType: string(src.ContractType),
		Currency:     r.currency,
		Duration:     src.Duration,
		DurationUnit: src.DurationUnit,
		Symbol:       src.Symbol,
		Subscribe:    1,
		ReqID:        reqID,
	}); err != nil {
		r.mu.Lock()
		delete(r.pending, pendKey{followerID, reqID})
		r.mu.Unlock()
		log.Warn("replicated proposal request failed", slog.String("error", err.Error()))
		return
	}

	log.Info("trade replicated",
		slog.String("trade_id", trade.ID),
		slog.Float64("stake", stake),
	)
}

// OnProposal answers the quote for a pending replicated order with a buy.
func (r *Replicator) OnProposal(p domain.Proposal) {
	r.mu.Lock()
	pc, ok := r.pending[pendKey{p.UserID, p.ReqID}]
	if !ok || pc.buySent {
		r.mu.Unlock()
		return
	}
	pc.buySent = true
	r.mu.Unlock()

	if _, err := r.sessions.Send(p.UserID, deriv.BuyRequest{
		Buy:   p.ID,
		Price: p.AskPrice,
		ReqID: p.ReqID,
	}); err != nil {
		r.mu.Lock()
		delete(r.pending, pendKey{p.UserID, p.ReqID})
		r.mu.Unlock()
		r.logger.Warn("replicated buy request failed",
			slog.String("follower_id", p.UserID),
			slog.String("trade_id", pc.tradeID),
			slog.String("error", err.Error()),
		)
	}
}

// OnContractUpdate settles a replicated trade when its contract is sold,
// updating the follower's daily loss. The listener for that trade is
// detached afterwards.
func (r *Replicator) OnContractUpdate(u domain.ContractUpdate) {
	if !u.IsSold {
		return
	}
	r.mu.Lock()
	tradeID, ok := r.open[openKey{u.UserID, u.ContractID}]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.open, openKey{u.UserID, u.ContractID})
	r.mu.Unlock()

	status := domain.TradeStatusWon
	if u.Profit < 0 {
		status = domain.TradeStatusLost
		r.registry.AddDailyLoss(u.UserID, -u.Profit)
	}
	r.persist("settle copy trade", func(ctx context.Context) error {
		return r.trades.Settle(ctx, tradeID, status, u.ExitSpot, u.SettledAt, u.Profit)
	})

	r.logger.Info("copy trade settled",
		slog.String("follower_id", u.UserID),
		slog.String("trade_id", tradeID),
		slog.String("status", string(status)),
		slog.Float64("profit", u.Profit),
	)
}

// OnSessionAuthenticated is part of the session-observer surface; the
// replicator has no per-session warm-up work.
func (r *Replicator) OnSessionAuthenticated(userID string) {}

// OnSessionGiveUp is part of the session-observer surface. Pending orders for
// the user are left in place; a venue error or reconnect resolves them.
func (r *Replicator) OnSessionGiveUp(userID string) {}

// OnSessionError clears a pending replicated order the venue rejected.
func (r *Replicator) OnSessionError(apiErr domain.APIError) {
	if apiErr.ReqID == 0 {
		return
	}
	r.mu.Lock()
	pc, ok := r.pending[pendKey{apiErr.UserID, apiErr.ReqID}]
	if ok {
		delete(r.pending, pendKey{apiErr.UserID, apiErr.ReqID})
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.logger.Warn("venue rejected replicated order",
		slog.String("follower_id", apiErr.UserID),
		slog.String("trade_id", pc.tradeID),
		slog.String("code", apiErr.Code),
		slog.String("message", apiErr.Message),
	)
}

func (r *Replicator) persist(op string, fn func(ctx context.Context) error) {
	r.persistWG.Add(1)
	go func() {
		defer r.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			r.logger.Warn("async persist failed",
				slog.String("op", op),
				slog.String("error", err.Error()),
			)
		}
	}()
}

var (
	_ domain.ProposalConsumer   = (*Replicator)(nil)
	_ domain.BuyConsumer        = (*Replicator)(nil)
	_ domain.SettlementConsumer = (*Replicator)(nil)
	_ domain.SessionObserver    = (*Replicator)(nil)
)

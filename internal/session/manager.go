package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tickpilot/internal/domain"
	"github.com/alanyoungcy/tickpilot/internal/feed"
	"github.com/alanyoungcy/tickpilot/internal/platform/deriv"
)

// Config holds the session manager's timing and retry parameters.
type Config struct {
	// MaxReconnectAttempts is the reconnect ceiling; exceeding it removes
	// the session and raises the give-up event.
	MaxReconnectAttempts int
	// ReconnectBase is the backoff unit; the delay before attempt n is
	// n * ReconnectBase.
	ReconnectBase time.Duration
	// LivenessPeriod is how often the liveness sweep runs.
	LivenessPeriod time.Duration
	// SilenceTimeout is how long a session may go without inbound frames
	// before it is treated as dead and routed through the reconnect path.
	SilenceTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = 2 * time.Second
	}
	if c.LivenessPeriod == 0 {
		c.LivenessPeriod = 20 * time.Second
	}
	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = 60 * time.Second
	}
	return c
}

// Consumers is the closed set of event subscribers. It is fixed at wiring
// time, before the manager handles any traffic.
type Consumers struct {
	Ticks       []domain.TickConsumer
	Proposals   []domain.ProposalConsumer
	Buys        []domain.BuyConsumer
	Settlements []domain.SettlementConsumer
	Balances    []domain.BalanceConsumer
	Observers   []domain.SessionObserver
}

// Manager owns every user session: connect, authenticate, queue, reconnect,
// liveness, and typed event fan-out. Events for one session are dispatched
// from that session's single run loop, so subscribers observe them in
// transport order.
type Manager struct {
	dialer    deriv.Dialer
	cfg       Config
	windows   *feed.Windows
	logger    *slog.Logger
	consumers Consumers

	reqID atomic.Int64

	mu       sync.RWMutex
	sessions map[string]*Session

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a Manager. Consumers must be set with SetConsumers
// before any session is connected.
func NewManager(dialer deriv.Dialer, windows *feed.Windows, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		dialer:   dialer,
		cfg:      cfg.withDefaults(),
		windows:  windows,
		logger:   logger.With(slog.String("component", "session_manager")),
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
}

// SetConsumers registers the event subscribers. Call once during wiring.
func (m *Manager) SetConsumers(c Consumers) {
	m.consumers = c
}

// NextReqID returns a process-unique request id for venue requests, so
// concurrent requesters can correlate proposal and buy responses.
func (m *Manager) NextReqID() int64 {
	return m.reqID.Add(1)
}

// Connect establishes (or replaces) the session for a user. Any prior
// session is torn down first. Transport or authentication failures surface
// asynchronously through the session observers.
func (m *Manager) Connect(userID, token string) {
	m.mu.Lock()
	if old, ok := m.sessions[userID]; ok {
		old.invalidate()
	}
	s := newSession(userID, token)
	m.sessions[userID] = s
	gen := s.gen
	m.mu.Unlock()

	m.logger.Info("session connecting", slog.String("user_id", userID))
	go m.run(s, gen)
}

// Disconnect closes a user's session and clears reconnect state. It is a
// no-op when no session exists.
func (m *Manager) Disconnect(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.invalidate()
	m.logger.Info("session disconnected", slog.String("user_id", userID))
}

// Send marshals msg and writes it to the user's session. While the session
// is unauthenticated or the transport is momentarily unwritable the message
// is queued in FIFO order and flushed on the next writable state. The bool
// reports whether the message went out immediately.
func (m *Manager) Send(userID string, msg any) (bool, error) {
	s, ok := m.session(userID)
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.SessionClosed {
		return false, domain.ErrSessionClosed
	}
	if s.state != domain.SessionAuthenticated || s.transport == nil {
		s.enqueue(data)
		return false, nil
	}
	if err := s.writeLocked(data); err != nil {
		// The read loop will notice the dead transport and reconnect;
		// the message goes out after reauthentication.
		s.enqueue(data)
		return false, nil
	}
	return true, nil
}

// SubscribeTicks subscribes the user's session to a symbol's tick stream.
// The subscription survives reconnects until UnsubscribeTicks. If the
// session is not yet authenticated the control message is deferred to the
// resubscribe pass that runs on authentication.
func (m *Manager) SubscribeTicks(userID, symbol string) error {
	s, ok := m.session(userID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[symbol] = struct{}{}
	if s.state != domain.SessionAuthenticated || s.transport == nil {
		return nil
	}
	data, err := json.Marshal(deriv.TicksRequest{Ticks: symbol, Subscribe: 1})
	if err != nil {
		return err
	}
	return s.writeLocked(data)
}

// UnsubscribeTicks removes a symbol subscription and tells the venue to
// stop streaming it.
func (m *Manager) UnsubscribeTicks(userID, symbol string) error {
	s, ok := m.session(userID)
	if !ok {
		return domain.ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, symbol)
	if s.state != domain.SessionAuthenticated || s.transport == nil {
		return nil
	}
	data, err := json.Marshal(deriv.ForgetRequest{Forget: symbol})
	if err != nil {
		return err
	}
	return s.writeLocked(data)
}

// Authenticated reports whether the user currently holds an authenticated
// session.
func (m *Manager) Authenticated(userID string) bool {
	s, ok := m.session(userID)
	return ok && s.State() == domain.SessionAuthenticated
}

// Session returns the live session for a user, if any.
func (m *Manager) Session(userID string) (*Session, bool) {
	return m.session(userID)
}

// Run drives the liveness sweep until ctx is cancelled, then tears down all
// sessions.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.LivenessPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Close()
			return ctx.Err()
		case <-m.done:
			return nil
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// Close tears down every session and stops the manager.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		sessions := m.sessions
		m.sessions = make(map[string]*Session)
		m.mu.Unlock()
		for _, s := range sessions {
			s.invalidate()
		}
	})
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (m *Manager) session(userID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// removeSession drops s from the registry if it is still the registered
// session for its user. The bool makes terminal events exactly-once.
func (m *Manager) removeSession(s *Session) bool {
	m.mu.Lock()
	cur, ok := m.sessions[s.userID]
	if ok && cur == s {
		delete(m.sessions, s.userID)
	} else {
		ok = false
	}
	m.mu.Unlock()
	s.invalidate()
	return ok
}

// run is the session's single event loop: dial, authorize, read, dispatch,
// and reconnect on unexpected close.
func (m *Manager) run(s *Session, gen int) {
	t, err := m.dialAndAuthorize(s, gen)
	if err != nil {
		m.logger.Warn("session connect failed",
			slog.String("user_id", s.userID),
			slog.String("error", err.Error()),
		)
		if m.removeSession(s) {
			m.notifyError(domain.APIError{
				UserID:  s.userID,
				Code:    "ConnectionFailed",
				Message: err.Error(),
			})
		}
		return
	}

	for {
		data, err := t.ReadMessage()
		if !s.current(gen) {
			return
		}
		if err != nil {
			nt, ok := m.reconnect(s, gen)
			if !ok {
				return
			}
			t = nt
			continue
		}
		m.dispatch(s, gen, data)
	}
}

// dialAndAuthorize establishes the transport and sends the authorize frame.
// The session is left in the authenticating state; the authenticated
// transition happens when the authorize response arrives.
func (m *Manager) dialAndAuthorize(s *Session, gen int) (deriv.Transport, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	t, err := m.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	auth, err := json.Marshal(deriv.AuthorizeRequest{Authorize: s.token})
	if err != nil {
		_ = t.Close()
		return nil, err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = t.Close()
		return nil, domain.ErrSessionClosed
	}
	s.transport = t
	s.state = domain.SessionAuthenticating
	s.lastSeen = time.Now()
	err = s.writeLocked(auth)
	s.mu.Unlock()

	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

// reconnect retries the connection with linearly scaling backoff until it
// succeeds, the attempt ceiling is exceeded, or the session is torn down.
// Exceeding the ceiling removes the session and raises the give-up event.
func (m *Manager) reconnect(s *Session, gen int) (deriv.Transport, bool) {
	for {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return nil, false
		}
		s.state = domain.SessionReconnecting
		s.transport = nil
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		if attempt > m.cfg.MaxReconnectAttempts {
			m.logger.Warn("session reconnect attempts exhausted",
				slog.String("user_id", s.userID),
				slog.Int("attempts", attempt-1),
			)
			if m.removeSession(s) {
				m.notifyGiveUp(s.userID)
			}
			return nil, false
		}

		delay := m.cfg.ReconnectBase * time.Duration(attempt)
		select {
		case <-m.done:
			return nil, false
		case <-time.After(delay):
		}
		if !s.current(gen) {
			return nil, false
		}

		m.logger.Info("session reconnecting",
			slog.String("user_id", s.userID),
			slog.Int("attempt", attempt),
		)
		t, err := m.dialAndAuthorize(s, gen)
		if err != nil {
			continue
		}
		return t, true
	}
}

// sweep runs one liveness pass: silent sessions are forced through the
// reconnect path, live ones get a keep-alive ping.
func (m *Manager) sweep(now time.Time) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	ping, _ := json.Marshal(deriv.PingRequest{Ping: 1})
	for _, s := range sessions {
		if s.silentSince(now) > m.cfg.SilenceTimeout {
			m.logger.Warn("session silent, forcing reconnect",
				slog.String("user_id", s.userID),
			)
			s.mu.Lock()
			t := s.transport
			s.mu.Unlock()
			if t != nil {
				// The run loop's read fails and takes the normal
				// reconnect path.
				_ = t.Close()
			}
			continue
		}
		s.mu.Lock()
		if s.state == domain.SessionAuthenticated && s.transport != nil {
			_ = s.writeLocked(ping)
		}
		s.mu.Unlock()
	}
}

// dispatch decodes one inbound frame and fans it out as at most one typed
// event. Unrecognized frames are dropped without error.
func (m *Manager) dispatch(s *Session, gen int, raw []byte) {
	s.markSeen(time.Now())

	frame, err := deriv.Decode(raw)
	if err != nil {
		m.logger.Debug("dropping unparseable frame",
			slog.String("user_id", s.userID),
			slog.String("error", err.Error()),
		)
		return
	}

	switch {
	case frame.Authorize != nil:
		m.handleAuthorized(s, gen, frame.Authorize)

	case frame.Balance != nil:
		b := domain.Balance{
			UserID:   s.userID,
			Amount:   frame.Balance.Balance,
			Currency: frame.Balance.Currency,
		}
		for _, c := range m.consumers.Balances {
			c.OnBalance(b)
		}

	case frame.Tick != nil:
		tick := domain.Tick{
			Symbol:    frame.Tick.Symbol,
			Price:     frame.Tick.Quote,
			Timestamp: frame.Tick.Time(),
		}
		m.windows.Append(tick)
		for _, c := range m.consumers.Ticks {
			c.OnTick(s.userID, tick)
		}

	case frame.Proposal != nil:
		p := domain.Proposal{
			UserID:   s.userID,
			ReqID:    frame.ReqID,
			ID:       frame.Proposal.ID,
			AskPrice: frame.Proposal.AskPrice,
			Payout:   frame.Proposal.Payout,
			Spot:     frame.Proposal.Spot,
		}
		for _, c := range m.consumers.Proposals {
			c.OnProposal(p)
		}

	case frame.Buy != nil:
		b := domain.BuyConfirmation{
			UserID:     s.userID,
			ReqID:      frame.ReqID,
			ContractID: frame.Buy.ContractID,
			BuyPrice:   frame.Buy.BuyPrice,
			Payout:     frame.Buy.Payout,
			StartTime:  time.Unix(frame.Buy.PurchaseTime, 0),
		}
		for _, c := range m.consumers.Buys {
			c.OnBuyConfirmation(b)
		}

	case frame.Contract != nil:
		c := domain.ContractUpdate{
			UserID:      s.userID,
			ContractID:  frame.Contract.ContractID,
			Symbol:      frame.Contract.Underlying,
			EntrySpot:   frame.Contract.EntrySpot,
			ExitSpot:    frame.Contract.ExitTick,
			CurrentSpot: frame.Contract.CurrentSpot,
			Profit:      frame.Contract.Profit,
			IsSold:      frame.Contract.IsSold == 1,
			SettledAt:   time.Unix(frame.Contract.SellTime, 0),
		}
		for _, sc := range m.consumers.Settlements {
			sc.OnContractUpdate(c)
		}

	case frame.Error != nil:
		m.handleError(s, frame)

	case frame.Portfolio != nil, frame.Statement != nil, frame.Ping != nil:
		// Decoded and acknowledged; nothing in the runtime consumes these.
		m.logger.Debug("frame without consumer",
			slog.String("user_id", s.userID),
		)
	}
}

// handleAuthorized transitions the session to authenticated, reinstates the
// subscription set, and flushes the pending queue in FIFO order.
func (m *Manager) handleAuthorized(s *Session, gen int, res *deriv.AuthorizeResult) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.state = domain.SessionAuthenticated
	s.attempts = 0

	for sym := range s.subs {
		data, err := json.Marshal(deriv.TicksRequest{Ticks: sym, Subscribe: 1})
		if err == nil {
			_ = s.writeLocked(data)
		}
	}

	queued := s.queue
	s.queue = nil
	for i, data := range queued {
		if err := s.writeLocked(data); err != nil {
			// Keep the unsent tail; it flushes after the next reconnect.
			s.queue = append(s.queue, queued[i:]...)
			break
		}
	}
	s.mu.Unlock()

	m.logger.Info("session authenticated",
		slog.String("user_id", s.userID),
		slog.String("loginid", res.LoginID),
	)
	for _, o := range m.consumers.Observers {
		o.OnSessionAuthenticated(s.userID)
	}
	if res.Balance > 0 {
		b := domain.Balance{UserID: s.userID, Amount: res.Balance, Currency: res.Currency}
		for _, c := range m.consumers.Balances {
			c.OnBalance(b)
		}
	}
}

// handleError surfaces a venue error frame. An error during authentication
// is terminal for that connect attempt: the session is removed and not
// retried.
func (m *Manager) handleError(s *Session, frame *deriv.Frame) {
	apiErr := domain.APIError{
		UserID:  s.userID,
		ReqID:   frame.ReqID,
		Code:    frame.Error.Code,
		Message: frame.Error.Message,
	}

	s.mu.Lock()
	authenticating := s.state == domain.SessionAuthenticating
	s.mu.Unlock()

	if authenticating {
		m.logger.Warn("authentication rejected",
			slog.String("user_id", s.userID),
			slog.String("code", apiErr.Code),
		)
		m.removeSession(s)
	}
	m.notifyError(apiErr)
}

func (m *Manager) notifyError(e domain.APIError) {
	for _, o := range m.consumers.Observers {
		o.OnSessionError(e)
	}
}

func (m *Manager) notifyGiveUp(userID string) {
	for _, o := range m.consumers.Observers {
		o.OnSessionGiveUp(userID)
	}
}

package domain

import "time"

// SessionState is the lifecycle state of one user's venue session.
type SessionState int

const (
	SessionConnecting SessionState = iota
	SessionAuthenticating
	SessionAuthenticated
	SessionReconnecting
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionAuthenticating:
		return "authenticating"
	case SessionAuthenticated:
		return "authenticated"
	case SessionReconnecting:
		return "reconnecting"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Proposal is a venue price quote for a prospective contract.
type Proposal struct {
	UserID   string
	ReqID    int64
	ID       string
	AskPrice float64
	Payout   float64
	Spot     float64
}

// BuyConfirmation is the venue acknowledgement that an order was accepted.
type BuyConfirmation struct {
	UserID     string
	ReqID      int64
	ContractID string
	BuyPrice   float64
	Payout     float64
	StartTime  time.Time
}

// ContractUpdate is an order-lifecycle event for an open contract. A final
// update (IsSold) carries the settlement outcome.
type ContractUpdate struct {
	UserID     string
	ContractID string
	Symbol     string
	EntrySpot  float64
	ExitSpot   float64
	CurrentSpot float64
	Profit     float64
	IsSold     bool
	SettledAt  time.Time
}

// APIError is a venue-reported error frame tied to a prior request.
type APIError struct {
	UserID  string
	ReqID   int64
	Code    string
	Message string
}

// The session manager fans inbound venue events out to a fixed set of
// consumer interfaces. Consumers are registered once at wiring time; events
// for one user session are delivered in transport order.

// TickConsumer receives every price tick from every user session.
type TickConsumer interface {
	OnTick(userID string, tick Tick)
}

// ProposalConsumer receives price-proposal quotes.
type ProposalConsumer interface {
	OnProposal(p Proposal)
}

// BuyConsumer receives order confirmations.
type BuyConsumer interface {
	OnBuyConfirmation(b BuyConfirmation)
}

// SettlementConsumer receives contract-lifecycle updates.
type SettlementConsumer interface {
	OnContractUpdate(c ContractUpdate)
}

// BalanceConsumer receives venue balance updates.
type BalanceConsumer interface {
	OnBalance(b Balance)
}

// SessionObserver receives session lifecycle notifications: authentication,
// venue errors, and the terminal give-up after reconnect attempts are
// exhausted. After OnSessionGiveUp the user is effectively offline until a
// fresh connect.
type SessionObserver interface {
	OnSessionAuthenticated(userID string)
	OnSessionError(e APIError)
	OnSessionGiveUp(userID string)
}

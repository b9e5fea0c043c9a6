package domain

import "time"

// TradeStatus tracks a trade from signal to settlement.
type TradeStatus string

const (
	TradeStatusPending TradeStatus = "pending"
	TradeStatusOpen    TradeStatus = "open"
	TradeStatusWon     TradeStatus = "won"
	TradeStatusLost    TradeStatus = "lost"
)

// Terminal reports whether the status is a settled outcome.
func (s TradeStatus) Terminal() bool {
	return s == TradeStatusWon || s == TradeStatusLost
}

// ContractType is the venue-level trade direction.
type ContractType string

const (
	ContractCall ContractType = "CALL" // rise
	ContractPut  ContractType = "PUT"  // fall
)

// Trade is one contract bought on the venue, from signal to settlement.
// BotID is empty for manually placed or replicated trades; LeaderID and
// SourceTradeID are set only on copy trades.
type Trade struct {
	ID            string
	UserID        string
	BotID         string
	LeaderID      string
	SourceTradeID string
	Symbol        string
	ContractType  ContractType
	ContractID    string
	EntryPrice    float64
	EntryTime     time.Time
	Stake         float64
	Duration      int
	DurationUnit  string
	Status        TradeStatus
	ExitPrice     float64
	ExitTime      time.Time
	Profit        float64
	CreatedAt     time.Time
}

// IsCopy reports whether this trade was replicated from a leader's trade.
func (t *Trade) IsCopy() bool {
	return t.LeaderID != ""
}

// Tick is one timestamped price observation for a symbol.
type Tick struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// Balance is the venue-reported account balance for a user.
type Balance struct {
	UserID   string
	Amount   float64
	Currency string
}

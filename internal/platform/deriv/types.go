// Package deriv implements the wire contract and websocket transport for the
// Deriv-style binary-options streaming API. Outbound requests are plain
// structs marshalled to JSON; inbound frames are classified by which
// top-level key is present.
package deriv

import (
	"encoding/json"
	"time"
)

// ---------------------------------------------------------------------------
// Outbound requests
// ---------------------------------------------------------------------------

// AuthorizeRequest authenticates the connection with an API token.
type AuthorizeRequest struct {
	Authorize string `json:"authorize"`
	ReqID     int64  `json:"req_id,omitempty"`
}

// TicksRequest subscribes to a symbol's tick stream.
type TicksRequest struct {
	Ticks     string `json:"ticks"`
	Subscribe int    `json:"subscribe"`
}

// ForgetRequest cancels the tick subscription for a symbol.
type ForgetRequest struct {
	Forget string `json:"forget"`
}

// ProposalRequest asks for a price quote for a prospective contract and
// subscribes to quote updates.
type ProposalRequest struct {
	Proposal     int     `json:"proposal"`
	Amount       float64 `json:"amount"`
	Basis        string  `json:"basis"`
	ContractType string  `json:"contract_type"`
	Currency     string  `json:"currency"`
	Duration     int     `json:"duration"`
	DurationUnit string  `json:"duration_unit"`
	Symbol       string  `json:"symbol"`
	Subscribe    int     `json:"subscribe"`
	ReqID        int64   `json:"req_id,omitempty"`
}

// BuyRequest purchases a previously proposed contract at up to Price.
type BuyRequest struct {
	Buy   string  `json:"buy"`
	Price float64 `json:"price"`
	ReqID int64   `json:"req_id,omitempty"`
}

// OpenContractRequest subscribes to lifecycle updates for a bought contract.
type OpenContractRequest struct {
	ProposalOpenContract int    `json:"proposal_open_contract"`
	ContractID           string `json:"contract_id"`
	Subscribe            int    `json:"subscribe"`
}

// PingRequest is the keep-alive probe.
type PingRequest struct {
	Ping int `json:"ping"`
}

// ---------------------------------------------------------------------------
// Inbound frames
// ---------------------------------------------------------------------------

// AuthorizeResult is the payload of a successful authorize frame.
type AuthorizeResult struct {
	LoginID  string  `json:"loginid"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// BalanceResult is a balance-update frame payload.
type BalanceResult struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// TickResult is one price observation.
type TickResult struct {
	Symbol string  `json:"symbol"`
	Quote  float64 `json:"quote"`
	Epoch  int64   `json:"epoch"`
}

// Time returns the tick's timestamp.
func (t *TickResult) Time() time.Time {
	return time.Unix(t.Epoch, 0)
}

// ProposalResult is a price quote for a prospective contract.
type ProposalResult struct {
	ID       string  `json:"id"`
	AskPrice float64 `json:"ask_price"`
	Payout   float64 `json:"payout"`
	Spot     float64 `json:"spot"`
}

// BuyResult confirms an accepted order.
type BuyResult struct {
	ContractID   string  `json:"contract_id"`
	BuyPrice     float64 `json:"buy_price"`
	Payout       float64 `json:"payout"`
	PurchaseTime int64   `json:"purchase_time"`
}

// OpenContractResult is a lifecycle update for an open contract.
type OpenContractResult struct {
	ContractID  string  `json:"contract_id"`
	Underlying  string  `json:"underlying"`
	EntrySpot   float64 `json:"entry_spot"`
	CurrentSpot float64 `json:"current_spot"`
	ExitTick    float64 `json:"exit_tick"`
	Profit      float64 `json:"profit"`
	IsSold      int     `json:"is_sold"`
	SellTime    int64   `json:"sell_time"`
}

// PortfolioResult lists the account's open contracts.
type PortfolioResult struct {
	Contracts []PortfolioContract `json:"contracts"`
}

// PortfolioContract is one row of the portfolio listing.
type PortfolioContract struct {
	ContractID   string  `json:"contract_id"`
	Symbol       string  `json:"symbol"`
	ContractType string  `json:"contract_type"`
	BuyPrice     float64 `json:"buy_price"`
	Payout       float64 `json:"payout"`
}

// StatementResult lists recent account transactions.
type StatementResult struct {
	Count        int                    `json:"count"`
	Transactions []StatementTransaction `json:"transactions"`
}

// StatementTransaction is one statement row.
type StatementTransaction struct {
	ActionType string  `json:"action_type"`
	Amount     float64 `json:"amount"`
	Time       int64   `json:"transaction_time"`
}

// ErrorResult is a venue-reported error for a prior request.
type ErrorResult struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Frame is one decoded inbound message. Exactly one payload pointer is
// non-nil after Decode; unrecognized frames decode with all pointers nil and
// are dropped by the dispatcher.
type Frame struct {
	ReqID     int64               `json:"req_id"`
	Authorize *AuthorizeResult    `json:"authorize"`
	Balance   *BalanceResult      `json:"balance"`
	Portfolio *PortfolioResult    `json:"portfolio"`
	Statement *StatementResult    `json:"statement"`
	Tick      *TickResult         `json:"tick"`
	Proposal  *ProposalResult     `json:"proposal"`
	Buy       *BuyResult          `json:"buy"`
	Contract  *OpenContractResult `json:"proposal_open_contract"`
	Error     *ErrorResult        `json:"error"`
	Ping      json.RawMessage     `json:"ping"`
}

// Decode parses one raw inbound frame. An error frame wins over any payload
// echoed alongside it, so callers see a single classification.
func Decode(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f.Error != nil {
		f.Authorize = nil
		f.Balance = nil
		f.Portfolio = nil
		f.Statement = nil
		f.Tick = nil
		f.Proposal = nil
		f.Buy = nil
		f.Contract = nil
	}
	return &f, nil
}

package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/tickpilot/internal/domain"
	"github.com/alanyoungcy/tickpilot/internal/strategy"
)

func TestZZDebugLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	h.feedFalling(strategy.MinTicks + 2)
	props := h.gateway.proposals()
	fmt.Printf("proposals: %d\n", len(props))
	reqID := props[len(props)-1].ReqID
	fmt.Printf("reqID: %d\n", reqID)

	c, ok := h.engine.byReqID("u1", reqID)
	fmt.Printf("byReqID ok=%v\n", ok)
	if ok {
		fmt.Printf("slot=%v buySent(before proposal)=%v\n", c.slot.Load(), c.buySent)
	}

	h.engine.OnProposal(domain.Proposal{UserID: "u1", ReqID: reqID, ID: "prop-1", AskPrice: 10, Spot: 980})
	fmt.Printf("buys: %d\n", len(h.gateway.buys()))
	if ok {
		fmt.Printf("slot after proposal=%v\n", c.slot.Load())
	}

	h.engine.OnBuyConfirmation(domain.BuyConfirmation{UserID: "u1", ReqID: reqID, ContractID: "c-1", BuyPrice: 10, StartTime: time.Now()})
	if ok {
		fmt.Printf("slot after buyconf=%v\n", c.slot.Load())
	}
	h.engine.Drain()
	fmt.Printf("trades in store: %d\n", len(h.trades.trades))
	for id, tr := range h.trades.trades {
		fmt.Printf("  trade %s status=%v contract=%q entry=%v\n", id, tr.Status, tr.ContractID, tr.EntryPrice)
	}
}

// Package engine runs the bot execution contexts: one per active bot,
// purely event-driven off the session manager's tick and contract-update
// streams. The context's current-trade slot is an explicit tri-state guarded
// by an atomic transition, which is what closes the duplicate-order race
// between a signal firing and its confirmation arriving.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tickpilot/internal/domain"
	"github.com/alanyoungcy/tickpilot/internal/strategy"
)

// Trade-slot states. Transitions: empty -> pending (signal fired, atomic
// CAS), pending -> open (buy confirmed), open -> empty (settled), and
// pending -> empty (venue rejected the request).
const (
	slotEmpty int32 = iota
	slotPending
	slotOpen
)

// botContext is the runtime state for one active bot.
type botContext struct {
	bot  domain.Bot
	strat strategy.Strategy

	// active is false while the bot is paused; suppressed is set while the
	// owning user's session is gone (give-up) and cleared on reauth.
	active     atomic.Bool
	suppressed atomic.Bool

	// slot is the tri-state current-trade occupancy.
	slot atomic.Int32

	mu         sync.Mutex
	buffer     []float64 // private bounded price buffer, oldest first
	bufCap     int
	tradeID    string
	reqID      int64
	contractID string
	buySent    bool
	entrySpot  float64
	dailyLoss  float64
	lossStreak int
	lastTrade  time.Time
	stats      domain.BotStats
}

func newBotContext(bot domain.Bot, strat strategy.Strategy, bufCap int, stats domain.BotStats) *botContext {
	if bufCap <= 0 {
		bufCap = 100
	}
	c := &botContext{
		bot:    bot,
		strat:  strat,
		buffer: make([]float64, 0, bufCap),
		bufCap: bufCap,
		stats:  stats,
	}
	c.active.Store(true)
	return c
}

// push appends a price, evicting the oldest when the buffer is full, and
// returns the resulting depth.
func (c *botContext) push(price float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buffer) == c.bufCap {
		copy(c.buffer, c.buffer[1:])
		c.buffer = c.buffer[:len(c.buffer)-1]
	}
	c.buffer = append(c.buffer, price)
	return len(c.buffer)
}

// prices returns a copy of the buffer for indicator computation.
func (c *botContext) prices() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.buffer))
	copy(out, c.buffer)
	return out
}

// riskBlocked reports whether the daily-loss or loss-streak ceiling has
// been reached. These are expected steady-state outcomes, not faults.
func (c *botContext) riskBlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot.MaxDailyLoss > 0 && c.dailyLoss >= c.bot.MaxDailyLoss {
		return true
	}
	if c.bot.MaxLossStreak > 0 && c.lossStreak >= c.bot.MaxLossStreak {
		return true
	}
	return false
}

// settle folds a settlement into the risk counters and the aggregate stats,
// clears the trade slot, and returns the trade id that was settled.
func (c *botContext) settle(profit float64, at time.Time) string {
	c.mu.Lock()
	tradeID := c.tradeID
	if profit >= 0 {
		c.lossStreak = 0
	} else {
		c.lossStreak++
		c.dailyLoss += -profit
	}
	c.lastTrade = at
	c.stats.Record(profit)
	c.tradeID = ""
	c.contractID = ""
	c.reqID = 0
	c.buySent = false
	c.entrySpot = 0
	c.mu.Unlock()

	c.slot.Store(slotEmpty)
	return tradeID
}

// abort clears a pending trade after a venue rejection. The trade record
// stays in its pending state; no retry is issued.
func (c *botContext) abort() string {
	c.mu.Lock()
	tradeID := c.tradeID
	c.tradeID = ""
	c.contractID = ""
	c.reqID = 0
	c.buySent = false
	c.entrySpot = 0
	c.mu.Unlock()

	c.slot.Store(slotEmpty)
	return tradeID
}

// snapshotStats returns a copy of the aggregate stats.
func (c *botContext) snapshotStats() domain.BotStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// resetDailyLoss zeroes the accumulator at the daily rollover.
func (c *botContext) resetDailyLoss() {
	c.mu.Lock()
	c.dailyLoss = 0
	c.mu.Unlock()
}

func (c *botContext) dailyLossTotal() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dailyLoss
}

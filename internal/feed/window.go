// Package feed maintains the shared per-symbol tick windows. Each window is
// a bounded FIFO of recent ticks: the session dispatcher for whichever
// user's feed produced the tick is the single writer, and any number of bot
// contexts read concurrently.
package feed

import (
	"sync"
	"time"

	"github.com/alanyoungcy/tickpilot/internal/domain"
)

// Windows holds one bounded tick window per symbol. Mutations are scoped to
// a single symbol, so a per-window mutex is sufficient.
type Windows struct {
	cap int

	mu      sync.RWMutex
	symbols map[string]*window
}

type window struct {
	mu    sync.RWMutex
	ticks []domain.Tick
}

// NewWindows creates a Windows store retaining up to capacity ticks per
// symbol, oldest evicted first.
func NewWindows(capacity int) *Windows {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Windows{
		cap:     capacity,
		symbols: make(map[string]*window),
	}
}

func (w *Windows) get(symbol string) *window {
	w.mu.RLock()
	win, ok := w.symbols[symbol]
	w.mu.RUnlock()
	if ok {
		return win
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if win, ok = w.symbols[symbol]; ok {
		return win
	}
	win = &window{ticks: make([]domain.Tick, 0, w.cap)}
	w.symbols[symbol] = win
	return win
}

// Append records a tick for its symbol, dropping the oldest entry when the
// window is full.
func (w *Windows) Append(tick domain.Tick) {
	win := w.get(tick.Symbol)
	win.mu.Lock()
	defer win.mu.Unlock()
	if len(win.ticks) == w.cap {
		copy(win.ticks, win.ticks[1:])
		win.ticks = win.ticks[:len(win.ticks)-1]
	}
	win.ticks = append(win.ticks, tick)
}

// Recent returns up to n most recent ticks for a symbol, oldest first. The
// returned slice is a copy.
func (w *Windows) Recent(symbol string, n int) []domain.Tick {
	win := w.get(symbol)
	win.mu.RLock()
	defer win.mu.RUnlock()
	if n <= 0 || n > len(win.ticks) {
		n = len(win.ticks)
	}
	out := make([]domain.Tick, n)
	copy(out, win.ticks[len(win.ticks)-n:])
	return out
}

// Last returns the most recent tick for a symbol, if any.
func (w *Windows) Last(symbol string) (domain.Tick, bool) {
	win := w.get(symbol)
	win.mu.RLock()
	defer win.mu.RUnlock()
	if len(win.ticks) == 0 {
		return domain.Tick{}, false
	}
	return win.ticks[len(win.ticks)-1], true
}

// Age returns how stale the newest tick for a symbol is relative to now.
// It returns false when no ticks have been seen.
func (w *Windows) Age(symbol string, now time.Time) (time.Duration, bool) {
	last, ok := w.Last(symbol)
	if !ok {
		return 0, false
	}
	return now.Sub(last.Timestamp), true
}

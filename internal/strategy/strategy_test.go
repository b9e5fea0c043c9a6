package strategy

import (
	"testing"

	"github.com/alanyoungcy/tickpilot/internal/domain"
	"github.com/alanyoungcy/tickpilot/internal/indicator"
)

func tick(price float64) domain.Tick {
	return domain.Tick{Symbol: "R_100", Price: price}
}

func TestMomentumExtremes(t *testing.T) {
	m := NewMomentum()

	tests := []struct {
		name string
		rsi  float64
		want Action
	}{
		{"deep oversold", 10, EnterLong},
		{"at oversold threshold", 30, EnterLong},
		{"neutral", 50, Hold},
		{"at overbought threshold", 70, EnterShort},
		{"deep overbought", 95, EnterShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := m.Evaluate(Indicators{RSI: tt.rsi}, tick(100))
			if sig.Action != tt.want {
				t.Errorf("RSI %.0f: action = %v, want %v", tt.rsi, sig.Action, tt.want)
			}
			if sig.Action != Hold && (sig.Confidence < 0.5 || sig.Confidence > 1) {
				t.Errorf("confidence = %v, want in [0.5, 1]", sig.Confidence)
			}
		})
	}
}

func TestTrendRequiresCrossoverAndConfirmation(t *testing.T) {
	tr := NewTrend()

	up := Indicators{FastMAPrev: 99, SlowMAPrev: 100, FastMA: 101, SlowMA: 100, RSI: 60}
	if got := tr.Evaluate(up, tick(101)).Action; got != EnterLong {
		t.Errorf("confirmed upward crossover: action = %v, want EnterLong", got)
	}

	unconfirmed := up
	unconfirmed.RSI = 50
	if got := tr.Evaluate(unconfirmed, tick(101)).Action; got != Hold {
		t.Errorf("unconfirmed crossover: action = %v, want Hold", got)
	}

	noCross := Indicators{FastMAPrev: 101, SlowMAPrev: 100, FastMA: 102, SlowMA: 100, RSI: 80}
	if got := tr.Evaluate(noCross, tick(102)).Action; got != Hold {
		t.Errorf("fast already above slow: action = %v, want Hold", got)
	}

	down := Indicators{FastMAPrev: 101, SlowMAPrev: 100, FastMA: 99, SlowMA: 100, RSI: 40}
	if got := tr.Evaluate(down, tick(99)).Action; got != EnterShort {
		t.Errorf("confirmed downward crossover: action = %v, want EnterShort", got)
	}
}

func TestRangeTradesBandEdgesInNeutralBand(t *testing.T) {
	r := NewRange()
	bands := indicator.Bands{Upper: 110, Middle: 100, Lower: 90}

	atLower := Indicators{RSI: 50, Bands: bands}
	if got := r.Evaluate(atLower, tick(89)).Action; got != EnterLong {
		t.Errorf("price below lower band: action = %v, want EnterLong", got)
	}
	if got := r.Evaluate(atLower, tick(111)).Action; got != EnterShort {
		t.Errorf("price above upper band: action = %v, want EnterShort", got)
	}
	if got := r.Evaluate(atLower, tick(100)).Action; got != Hold {
		t.Errorf("price inside bands: action = %v, want Hold", got)
	}

	trending := Indicators{RSI: 75, Bands: bands}
	if got := r.Evaluate(trending, tick(111)).Action; got != Hold {
		t.Errorf("oscillator outside neutral band: action = %v, want Hold", got)
	}
}

func TestComputeCrossoverSnapshot(t *testing.T) {
	// 25 flat prices then a jump: the fast MA must sit above the slow MA,
	// and the snapshot must expose the pre-jump values for cross detection.
	prices := make([]float64, 0, 26)
	for i := 0; i < 25; i++ {
		prices = append(prices, 100)
	}
	prices = append(prices, 110)

	ind := Compute(prices)
	if ind.Price != 110 {
		t.Errorf("Price = %v, want 110", ind.Price)
	}
	if ind.FastMA <= ind.SlowMA {
		t.Errorf("FastMA %v <= SlowMA %v after jump", ind.FastMA, ind.SlowMA)
	}
	if ind.FastMAPrev != ind.SlowMAPrev {
		t.Errorf("pre-jump MAs differ: fast %v slow %v", ind.FastMAPrev, ind.SlowMAPrev)
	}
	if ind.MACD.Signal != ind.MACD.Line {
		t.Errorf("MACD signal %v != line %v", ind.MACD.Signal, ind.MACD.Line)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	want := []string{"momentum", "range", "trend"}
	got := r.List()
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if _, err := r.Get("momentum"); err != nil {
		t.Errorf("Get(momentum): %v", err)
	}
	if _, err := r.Get("martingale"); err == nil {
		t.Error("Get(martingale) succeeded, want error")
	}
}

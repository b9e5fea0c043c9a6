package indicator

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}
	if got := SMA(prices, 5); !almostEqual(got, 3) {
		t.Errorf("SMA(5) = %v, want 3", got)
	}
	if got := SMA(prices, 2); !almostEqual(got, 4.5) {
		t.Errorf("SMA(2) = %v, want 4.5", got)
	}
	if got := SMA(prices, 6); got != 0 {
		t.Errorf("SMA with short window = %v, want 0", got)
	}
}

func TestEMASeedsAtFirstPrice(t *testing.T) {
	if got := EMA([]float64{42}, 10); !almostEqual(got, 42) {
		t.Errorf("EMA of single price = %v, want 42", got)
	}
	// k = 2/(2+1) = 2/3: 1 -> 2*2/3 + 1*1/3 = 5/3
	if got := EMA([]float64{1, 2}, 2); !almostEqual(got, 5.0/3.0) {
		t.Errorf("EMA = %v, want %v", got, 5.0/3.0)
	}
}

func TestRSIMonotonic(t *testing.T) {
	up := make([]float64, 15)
	down := make([]float64, 15)
	for i := range up {
		up[i] = 100 + float64(i)
		down[i] = 100 - float64(i)
	}
	if got := RSI(up, DefaultRSIPeriod); got != 100 {
		t.Errorf("RSI of strictly rising window = %v, want 100", got)
	}
	if got := RSI(down, DefaultRSIPeriod); got != 0 {
		t.Errorf("RSI of strictly falling window = %v, want 0", got)
	}
}

func TestRSINeutralWhenShort(t *testing.T) {
	if got := RSI([]float64{1, 2, 3}, DefaultRSIPeriod); got != 50 {
		t.Errorf("RSI with short window = %v, want 50", got)
	}
}

func TestRSIMixed(t *testing.T) {
	// Alternating +2/-1 changes: avg gain 1, avg loss ~0.467 over 14 changes.
	prices := []float64{100}
	for i := 0; i < 7; i++ {
		prices = append(prices, prices[len(prices)-1]+2)
		prices = append(prices, prices[len(prices)-1]-1)
	}
	got := RSI(prices, DefaultRSIPeriod)
	if got <= 50 || got >= 100 {
		t.Errorf("RSI of net-rising series = %v, want between 50 and 100", got)
	}
}

func TestMACDSignalEqualsLine(t *testing.T) {
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 100 + float64(i)*0.5
	}
	m := MACD(prices)
	if m.Signal != m.Line {
		t.Errorf("signal %v != line %v", m.Signal, m.Line)
	}
	if m.Histogram != 0 {
		t.Errorf("histogram = %v, want 0", m.Histogram)
	}
	if m.Line <= 0 {
		t.Errorf("MACD of rising series = %v, want positive", m.Line)
	}
}

func TestBollingerWidth(t *testing.T) {
	prices := []float64{10, 12, 14, 16, 18, 20, 18, 16, 14, 12}
	for _, k := range []float64{1, 2, 3.5} {
		b := Bollinger(prices, len(prices), k)
		width := b.Upper - b.Lower
		want := 2 * k * StdDev(prices, len(prices))
		if !almostEqual(width, want) {
			t.Errorf("k=%v: band width = %v, want %v", k, width, want)
		}
	}
	// Width is independent of the mean.
	shifted := make([]float64, len(prices))
	for i, p := range prices {
		shifted[i] = p + 1000
	}
	a := Bollinger(prices, len(prices), 2)
	b := Bollinger(shifted, len(shifted), 2)
	if !almostEqual(a.Upper-a.Lower, b.Upper-b.Lower) {
		t.Errorf("band width changed with mean shift: %v vs %v", a.Upper-a.Lower, b.Upper-b.Lower)
	}
}

func TestBollingerConstantSeries(t *testing.T) {
	prices := []float64{5, 5, 5, 5, 5}
	b := Bollinger(prices, 5, 2)
	if !almostEqual(b.Upper, 5) || !almostEqual(b.Lower, 5) || !almostEqual(b.Middle, 5) {
		t.Errorf("constant series bands = %+v, want all 5", b)
	}
}

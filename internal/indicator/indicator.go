// Package indicator provides pure technical-indicator functions over a
// bounded price window. Inputs are ordered oldest-first; there is no state
// and no I/O, so every function is safe to call from any goroutine.
package indicator

import "math"

// DefaultRSIPeriod is the lookback used by the strategy layer.
const DefaultRSIPeriod = 14

// SMA returns the arithmetic mean of the last n prices. It returns 0 when
// fewer than n prices are available.
func SMA(prices []float64, n int) float64 {
	if n <= 0 || len(prices) < n {
		return 0
	}
	var sum float64
	for _, p := range prices[len(prices)-n:] {
		sum += p
	}
	return sum / float64(n)
}

// EMA returns the exponential moving average with period n, seeded at the
// first price in the window and applying multiplier 2/(n+1) recursively
// across the full window.
func EMA(prices []float64, n int) float64 {
	if n <= 0 || len(prices) == 0 {
		return 0
	}
	k := 2.0 / float64(n+1)
	ema := prices[0]
	for _, p := range prices[1:] {
		ema = p*k + ema*(1-k)
	}
	return ema
}

// RSI returns the relative strength index over the window using simple
// averages of gains and losses across consecutive price changes. An average
// loss of zero yields 100; an average gain of zero yields 0. At least
// period+1 prices are required, otherwise 50 (neutral) is returned.
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return 50
	}
	window := prices[len(prices)-period-1:]
	var gains, losses float64
	for i := 1; i < len(window); i++ {
		change := window[i] - window[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	if losses == 0 {
		return 100
	}
	rs := (gains / float64(period)) / (losses / float64(period))
	return 100 - 100/(1+rs)
}

// MACDResult holds the MACD line and its derived values.
//
// The signal line is intentionally the MACD line itself rather than a
// 9-period EMA of it, so the histogram is always zero. The strategy layer
// only consumes the MACD line; the simplification is kept explicit here
// rather than hidden.
type MACDResult struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// MACD returns EMA(12) minus EMA(26) over the window.
func MACD(prices []float64) MACDResult {
	line := EMA(prices, 12) - EMA(prices, 26)
	return MACDResult{Line: line, Signal: line, Histogram: 0}
}

// Bands holds Bollinger band values.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger returns SMA(n) plus/minus k population standard deviations over
// the same window. Zero value when fewer than n prices are available.
func Bollinger(prices []float64, n int, k float64) Bands {
	if n <= 0 || len(prices) < n {
		return Bands{}
	}
	mid := SMA(prices, n)
	var variance float64
	for _, p := range prices[len(prices)-n:] {
		d := p - mid
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(n))
	return Bands{
		Upper:  mid + k*sigma,
		Middle: mid,
		Lower:  mid - k*sigma,
	}
}

// StdDev returns the population standard deviation of the last n prices.
func StdDev(prices []float64, n int) float64 {
	if n <= 0 || len(prices) < n {
		return 0
	}
	mid := SMA(prices, n)
	var variance float64
	for _, p := range prices[len(prices)-n:] {
		d := p - mid
		variance += d * d
	}
	return math.Sqrt(variance / float64(n))
}

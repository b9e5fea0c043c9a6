// Package strategy defines the trading-strategy contract and the built-in
// variants. A strategy is a pure function of the indicator snapshot and the
// current tick; all state lives in the engine's bot context.
package strategy

import (
	"github.com/alanyoungcy/tickpilot/internal/domain"
	"github.com/alanyoungcy/tickpilot/internal/indicator"
)

// Action is a strategy's decision for the current tick.
type Action int

const (
	Hold Action = iota
	EnterLong
	EnterShort
)

func (a Action) String() string {
	switch a {
	case EnterLong:
		return "enter_long"
	case EnterShort:
		return "enter_short"
	default:
		return "hold"
	}
}

// ContractType maps the action to the venue contract direction. Hold has no
// contract type.
func (a Action) ContractType() domain.ContractType {
	if a == EnterShort {
		return domain.ContractPut
	}
	return domain.ContractCall
}

// Signal is the outcome of one evaluation.
type Signal struct {
	Action     Action
	Confidence float64 // 0..1
	Reason     string
}

// Indicators is the snapshot every strategy evaluates against, computed once
// per tick over the bot's private buffer.
type Indicators struct {
	Price      float64
	FastMA     float64
	SlowMA     float64
	FastMAPrev float64
	SlowMAPrev float64
	RSI        float64
	MACD       indicator.MACDResult
	Bands      indicator.Bands
}

// Periods used across the built-in variants.
const (
	fastPeriod      = 5
	slowPeriod      = 20
	bollingerPeriod = 20
	bollingerK      = 2.0
)

// MinTicks is the buffer depth below which no strategy can produce a signal.
const MinTicks = slowPeriod + 1

// Compute derives the indicator snapshot from an oldest-first price window.
func Compute(prices []float64) Indicators {
	ind := Indicators{
		RSI:   indicator.RSI(prices, indicator.DefaultRSIPeriod),
		MACD:  indicator.MACD(prices),
		Bands: indicator.Bollinger(prices, bollingerPeriod, bollingerK),
	}
	if len(prices) > 0 {
		ind.Price = prices[len(prices)-1]
	}
	ind.FastMA = indicator.SMA(prices, fastPeriod)
	ind.SlowMA = indicator.SMA(prices, slowPeriod)
	if len(prices) > 1 {
		prev := prices[:len(prices)-1]
		ind.FastMAPrev = indicator.SMA(prev, fastPeriod)
		ind.SlowMAPrev = indicator.SMA(prev, slowPeriod)
	}
	return ind
}

// Strategy evaluates one tick against the indicator snapshot.
type Strategy interface {
	Name() string
	Evaluate(ind Indicators, tick domain.Tick) Signal
}

func hold(reason string) Signal {
	return Signal{Action: Hold, Reason: reason}
}

package strategy

import (
	"fmt"

	"github.com/alanyoungcy/tickpilot/internal/domain"
)

const (
	trendConfirmLong  = 55.0
	trendConfirmShort = 45.0
)

// Trend trades moving-average crossovers confirmed by the RSI: a fast MA
// crossing the slow MA only fires when momentum agrees with the direction.
type Trend struct{}

// NewTrend creates the trend-following variant.
func NewTrend() *Trend { return &Trend{} }

func (t *Trend) Name() string { return "trend" }

// Evaluate fires on the tick where the fast MA crosses the slow MA, with
// RSI above 55 (long) or below 45 (short) as confirmation.
func (t *Trend) Evaluate(ind Indicators, _ domain.Tick) Signal {
	crossedUp := ind.FastMAPrev <= ind.SlowMAPrev && ind.FastMA > ind.SlowMA
	crossedDown := ind.FastMAPrev >= ind.SlowMAPrev && ind.FastMA < ind.SlowMA

	switch {
	case crossedUp && ind.RSI >= trendConfirmLong:
		return Signal{
			Action:     EnterLong,
			Confidence: confidenceFromDistance(ind.RSI - trendConfirmLong),
			Reason:     fmt.Sprintf("fast ma crossed above slow ma, rsi %.1f", ind.RSI),
		}
	case crossedDown && ind.RSI <= trendConfirmShort:
		return Signal{
			Action:     EnterShort,
			Confidence: confidenceFromDistance(trendConfirmShort - ind.RSI),
			Reason:     fmt.Sprintf("fast ma crossed below slow ma, rsi %.1f", ind.RSI),
		}
	case crossedUp || crossedDown:
		return hold("crossover without momentum confirmation")
	default:
		return hold("no crossover")
	}
}

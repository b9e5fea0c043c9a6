package strategy

import (
	"fmt"

	"github.com/alanyoungcy/tickpilot/internal/domain"
)

const (
	rangeNeutralLow  = 35.0
	rangeNeutralHigh = 65.0
)

// Range trades mean reversion around the moving average while the RSI sits
// in a neutral band. Prices stretched to a Bollinger band edge without a
// momentum extreme are expected to revert to the middle.
type Range struct{}

// NewRange creates the range variant.
func NewRange() *Range { return &Range{} }

func (r *Range) Name() string { return "range" }

// Evaluate enters toward the mean when the price touches a band edge and
// the RSI stays inside [35, 65]; an RSI outside the band suggests a real
// trend, so no trade.
func (r *Range) Evaluate(ind Indicators, tick domain.Tick) Signal {
	if ind.Bands.Upper == ind.Bands.Lower {
		return hold("bands not formed")
	}
	if ind.RSI < rangeNeutralLow || ind.RSI > rangeNeutralHigh {
		return hold("oscillator outside neutral band")
	}

	width := ind.Bands.Upper - ind.Bands.Lower
	switch {
	case tick.Price <= ind.Bands.Lower:
		depth := (ind.Bands.Lower - tick.Price) / width
		return Signal{
			Action:     EnterLong,
			Confidence: rangeConfidence(depth),
			Reason:     fmt.Sprintf("price %.5f at lower band %.5f", tick.Price, ind.Bands.Lower),
		}
	case tick.Price >= ind.Bands.Upper:
		depth := (tick.Price - ind.Bands.Upper) / width
		return Signal{
			Action:     EnterShort,
			Confidence: rangeConfidence(depth),
			Reason:     fmt.Sprintf("price %.5f at upper band %.5f", tick.Price, ind.Bands.Upper),
		}
	default:
		return hold("price inside bands")
	}
}

func rangeConfidence(depth float64) float64 {
	c := 0.6 + depth
	if c > 1 {
		c = 1
	}
	return c
}

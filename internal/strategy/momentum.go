package strategy

import (
	"fmt"

	"github.com/alanyoungcy/tickpilot/internal/domain"
)

const (
	momentumOversold   = 30.0
	momentumOverbought = 70.0
)

// Momentum trades the extremes of the RSI oscillator: oversold readings
// enter long expecting a snap back, overbought readings enter short.
type Momentum struct{}

// NewMomentum creates the momentum variant.
func NewMomentum() *Momentum { return &Momentum{} }

func (m *Momentum) Name() string { return "momentum" }

// Evaluate enters long at RSI <= 30 and short at RSI >= 70. Confidence
// grows with the distance past the threshold.
func (m *Momentum) Evaluate(ind Indicators, _ domain.Tick) Signal {
	switch {
	case ind.RSI <= momentumOversold:
		return Signal{
			Action:     EnterLong,
			Confidence: confidenceFromDistance(momentumOversold - ind.RSI),
			Reason:     fmt.Sprintf("rsi oversold at %.1f", ind.RSI),
		}
	case ind.RSI >= momentumOverbought:
		return Signal{
			Action:     EnterShort,
			Confidence: confidenceFromDistance(ind.RSI - momentumOverbought),
			Reason:     fmt.Sprintf("rsi overbought at %.1f", ind.RSI),
		}
	default:
		return hold("rsi inside neutral band")
	}
}

// confidenceFromDistance maps a 0..30 threshold overshoot to 0.5..1.
func confidenceFromDistance(d float64) float64 {
	c := 0.5 + d/60
	if c > 1 {
		c = 1
	}
	return c
}

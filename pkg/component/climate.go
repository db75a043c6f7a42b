package component

import (
	"math"

	"github.com/raterudder/dispatcher/pkg/clock"
)

// ClimateC is the outdoor temperature model: a seasonal swing of 25 °C
// peaking in summer plus a daily swing of 10 °C peaking mid afternoon.
func ClimateC(fractionYear, fractionDay float64) float64 {
	return -3.0 +
		25.0*0.5*(1-math.Cos(2*math.Pi*(fractionYear-9.0/365.0))) +
		10.0*0.5*(1-math.Cos(2*math.Pi*(fractionDay-0.1)))
}

// ClimateAt evaluates the model at the clock's current time.
func ClimateAt(clk *clock.Clock) float64 {
	return ClimateC(clk.FractionYear(), clk.FractionDay())
}

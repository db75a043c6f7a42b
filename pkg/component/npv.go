package component

import (
	"math"

	"github.com/raterudder/dispatcher/pkg/clock"
)

// NPV accumulates cash flows discounted to the start of the projection.
type NPV struct {
	clock    *clock.Clock
	valueGBP float64
}

// NewNPV returns an empty accumulator on clk.
func NewNPV(clk *clock.Clock) *NPV {
	return &NPV{clock: clk}
}

// Post discounts v by the elapsed time and adds it.
func (n *NPV) Post(v float64) {
	t := float64(n.clock.Year()) + n.clock.FractionYear()
	n.valueGBP += v / math.Pow(1+n.clock.DiscountRate(), t)
}

// ValueGBP is the discounted sum so far.
func (n *NPV) ValueGBP() float64 { return n.valueGBP }

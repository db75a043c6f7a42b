package component

import "github.com/raterudder/dispatcher/pkg/clock"

// Accumulator sums a quantity into the current bucket of every clock unit.
type Accumulator struct {
	clock   *clock.Clock
	buckets map[clock.Unit][]float64
}

// NewAccumulator returns zeroed buckets sized for clk.
func NewAccumulator(clk *clock.Clock) *Accumulator {
	a := &Accumulator{clock: clk, buckets: make(map[clock.Unit][]float64, len(clock.Units))}
	for _, u := range clock.Units {
		a.buckets[u] = make([]float64, clk.Buckets(u))
	}
	return a
}

// Add adds v to the current bucket of each unit.
func (a *Accumulator) Add(v float64) {
	for _, u := range clock.Units {
		a.buckets[u][a.clock.Index(u)] += v
	}
}

// Get returns bucket i of unit u.
func (a *Accumulator) Get(u clock.Unit, i int) float64 {
	b := a.buckets[u]
	if i < 0 || i >= len(b) {
		return 0
	}
	return b[i]
}

// Total is the sum over the whole projection.
func (a *Accumulator) Total() float64 {
	var t float64
	for _, v := range a.buckets[clock.Year] {
		t += v
	}
	return t
}

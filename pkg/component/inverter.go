package component

import (
	"math"

	"github.com/raterudder/dispatcher/pkg/clock"
	"github.com/raterudder/dispatcher/pkg/types"
)

// InverterConfig is the inverter attached to a generator or battery.
type InverterConfig struct {
	PowerEfficiency float64    `yaml:"power_efficiency"`
	PowerThresholdW float64    `yaml:"power_threshold_w"`
	Cost            CostConfig `yaml:"cost"`
}

// Validate checks the efficiency range. A zero efficiency means lossless.
func (c InverterConfig) Validate(field string) error {
	if c.PowerEfficiency < 0 || c.PowerEfficiency > 1 {
		return types.RangeError(field+".power_efficiency", c.PowerEfficiency, 0, 1)
	}
	if c.PowerThresholdW < 0 {
		return types.RangeError(field+".power_threshold_w", c.PowerThresholdW, 0, math.Inf(1))
	}
	return nil
}

// Inverter converts between DC and AC with a fixed efficiency and a
// standing threshold below which nothing passes.
type Inverter struct {
	Base
	efficiency float64
	thresholdJ float64
}

// NewInverter builds an inverter. A nil cfg gives an ideal inverter.
func NewInverter(name string, cfg *InverterConfig, clk *clock.Clock) *Inverter {
	inv := &Inverter{efficiency: 1}
	if cfg == nil {
		inv.Base = newBase(name, KindInverter, clk, true, CostConfig{})
		return inv
	}
	inv.Base = newBase(name, KindInverter, clk, true, cfg.Cost)
	if cfg.PowerEfficiency > 0 {
		inv.efficiency = cfg.PowerEfficiency
	}
	inv.thresholdJ = cfg.PowerThresholdW * clk.StepSeconds()
	return inv
}

// Net delivers exactly r on the output side; the input consumed is r/eff.
func (i *Inverter) Net(r float64) Result {
	return Result{TransferredJ: r, ConsumedJ: r / i.efficiency}
}

// Gross takes r on the input side and delivers what survives the losses
// and threshold.
func (i *Inverter) Gross(r float64) Result {
	out := math.Max(r*i.efficiency-i.thresholdJ, 0)
	return Result{TransferredJ: out, ConsumedJ: out}
}

// Transfer treats the request as a gross input.
func (i *Inverter) Transfer(req Request) (Result, error) {
	return i.Gross(req.EnergyJ), nil
}

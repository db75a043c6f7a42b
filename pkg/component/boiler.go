package component

import (
	"math"

	"github.com/raterudder/dispatcher/pkg/clock"
	"github.com/raterudder/dispatcher/pkg/types"
)

// BoilerConfig is the fuel boiler section.
type BoilerConfig struct {
	Include    bool       `yaml:"include"`
	MaxKW      float64    `yaml:"max_kw"`
	Efficiency float64    `yaml:"efficiency"`
	Cost       CostConfig `yaml:"cost"`
}

// Validate checks the boiler configuration.
func (c BoilerConfig) Validate() error {
	if !c.Include {
		return nil
	}
	if c.MaxKW <= 0 {
		return types.MissingError("boiler.max_kw")
	}
	if c.Efficiency <= 0 || c.Efficiency > 1 {
		return types.RangeError("boiler.efficiency", c.Efficiency, 0, 1)
	}
	return nil
}

// Boiler burns fuel to produce heat.
type Boiler struct {
	Base
	maxJ       float64
	efficiency float64
}

func NewBoiler(cfg BoilerConfig, clk *clock.Clock) *Boiler {
	b := &Boiler{Base: newBase("boiler", KindBoiler, clk, cfg.Include, cfg.Cost)}
	if cfg.Include {
		b.maxJ = cfg.MaxKW * 1000 * clk.StepSeconds()
		b.efficiency = cfg.Efficiency
	}
	return b
}

// Transfer produces heat for a positive fuel request. Consumed is the fuel
// burned; transferred is the heat delivered.
func (b *Boiler) Transfer(req Request) (Result, error) {
	if !b.active || req.EnergyJ <= 0 {
		return Result{}, nil
	}
	fuel := math.Min(req.EnergyJ, b.maxJ)
	return Result{TransferredJ: fuel * b.efficiency, ConsumedJ: fuel}, nil
}

// MaxJ is the most fuel burned in one step.
func (b *Boiler) MaxJ() float64 { return b.maxJ }

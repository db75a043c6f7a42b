package component

import (
	"github.com/raterudder/dispatcher/pkg/clock"
	"github.com/raterudder/dispatcher/pkg/types"
)

// InsulationConfig is the insulation upgrade section.
type InsulationConfig struct {
	Include                            bool       `yaml:"include"`
	SpaceHeatingDemandReductionPercent float64    `yaml:"space_heating_demand_reduction_percent"`
	Cost                               CostConfig `yaml:"cost"`
}

func (c InsulationConfig) Validate() error {
	if !c.Include {
		return nil
	}
	if v := c.SpaceHeatingDemandReductionPercent; v < 0 || v > 100 {
		return types.RangeError("insulation.space_heating_demand_reduction_percent", v, 0, 100)
	}
	return nil
}

// Insulation scales space heating demand. It has costs but moves no
// energy itself.
type Insulation struct {
	Base
	factor float64
}

func NewInsulation(cfg InsulationConfig, clk *clock.Clock) *Insulation {
	in := &Insulation{Base: newBase("insulation", KindInsulation, clk, cfg.Include, cfg.Cost), factor: 1}
	if cfg.Include {
		in.factor = (100 - cfg.SpaceHeatingDemandReductionPercent) / 100
	}
	return in
}

// SpaceHeatingDemandFactor multiplies space heating demand.
func (in *Insulation) SpaceHeatingDemandFactor() float64 { return in.factor }

package component

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/raterudder/dispatcher/pkg/clock"
	"github.com/raterudder/dispatcher/pkg/types"
)

// ErrCOPOutOfRange is returned when a temperature lift falls outside the
// coefficient of performance table.
var ErrCOPOutOfRange = errors.New("temperature difference outside cop table")

// HeatPumpConfig is the heat_pump section.
type HeatPumpConfig struct {
	Include bool `yaml:"include"`
	// COPs maps temperature lift (°C) to coefficient of performance.
	COPs              map[float64]float64 `yaml:"cops"`
	OutputKW          float64             `yaml:"output_kw"`
	PerformanceFactor *float64            `yaml:"performance_factor"`
	PowerBackgroundW  float64             `yaml:"power_background_w"`
	Heat              *bool               `yaml:"heat"`
	Cool              *bool               `yaml:"cool"`
	// SCOP, when set, calibrates the table so that the simulated first
	// year matches this seasonal performance.
	SCOP float64    `yaml:"scop"`
	Cost CostConfig `yaml:"cost"`
}

// Validate checks the heat pump configuration.
func (c HeatPumpConfig) Validate() error {
	if !c.Include {
		return nil
	}
	if len(c.COPs) < 2 {
		return &types.ConfigError{Field: "heat_pump.cops", Reason: "at least two points are required"}
	}
	for d, cop := range c.COPs {
		if cop <= 0 {
			return &types.ConfigError{Field: "heat_pump.cops", Reason: fmt.Sprintf("cop at %g must be positive", d)}
		}
	}
	if c.OutputKW <= 0 {
		return types.MissingError("heat_pump.output_kw")
	}
	if c.PowerBackgroundW < 0 {
		return types.RangeError("heat_pump.power_background_w", c.PowerBackgroundW, 0, math.Inf(1))
	}
	return nil
}

type copPoint struct {
	deltaC float64
	cop    float64
}

// HeatPump moves heat using electricity at a temperature dependent COP.
type HeatPump struct {
	Base
	table             []copPoint
	maxOutputJ        float64
	performanceFactor float64
	backgroundJ       float64
	heat              bool
	cool              bool
	copFactor         float64
	transferKWh       *Accumulator
	consumeKWh        *Accumulator
}

// NewHeatPump builds a heat pump with the COP table sorted by lift.
func NewHeatPump(cfg HeatPumpConfig, clk *clock.Clock) *HeatPump {
	hp := &HeatPump{
		Base:        newBase("heat_pump", KindHeatPump, clk, cfg.Include, cfg.Cost),
		copFactor:   1,
		transferKWh: NewAccumulator(clk),
		consumeKWh:  NewAccumulator(clk),
	}
	if !cfg.Include {
		return hp
	}
	for d, cop := range cfg.COPs {
		hp.table = append(hp.table, copPoint{deltaC: d, cop: cop})
	}
	sort.Slice(hp.table, func(i, j int) bool { return hp.table[i].deltaC < hp.table[j].deltaC })
	hp.maxOutputJ = cfg.OutputKW * 1000 * clk.StepSeconds()
	hp.performanceFactor = optional(cfg.PerformanceFactor, 1)
	hp.backgroundJ = cfg.PowerBackgroundW * clk.StepSeconds()
	hp.heat = cfg.Heat == nil || *cfg.Heat
	hp.cool = cfg.Cool != nil && *cfg.Cool
	return hp
}

// SetCOPFactor scales every COP; it is used to calibrate against a declared
// seasonal COP.
func (hp *HeatPump) SetCOPFactor(f float64) { hp.copFactor = f }

// COP interpolates the table linearly at |deltaC|.
func (hp *HeatPump) COP(deltaC float64) (float64, error) {
	d := math.Abs(deltaC)
	n := len(hp.table)
	if n == 0 || d < hp.table[0].deltaC || d > hp.table[n-1].deltaC {
		return 0, fmt.Errorf("%w: %g", ErrCOPOutOfRange, d)
	}
	i := sort.Search(n, func(i int) bool { return hp.table[i].deltaC >= d })
	var cop float64
	if hp.table[i].deltaC == d {
		cop = hp.table[i].cop
	} else {
		lo, hi := hp.table[i-1], hp.table[i]
		cop = lo.cop + (d-lo.deltaC)*(hi.cop-lo.cop)/(hi.deltaC-lo.deltaC)
	}
	return hp.copFactor * (1 + hp.performanceFactor*(cop-1)), nil
}

// Transfer supplies (positive) or removes (negative) heat. The request
// temperature is the lift. Output is capped at the rated power.
func (hp *HeatPump) Transfer(req Request) (Result, error) {
	if !hp.active || req.EnergyJ == 0 {
		return Result{}, nil
	}
	if req.EnergyJ > 0 && !hp.heat || req.EnergyJ < 0 && !hp.cool {
		return Result{}, nil
	}
	cop, err := hp.COP(req.TemperatureC)
	if err != nil {
		return Result{}, err
	}
	out := math.Copysign(math.Min(math.Abs(req.EnergyJ), hp.maxOutputJ), req.EnergyJ)
	res := Result{TransferredJ: out, ConsumedJ: hp.backgroundJ + math.Abs(out)/cop}
	hp.transferKWh.Add(math.Abs(res.TransferredJ) / JoulesPerKWh)
	hp.consumeKWh.Add(res.ConsumedJ / JoulesPerKWh)
	return res, nil
}

// MaxOutputJ is the rated output over one step.
func (hp *HeatPump) MaxOutputJ() float64 { return hp.maxOutputJ }

// CanHeat and CanCool report the configured capabilities.
func (hp *HeatPump) CanHeat() bool { return hp.active && hp.heat }
func (hp *HeatPump) CanCool() bool { return hp.active && hp.cool }

// SCOP is heat delivered over electricity consumed for year bucket y.
func (hp *HeatPump) SCOP(y int) float64 {
	c := hp.consumeKWh.Get(clock.Year, y)
	if c == 0 {
		return 0
	}
	return hp.transferKWh.Get(clock.Year, y) / c
}

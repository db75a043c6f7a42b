package component

import (
	"fmt"
	"math"

	"github.com/raterudder/dispatcher/pkg/clock"
	"github.com/raterudder/dispatcher/pkg/types"
)

// panelWarmingCM2PerW is how far above ambient a panel settles per W/m² of
// insolation.
const panelWarmingCM2PerW = 50.0 / 900.0

// PanelEfficiency describes conversion and its degradation.
type PanelEfficiency struct {
	Percent                     float64  `yaml:"percent"`
	LossPercentPerCelsius       float64  `yaml:"loss_percent_per_celsius"`
	LossPercentPA               float64  `yaml:"loss_percent_pa"`
	TemperatureReferenceCelsius *float64 `yaml:"temperature_reference_celsius"`
}

// PanelConfig is one panel model.
type PanelConfig struct {
	WidthM     float64         `yaml:"width_m"`
	HeightM    float64         `yaml:"height_m"`
	PowerMaxW  float64         `yaml:"power_max_w"`
	Efficiency PanelEfficiency `yaml:"efficiency"`
	// ThermalInertiaSecondsPerC sets how quickly the panel follows its
	// equilibrium temperature.
	ThermalInertiaSecondsPerC float64 `yaml:"thermal_inertia_seconds_per_celsius"`
	PerPanelGBP               float64 `yaml:"per_panel_gbp"`
}

// Footprint is the roof area a collector may fill when the panel count is
// not given.
type Footprint struct {
	TiltM   float64  `yaml:"tilt_m"`
	OtherM  float64  `yaml:"other_m"`
	BorderM *float64 `yaml:"border_m"`
}

// CollectorConfig is one group of identical panels on one face.
type CollectorConfig struct {
	Name          string          `yaml:"name"`
	PanelsNumber  int             `yaml:"panels_number"`
	ShadingFactor *float64        `yaml:"shading_factor"`
	Orientation   Orientation     `yaml:"orientation"`
	Footprint     *Footprint      `yaml:"footprint"`
	Panel         PanelConfig     `yaml:"panel"`
	Inverter      *InverterConfig `yaml:"inverter"`
	Cost          CostConfig      `yaml:"cost"`
}

// SolarCollectorsConfig is the solar_pv or solar_thermal section.
type SolarCollectorsConfig struct {
	Include    bool              `yaml:"include"`
	Collectors []CollectorConfig `yaml:"collectors"`
	Cost       CostConfig        `yaml:"cost"`
}

func (c SolarCollectorsConfig) Validate(field string) error {
	if !c.Include {
		return nil
	}
	if len(c.Collectors) == 0 {
		return types.MissingError(field + ".collectors")
	}
	for i, col := range c.Collectors {
		f := fmt.Sprintf("%s.collectors[%d]", field, i)
		if col.Panel.WidthM <= 0 || col.Panel.HeightM <= 0 {
			return types.MissingError(f + ".panel.width_m/height_m")
		}
		if v := col.Panel.Efficiency.Percent; v <= 0 || v > 100 {
			return types.RangeError(f+".panel.efficiency.percent", v, 0, 100)
		}
		if col.PanelsNumber <= 0 && col.Footprint == nil {
			return types.MissingError(f + ".panels_number")
		}
		if v := optional(col.ShadingFactor, 1); v < 0 || v > 1 {
			return types.RangeError(f+".shading_factor", v, 0, 1)
		}
		if err := col.Orientation.Validate(f + ".orientation"); err != nil {
			return err
		}
		if col.Inverter != nil {
			if err := col.Inverter.Validate(f + ".inverter"); err != nil {
				return err
			}
		}
	}
	return nil
}

type collector struct {
	solar              *Solar
	inverter           *Inverter
	areaM2             float64
	panels             int
	shading            float64
	efficiency         float64
	lossPerC           float64
	lossPA             float64
	referenceC         float64
	powerMaxW          float64
	inertiaSecondsPerC float64
	panelC             float64
}

// SolarCollectors is a set of panel groups generating electricity or heat.
type SolarCollectors struct {
	Base
	collectors []*collector
	outputKWh  *Accumulator
	installGBP float64
}

// NewSolarCollectors builds the collector groups; initialC seeds the panel
// temperatures.
func NewSolarCollectors(name string, cfg SolarCollectorsConfig, loc LocationConfig, initialC float64, clk *clock.Clock) *SolarCollectors {
	sc := &SolarCollectors{outputKWh: NewAccumulator(clk)}
	cost := cfg.Cost
	if cfg.Include {
		for _, c := range cfg.Collectors {
			panels := c.PanelsNumber
			if panels <= 0 && c.Footprint != nil {
				panels = panelsInFootprint(*c.Footprint, c.Panel, optional(c.Orientation.TiltDegrees, 35))
			}
			col := &collector{
				solar:              NewSolar(loc, c.Orientation),
				inverter:           NewInverter(name+"."+c.Name+".inverter", c.Inverter, clk),
				panels:             panels,
				areaM2:             float64(panels) * c.Panel.WidthM * c.Panel.HeightM,
				shading:            optional(c.ShadingFactor, 1),
				efficiency:         c.Panel.Efficiency.Percent / 100,
				lossPerC:           -c.Panel.Efficiency.LossPercentPerCelsius / 100,
				lossPA:             -c.Panel.Efficiency.LossPercentPA / 100,
				referenceC:         optional(c.Panel.Efficiency.TemperatureReferenceCelsius, 20),
				powerMaxW:          c.Panel.PowerMaxW,
				inertiaSecondsPerC: c.Panel.ThermalInertiaSecondsPerC,
				panelC:             initialC,
			}
			sc.collectors = append(sc.collectors, col)
			cost.GBP += c.Cost.GBP + c.Panel.PerPanelGBP*float64(panels)
			cost.GBPPerYear += c.Cost.GBPPerYear
			cost.GBPPerDay += c.Cost.GBPPerDay
			if c.Inverter != nil {
				cost.GBP += c.Inverter.Cost.GBP
				cost.GBPPerYear += c.Inverter.Cost.GBPPerYear
				cost.GBPPerDay += c.Inverter.Cost.GBPPerDay
			}
		}
	}
	sc.Base = newBase(name, KindSolarCollectors, clk, cfg.Include, cost)
	return sc
}

// panelsInFootprint is the larger of the two panel orientations that fit.
func panelsInFootprint(f Footprint, p PanelConfig, tiltDegrees float64) int {
	border := optional(f.BorderM, 0.2)
	a := f.OtherM/cosD(tiltDegrees) - 2*border
	b := f.TiltM - 2*border
	if a <= 0 || b <= 0 {
		return 0
	}
	portrait := int(a/p.WidthM) * int(b/p.HeightM)
	landscape := int(a/p.HeightM) * int(b/p.WidthM)
	return max(portrait, landscape)
}

// Transfer generates for one step at ambient temperature req.TemperatureC.
// The requested energy is ignored.
func (sc *SolarCollectors) Transfer(req Request) (Result, error) {
	if !sc.active {
		return Result{}, nil
	}
	fy, fd := sc.clock.FractionYear(), sc.clock.FractionDay()
	age := float64(sc.clock.Year()) + fy
	var total float64
	for _, c := range sc.collectors {
		insolation := c.solar.InsolationWPerM2(fy, fd)
		c.updatePanelTemperature(req.TemperatureC+panelWarmingCM2PerW*insolation, sc.stepS())

		w := insolation * c.shading * c.efficiency
		w *= 1 + c.lossPerC*(c.panelC-c.referenceC)
		w *= 1 + age*c.lossPA
		w *= c.areaM2
		if c.powerMaxW > 0 {
			w = math.Min(w, c.powerMaxW*float64(c.panels))
		}
		w = math.Max(w, 0)
		total += c.inverter.Gross(w * sc.stepS()).TransferredJ
	}
	sc.outputKWh.Add(total / JoulesPerKWh)
	return Result{TransferredJ: total}, nil
}

// updatePanelTemperature moves the panel toward targetC through its
// thermal inertia. A zero inertia tracks the target immediately.
func (c *collector) updatePanelTemperature(targetC, stepS float64) {
	if c.inertiaSecondsPerC <= 0 {
		c.panelC = targetC
		return
	}
	c.panelC += math.Min(stepS/c.inertiaSecondsPerC, 1) * (targetC - c.panelC)
}

// OutputKWh is the generated energy bucketed by clock unit.
func (sc *SolarCollectors) OutputKWh() *Accumulator { return sc.outputKWh }

// Panels is the total number of panels across every group.
func (sc *SolarCollectors) Panels() int {
	var n int
	for _, c := range sc.collectors {
		n += c.panels
	}
	return n
}

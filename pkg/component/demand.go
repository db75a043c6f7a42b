package component

import (
	"fmt"

	"github.com/raterudder/dispatcher/pkg/clock"
	"github.com/raterudder/dispatcher/pkg/types"
)

// DemandType selects how a demand profile is shaped.
type DemandType string

const (
	DemandFixed          DemandType = "fixed"
	DemandClimateHeating DemandType = "climate_heating"
)

// DemandConfig describes one annual energy demand.
type DemandConfig struct {
	Type           DemandType `yaml:"type"`
	TotalAnnualKWh float64    `yaml:"total_annual_kwh"`
	// HourlyConsumptionWeightings maps an hour to a weighting that holds
	// until the next listed hour. For climate heating a non-zero
	// weighting marks hours in which the target temperature applies.
	HourlyConsumptionWeightings  map[int]float64 `yaml:"hourly_consumption_weightings"`
	TargetCircadianPhaseLagHours float64         `yaml:"target_circadian_phase_lag_hours"`
}

// Validate checks a demand. An empty type means no demand.
func (c DemandConfig) Validate(field string) error {
	switch c.Type {
	case "":
		return nil
	case DemandFixed, DemandClimateHeating:
	default:
		return &types.ConfigError{Field: field + ".type", Reason: fmt.Sprintf("unknown type %q", c.Type)}
	}
	if c.TotalAnnualKWh < 1 || c.TotalAnnualKWh > 1e6 {
		return types.RangeError(field+".total_annual_kwh", c.TotalAnnualKWh, 1, 1e6)
	}
	if len(c.HourlyConsumptionWeightings) == 0 {
		return types.MissingError(field + ".hourly_consumption_weightings")
	}
	for h, w := range c.HourlyConsumptionWeightings {
		if h < 0 || h > 23 {
			return types.RangeError(field+".hourly_consumption_weightings", float64(h), 0, 23)
		}
		if w < 0 {
			return &types.ConfigError{Field: field + ".hourly_consumption_weightings", Reason: "weightings must not be negative"}
		}
	}
	if c.TargetCircadianPhaseLagHours < 0 || c.TargetCircadianPhaseLagHours > 12 {
		return types.RangeError(field+".target_circadian_phase_lag_hours", c.TargetCircadianPhaseLagHours, 0, 12)
	}
	return nil
}

// hourlyWeights expands the carry-forward map into 24 values.
func hourlyWeights(m map[int]float64) [24]float64 {
	var out [24]float64
	var w float64
	for h := range out {
		if v, ok := m[h]; ok {
			w = v
		}
		out[h] = w
	}
	return out
}

// Demand is an energy requirement spread across the hours of the year.
type Demand struct {
	typ DemandType
	// hourJ is indexed [day][hour]; fixed demands use a single day.
	hourJ [][24]float64
}

// NewDemand builds the hourly profile. targetC is the room temperature used
// by climate heating.
func NewDemand(cfg DemandConfig, targetC float64) *Demand {
	d := &Demand{typ: cfg.Type}
	weights := hourlyWeights(cfg.HourlyConsumptionWeightings)
	switch cfg.Type {
	case DemandFixed:
		var sum float64
		for _, w := range weights {
			sum += w
		}
		var day [24]float64
		if sum > 0 {
			dailyJ := JoulesPerKWh * cfg.TotalAnnualKWh / clock.DaysPerYear
			for h, w := range weights {
				day[h] = dailyJ * w / sum
			}
		}
		d.hourJ = [][24]float64{day}
	case DemandClimateHeating:
		// one row per day of a leap year
		days := 366
		d.hourJ = make([][24]float64, days)
		var total float64
		for day := 0; day < days; day++ {
			fy := float64(day) / clock.DaysPerYear
			for h, w := range weights {
				if w == 0 {
					continue
				}
				fd := (float64(h) - cfg.TargetCircadianPhaseLagHours) / 24
				if gap := targetC - ClimateC(fy, fd); gap > 0 {
					d.hourJ[day][h] = gap
					total += gap
				}
			}
		}
		if total > 0 {
			k := JoulesPerKWh * cfg.TotalAnnualKWh / total
			for day := range d.hourJ {
				for h := range d.hourJ[day] {
					d.hourJ[day][h] *= k
				}
			}
		}
	}
	return d
}

// DemandJ is the demand during the clock's current step.
func (d *Demand) DemandJ(clk *clock.Clock) float64 {
	if len(d.hourJ) == 0 {
		return 0
	}
	day := 0
	if d.typ == DemandClimateHeating {
		day = min(int(clock.DaysPerYear*clk.FractionYear()), len(d.hourJ)-1)
	}
	return d.hourJ[day][clk.Index(clock.HourOfDay)] * clk.StepSeconds() / 3600
}

// TotalAnnualKWh sums the profile over a year.
func (d *Demand) TotalAnnualKWh() float64 {
	var t float64
	for _, day := range d.hourJ {
		for _, j := range day {
			t += j
		}
	}
	if d.typ == DemandFixed {
		t *= clock.DaysPerYear
	}
	return t / JoulesPerKWh
}

// Package cost prices a dispatch schedule: the grid power in every slot of
// a horizon together with the battery wear and level change it implies.
package cost

import (
	"fmt"
	"math"

	"github.com/raterudder/dispatcher/pkg/types"
)

// Problem is one horizon to be priced. Grid power is positive for import
// and negative for export; net load is house load less solar.
type Problem struct {
	SlotHours       float64
	NetLoadKW       []float64
	ImportGBPPerKWh []float64
	ExportGBPPerKWh []float64
	InitialLevelKWh float64
	Battery         types.BatteryParams
	Grid            types.GridLimits
}

// Breakdown itemises the cost of a schedule. Export earns, so ExportGBP is
// negative.
type Breakdown struct {
	ImportGBP      float64 `json:"importGBP"`
	ExportGBP      float64 `json:"exportGBP"`
	WearGBP        float64 `json:"wearGBP"`
	OutOfSpecGBP   float64 `json:"outOfSpecGBP"`
	LevelChangeGBP float64 `json:"levelChangeGBP"`
	TotalGBP       float64 `json:"totalGBP"`
	ImportKWh      float64 `json:"importKWh"`
	ExportKWh      float64 `json:"exportKWh"`
	FinalLevelKWh  float64 `json:"finalLevelKWh"`
}

// Validate checks the shape of the problem and the battery parameters.
func (p *Problem) Validate() error {
	n := len(p.NetLoadKW)
	if n == 0 {
		return types.MissingError("cost.net_load_kw")
	}
	if len(p.ImportGBPPerKWh) != n || len(p.ExportGBPPerKWh) != n {
		return &types.ConfigError{Field: "cost.rates", Reason: fmt.Sprintf("want %d import and export rates", n)}
	}
	if p.SlotHours <= 0 {
		return types.MissingError("cost.slot_hours")
	}
	b := p.Battery
	if b.CapacityKWh <= 0 {
		return types.MissingError("battery.capacity_kwh")
	}
	if b.DepthOfDischargePercent <= 0 || b.DepthOfDischargePercent > 100 {
		return types.RangeError("battery.depth_of_discharge_percent", b.DepthOfDischargePercent, 0, 100)
	}
	if b.RoundTripEfficiencyPct <= 0 || b.RoundTripEfficiencyPct > 100 {
		return types.RangeError("battery.round_trip_efficiency_percent", b.RoundTripEfficiencyPct, 0, 100)
	}
	if b.MaxChargeKW <= 0 || b.MaxDischargeKW <= 0 {
		return types.MissingError("battery.max_charge_kw/max_discharge_kw")
	}
	if p.Grid.ImportLimitKW <= 0 || p.Grid.ExportLimitKW <= 0 {
		return types.MissingError("grid.import_limit_kw/export_limit_kw")
	}
	return nil
}

// OneWayEfficiency is the square root of the round trip efficiency.
func (p *Problem) OneWayEfficiency() float64 {
	return math.Sqrt(p.Battery.RoundTripEfficiencyPct / 100)
}

// Bounds is the box every slot's grid power must stay inside.
func (p *Problem) Bounds() (lo, hi []float64) {
	lo = make([]float64, len(p.NetLoadKW))
	hi = make([]float64, len(p.NetLoadKW))
	for i := range lo {
		lo[i] = -p.Grid.ExportLimitKW
		hi[i] = p.Grid.ImportLimitKW
	}
	return lo, hi
}

// ClipGrid limits one slot's grid power to the import and export limits.
func (p *Problem) ClipGrid(kw float64) float64 {
	return math.Max(-p.Grid.ExportLimitKW, math.Min(kw, p.Grid.ImportLimitKW))
}

// Cost is the total cost of grid in pounds. It is the objective the
// optimizer minimises.
func (p *Problem) Cost(grid []float64) float64 {
	return p.Breakdown(grid).TotalGBP
}

// Breakdown prices grid term by term.
func (p *Problem) Breakdown(grid []float64) Breakdown {
	var b Breakdown
	h := p.SlotHours
	eta := p.OneWayEfficiency()
	level := p.InitialLevelKWh
	var importSum, exportSum float64
	for i, load := range p.NetLoadKW {
		g := p.ClipGrid(grid[i])
		if g > 0 {
			b.ImportKWh += g * h
			b.ImportGBP += g * h * p.ImportGBPPerKWh[i]
		} else {
			b.ExportKWh -= g * h
			b.ExportGBP += g * h * p.ExportGBPPerKWh[i]
		}
		importSum += p.ImportGBPPerKWh[i]
		exportSum += p.ExportGBPPerKWh[i]

		charge := g - load
		next := p.nextLevel(level, charge, eta)
		b.WearGBP += math.Abs(charge*h) * p.Battery.WearCostGBPPerKWh * p.WearFactor(0.5*(level+next))
		b.OutOfSpecGBP += p.outOfSpecKWh(charge) * p.Battery.WearCostGBPPerKWh * p.Battery.OutOfSpecMultiplier
		level = next
	}
	b.FinalLevelKWh = level
	// a drained battery has to be bought back at import prices while a
	// fuller one is only worth what it could be exported for
	n := float64(len(p.NetLoadKW))
	if drained := p.InitialLevelKWh - level; drained > 0 {
		b.LevelChangeGBP = drained * importSum / n
	} else {
		b.LevelChangeGBP = drained * exportSum / n
	}
	b.TotalGBP = b.ImportGBP + b.ExportGBP + b.WearGBP + b.OutOfSpecGBP + b.LevelChangeGBP
	return b
}

// Levels returns the battery charge power and the level at the end of
// each slot for grid.
func (p *Problem) Levels(grid []float64) (chargeKW, levelKWh []float64) {
	eta := p.OneWayEfficiency()
	chargeKW = make([]float64, len(p.NetLoadKW))
	levelKWh = make([]float64, len(p.NetLoadKW))
	level := p.InitialLevelKWh
	for i, load := range p.NetLoadKW {
		chargeKW[i] = p.ClipGrid(grid[i]) - load
		level = p.nextLevel(level, chargeKW[i], eta)
		levelKWh[i] = level
	}
	return chargeKW, levelKWh
}

func (p *Problem) nextLevel(level, chargeKW, eta float64) float64 {
	if chargeKW > 0 {
		return level + chargeKW*p.SlotHours*eta
	}
	return level + chargeKW*p.SlotHours/eta
}

// WearFactor scales the wear cost at a battery level. Inside the depth of
// discharge band it rises linearly from 1 at the midpoint to 1+wear_ratio
// at the edges; outside it keeps rising at the out-of-spec multiplier.
func (p *Problem) WearFactor(levelKWh float64) float64 {
	b := p.Battery
	lower := (100 - b.DepthOfDischargePercent) * b.CapacityKWh / 200
	upper := (100 + b.DepthOfDischargePercent) * b.CapacityKWh / 200
	mid := 0.5 * (lower + upper)
	fraction := math.Abs(levelKWh-mid) / (0.5 * (upper - lower))
	if fraction <= 1 {
		return 1 + b.WearRatio*fraction
	}
	return 1 + b.WearRatio + (fraction-1)*b.OutOfSpecMultiplier
}

// outOfSpecKWh is the energy moved above the rated power in one slot.
func (p *Problem) outOfSpecKWh(chargeKW float64) float64 {
	switch {
	case chargeKW > p.Battery.MaxChargeKW:
		return (chargeKW - p.Battery.MaxChargeKW) * p.SlotHours
	case chargeKW < -p.Battery.MaxDischargeKW:
		return (-chargeKW - p.Battery.MaxDischargeKW) * p.SlotHours
	}
	return 0
}

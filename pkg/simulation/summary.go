package simulation

import (
	"github.com/raterudder/dispatcher/pkg/clock"
	"github.com/raterudder/dispatcher/pkg/component"
	"github.com/raterudder/dispatcher/pkg/types"
)

// summary reports the year that has just ended. At time zero only the
// install cash flows have been posted.
func (h *home) summary() types.YearSummary {
	year := h.clock.Year()
	s := types.YearSummary{
		Year:               year,
		At:                 h.clock.Now(),
		ComponentNPVGBP:    make(map[string]float64, len(h.included)),
		BatteryCycles:      h.battery.Cycles(),
		BatteryCapacityKWh: h.battery.CapacityKWh(),
	}
	for _, c := range h.included {
		v := c.NPV().ValueGBP()
		s.ComponentNPVGBP[c.Name()] = v
		s.NPVGBP += v
	}
	if year == 0 {
		return s
	}

	y := year - 1
	s.GridImportKWh = -h.grid.KWh(component.Import, y)
	s.GridImportGBP = -h.grid.ValueGBP(component.Import, y)
	s.GridExportKWh = h.grid.KWh(component.Export, y)
	s.GridExportGBP = h.grid.ValueGBP(component.Export, y)
	if h.boilerSupply != nil {
		s.BoilerKWh = -h.boilerSupply.KWh(component.Import, y)
		s.BoilerGBP = -h.boilerSupply.ValueGBP(component.Import, y)
	}
	if h.heatPump.Active() {
		s.HeatPumpSCOP = h.heatPump.SCOP(y)
	}
	s.SolarPVKWh = h.pv.OutputKWh().Get(clock.Year, y)
	s.SolarThermalKWh = h.thermal.OutputKWh().Get(clock.Year, y)
	return s
}

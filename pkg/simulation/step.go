package simulation

import (
	"fmt"
	"math"

	"github.com/raterudder/dispatcher/pkg/component"
)

// transferBattery is the only path to the battery during a step.
func (h *home) transferBattery(j float64) (component.Result, error) {
	if h.batteryUsed {
		return component.Result{}, ErrBatteryTransferred
	}
	h.batteryUsed = true
	return h.battery.Transfer(component.Request{EnergyJ: j})
}

// step advances every component through the current time step. The
// electric and boiler balances are positive for surplus and negative for
// import.
func (h *home) step() error {
	h.batteryUsed = false
	climateC := component.ClimateAt(h.clock)
	for _, c := range h.included {
		c.PostStepCost()
	}

	var electricJ, boilerJ float64

	// off-peak import charges the battery at its full rate
	charged := false
	if h.battery.Active() && h.grid.Band(component.Import) == component.BandOffPeak {
		res, err := h.transferBattery(h.battery.MaxChargeJ())
		if err != nil {
			return err
		}
		electricJ -= res.ConsumedJ
		charged = true
	}

	if h.pv.Active() {
		res, err := h.pv.Transfer(component.Request{TemperatureC: climateC})
		if err != nil {
			return fmt.Errorf("solar pv: %w", err)
		}
		electricJ += res.TransferredJ
	}

	// hot water demand, from the tank first
	if demandJ := h.hotWater.DemandJ(h.clock); demandJ > 0 {
		res, err := h.tank.Transfer(component.Request{EnergyJ: -demandJ, TemperatureC: h.targetC})
		if err != nil {
			return fmt.Errorf("hot water draw: %w", err)
		}
		if demandJ += res.TransferredJ; demandJ > 0 {
			if h.boiler.Active() {
				b, err := h.boiler.Transfer(component.Request{EnergyJ: demandJ})
				if err != nil {
					return fmt.Errorf("boiler hot water: %w", err)
				}
				boilerJ -= b.ConsumedJ
			} else {
				electricJ -= demandJ
			}
		}
	}

	thermalSurplusJ, heatJ, err := h.heatTank(climateC)
	if err != nil {
		return err
	}
	electricJ -= heatJ.electricJ
	boilerJ -= heatJ.boilerJ

	spaceJ, err := h.heatSpace(climateC, thermalSurplusJ)
	if err != nil {
		return err
	}
	electricJ -= spaceJ.electricJ
	boilerJ -= spaceJ.boilerJ

	electricJ -= h.electric.DemandJ(h.clock)

	if h.battery.Active() && !charged {
		var req float64
		switch h.grid.Band(component.Export) {
		case component.BandPeak:
			req = -math.MaxFloat64
		case component.BandStandard:
			req = electricJ
		}
		if req != 0 {
			res, err := h.transferBattery(req)
			if err != nil {
				return err
			}
			electricJ -= res.TransferredJ
		}
	}

	if electricJ > 0 {
		if h.grid.Band(component.Export) == "" {
			electricJ = 0
		}
		electricJ = math.Min(electricJ, h.grid.LimitJ(component.Export))
	} else {
		electricJ = math.Max(electricJ, -h.grid.LimitJ(component.Import))
	}
	if _, err := h.grid.Transfer(component.Request{EnergyJ: electricJ}); err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	if h.boilerSupply != nil {
		if _, err := h.boilerSupply.Transfer(component.Request{EnergyJ: boilerJ}); err != nil {
			return fmt.Errorf("boiler supply: %w", err)
		}
	}

	h.tank.Decay(0.5 * (h.targetC + climateC))
	return nil
}

// consumption is energy drawn from each supply by a heating stage.
type consumption struct {
	electricJ float64
	boilerJ   float64
}

// heatTank tops the hot water tank up. Solar thermal goes first; what it
// cannot place in the tank is returned for space heating. Below target the
// heat pump runs at full output, otherwise the boiler, otherwise the
// immersion heater.
func (h *home) heatTank(climateC float64) (float64, consumption, error) {
	var surplusJ float64
	var used consumption
	if h.thermal.Active() {
		res, err := h.thermal.Transfer(component.Request{TemperatureC: climateC})
		if err != nil {
			return 0, used, fmt.Errorf("solar thermal: %w", err)
		}
		surplusJ = res.TransferredJ
		if h.tank.BelowTarget() {
			in, err := h.tank.Transfer(component.Request{EnergyJ: surplusJ, TemperatureC: climateC})
			if err != nil {
				return 0, used, fmt.Errorf("solar thermal to tank: %w", err)
			}
			surplusJ -= in.ConsumedJ
		}
	}
	if !h.tank.BelowTarget() {
		return surplusJ, used, nil
	}

	switch {
	case h.heatPump.CanHeat():
		hp, err := h.heatPump.Transfer(component.Request{
			EnergyJ:      h.heatPump.MaxOutputJ(),
			TemperatureC: h.tank.TemperatureC() - climateC,
		})
		if err != nil {
			return 0, used, fmt.Errorf("heat pump to tank: %w", err)
		}
		used.electricJ = hp.ConsumedJ
		if _, err := h.tank.Transfer(component.Request{EnergyJ: hp.TransferredJ, TemperatureC: h.targetC}); err != nil {
			return 0, used, fmt.Errorf("heat pump to tank: %w", err)
		}
	case h.boiler.Active():
		b, err := h.boiler.Transfer(component.Request{EnergyJ: h.boiler.MaxJ()})
		if err != nil {
			return 0, used, fmt.Errorf("boiler to tank: %w", err)
		}
		in, err := h.tank.Transfer(component.Request{EnergyJ: b.TransferredJ, TemperatureC: h.targetC})
		if err != nil {
			return 0, used, fmt.Errorf("boiler to tank: %w", err)
		}
		if in.TransferredJ > 0 {
			used.boilerJ = b.ConsumedJ
		}
	default:
		in, err := h.tank.Transfer(component.Request{EnergyJ: h.tank.ImmersionJ(), TemperatureC: h.targetC})
		if err != nil {
			return 0, used, fmt.Errorf("immersion: %w", err)
		}
		used.electricJ = in.ConsumedJ
	}
	return surplusJ, used, nil
}

// heatSpace meets space heating demand net of insulation and surplus solar
// thermal. A negative net demand is cooling, which only a heat pump
// configured to cool provides.
func (h *home) heatSpace(climateC, thermalSurplusJ float64) (consumption, error) {
	var used consumption
	demandJ := h.spaceHeating.DemandJ(h.clock) * h.insulation.SpaceHeatingDemandFactor()
	if thermalSurplusJ > 0 {
		demandJ -= thermalSurplusJ
	}

	if h.heatPump.Active() && demandJ != 0 {
		lift := h.targetC - climateC
		run := demandJ > 0 && h.heatPump.CanHeat()
		if demandJ < 0 && h.heatPump.CanCool() {
			lift = climateC - h.targetC
			run = true
		}
		if run {
			hp, err := h.heatPump.Transfer(component.Request{EnergyJ: demandJ, TemperatureC: lift})
			if err != nil {
				return used, fmt.Errorf("heat pump space: %w", err)
			}
			demandJ -= hp.TransferredJ
			used.electricJ += hp.ConsumedJ
		}
	}

	if demandJ > 0 {
		if h.boiler.Active() {
			b, err := h.boiler.Transfer(component.Request{EnergyJ: demandJ})
			if err != nil {
				return used, fmt.Errorf("boiler space: %w", err)
			}
			used.boilerJ += b.ConsumedJ
		} else {
			used.electricJ += demandJ
		}
	}
	return used, nil
}

package component

import (
	"math"

	"github.com/raterudder/dispatcher/pkg/clock"
	"github.com/raterudder/dispatcher/pkg/types"
)

const (
	// HeatCapacityWaterJPerM3K is the volumetric heat capacity of water.
	HeatCapacityWaterJPerM3K = 4.2e6
	// MaxOperatingTemperatureC is the immersion or boiler limit; only a
	// heat pump may push a tank beyond it.
	MaxOperatingTemperatureC = 65.0
)

// TankConfig is the hot water storage section.
type TankConfig struct {
	Include                        bool       `yaml:"include"`
	VolumeM3                       float64    `yaml:"volume_m3"`
	ImmersionKW                    *float64   `yaml:"immersion_kw"`
	TargetTemperatureC             *float64   `yaml:"target_temperature_c"`
	HalfLifeDays                   *float64   `yaml:"half_life_days"`
	OneWayStorageEfficiencyPercent *float64   `yaml:"one_way_storage_efficiency_percent"`
	Cost                           CostConfig `yaml:"cost"`
}

// Validate checks the tank configuration.
func (c TankConfig) Validate() error {
	if !c.Include {
		return nil
	}
	if c.VolumeM3 <= 0 || c.VolumeM3 > 10 {
		return types.RangeError("storage_hot_water.volume_m3", c.VolumeM3, 0, 10)
	}
	if v := optional(c.ImmersionKW, 3); v < 0 || v > 10 {
		return types.RangeError("storage_hot_water.immersion_kw", v, 0, 10)
	}
	if v := optional(c.TargetTemperatureC, 65); v < 40 || v > 95 {
		return types.RangeError("storage_hot_water.target_temperature_c", v, 40, 95)
	}
	if v := optional(c.HalfLifeDays, 1); v < 0.5 || v > 7 {
		return types.RangeError("storage_hot_water.half_life_days", v, 0.5, 7)
	}
	if v := optional(c.OneWayStorageEfficiencyPercent, 100); v < 50 || v > 100 {
		return types.RangeError("storage_hot_water.one_way_storage_efficiency_percent", v, 50, 100)
	}
	return nil
}

func optional(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// ThermalTank is a volume of water whose temperature tracks the heat
// stored in it.
type ThermalTank struct {
	Base
	temperatureC   float64
	targetC        float64
	immersionW     float64
	chargeCPerJ    float64
	dischargeCPerJ float64
	decayPerS      float64
	heatPumpFed    bool
}

// NewThermalTank builds a tank starting at initialC.
func NewThermalTank(cfg TankConfig, heatPumpFed bool, initialC float64, clk *clock.Clock) *ThermalTank {
	t := &ThermalTank{
		Base:         newBase("storage_hot_water", KindThermalTank, clk, cfg.Include, cfg.Cost),
		temperatureC: initialC,
		heatPumpFed:  heatPumpFed,
	}
	if !cfg.Include {
		return t
	}
	cPerJ := 1 / (cfg.VolumeM3 * HeatCapacityWaterJPerM3K)
	t.chargeCPerJ = cPerJ * optional(cfg.OneWayStorageEfficiencyPercent, 100) / 100
	t.dischargeCPerJ = cPerJ
	t.immersionW = optional(cfg.ImmersionKW, 3) * 1000
	t.targetC = optional(cfg.TargetTemperatureC, 65)
	t.decayPerS = math.Ln2 / (optional(cfg.HalfLifeDays, 1) * clock.SecondsPerDay)
	return t
}

// Transfer heats (positive) or draws heat from (negative) the tank. The
// request temperature is the external reference: heat is only drawn while
// the tank is warmer than it.
func (t *ThermalTank) Transfer(req Request) (Result, error) {
	if !t.active || req.EnergyJ == 0 {
		return Result{}, nil
	}
	if req.EnergyJ > 0 {
		if !t.heatPumpFed && t.temperatureC >= MaxOperatingTemperatureC {
			return Result{}, nil
		}
		t.temperatureC += req.EnergyJ * t.chargeCPerJ
		return Result{TransferredJ: req.EnergyJ, ConsumedJ: req.EnergyJ}, nil
	}
	if t.temperatureC <= req.TemperatureC {
		return Result{}, nil
	}
	t.temperatureC += req.EnergyJ * t.dischargeCPerJ
	return Result{TransferredJ: req.EnergyJ}, nil
}

// Decay cools the tank toward ambientC over one step.
func (t *ThermalTank) Decay(ambientC float64) {
	if !t.active {
		return
	}
	t.temperatureC = ambientC + (t.temperatureC-ambientC)*math.Exp(-t.decayPerS*t.stepS())
}

func (t *ThermalTank) TemperatureC() float64 { return t.temperatureC }
func (t *ThermalTank) SetTemperatureC(c float64) { t.temperatureC = c }
func (t *ThermalTank) TargetTemperatureC() float64 { return t.targetC }
func (t *ThermalTank) BelowTarget() bool { return t.active && t.temperatureC < t.targetC }

// ImmersionJ is the immersion heater's energy over one step.
func (t *ThermalTank) ImmersionJ() float64 { return t.immersionW * t.stepS() }

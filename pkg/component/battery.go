package component

import (
	"math"

	"github.com/raterudder/dispatcher/pkg/clock"
	"github.com/raterudder/dispatcher/pkg/types"
)

// DeadCapacityKWh is the capacity below which an aged battery stops
// working.
var DeadCapacityKWh = 1.0

// BatteryConfig is the battery section of a projection configuration.
type BatteryConfig struct {
	Include                 bool              `yaml:"include"`
	InitialRawCapacityKWh   float64           `yaml:"initial_raw_capacity_kwh"`
	InitialStoredKWh        float64           `yaml:"initial_stored_kwh"`
	MaxChargeKW             float64           `yaml:"max_charge_kw"`
	MaxDischargeKW          float64           `yaml:"max_discharge_kw"`
	OneWayStorageEfficiency float64           `yaml:"one_way_storage_efficiency"`
	Projection              BatteryProjection `yaml:"projection"`
	Cost                    CostConfig        `yaml:"cost"`
}

// BatteryProjection describes capacity fade with use.
type BatteryProjection struct {
	// CyclesToReducedCapacity defaults to 1e9, which disables aging.
	CyclesToReducedCapacity float64 `yaml:"cycles_to_reduced_capacity"`
	// ReducedCapacity is the fraction of the initial capacity left after
	// CyclesToReducedCapacity; it defaults to 1.
	ReducedCapacity float64 `yaml:"reduced_capacity"`
}

// Validate checks the configuration of an included battery.
func (c BatteryConfig) Validate() error {
	if !c.Include {
		return nil
	}
	if c.InitialRawCapacityKWh <= 0 {
		return types.MissingError("battery.initial_raw_capacity_kwh")
	}
	if c.MaxChargeKW <= 0 {
		return types.MissingError("battery.max_charge_kw")
	}
	if c.MaxDischargeKW <= 0 {
		return types.MissingError("battery.max_discharge_kw")
	}
	if c.OneWayStorageEfficiency <= 0 || c.OneWayStorageEfficiency > 1 {
		return types.RangeError("battery.one_way_storage_efficiency", c.OneWayStorageEfficiency, 0, 1)
	}
	if c.InitialStoredKWh < 0 || c.InitialStoredKWh > c.InitialRawCapacityKWh {
		return types.RangeError("battery.initial_stored_kwh", c.InitialStoredKWh, 0, c.InitialRawCapacityKWh)
	}
	if r := c.Projection.ReducedCapacity; r < 0 || r > 1 {
		return types.RangeError("battery.projection.reduced_capacity", r, 0, 1)
	}
	return nil
}

// Battery stores electrical energy with a single one-way efficiency applied
// on both legs.
type Battery struct {
	Base
	maxChargeJ      float64
	maxDischargeJ   float64
	efficiency      float64
	initialJ        float64
	capacityJ       float64
	storeJ          float64
	cycles          float64
	cyclesToReduced float64
	reduced         float64
}

// NewBattery builds a battery from cfg. The configuration must already be
// valid.
func NewBattery(cfg BatteryConfig, clk *clock.Clock) *Battery {
	b := &Battery{Base: newBase("battery", KindBattery, clk, cfg.Include, cfg.Cost)}
	if !cfg.Include {
		return b
	}
	step := clk.StepSeconds()
	b.maxChargeJ = cfg.MaxChargeKW * 1000 * step
	b.maxDischargeJ = cfg.MaxDischargeKW * 1000 * step
	b.efficiency = cfg.OneWayStorageEfficiency
	b.initialJ = cfg.InitialRawCapacityKWh * JoulesPerKWh
	b.capacityJ = b.initialJ
	b.storeJ = cfg.InitialStoredKWh * JoulesPerKWh
	b.cyclesToReduced = cfg.Projection.CyclesToReducedCapacity
	if b.cyclesToReduced <= 0 {
		b.cyclesToReduced = 1e9
	}
	b.reduced = cfg.Projection.ReducedCapacity
	if b.reduced == 0 {
		b.reduced = 1
	}
	return b
}

// Transfer charges (positive) or discharges (negative) the battery. The
// request is clipped to the rated power and to the energy the store can
// accept or deliver. The result reports grid-side energy; the store moves by
// TransferredJ·η when charging and TransferredJ/η when discharging.
func (b *Battery) Transfer(req Request) (Result, error) {
	if !b.active || req.EnergyJ == 0 {
		return Result{}, nil
	}
	r := req.EnergyJ
	var delivered float64
	if r > 0 {
		if b.storeJ >= b.capacityJ {
			return Result{}, nil
		}
		r = math.Min(r, b.maxChargeJ)
		delivered = math.Min(r, (b.capacityJ-b.storeJ)/b.efficiency)
		b.storeJ = math.Min(b.storeJ+delivered*b.efficiency, b.capacityJ)
	} else {
		if b.storeJ <= 0 {
			return Result{}, nil
		}
		r = math.Max(r, -b.maxDischargeJ)
		delivered = math.Max(r, -b.storeJ*b.efficiency)
		b.storeJ = math.Max(b.storeJ+delivered/b.efficiency, 0)
	}
	b.age(r)
	return Result{TransferredJ: delivered, ConsumedJ: delivered}, nil
}

// age counts half cycles at the commanded rate and fades the capacity.
func (b *Battery) age(rateClippedJ float64) {
	b.cycles += 0.5 * math.Abs(rateClippedJ) / b.initialJ
	b.capacityJ = math.Max(b.initialJ*(1+(b.reduced-1)*b.cycles/b.cyclesToReduced), 0)
	if b.storeJ > b.capacityJ {
		b.storeJ = b.capacityJ
	}
	if b.capacityJ < DeadCapacityKWh*JoulesPerKWh {
		b.active = false
	}
}

// MaxChargeJ is the most energy the battery accepts in one step.
func (b *Battery) MaxChargeJ() float64 { return b.maxChargeJ }

// StoredKWh is the energy currently held.
func (b *Battery) StoredKWh() float64 { return b.storeJ / JoulesPerKWh }

// CapacityKWh is the current (possibly faded) maximum store.
func (b *Battery) CapacityKWh() float64 { return b.capacityJ / JoulesPerKWh }

// Cycles is the cumulative half-cycle count; it never decreases.
func (b *Battery) Cycles() float64 { return b.cycles }

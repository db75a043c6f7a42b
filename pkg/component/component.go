// Package component models the energy devices of a home: storage, heat
// sources, generators and supplies. Every device exchanges energy through
// Transfer in joules per simulation step; positive requests add energy to
// the device and negative requests withdraw it.
package component

import (
	"github.com/raterudder/dispatcher/pkg/clock"
)

// JoulesPerKWh converts between the configured and internal energy units.
const JoulesPerKWh = 1000.0 * 3600.0

// Kind enumerates the device variants.
type Kind int

const (
	KindBattery Kind = iota
	KindInverter
	KindThermalTank
	KindHeatPump
	KindSolarCollectors
	KindBoiler
	KindSupply
	KindInsulation
)

func (k Kind) String() string {
	switch k {
	case KindBattery:
		return "battery"
	case KindInverter:
		return "inverter"
	case KindThermalTank:
		return "thermal_tank"
	case KindHeatPump:
		return "heat_pump"
	case KindSolarCollectors:
		return "solar_collectors"
	case KindBoiler:
		return "boiler"
	case KindSupply:
		return "supply"
	case KindInsulation:
		return "insulation"
	}
	return "unknown"
}

// Request asks a device to move energy during one step.
type Request struct {
	// EnergyJ is signed: positive adds energy to the device.
	EnergyJ float64
	// TemperatureC is the reference temperature the device works against.
	// Thermal tanks treat it as the external temperature, heat pumps as the
	// lift between source and sink.
	TemperatureC float64
}

// Result is what a device actually did.
type Result struct {
	TransferredJ float64
	ConsumedJ    float64
}

// Transferable is implemented by every device variant.
type Transferable interface {
	Name() string
	Kind() Kind
	Active() bool
	Transfer(Request) (Result, error)
}

// CostConfig is the capital and running cost of a device.
type CostConfig struct {
	GBP        float64 `yaml:"gbp"`
	GBPPerYear float64 `yaml:"gbp_per_year"`
	GBPPerDay  float64 `yaml:"gbp_per_day"`
}

// Base carries the state every device shares.
type Base struct {
	name   string
	kind   Kind
	clock  *clock.Clock
	active bool
	cost   CostConfig
	npv    *NPV
}

func newBase(name string, kind Kind, clk *clock.Clock, include bool, cost CostConfig) Base {
	return Base{
		name:   name,
		kind:   kind,
		clock:  clk,
		active: include,
		cost:   cost,
		npv:    NewNPV(clk),
	}
}

func (b *Base) Name() string { return b.name }
func (b *Base) Kind() Kind { return b.kind }
func (b *Base) Active() bool { return b.active }
func (b *Base) NPV() *NPV { return b.npv }

func (b *Base) stepS() float64 { return b.clock.StepSeconds() }

// PostInstall posts the capital cost as a negative cash flow.
func (b *Base) PostInstall() {
	if b.active && b.cost.GBP != 0 {
		b.npv.Post(-b.cost.GBP)
	}
}

// PostStepCost posts the running cost for one step.
func (b *Base) PostStepCost() {
	if !b.active {
		return
	}
	perYear := b.cost.GBPPerYear + clock.DaysPerYear*b.cost.GBPPerDay
	if perYear != 0 {
		b.npv.Post(-perYear * b.stepS() / clock.SecondsPerYear)
	}
}

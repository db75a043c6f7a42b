package types

import (
	"fmt"
	"time"
)

// Mode is the control state the inverter is driven into for one slot.
type Mode string

const (
	// ModeEco lets the inverter self-consume: charge from surplus and
	// discharge to cover load.
	ModeEco       Mode = "ECO"
	ModeCharge    Mode = "CHARGE"
	ModeDischarge Mode = "DISCHARGE"
	ModeIdle      Mode = "IDLE"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeEco, ModeCharge, ModeDischarge, ModeIdle:
		return true
	}
	return false
}

// Direction selects which inverter timed block a command programs.
type Direction string

const (
	DirectionCharge    Direction = "CHARGE"
	DirectionDischarge Direction = "DISCHARGE"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionCharge {
		return DirectionDischarge
	}
	return DirectionCharge
}

// ClockTime is a time of day in hours and minutes, written as "HH:MM".
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ClockTimeOf returns the time of day of t in its own location.
func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Block is one timed charge or discharge window on the inverter.
type Block struct {
	Slot               int       `json:"slot"`
	Direction          Direction `json:"direction"`
	Start              ClockTime `json:"start"`
	Stop               ClockTime `json:"stop"`
	AbsChargePowerW    float64   `json:"absChargePowerW"`
	TargetLevelPercent int       `json:"targetLevelPercent"`
}

// Command is the device instruction derived for a slot.
type Command struct {
	Mode               Mode      `json:"mode"`
	Start              time.Time `json:"start"`
	Stop               time.Time `json:"stop"`
	AbsChargePowerW    float64   `json:"absChargePowerW"`
	TargetLevelPercent int       `json:"targetLevelPercent"`
	Message            string    `json:"message"`
}

// BatteryParams describes the fixed characteristics of the installed
// battery bank.
type BatteryParams struct {
	CapacityKWh              float64 `json:"capacityKWh"`
	DepthOfDischargePercent  float64 `json:"depthOfDischargePercent"`
	RoundTripEfficiencyPct   float64 `json:"roundTripEfficiencyPercent"`
	WearCostGBPPerKWh        float64 `json:"wearCostGBPPerKWh"`
	WearRatio                float64 `json:"wearRatio"`
	OutOfSpecMultiplier      float64 `json:"outOfSpecMultiplier"`
	MaxChargeKW              float64 `json:"maxChargeKW"`
	MaxDischargeKW           float64 `json:"maxDischargeKW"`
	LowerLimitPercent        float64 `json:"lowerLimitPercent"`
	UpperLimitPercent        float64 `json:"upperLimitPercent"`
	DefaultChargePowerW      float64 `json:"defaultChargePowerW"`
	DefaultChargeTargetPct   int     `json:"defaultChargeTargetPercent"`
	DefaultDischargeCutoffPc int     `json:"defaultDischargeCutoffPercent"`
}

// GridLimits bounds the power exchanged with the grid.
type GridLimits struct {
	ImportLimitKW float64 `json:"importLimitKW"`
	ExportLimitKW float64 `json:"exportLimitKW"`
}

// DeviceStatus is a snapshot read from the inverter.
type DeviceStatus struct {
	Timestamp      time.Time `json:"timestamp"`
	BatteryPercent float64   `json:"batteryPercent"`
	BatteryPowerW  float64   `json:"batteryPowerW"`
	SolarPowerW    float64   `json:"solarPowerW"`
	GridPowerW     float64   `json:"gridPowerW"`
	LoadPowerW     float64   `json:"loadPowerW"`
}

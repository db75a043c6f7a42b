package types

import "time"

// SlotDuration is the length of every dispatch slot.
const SlotDuration = 30 * time.Minute

// Slot is one fixed-length interval of the planning horizon together with
// the forecasts, prices and plan computed for it.
type Slot struct {
	TariffCombination string    `json:"tariffCombination"`
	Index             int       `json:"index"`
	Start             time.Time `json:"start"`
	Mid               time.Time `json:"mid"`
	Stop              time.Time `json:"stop"`

	LoadKW          float64 `json:"loadKW"`
	SolarKW         float64 `json:"solarKW"`
	ImportGBPPerKWh float64 `json:"importGBPPerKWh"`
	ExportGBPPerKWh float64 `json:"exportGBPPerKWh"`

	GridKW          float64 `json:"gridKW"`
	BatteryChargeKW float64 `json:"batteryChargeKW"`
	LevelStartKWh   float64 `json:"levelStartKWh"`
	LevelEndKWh     float64 `json:"levelEndKWh"`

	Command *Command `json:"command,omitempty"`
	// Final slots are historical and are never rewritten.
	Final   bool   `json:"final"`
	CycleID string `json:"cycleID,omitempty"`
}

// NetLoadKW is house load less solar generation.
func (s Slot) NetLoadKW() float64 {
	return s.LoadKW - s.SolarKW
}

// EnergyStats is the observed average power over one slot.
type EnergyStats struct {
	TSStart        time.Time `json:"tsStart"`
	LoadKW         float64   `json:"loadKW"`
	SolarKW        float64   `json:"solarKW"`
	GridKW         float64   `json:"gridKW"`
	BatteryPercent float64   `json:"batteryPercent"`
}

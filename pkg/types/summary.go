package types

import "time"

// YearSummary is written by the simulation at time zero and at the end of
// every simulated year.
type YearSummary struct {
	Year               int                `json:"year"`
	At                 time.Time          `json:"at"`
	NPVGBP             float64            `json:"npvGBP"`
	ComponentNPVGBP    map[string]float64 `json:"componentNPVGBP"`
	GridImportKWh      float64            `json:"gridImportKWh"`
	GridExportKWh      float64            `json:"gridExportKWh"`
	GridImportGBP      float64            `json:"gridImportGBP"`
	GridExportGBP      float64            `json:"gridExportGBP"`
	BoilerKWh          float64            `json:"boilerKWh"`
	BoilerGBP          float64            `json:"boilerGBP"`
	HeatPumpSCOP       float64            `json:"heatPumpSCOP,omitempty"`
	SolarPVKWh         float64            `json:"solarPVKWh"`
	SolarThermalKWh    float64            `json:"solarThermalKWh"`
	BatteryCycles      float64            `json:"batteryCycles"`
	BatteryCapacityKWh float64            `json:"batteryCapacityKWh"`
}

// Projection is a stored simulation run.
type Projection struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	CreatedAt time.Time     `json:"createdAt"`
	Years     []YearSummary `json:"years"`
}

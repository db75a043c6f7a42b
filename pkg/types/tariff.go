package types

import (
	"fmt"
	"time"
)

// TariffPeriod defines a recurring window in which a tariff band applies.
type TariffPeriod struct {
	Start         time.Time      `json:"start" yaml:"start"`
	End           time.Time      `json:"end" yaml:"end"`
	HourStart     int            `json:"hourStart" yaml:"hour_start"`
	HourEnd       int            `json:"hourEnd" yaml:"hour_end"`
	DaysOfTheWeek []time.Weekday `json:"daysOfTheWeek" yaml:"days_of_the_week"`
	Location      string         `json:"location" yaml:"location"`
	LocationPtr   *time.Location `json:"-" yaml:"-"`
}

// Contains checks if a time is within the period.
func (p *TariffPeriod) Contains(t time.Time) (bool, error) {
	if p.LocationPtr != nil {
		t = t.In(p.LocationPtr)
	} else if p.Location != "" {
		loc, err := time.LoadLocation(p.Location)
		if err != nil {
			return false, fmt.Errorf("failed to load location %s: %w", p.Location, err)
		}
		t = t.In(loc)
	}
	if !p.Start.IsZero() && t.Before(p.Start) {
		return false, nil
	}
	if !p.End.IsZero() && t.After(p.End) {
		return false, nil
	}
	if h := t.Hour(); h < p.HourStart || h >= p.HourEnd {
		return false, nil
	}
	if len(p.DaysOfTheWeek) > 0 {
		var found bool
		dow := t.Weekday()
		for _, d := range p.DaysOfTheWeek {
			if d == dow {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

// TariffBand is a named price level for importing and exporting energy.
type TariffBand struct {
	TariffPeriod    `yaml:",inline"`
	Name            string  `json:"name" yaml:"name"`
	ImportGBPPerKWh float64 `json:"importGBPPerKWh" yaml:"import_gbp_per_kwh"`
	ExportGBPPerKWh float64 `json:"exportGBPPerKWh" yaml:"export_gbp_per_kwh"`
}

// TariffRates are the prices that apply to one instant.
type TariffRates struct {
	At              time.Time `json:"at"`
	ImportBand      string    `json:"importBand"`
	ExportBand      string    `json:"exportBand"`
	ImportGBPPerKWh float64   `json:"importGBPPerKWh"`
	ExportGBPPerKWh float64   `json:"exportGBPPerKWh"`
	// Fallback is set when the rates were copied from the same slot on the
	// previous day.
	Fallback bool `json:"fallback,omitempty"`
}

package tariff

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raterudder/dispatcher/pkg/types"
)

// TOUConfig is a time of use tariff file. Bands are checked in order and
// the first one whose period contains the instant applies.
type TOUConfig struct {
	Location string             `yaml:"location"`
	Bands    []types.TariffBand `yaml:"bands"`
}

// TOU is a static time of use tariff.
type TOU struct {
	mu       sync.Mutex
	location *time.Location
	bands    []types.TariffBand
}

// LoadTOU reads a tariff file.
func LoadTOU(path string) (*TOU, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tariff file: %w", err)
	}
	var cfg TOUConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode tariff file %s: %w", path, err)
	}
	return NewTOU(cfg)
}

// NewTOU validates cfg and builds the tariff.
func NewTOU(cfg TOUConfig) (*TOU, error) {
	if len(cfg.Bands) == 0 {
		return nil, types.MissingError("tariff.bands")
	}
	t := &TOU{location: time.UTC}
	if cfg.Location != "" {
		loc, err := time.LoadLocation(cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to load tariff location %s: %w", cfg.Location, err)
		}
		t.location = loc
	}
	for i, b := range cfg.Bands {
		if b.Name == "" {
			return nil, types.MissingError(fmt.Sprintf("tariff.bands[%d].name", i))
		}
		if b.HourEnd == 0 {
			b.HourEnd = 24
		}
		if b.HourStart < 0 || b.HourEnd > 24 || b.HourStart >= b.HourEnd {
			return nil, &types.ConfigError{
				Field:  fmt.Sprintf("tariff.bands[%d]", i),
				Reason: fmt.Sprintf("hours %d-%d are not a valid window", b.HourStart, b.HourEnd),
			}
		}
		if b.LocationPtr == nil && b.Location == "" {
			b.LocationPtr = t.location
		}
		t.bands = append(t.bands, b)
	}
	return t, nil
}

// Rates returns the first matching band's prices.
func (t *TOU) Rates(ctx context.Context, at time.Time) (types.TariffRates, error) {
	t.mu.Lock()
	bands := t.bands
	t.mu.Unlock()

	for i := range bands {
		ok, err := bands[i].Contains(at)
		if err != nil {
			return types.TariffRates{}, err
		}
		if ok {
			return types.TariffRates{
				At:              at,
				ImportBand:      bands[i].Name,
				ExportBand:      bands[i].Name,
				ImportGBPPerKWh: bands[i].ImportGBPPerKWh,
				ExportGBPPerKWh: bands[i].ExportGBPPerKWh,
			}, nil
		}
	}
	return types.TariffRates{}, fmt.Errorf("%w at %s", ErrTariffUnavailable, at.In(t.location).Format(time.RFC3339))
}

// Bands returns a copy of the configured bands.
func (t *TOU) Bands() []types.TariffBand {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.TariffBand(nil), t.bands...)
}

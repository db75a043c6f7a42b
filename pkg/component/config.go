package component

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/raterudder/dispatcher/pkg/clock"
	"github.com/raterudder/dispatcher/pkg/types"
)

// Demands groups the three demand profiles of a home.
type Demands struct {
	SpaceHeatingThermal DemandConfig `yaml:"space_heating_thermal"`
	HotWaterThermal     DemandConfig `yaml:"hot_water_thermal"`
	NonHeatingElectric  DemandConfig `yaml:"non_heating_electric"`
}

// Config is a complete projection description.
type Config struct {
	Name            string                `yaml:"name"`
	Time            clock.Config          `yaml:"time"`
	Location        LocationConfig        `yaml:"location"`
	SupplyGrid      SupplyConfig          `yaml:"supply_grid"`
	SupplyBoiler    *SupplyConfig         `yaml:"supply_boiler"`
	Battery         BatteryConfig         `yaml:"battery"`
	HeatPump        HeatPumpConfig        `yaml:"heat_pump"`
	StorageHotWater TankConfig            `yaml:"storage_hot_water"`
	Boiler          BoilerConfig          `yaml:"boiler"`
	SolarPV         SolarCollectorsConfig `yaml:"solar_pv"`
	SolarThermal    SolarCollectorsConfig `yaml:"solar_thermal"`
	Insulation      InsulationConfig      `yaml:"insulation"`
	Demands         Demands               `yaml:"demands"`
}

// Parse decodes and validates a YAML projection. Unknown keys are errors.
func Parse(raw []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, errors.New("empty projection config")
		}
		return Config{}, fmt.Errorf("failed to decode projection config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads and parses the projection at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read projection config: %w", err)
	}
	return Parse(raw)
}

// Validate checks every section and reports the first bad field.
func (c Config) Validate() error {
	checks := []func() error{
		c.Time.Validate,
		c.Location.Validate,
		func() error { return c.SupplyGrid.Validate("supply_grid") },
		c.Battery.Validate,
		c.HeatPump.Validate,
		c.StorageHotWater.Validate,
		c.Boiler.Validate,
		func() error { return c.SolarPV.Validate("solar_pv") },
		func() error { return c.SolarThermal.Validate("solar_thermal") },
		c.Insulation.Validate,
		func() error { return c.Demands.SpaceHeatingThermal.Validate("demands.space_heating_thermal") },
		func() error { return c.Demands.HotWaterThermal.Validate("demands.hot_water_thermal") },
		func() error { return c.Demands.NonHeatingElectric.Validate("demands.non_heating_electric") },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	if c.Boiler.Include {
		if c.SupplyBoiler == nil {
			return types.MissingError("supply_boiler")
		}
		if err := c.SupplyBoiler.Validate("supply_boiler"); err != nil {
			return err
		}
	}
	if c.SupplyGrid.Export == nil {
		return types.MissingError("supply_grid.export")
	}
	return nil
}

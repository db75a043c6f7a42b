package component

import (
	"fmt"
	"math"

	"github.com/raterudder/dispatcher/pkg/clock"
	"github.com/raterudder/dispatcher/pkg/types"
)

// Direction of energy flow through a supply.
type Direction string

const (
	Import Direction = "import"
	Export Direction = "export"
)

// Band names the engine reacts to.
const (
	BandOffPeak  = "off_peak"
	BandStandard = "standard"
	BandPeak     = "peak"
)

// BandRate is one named price band.
type BandRate struct {
	Name      string  `yaml:"name"`
	GBPPerKWh float64 `yaml:"gbp_per_kwh"`
}

// TariffConfig is the tariff for one direction. Hours maps an hour to the
// band that applies from then until the next listed hour; hours before the
// first listed one use the first band.
type TariffConfig struct {
	Bands   []BandRate     `yaml:"bands"`
	Hours   map[int]string `yaml:"hours"`
	LimitKW float64        `yaml:"limit_kw"`
}

func (c TariffConfig) validate(field string) error {
	if len(c.Bands) == 0 {
		return types.MissingError(field + ".bands")
	}
	names := make(map[string]bool, len(c.Bands))
	for _, b := range c.Bands {
		if b.Name == "" {
			return types.MissingError(field + ".bands.name")
		}
		names[b.Name] = true
	}
	for h, b := range c.Hours {
		if h < 0 || h > 23 {
			return types.RangeError(field+".hours", float64(h), 0, 23)
		}
		if !names[b] {
			return &types.ConfigError{Field: field + ".hours", Reason: fmt.Sprintf("unknown band %q at hour %d", b, h)}
		}
	}
	if c.LimitKW < 0 {
		return types.RangeError(field+".limit_kw", c.LimitKW, 0, math.Inf(1))
	}
	return nil
}

// SupplyConfig is a supply_grid or supply_boiler section.
type SupplyConfig struct {
	InflationRealPA float64       `yaml:"inflation_real_pa"`
	Import          TariffConfig  `yaml:"import"`
	Export          *TariffConfig `yaml:"export"`
	Cost            CostConfig    `yaml:"cost"`
}

func (c SupplyConfig) Validate(field string) error {
	if c.InflationRealPA < -1 || c.InflationRealPA > 1 {
		return types.RangeError(field+".inflation_real_pa", c.InflationRealPA, -1, 1)
	}
	if err := c.Import.validate(field + ".import"); err != nil {
		return err
	}
	if c.Export != nil {
		return c.Export.validate(field + ".export")
	}
	return nil
}

type hourRate struct {
	band string
	rate float64
}

// Supply accounts for energy bought or sold at banded tariffs.
type Supply struct {
	Base
	inflation float64
	tariffs   map[Direction][24]hourRate
	limitsJ   map[Direction]float64
	kwh       map[Direction]map[string]*Accumulator
	valueGBP  map[Direction]map[string]*Accumulator
}

// NewSupply builds a supply that is always active.
func NewSupply(name string, cfg SupplyConfig, clk *clock.Clock) *Supply {
	s := &Supply{
		Base:      newBase(name, KindSupply, clk, true, cfg.Cost),
		inflation: cfg.InflationRealPA,
		tariffs:   make(map[Direction][24]hourRate),
		limitsJ:   make(map[Direction]float64),
		kwh:       make(map[Direction]map[string]*Accumulator),
		valueGBP:  make(map[Direction]map[string]*Accumulator),
	}
	s.addTariff(Import, cfg.Import, clk)
	if cfg.Export != nil {
		s.addTariff(Export, *cfg.Export, clk)
	}
	return s
}

func (s *Supply) addTariff(d Direction, t TariffConfig, clk *clock.Clock) {
	rates := make(map[string]float64, len(t.Bands))
	s.kwh[d] = make(map[string]*Accumulator, len(t.Bands))
	s.valueGBP[d] = make(map[string]*Accumulator, len(t.Bands))
	for _, b := range t.Bands {
		rates[b.Name] = b.GBPPerKWh
		s.kwh[d][b.Name] = NewAccumulator(clk)
		s.valueGBP[d][b.Name] = NewAccumulator(clk)
	}
	var hours [24]hourRate
	band := t.Bands[0].Name
	for h := range hours {
		if b, ok := t.Hours[h]; ok {
			band = b
		}
		hours[h] = hourRate{band: band, rate: rates[band]}
	}
	s.tariffs[d] = hours
	s.limitsJ[d] = t.LimitKW * 1000 * clk.StepSeconds()
}

// Band is the band in force now for d, or "" when d has no tariff.
func (s *Supply) Band(d Direction) string {
	t, ok := s.tariffs[d]
	if !ok {
		return ""
	}
	return t[s.clock.Index(clock.HourOfDay)].band
}

// RateGBPPerKWh is the uninflated rate in force now for d.
func (s *Supply) RateGBPPerKWh(d Direction) float64 {
	t, ok := s.tariffs[d]
	if !ok {
		return 0
	}
	return t[s.clock.Index(clock.HourOfDay)].rate
}

// LimitJ is the most energy that may flow in direction d in one step, or
// +Inf when unlimited.
func (s *Supply) LimitJ(d Direction) float64 {
	if l := s.limitsJ[d]; l > 0 {
		return l
	}
	return math.Inf(1)
}

// Transfer posts one step of exchange: positive energy is exported and
// earns, negative is imported and costs.
func (s *Supply) Transfer(req Request) (Result, error) {
	if req.EnergyJ == 0 {
		return Result{}, nil
	}
	d := Import
	if req.EnergyJ > 0 {
		d = Export
	}
	t, ok := s.tariffs[d]
	if !ok {
		return Result{}, fmt.Errorf("%s has no %s tariff", s.name, d)
	}
	hr := t[s.clock.Index(clock.HourOfDay)]
	kwh := req.EnergyJ / JoulesPerKWh
	inflation := math.Pow(1+s.inflation, float64(s.clock.Year())+s.clock.FractionYear())
	value := kwh * inflation * hr.rate
	s.npv.Post(value)
	s.kwh[d][hr.band].Add(kwh)
	s.valueGBP[d][hr.band].Add(value)
	return Result{TransferredJ: req.EnergyJ}, nil
}

// KWh sums the energy moved in direction d during year bucket y. Imports
// are negative.
func (s *Supply) KWh(d Direction, y int) float64 {
	return sumYear(s.kwh[d], y)
}

// ValueGBP sums the undiscounted value in direction d during year bucket y.
func (s *Supply) ValueGBP(d Direction, y int) float64 {
	return sumYear(s.valueGBP[d], y)
}

// BandKWh returns the bucket accumulator for one direction and band.
func (s *Supply) BandKWh(d Direction, band string) *Accumulator {
	return s.kwh[d][band]
}

func sumYear(m map[string]*Accumulator, y int) float64 {
	var t float64
	for _, a := range m {
		t += a.Get(clock.Year, y)
	}
	return t
}

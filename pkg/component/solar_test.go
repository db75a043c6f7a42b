package component

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/dispatcher/pkg/clock"
)

func ptr(v float64) *float64 { return &v }

func testLocation() LocationConfig {
	return LocationConfig{
		Coordinates: Coordinates{LatitudeDegrees: 51.5, LongitudeDegrees: 0},
		CloudCoverMonths: CloudCover{
			Fractions: []float64{0.042, 0.123, 0.204, 0.288, 0.371, 0.455, 0.538, 0.623, 0.707, 0.79, 0.874, 0.958},
			Factors:   []float64{0.45, 0.5, 0.55, 0.6, 0.65, 0.7, 0.7, 0.65, 0.6, 0.55, 0.5, 0.4},
		},
	}
}

func TestClearSky(t *testing.T) {
	const midsummer = 0.47
	flat := NewSolar(testLocation(), Orientation{Type: OrientationFlat})
	tilted := NewSolar(testLocation(), Orientation{Type: OrientationTilted, TiltDegrees: ptr(35), AzimuthDegrees: ptr(180)})
	north := NewSolar(testLocation(), Orientation{Type: OrientationTilted, TiltDegrees: ptr(35), AzimuthDegrees: ptr(0)})
	twoAxis := NewSolar(testLocation(), Orientation{Type: OrientationTwoAxisTrack})

	tests := []struct {
		name  string
		solar *Solar
		fy    float64
		fd    float64
		min   float64
		max   float64
	}{
		{"Midnight", flat, midsummer, 0, 0, 0},
		{"Winter Dawn", tilted, 0.97, 0.25, 0, 0},
		{"Flat Noon", flat, midsummer, 0.5, 700, 1100},
		{"Tilted Noon", tilted, midsummer, 0.5, 800, 1200},
		{"Two Axis Noon", twoAxis, midsummer, 0.5, 800, 1200},
		{"Winter Noon", tilted, 0.97, 0.5, 300, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.solar.ClearSkyWPerM2(tt.fy, tt.fd)
			assert.GreaterOrEqual(t, v, tt.min)
			assert.LessOrEqual(t, v, tt.max)
		})
	}

	t.Run("Faces", func(t *testing.T) {
		noon := flat.ClearSkyWPerM2(midsummer, 0.5)
		assert.Greater(t, tilted.ClearSkyWPerM2(midsummer, 0.5), noon)
		assert.Less(t, north.ClearSkyWPerM2(midsummer, 0.5), tilted.ClearSkyWPerM2(midsummer, 0.5))
		assert.GreaterOrEqual(t, twoAxis.ClearSkyWPerM2(midsummer, 0.5), tilted.ClearSkyWPerM2(midsummer, 0.5))
		assert.Less(t, flat.ClearSkyWPerM2(midsummer, 0.35), noon)
		// winter sun is low so a south tilt gains more over flat
		assert.Greater(t, tilted.ClearSkyWPerM2(0.97, 0.5)/flat.ClearSkyWPerM2(0.97, 0.5), tilted.ClearSkyWPerM2(midsummer, 0.5)/noon)
	})
}

func TestCloudFactor(t *testing.T) {
	s := NewSolar(testLocation(), Orientation{})
	tests := []struct {
		name string
		fy   float64
		want float64
	}{
		{"On A Point", 0.123, 0.5},
		{"Between Points", 0.0825, 0.475},
		{"After Last Point", 0.99, 0.4 + 0.032*0.05/0.084},
		{"Before First Point", 0, 0.4 + 0.042*0.05/0.084},
		{"Year End", 1, 0.4 + 0.042*0.05/0.084},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.CloudFactor(tt.fy), 1e-9)
		})
	}

	noCover := NewSolar(LocationConfig{}, Orientation{})
	assert.Equal(t, 1.0, noCover.CloudFactor(0.5))
	assert.InDelta(t, 0.7*s.ClearSkyWPerM2(0.5, 0.5), s.InsolationWPerM2(0.5, 0.5), 1e-9)
}

func noonClock(t *testing.T) *clock.Clock {
	t.Helper()
	clk, err := clock.New(clock.Config{
		Start:                   time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC),
		StepSeconds:             3600,
		MaxProjectDurationYears: 1,
	})
	require.NoError(t, err)
	return clk
}

func testCollectors(mod func(*CollectorConfig)) SolarCollectorsConfig {
	c := CollectorConfig{
		Name:          "roof",
		PanelsNumber:  10,
		ShadingFactor: ptr(0.9),
		Orientation:   Orientation{Type: OrientationTilted, TiltDegrees: ptr(35), AzimuthDegrees: ptr(180)},
		Panel: PanelConfig{
			WidthM:  1,
			HeightM: 1.7,
			Efficiency: PanelEfficiency{
				Percent:                     20,
				LossPercentPerCelsius:       0.4,
				LossPercentPA:               0.5,
				TemperatureReferenceCelsius: ptr(25),
			},
		},
	}
	if mod != nil {
		mod(&c)
	}
	return SolarCollectorsConfig{Include: true, Collectors: []CollectorConfig{c}}
}

func TestSolarCollectorsTransfer(t *testing.T) {
	loc := testLocation()
	ambientC := 15.0

	// expected mirrors the derating chain for one step of the test clock
	expected := func(clk *clock.Clock, cfg CollectorConfig) float64 {
		s := NewSolar(loc, cfg.Orientation)
		ins := s.InsolationWPerM2(clk.FractionYear(), clk.FractionDay())
		panelC := ambientC + panelWarmingCM2PerW*ins
		eff := cfg.Panel.Efficiency
		w := ins * *cfg.ShadingFactor * eff.Percent / 100
		w *= 1 - eff.LossPercentPerCelsius/100*(panelC-*eff.TemperatureReferenceCelsius)
		w *= 1 - clk.FractionYear()*eff.LossPercentPA/100
		w *= float64(cfg.PanelsNumber) * cfg.Panel.WidthM * cfg.Panel.HeightM
		return w * 3600
	}

	t.Run("Derated Noon Output", func(t *testing.T) {
		cfg := testCollectors(nil)
		clk := noonClock(t)
		sc := NewSolarCollectors("solar_pv", cfg, loc, ambientC, clk)
		res, err := sc.Transfer(Request{TemperatureC: ambientC})
		require.NoError(t, err)

		want := expected(clk, cfg.Collectors[0])
		require.Greater(t, want, 0.0)
		assert.InDelta(t, want, res.TransferredJ, 1e-6*want)
		assert.InDelta(t, want/JoulesPerKWh, sc.OutputKWh().Total(), 1e-9)
		assert.Equal(t, 10, sc.Panels())
	})

	t.Run("Hotter Panels Produce Less", func(t *testing.T) {
		cool := NewSolarCollectors("solar_pv", testCollectors(nil), loc, ambientC, noonClock(t))
		hot := NewSolarCollectors("solar_pv", testCollectors(nil), loc, ambientC, noonClock(t))
		c, err := cool.Transfer(Request{TemperatureC: 5})
		require.NoError(t, err)
		h, err := hot.Transfer(Request{TemperatureC: 35})
		require.NoError(t, err)
		assert.Greater(t, c.TransferredJ, h.TransferredJ)
	})

	t.Run("Clipped At Rated Power", func(t *testing.T) {
		cfg := testCollectors(func(c *CollectorConfig) { c.Panel.PowerMaxW = 50 })
		sc := NewSolarCollectors("solar_pv", cfg, loc, ambientC, noonClock(t))
		res, err := sc.Transfer(Request{TemperatureC: ambientC})
		require.NoError(t, err)
		assert.InDelta(t, 50*10*3600, res.TransferredJ, 1e-6)
	})

	t.Run("Gross Inverter", func(t *testing.T) {
		plain := testCollectors(nil)
		clk := noonClock(t)
		want := expected(clk, plain.Collectors[0])

		cfg := testCollectors(func(c *CollectorConfig) {
			c.Inverter = &InverterConfig{PowerEfficiency: 0.95, PowerThresholdW: 20}
		})
		sc := NewSolarCollectors("solar_pv", cfg, loc, ambientC, clk)
		res, err := sc.Transfer(Request{TemperatureC: ambientC})
		require.NoError(t, err)
		assert.InDelta(t, want*0.95-20*3600, res.TransferredJ, 1e-6*want)

		swamped := testCollectors(func(c *CollectorConfig) {
			c.Inverter = &InverterConfig{PowerEfficiency: 0.95, PowerThresholdW: 1e6}
		})
		sc = NewSolarCollectors("solar_pv", swamped, loc, ambientC, noonClock(t))
		res, err = sc.Transfer(Request{TemperatureC: ambientC})
		require.NoError(t, err)
		assert.Zero(t, res.TransferredJ)
	})

	t.Run("Night And Excluded", func(t *testing.T) {
		clk, err := clock.New(clock.Config{
			Start:                   time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC),
			StepSeconds:             3600,
			MaxProjectDurationYears: 1,
		})
		require.NoError(t, err)
		sc := NewSolarCollectors("solar_pv", testCollectors(nil), loc, ambientC, clk)
		res, err := sc.Transfer(Request{TemperatureC: ambientC})
		require.NoError(t, err)
		assert.Zero(t, res.TransferredJ)

		off := testCollectors(nil)
		off.Include = false
		sc = NewSolarCollectors("solar_pv", off, loc, ambientC, noonClock(t))
		res, err = sc.Transfer(Request{TemperatureC: ambientC})
		require.NoError(t, err)
		assert.Zero(t, res.TransferredJ)
	})
}

package clock

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/dispatcher/pkg/types"
)

func TestConfigValidate(t *testing.T) {
	good := Config{StepSeconds: 3600, MaxProjectDurationYears: 1, DiscountRatePA: 0.05}
	require.NoError(t, good.Validate())

	tests := []struct {
		name  string
		mod   func(c *Config)
		field string
	}{
		{"step too small", func(c *Config) { c.StepSeconds = 59 }, "time.step_seconds"},
		{"step too large", func(c *Config) { c.StepSeconds = 3601 }, "time.step_seconds"},
		{"zero duration", func(c *Config) { c.MaxProjectDurationYears = 0 }, "time.max_project_duration_years"},
		{"long duration", func(c *Config) { c.MaxProjectDurationYears = 26 }, "time.max_project_duration_years"},
		{"negative discount", func(c *Config) { c.DiscountRatePA = -0.1 }, "time.discount_rate_pa"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := good
			tt.mod(&c)
			err := c.Validate()
			var cfgErr *types.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)

			_, err = New(c)
			assert.Error(t, err)
		})
	}
}

func TestClockAdvances(t *testing.T) {
	c, err := New(Config{StepSeconds: 3600, MaxProjectDurationYears: 2})
	require.NoError(t, err)

	assert.Equal(t, DefaultStart, c.Now())
	assert.Equal(t, 0.0, c.FractionDay())
	assert.Equal(t, 0.0, c.FractionYear())
	assert.True(t, c.YearEnd(), "time zero is a year boundary")
	assert.False(t, c.YearEnd(), "reading the latch clears it")

	for i := 0; i < 6; i++ {
		require.True(t, c.Next())
	}
	assert.InDelta(t, 0.25, c.FractionDay(), 1e-12)
	assert.Equal(t, 6, c.Index(HourOfDay))
	assert.Equal(t, int64(6), c.StepCount())
	assert.Equal(t, 3600.0, c.StepSeconds())

	boundaries := 0
	steps := 0
	for c.Next() {
		steps++
		if c.YearEnd() {
			boundaries++
			assert.Equal(t, DefaultStart.AddDate(1, 0, 0), c.Now())
			assert.Equal(t, 1, c.Year())
		}
	}
	assert.Equal(t, 1, boundaries, "only the first anniversary is inside the run")
	assert.Equal(t, DefaultStart.AddDate(2, 0, 0), c.Now())
	assert.False(t, c.Next(), "stays stopped at the end")
	assert.Equal(t, (365+365)*24-6-1, steps)
}

func TestClockIndexes(t *testing.T) {
	start := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	c, err := New(Config{Start: start, StepSeconds: 60, MaxProjectDurationYears: 3})
	require.NoError(t, err)

	assert.Equal(t, 2, c.Index(MonthOfYear))
	assert.Equal(t, start.YearDay()-1, c.Index(DayOfYear))
	assert.Equal(t, 0, c.Index(Year))
	assert.Equal(t, 4, c.Buckets(Year))
	assert.Equal(t, 366, c.Buckets(DayOfYear))
	assert.InDelta(t, float64(start.YearDay()-1)+0.5, c.FractionYear()*DaysPerYear, 1e-9)
	assert.Equal(t, "MONTH_OF_YEAR", MonthOfYear.String())
}

// Package clock provides the simulated time base: step advancement,
// day and year fractions, year-boundary detection and the time units used
// to bucket accumulated quantities.
package clock

import (
	"time"

	"github.com/jinzhu/now"

	"github.com/raterudder/dispatcher/pkg/types"
)

const (
	SecondsPerDay  = 86400.0
	DaysPerYear    = 365.25
	SecondsPerYear = SecondsPerDay * DaysPerYear
)

// DefaultStart is used when a configuration leaves the start unset.
var DefaultStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Config is the time section of a projection configuration.
type Config struct {
	Start                   time.Time `yaml:"start"`
	StepSeconds             int       `yaml:"step_seconds"`
	MaxProjectDurationYears int       `yaml:"max_project_duration_years"`
	DiscountRatePA          float64   `yaml:"discount_rate_pa"`
}

// Validate checks every field against its permitted range.
func (c Config) Validate() error {
	if c.StepSeconds < 60 || c.StepSeconds > 3600 {
		return types.RangeError("time.step_seconds", float64(c.StepSeconds), 60, 3600)
	}
	if c.MaxProjectDurationYears < 1 || c.MaxProjectDurationYears > 25 {
		return types.RangeError("time.max_project_duration_years", float64(c.MaxProjectDurationYears), 1, 25)
	}
	if c.DiscountRatePA < 0 || c.DiscountRatePA > 1 {
		return types.RangeError("time.discount_rate_pa", c.DiscountRatePA, 0, 1)
	}
	return nil
}

// Unit is a period used to bucket accumulated values.
type Unit int

const (
	HourOfDay Unit = iota
	MonthOfYear
	DayOfYear
	Year
)

func (u Unit) String() string {
	switch u {
	case HourOfDay:
		return "HOUR_OF_DAY"
	case MonthOfYear:
		return "MONTH_OF_YEAR"
	case DayOfYear:
		return "DAY_OF_YEAR"
	case Year:
		return "YEAR"
	}
	return "UNKNOWN"
}

// Units lists every bucketing unit.
var Units = []Unit{HourOfDay, MonthOfYear, DayOfYear, Year}

// Clock steps through simulated time.
type Clock struct {
	cfg     Config
	start   time.Time
	end     time.Time
	now     time.Time
	step    time.Duration
	count   int64
	year    int
	yearEnd bool
}

// New returns a clock positioned at the configured start.
func New(cfg Config) (*Clock, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := cfg.Start
	if start.IsZero() {
		start = DefaultStart
	}
	return &Clock{
		cfg:     cfg,
		start:   start,
		end:     start.AddDate(cfg.MaxProjectDurationYears, 0, 0),
		now:     start,
		step:    time.Duration(cfg.StepSeconds) * time.Second,
		yearEnd: true,
	}, nil
}

// Next advances one step. It returns false once the end of the projection
// has been reached.
func (c *Clock) Next() bool {
	if !c.now.Before(c.end) {
		return false
	}
	c.now = c.now.Add(c.step)
	c.count++
	if y := c.wholeYears(); y != c.year {
		c.year = y
		c.yearEnd = true
	}
	return c.now.Before(c.end)
}

func (c *Clock) wholeYears() int {
	y := c.year
	for !c.now.Before(c.start.AddDate(y+1, 0, 0)) {
		y++
	}
	return y
}

// Now is the current simulated instant.
func (c *Clock) Now() time.Time { return c.now }

// Start is the first simulated instant.
func (c *Clock) Start() time.Time { return c.start }

// End is the instant at which the projection stops.
func (c *Clock) End() time.Time { return c.end }

// StepSeconds is the length of one step.
func (c *Clock) StepSeconds() float64 { return c.step.Seconds() }

// StepCount is the number of steps taken so far.
func (c *Clock) StepCount() int64 { return c.count }

// Year is the number of whole years elapsed since the start.
func (c *Clock) Year() int { return c.year }

// Years is the configured projection length.
func (c *Clock) Years() int { return c.cfg.MaxProjectDurationYears }

// DiscountRate is the annual discount rate applied to cash flows.
func (c *Clock) DiscountRate() float64 { return c.cfg.DiscountRatePA }

// YearEnd reports a year boundary once: it is true at time zero and after
// each boundary, and reading it clears it.
func (c *Clock) YearEnd() bool {
	v := c.yearEnd
	c.yearEnd = false
	return v
}

// FractionDay is the elapsed fraction of the current day.
func (c *Clock) FractionDay() float64 {
	return c.now.Sub(now.With(c.now).BeginningOfDay()).Seconds() / SecondsPerDay
}

// FractionYear is the elapsed fraction of the current calendar year.
func (c *Clock) FractionYear() float64 {
	return c.now.Sub(now.With(c.now).BeginningOfYear()).Seconds() / SecondsPerYear
}

// Buckets is the number of buckets for u.
func (c *Clock) Buckets(u Unit) int {
	switch u {
	case HourOfDay:
		return 24
	case MonthOfYear:
		return 12
	case DayOfYear:
		return 366
	case Year:
		return c.cfg.MaxProjectDurationYears + 1
	}
	return 0
}

// Index is the current bucket for u.
func (c *Clock) Index(u Unit) int {
	switch u {
	case HourOfDay:
		return min(int(24*c.FractionDay()), 23)
	case MonthOfYear:
		return int(c.now.Month()) - 1
	case DayOfYear:
		return c.now.YearDay() - 1
	case Year:
		return min(c.year, c.cfg.MaxProjectDurationYears)
	}
	return 0
}

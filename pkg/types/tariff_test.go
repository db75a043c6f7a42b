package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTariffPeriodContains(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	weekdayPeak := TariffPeriod{
		HourStart:     16,
		HourEnd:       19,
		DaysOfTheWeek: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		LocationPtr:   london,
	}
	winter := TariffPeriod{
		Start:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC),
		HourStart: 0,
		HourEnd:   24,
	}

	tests := []struct {
		name   string
		period TariffPeriod
		at     time.Time
		want   bool
	}{
		{"whole day", TariffPeriod{HourEnd: 24}, time.Now(), true},
		{"peak start inclusive", weekdayPeak, time.Date(2025, 1, 6, 16, 0, 0, 0, time.UTC), true},
		{"peak end exclusive", weekdayPeak, time.Date(2025, 1, 6, 19, 0, 0, 0, time.UTC), false},
		// 2025-06-02 16:30 BST is 15:30 UTC
		{"summer time shifts hours", weekdayPeak, time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC), true},
		{"summer time before peak", weekdayPeak, time.Date(2025, 6, 2, 14, 59, 0, 0, time.UTC), false},
		{"weekend excluded", weekdayPeak, time.Date(2025, 1, 4, 17, 0, 0, 0, time.UTC), false},
		{"at range start", winter, winter.Start, true},
		{"at range end", winter, winter.End, true},
		{"before range", winter, winter.Start.Add(-time.Second), false},
		{"after range", winter, winter.End.Add(time.Second), false},
		{"empty weekday list matches all", TariffPeriod{DaysOfTheWeek: []time.Weekday{}, HourEnd: 24}, time.Now(), true},
		{"named location", TariffPeriod{Location: "Europe/London", HourStart: 0, HourEnd: 7}, time.Date(2025, 7, 1, 5, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.period.Contains(tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("invalid location", func(t *testing.T) {
		p := &TariffPeriod{Location: "Invalid/Location"}
		_, err := p.Contains(time.Now())
		assert.ErrorContains(t, err, "failed to load location")
	})
}

func TestModeAndDirection(t *testing.T) {
	assert.True(t, ModeEco.Valid())
	assert.True(t, ModeIdle.Valid())
	assert.False(t, Mode("BOOST").Valid())
	assert.Equal(t, DirectionDischarge, DirectionCharge.Opposite())
	assert.Equal(t, DirectionCharge, DirectionDischarge.Opposite())
	assert.Equal(t, "07:05", ClockTime{Hour: 7, Minute: 5}.String())
	assert.Equal(t, ClockTime{Hour: 23, Minute: 30}, ClockTimeOf(time.Date(2025, 1, 1, 23, 30, 0, 0, time.UTC)))
}

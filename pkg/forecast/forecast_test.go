package forecast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/dispatcher/pkg/types"
)

type fakeHistory struct {
	stats []types.EnergyStats
	err   error
}

func (f *fakeHistory) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []types.EnergyStats
	for _, s := range f.stats {
		if !s.TSStart.Before(start) && s.TSStart.Before(end) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeSolar struct {
	points []SolarPoint
	err    error
	calls  int
}

func (f *fakeSolar) SolarForecast(ctx context.Context, start, end time.Time) ([]SolarPoint, error) {
	f.calls++
	return f.points, f.err
}

func slotsFrom(start time.Time, n int) []types.Slot {
	slots := make([]types.Slot, n)
	for i := range slots {
		s := start.Add(time.Duration(i) * types.SlotDuration)
		slots[i] = types.Slot{Index: i, Start: s, Mid: s.Add(types.SlotDuration / 2), Stop: s.Add(types.SlotDuration)}
	}
	return slots
}

func TestSlotOfDay(t *testing.T) {
	assert.Equal(t, 0, SlotOfDay(time.Date(2025, 1, 1, 0, 10, 0, 0, time.UTC), time.UTC))
	assert.Equal(t, 5, SlotOfDay(time.Date(2025, 1, 1, 2, 30, 0, 0, time.UTC), time.UTC))
	assert.Equal(t, 47, SlotOfDay(time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC), time.UTC))
	assert.Equal(t, 48, SlotsPerDay)
}

func TestBuildProfile(t *testing.T) {
	ctx := context.Background()
	h1 := time.Date(2025, 6, 15, 2, 0, 0, 0, time.UTC)
	h2 := h1.AddDate(0, 0, -1)
	h3 := h1.AddDate(0, 0, -2)

	t.Run("Noise Floor", func(t *testing.T) {
		p := buildProfile(ctx, time.UTC, []types.EnergyStats{
			{TSStart: h1, LoadKW: 1},
			{TSStart: h2, LoadKW: 3},
			{TSStart: h3, LoadKW: 0.05},
		}, 0)
		assert.InDelta(t, 2, p[4].loadKW, 1e-9)
		assert.Equal(t, 3, p[4].points)
	})

	t.Run("Single Outlier Dropped", func(t *testing.T) {
		p := buildProfile(ctx, time.UTC, []types.EnergyStats{
			{TSStart: h1, LoadKW: 1},
			{TSStart: h2, LoadKW: 1.2},
			{TSStart: h3, LoadKW: 10},
		}, 3)
		assert.InDelta(t, 1.1, p[4].loadKW, 1e-9)
	})

	t.Run("Several Outliers Kept", func(t *testing.T) {
		p := buildProfile(ctx, time.UTC, []types.EnergyStats{
			{TSStart: h1, LoadKW: 1},
			{TSStart: h2, LoadKW: 10},
			{TSStart: h3, LoadKW: 12},
		}, 3)
		assert.InDelta(t, 23.0/3, p[4].loadKW, 1e-9)
	})
}

func TestFill(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 11, 45, 0, 0, time.UTC)
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	var stats []types.EnergyStats
	for d := 1; d <= 7; d++ {
		day := start.AddDate(0, 0, -d)
		stats = append(stats,
			types.EnergyStats{TSStart: day, LoadKW: 0.8, SolarKW: 2},
			types.EnergyStats{TSStart: day.Add(types.SlotDuration), LoadKW: 1.2, SolarKW: 1},
		)
	}
	// last summer, same time of day
	stats = append(stats, types.EnergyStats{TSStart: start.AddDate(-1, 0, 3).Add(2 * types.SlotDuration), LoadKW: 0.5, SolarKW: 3})

	t.Run("History Only", func(t *testing.T) {
		f := New(Config{DefaultLoadKW: 0.4}, &fakeHistory{stats: stats}, nil)
		slots := slotsFrom(start, 4)
		require.NoError(t, f.Fill(ctx, now, slots))
		assert.InDelta(t, 0.8, slots[0].LoadKW, 1e-9)
		assert.InDelta(t, 1.2, slots[1].LoadKW, 1e-9)
		assert.InDelta(t, 0.4, slots[2].LoadKW, 1e-9, "older than the load window")
		assert.InDelta(t, 0.4, slots[3].LoadKW, 1e-9)

		assert.InDelta(t, 2, slots[0].SolarKW, 1e-9)
		assert.InDelta(t, 3, slots[2].SolarKW, 1e-9)
		assert.Zero(t, slots[3].SolarKW)
	})

	t.Run("Live Solar With Fallback", func(t *testing.T) {
		solar := &fakeSolar{points: []SolarPoint{{Start: start, KW: 4.5}, {Start: start.Add(types.SlotDuration), KW: -1}}}
		f := New(Config{DefaultLoadKW: 0.4}, &fakeHistory{stats: stats}, solar)
		slots := slotsFrom(start, 3)
		require.NoError(t, f.Fill(ctx, now, slots))
		assert.InDelta(t, 4.5, slots[0].SolarKW, 1e-9)
		assert.Zero(t, slots[1].SolarKW)
		assert.InDelta(t, 3, slots[2].SolarKW, 1e-9)

		require.NoError(t, f.Fill(ctx, now, slotsFrom(start, 3)))
		assert.Equal(t, 1, solar.calls)
	})

	t.Run("Live Solar Down", func(t *testing.T) {
		solar := &fakeSolar{err: errors.New("503")}
		f := New(Config{}, &fakeHistory{stats: stats}, solar)
		slots := slotsFrom(start, 1)
		require.NoError(t, f.Fill(ctx, now, slots))
		assert.InDelta(t, 2, slots[0].SolarKW, 1e-9)
	})

	t.Run("History Error", func(t *testing.T) {
		f := New(Config{}, &fakeHistory{err: errors.New("db down")}, nil)
		assert.Error(t, f.Fill(ctx, now, slotsFrom(start, 1)))
	})
}

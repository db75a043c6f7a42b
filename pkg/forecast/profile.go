package forecast

import (
	"context"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/types"
)

// noiseFloorKW is the power below which an observation is treated as
// noise in load averages.
const noiseFloorKW = 0.1

// SlotsPerDay is the number of slots in a day.
const SlotsPerDay = int(24 * time.Hour / types.SlotDuration)

// SlotOfDay is the index of the slot containing t in loc.
func SlotOfDay(t time.Time, loc *time.Location) int {
	t = t.In(loc)
	return (t.Hour()*60 + t.Minute()) / int(types.SlotDuration/time.Minute)
}

// slotProfile is the average observed power in one slot of the day.
type slotProfile struct {
	loadKW  float64
	solarKW float64
	points  int
}

// buildProfile averages load and solar by slot of day. When an observation
// exceeds every other one in its slot by more than ignoreOverMultiple it is
// treated as a one-off and dropped; several such points are kept since
// they describe a pattern.
func buildProfile(ctx context.Context, loc *time.Location, history []types.EnergyStats, ignoreOverMultiple float64) map[int]slotProfile {
	bySlot := make(map[int][]types.EnergyStats)
	for _, h := range history {
		if h.TSStart.IsZero() {
			continue
		}
		i := SlotOfDay(h.TSStart, loc)
		bySlot[i] = append(bySlot[i], h)
	}

	result := make(map[int]slotProfile, len(bySlot))
	for slot, points := range bySlot {
		valid := points
		if len(points) >= 3 && ignoreOverMultiple > 1 {
			var outliers []int
			for i, p := range points {
				outlier := true
				for j, other := range points {
					if i != j && p.LoadKW <= other.LoadKW*ignoreOverMultiple {
						outlier = false
						break
					}
				}
				if outlier {
					outliers = append(outliers, i)
				}
			}
			if len(outliers) == 1 {
				log.Ctx(ctx).DebugContext(
					ctx,
					"ignoring outlier observation",
					slog.Int("slot", slot),
					slog.Float64("loadKW", points[outliers[0]].LoadKW),
				)
				valid = append(append([]types.EnergyStats(nil), points[:outliers[0]]...), points[outliers[0]+1:]...)
			}
		}

		var loads, solars []float64
		for _, p := range valid {
			if p.LoadKW > noiseFloorKW {
				loads = append(loads, p.LoadKW)
			}
			solars = append(solars, max(p.SolarKW, 0))
		}
		var sp slotProfile
		sp.points = len(valid)
		if len(loads) > 0 {
			sp.loadKW = stat.Mean(loads, nil)
		}
		if len(solars) > 0 {
			sp.solarKW = stat.Mean(solars, nil)
		}
		result[slot] = sp
	}
	return result
}

// seasonalSolarKW averages solar observed in the same slot of the day
// within windowDays of at's day of year, in any year of history.
func seasonalSolarKW(at time.Time, loc *time.Location, history []types.EnergyStats, windowDays int) (float64, bool) {
	slot := SlotOfDay(at, loc)
	doy := at.In(loc).YearDay()
	var vals []float64
	for _, h := range history {
		if h.TSStart.IsZero() || SlotOfDay(h.TSStart, loc) != slot {
			continue
		}
		d := h.TSStart.In(loc).YearDay() - doy
		if d < 0 {
			d = -d
		}
		if d > 183 {
			d = 366 - d
		}
		if d <= windowDays {
			vals = append(vals, max(h.SolarKW, 0))
		}
	}
	if len(vals) == 0 {
		return 0, false
	}
	return stat.Mean(vals, nil), true
}

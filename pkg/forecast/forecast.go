// Package forecast predicts house load and solar generation for the slots
// of a planning horizon.
package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/types"
)

// History provides past observations.
type History interface {
	GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyStats, error)
}

// SolarPoint is a forecast mean solar power over one slot.
type SolarPoint struct {
	Start time.Time `json:"start"`
	KW    float64   `json:"kw"`
}

// SolarSource is a live solar forecast service.
type SolarSource interface {
	SolarForecast(ctx context.Context, start, end time.Time) ([]SolarPoint, error)
}

// Config tunes the forecaster.
type Config struct {
	Location *time.Location
	// LoadHistoryDays is how far back the load profile looks.
	LoadHistoryDays int
	// SeasonalWindowDays is the half width, in days of the year, of the
	// solar fallback average.
	SeasonalWindowDays int
	IgnoreOverMultiple float64
	// DefaultLoadKW is used for slots with no history at all.
	DefaultLoadKW float64
	SolarCacheTTL time.Duration

	SolcastSiteID string
	SolcastAPIKey string
}

// Forecaster fills horizon slots with load and solar predictions.
type Forecaster struct {
	cfg     Config
	history History
	solar   SolarSource
	cache   *cache.Cache
}

// New returns a forecaster. solar may be nil, in which case the seasonal
// history average is always used.
func New(cfg Config, history History, solar SolarSource) *Forecaster {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LoadHistoryDays <= 0 {
		cfg.LoadHistoryDays = 14
	}
	if cfg.SeasonalWindowDays <= 0 {
		cfg.SeasonalWindowDays = 15
	}
	if cfg.SolarCacheTTL <= 0 {
		cfg.SolarCacheTTL = 30 * time.Minute
	}
	return &Forecaster{
		cfg:     cfg,
		history: history,
		solar:   solar,
		cache:   cache.New(cfg.SolarCacheTTL, 2*cfg.SolarCacheTTL),
	}
}

// Fill sets LoadKW and SolarKW on every slot.
func (f *Forecaster) Fill(ctx context.Context, now time.Time, slots []types.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	seasonalStart := now.AddDate(-1, 0, -f.cfg.SeasonalWindowDays)
	history, err := f.history.GetEnergyHistory(ctx, seasonalStart, now)
	if err != nil {
		log.Op(ctx, "forecast.Forecaster.Fill").ErrorContext(ctx, "failed to get energy history", slog.Any("error", err))
		return fmt.Errorf("failed to get energy history: %w", err)
	}

	loadStart := now.AddDate(0, 0, -f.cfg.LoadHistoryDays)
	var recent []types.EnergyStats
	for _, h := range history {
		if !h.TSStart.Before(loadStart) {
			recent = append(recent, h)
		}
	}
	profile := buildProfile(ctx, f.cfg.Location, recent, f.cfg.IgnoreOverMultiple)

	live := f.liveSolar(ctx, slots[0].Start, slots[len(slots)-1].Stop)
	var missingLoad, seasonal int
	for i := range slots {
		s := &slots[i]
		p, ok := profile[SlotOfDay(s.Start, f.cfg.Location)]
		if ok && p.loadKW > 0 {
			s.LoadKW = p.loadKW
		} else {
			s.LoadKW = f.cfg.DefaultLoadKW
			missingLoad++
		}

		if kw, ok := live[s.Start.UTC()]; ok {
			s.SolarKW = kw
			continue
		}
		kw, ok := seasonalSolarKW(s.Mid, f.cfg.Location, history, f.cfg.SeasonalWindowDays)
		if !ok && p.points > 0 {
			kw = p.solarKW
		}
		s.SolarKW = kw
		seasonal++
	}
	if missingLoad > 0 {
		log.Ctx(ctx).WarnContext(ctx, "no load history for some slots, using default", slog.Int("slots", missingLoad))
	}
	if seasonal > 0 && f.solar != nil {
		log.Ctx(ctx).WarnContext(ctx, "live solar forecast incomplete, using seasonal history", slog.Int("slots", seasonal))
	}
	return nil
}

// liveSolar returns the live forecast keyed by slot start, or nil when
// unavailable. Responses are cached per horizon.
func (f *Forecaster) liveSolar(ctx context.Context, start, end time.Time) map[time.Time]float64 {
	if f.solar == nil {
		return nil
	}
	key := start.UTC().Format(time.RFC3339) + "/" + end.UTC().Format(time.RFC3339)
	if v, ok := f.cache.Get(key); ok {
		return v.(map[time.Time]float64)
	}
	points, err := f.solar.SolarForecast(ctx, start, end)
	if err != nil {
		log.Op(ctx, "forecast.Forecaster.liveSolar").WarnContext(ctx, "solar forecast unavailable", slog.Any("error", err))
		return nil
	}
	out := make(map[time.Time]float64, len(points))
	for _, p := range points {
		out[p.Start.UTC()] = max(p.KW, 0)
	}
	f.cache.SetDefault(key, out)
	return out
}

package forecast

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Configured registers the forecast flags. The returned config is filled
// in once flags are parsed.
func Configured() *Config {
	cfg := &Config{
		LoadHistoryDays:    14,
		SeasonalWindowDays: 15,
		IgnoreOverMultiple: 3,
		DefaultLoadKW:      0.4,
	}
	location := lflag.String("forecast-location", "Europe/London", "Time zone whose time of day the load profile follows")
	ttl := lflag.Duration("solar-forecast-cache-ttl", 30*time.Minute, "How long a live solar forecast is reused")
	lflag.JSON(&cfg.LoadHistoryDays, "load-history-days", cfg.LoadHistoryDays, "Days of history averaged into the load profile")
	lflag.JSON(&cfg.SeasonalWindowDays, "solar-seasonal-window-days", cfg.SeasonalWindowDays, "Half width in days of the seasonal solar fallback")
	lflag.JSON(&cfg.IgnoreOverMultiple, "ignore-usage-over-multiple", cfg.IgnoreOverMultiple, "Drop a single observation this many times larger than all others in its slot")
	lflag.JSON(&cfg.DefaultLoadKW, "default-load-kw", cfg.DefaultLoadKW, "Load assumed for slots with no history")
	solcastSite := lflag.String("solcast-site-id", "", "Solcast rooftop site id for live solar forecasts")
	solcastKey := lflag.String("solcast-api-key", "", "Solcast API key")

	lflag.Do(func() {
		loc, err := time.LoadLocation(*location)
		if err != nil {
			panic(fmt.Sprintf("invalid forecast-location %q: %v", *location, err))
		}
		cfg.Location = loc
		cfg.SolarCacheTTL = *ttl
		cfg.SolcastSiteID = *solcastSite
		cfg.SolcastAPIKey = *solcastKey
	})
	return cfg
}

// Solar returns the configured live solar source, or nil when none is set.
func (c Config) Solar() SolarSource {
	if c.SolcastSiteID == "" || c.SolcastAPIKey == "" {
		return nil
	}
	return NewSolcast("", c.SolcastSiteID, c.SolcastAPIKey)
}

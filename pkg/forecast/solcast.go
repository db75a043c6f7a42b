package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/raterudder/dispatcher/pkg/common"
)

const solcastBaseURL = "https://api.solcast.com.au"

// Solcast fetches rooftop site forecasts from the Solcast API.
type Solcast struct {
	client  *http.Client
	baseURL string
	siteID  string
}

// NewSolcast returns a SolarSource for one rooftop site. An empty baseURL
// selects the public API.
func NewSolcast(baseURL, siteID, apiKey string) *Solcast {
	if baseURL == "" {
		baseURL = solcastBaseURL
	}
	return &Solcast{
		client:  common.HTTPClient(30*time.Second, apiKey),
		baseURL: baseURL,
		siteID:  siteID,
	}
}

type solcastForecast struct {
	PVEstimate float64   `json:"pv_estimate"`
	PeriodEnd  time.Time `json:"period_end"`
	Period     string    `json:"period"`
}

// SolarForecast implements SolarSource. Periods are reported by their end so
// each point is shifted back by its own length.
func (s *Solcast) SolarForecast(ctx context.Context, start, end time.Time) ([]SolarPoint, error) {
	hours := int(time.Until(end).Hours()) + 1
	u := fmt.Sprintf("%s/rooftop_sites/%s/forecasts?format=json&hours=%d", s.baseURL, url.PathEscape(s.siteID), max(hours, 1))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create solcast request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch solcast forecast: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("solcast returned %d: %s", resp.StatusCode, body)
	}

	var body struct {
		Forecasts []solcastForecast `json:"forecasts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode solcast forecast: %w", err)
	}

	var points []SolarPoint
	for _, f := range body.Forecasts {
		period, err := parsePeriod(f.Period)
		if err != nil {
			return nil, err
		}
		p := SolarPoint{Start: f.PeriodEnd.Add(-period), KW: f.PVEstimate}
		if p.Start.Before(start) || !p.Start.Before(end) {
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

// parsePeriod handles the PT<n>M durations Solcast uses.
func parsePeriod(p string) (time.Duration, error) {
	if p == "" {
		return 30 * time.Minute, nil
	}
	var minutes int
	if _, err := fmt.Sscanf(p, "PT%dM", &minutes); err != nil || minutes <= 0 {
		return 0, fmt.Errorf("unsupported solcast period %q", p)
	}
	return time.Duration(minutes) * time.Minute, nil
}

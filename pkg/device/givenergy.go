package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/raterudder/dispatcher/pkg/common"
	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/types"
)

const givEnergyBaseURL = "https://api.givenergy.cloud/v1"

// GivEnergy talks to one inverter through the GivEnergy cloud API. Setting
// ids are discovered from the inverter's settings list on first use.
//
// Requests are never retried. A write that failed may still have been
// applied so the caller reads the setting again before trying.
type GivEnergy struct {
	client  *http.Client
	baseURL string
	serial  string

	mu       sync.Mutex
	settings map[string]int
}

// NewGivEnergy returns a channel to the inverter with the given serial
// number. An empty baseURL selects the public cloud API.
func NewGivEnergy(baseURL, serial, token string) *GivEnergy {
	if baseURL == "" {
		baseURL = givEnergyBaseURL
	}
	return &GivEnergy{
		client:  common.HTTPClient(time.Minute, token),
		baseURL: baseURL,
		serial:  serial,
	}
}

// Name implements Channel.
func (g *GivEnergy) Name() string {
	return "givenergy/" + g.serial
}

type givEnergySetting struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type givEnergyValue struct {
	Value   json.RawMessage `json:"value"`
	Success *bool           `json:"success"`
	Message string          `json:"message"`
}

type givEnergySystemData struct {
	Time  time.Time `json:"time"`
	Solar struct {
		Power float64 `json:"power"`
	} `json:"solar"`
	Grid struct {
		Power float64 `json:"power"`
	} `json:"grid"`
	Battery struct {
		Percent float64 `json:"percent"`
		Power   float64 `json:"power"`
	} `json:"battery"`
	Consumption float64 `json:"consumption"`
}

// Read implements Channel.
func (g *GivEnergy) Read(ctx context.Context, setting string) (string, error) {
	id, err := g.settingID(ctx, setting)
	if err != nil {
		return "", err
	}
	req, err := g.newRequest(ctx, http.MethodPost, fmt.Sprintf("/settings/%d/read", id), struct{}{})
	if err != nil {
		return "", err
	}
	var v givEnergyValue
	if err := g.doRequest(req, &v); err != nil {
		log.Op(ctx, "device.GivEnergy.Read").ErrorContext(ctx, "failed to read setting", slog.String("setting", setting), slog.Any("error", err))
		return "", fmt.Errorf("failed to read %q: %w", setting, err)
	}
	value, err := formatValue(v.Value)
	if err != nil {
		log.Op(ctx, "device.GivEnergy.Read").ErrorContext(ctx, "bad setting value", slog.String("setting", setting), slog.String("value", string(v.Value)))
		return "", fmt.Errorf("failed to read %q: %w", setting, err)
	}
	return value, nil
}

// Write implements Channel.
func (g *GivEnergy) Write(ctx context.Context, setting, value, note string) error {
	id, err := g.settingID(ctx, setting)
	if err != nil {
		return err
	}
	body := struct {
		Value   string `json:"value"`
		Context string `json:"context,omitempty"`
	}{
		Value:   value,
		Context: note,
	}
	req, err := g.newRequest(ctx, http.MethodPost, fmt.Sprintf("/settings/%d/write", id), body)
	if err != nil {
		return err
	}
	var v givEnergyValue
	if err := g.doRequest(req, &v); err != nil {
		log.Op(ctx, "device.GivEnergy.Write").ErrorContext(ctx, "failed to write setting", slog.String("setting", setting), slog.String("value", value), slog.Any("error", err))
		return fmt.Errorf("failed to write %q: %w", setting, err)
	}
	if v.Success != nil && !*v.Success {
		log.Op(ctx, "device.GivEnergy.Write").ErrorContext(ctx, "inverter rejected setting", slog.String("setting", setting), slog.String("value", value), slog.String("message", v.Message))
		return fmt.Errorf("inverter rejected %q=%q: %s", setting, value, v.Message)
	}
	log.Ctx(ctx).DebugContext(ctx, "wrote inverter setting", slog.String("setting", setting), slog.String("value", value))
	return nil
}

// Status implements Channel.
func (g *GivEnergy) Status(ctx context.Context) (types.DeviceStatus, error) {
	req, err := g.newRequest(ctx, http.MethodGet, "/system-data/latest", nil)
	if err != nil {
		return types.DeviceStatus{}, err
	}
	var sd givEnergySystemData
	if err := g.doRequest(req, &sd); err != nil {
		log.Op(ctx, "device.GivEnergy.Status").ErrorContext(ctx, "failed to get system data", slog.Any("error", err))
		return types.DeviceStatus{}, fmt.Errorf("failed to get system data: %w", err)
	}
	return types.DeviceStatus{
		Timestamp:      sd.Time,
		BatteryPercent: sd.Battery.Percent,
		BatteryPowerW:  sd.Battery.Power,
		SolarPowerW:    sd.Solar.Power,
		GridPowerW:     sd.Grid.Power,
		LoadPowerW:     sd.Consumption,
	}, nil
}

// settingID maps a setting name to the inverter's id for it, listing the
// inverter's settings the first time.
func (g *GivEnergy) settingID(ctx context.Context, setting string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.settings == nil {
		req, err := g.newRequest(ctx, http.MethodGet, "/settings", nil)
		if err != nil {
			return 0, err
		}
		var list []givEnergySetting
		if err := g.doRequest(req, &list); err != nil {
			log.Op(ctx, "device.GivEnergy.settingID").ErrorContext(ctx, "failed to list settings", slog.Any("error", err))
			return 0, fmt.Errorf("failed to list inverter settings: %w", err)
		}
		g.settings = make(map[string]int, len(list))
		for _, s := range list {
			g.settings[s.Name] = s.ID
		}
	}

	id, ok := g.settings[setting]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSetting, setting)
	}
	return id, nil
}

func (g *GivEnergy) newRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+"/inverter/"+g.serial+endpoint, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// doRequest sends req and decodes the "data" member of the response into
// dest. Any status outside 2xx is an error.
func (g *GivEnergy) doRequest(req *http.Request, dest interface{}) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if dest == nil {
		return nil
	}

	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(wrapper.Data) == 0 {
		return fmt.Errorf("response has no data")
	}
	if err := json.Unmarshal(wrapper.Data, dest); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// formatValue renders a JSON setting value the way it is written back:
// strings unquoted, booleans as 1 or 0, numbers verbatim.
func formatValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("missing value")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return "1", nil
		}
		return "0", nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("unsupported value %s", raw)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/raterudder/dispatcher/pkg/types"
)

// ErrUnknownSetting is returned when the inverter does not expose a setting
// with the requested name.
var ErrUnknownSetting = errors.New("unknown inverter setting")

// Channel is a command channel to one inverter. Setting values are carried as
// the strings the inverter API accepts, for example "1", "95" or "04:00".
type Channel interface {
	// Name identifies the device in the setting log.
	Name() string
	// Read returns the current value of a setting from the device.
	Read(ctx context.Context, setting string) (string, error)
	// Write sets a setting on the device. note is free form text that
	// travels with the request and the setting log.
	Write(ctx context.Context, setting, value, note string) error
	// Status returns the latest measurements reported by the device.
	Status(ctx context.Context) (types.DeviceStatus, error)
}

// Pause Battery values.
const (
	PauseNone            = "Not Paused"
	PauseCharge          = "Pause Charge"
	PauseDischarge       = "Pause Discharge"
	PauseChargeDischarge = "Pause Charge & Discharge"
)

const (
	settingPauseBattery   = "Pause Battery"
	settingChargePower    = "Battery Charge Power"
	settingDischargePower = "Battery Discharge Power"
	settingChargeEnable   = "AC Charge Enable"
	settingDischargeOn    = "Enable DC Discharge"
)

// blockType is the setting name prefix of a timed block.
func blockType(d types.Direction) string {
	if d == types.DirectionDischarge {
		return "DC Discharge"
	}
	return "AC Charge"
}

// blockLimitSetting is the SOC limit of a timed block. Charge blocks stop
// at an upper limit and discharge blocks at a lower one.
func blockLimitSetting(d types.Direction, n int) string {
	limit := "Upper"
	if d == types.DirectionDischarge {
		limit = "Lower"
	}
	return fmt.Sprintf("%s %d %s SOC %% Limit", blockType(d), n, limit)
}

func blockStartSetting(d types.Direction, n int) string {
	return fmt.Sprintf("%s %d Start Time", blockType(d), n)
}

func blockEndSetting(d types.Direction, n int) string {
	return fmt.Sprintf("%s %d End Time", blockType(d), n)
}

func powerSetting(d types.Direction) string {
	if d == types.DirectionDischarge {
		return settingDischargePower
	}
	return settingChargePower
}

func enableSetting(d types.Direction) string {
	if d == types.DirectionDischarge {
		return settingDischargeOn
	}
	return settingChargeEnable
}

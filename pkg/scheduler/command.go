package scheduler

import (
	"fmt"
	"math"
	"time"

	"github.com/raterudder/dispatcher/pkg/types"
)

// ThresholdKW is the grid or battery power below which a slot is not worth
// a timed block.
const ThresholdKW = 0.1

// Horizon returns n empty slots starting at the slot boundary after now.
func Horizon(tariffCombination string, now time.Time, n int) []types.Slot {
	start := now.Truncate(types.SlotDuration).Add(types.SlotDuration)
	slots := make([]types.Slot, n)
	for i := range slots {
		s := start.Add(time.Duration(i) * types.SlotDuration)
		slots[i] = types.Slot{
			TariffCombination: tariffCombination,
			Index:             i,
			Start:             s,
			Mid:               s.Add(types.SlotDuration / 2),
			Stop:              s.Add(types.SlotDuration),
		}
	}
	return slots
}

// Command derives the inverter command for a planned slot. Near zero grid
// flow the inverter is left in ECO to follow the load itself. Otherwise a
// meaningful battery power becomes a timed block whose direction follows
// the sign of the charge. Discharge always runs down to the lower limit so
// that it does not stop early and leave the load on the grid.
func Command(s types.Slot, b types.BatteryParams) types.Command {
	cmd := types.Command{
		Start:              s.Start,
		Stop:               s.Stop,
		TargetLevelPercent: targetPercent(s.LevelEndKWh, b),
	}
	switch {
	case math.Abs(s.GridKW) < ThresholdKW:
		cmd.Mode = types.ModeEco
	case math.Abs(s.BatteryChargeKW) > ThresholdKW:
		cmd.AbsChargePowerW = math.Round(1000 * math.Abs(s.BatteryChargeKW))
		if s.BatteryChargeKW > 0 {
			cmd.Mode = types.ModeCharge
		} else {
			cmd.Mode = types.ModeDischarge
			cmd.TargetLevelPercent = limitPercent(b.LowerLimitPercent)
		}
	default:
		cmd.Mode = types.ModeIdle
	}
	cmd.Message = message(cmd)
	return cmd
}

func targetPercent(levelKWh float64, b types.BatteryParams) int {
	lower, upper := limitPercent(b.LowerLimitPercent), limitPercent(b.UpperLimitPercent)
	if b.CapacityKWh <= 0 {
		return lower
	}
	p := int(math.Round(100 * levelKWh / b.CapacityKWh))
	return min(upper, max(lower, p))
}

func limitPercent(p float64) int {
	return min(100, max(0, int(math.Round(p))))
}

func message(cmd types.Command) string {
	switch cmd.Mode {
	case types.ModeCharge, types.ModeDischarge:
		return fmt.Sprintf("%s@%.0fW to %d%%", cmd.Mode, cmd.AbsChargePowerW, cmd.TargetLevelPercent)
	}
	return fmt.Sprintf("%s to %d%%", cmd.Mode, cmd.TargetLevelPercent)
}

package device

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/types"
)

const (
	// ControlBlock is the timed block driven by Control. Every other block
	// is left as Initialise set it.
	ControlBlock = 1
	firstBlock   = 1
	lastBlock    = 10
	clearTime    = "00:00"
)

type settingValue struct {
	setting string
	value   string
}

// preDefaults stop the battery while the blocks are rewritten.
var preDefaults = []settingValue{
	{settingPauseBattery, PauseChargeDischarge},
}

var postDefaults = []settingValue{
	{"Enable AC Charge Upper % Limit", "1"},
	{"Enable Eco Mode", "1"},
	{settingChargeEnable, "1"},
	{settingDischargeOn, "1"},
	{"AC Charge Upper % Limit", "95"},
	{"Battery Reserve % Limit", "5"},
	{"Battery Cutoff % Limit", "5"},
	{"Inverter Max Output Active Power Percent", "100"},
	{"Export Power Priority", "Load First"},
	{"Enable EPS", "1"},
	{"Inverter Charge Power Percentage", "100"},
	{"Inverter Discharge Power Percentage", "100"},
	{"Pause Battery Start Time", clearTime},
	{"Pause Battery End Time", clearTime},
	{"Force Off Grid", "0"},
	{settingChargePower, "6000"},
	{settingDischargePower, "6000"},
	{settingPauseBattery, PauseNone},
}

// defaultChargeBlocks top the battery up ahead of the usual peaks. Blocks
// not listed are cleared.
var defaultChargeBlocks = map[int]types.Block{
	2: {Start: types.ClockTime{Hour: 4}, Stop: types.ClockTime{Hour: 7}, TargetLevelPercent: 95},
	3: {Start: types.ClockTime{Hour: 13}, Stop: types.ClockTime{Hour: 16}, TargetLevelPercent: 95},
	4: {Start: types.ClockTime{Hour: 22}, Stop: types.ClockTime{}, TargetLevelPercent: 95},
}

const defaultBlockTargetPercent = 90

// Controller turns slot commands into inverter setting writes. Every write
// goes through the Cache so repeated commands cost no requests.
type Controller struct {
	cache   *Cache
	battery types.BatteryParams
}

// NewController returns a controller writing through cache.
func NewController(cache *Cache, battery types.BatteryParams) *Controller {
	return &Controller{
		cache:   cache,
		battery: battery,
	}
}

// Cache returns the cache the controller writes through.
func (c *Controller) Cache() *Cache {
	return c.cache
}

// SetChargeDischargeBlock programs one timed block: enable its direction,
// set the SOC limit, the power, the start and stop times and finally unpause
// the battery. It stops at the first failed write.
func (c *Controller) SetChargeDischargeBlock(ctx context.Context, b types.Block, note string) error {
	switch b.Direction {
	case types.DirectionCharge, types.DirectionDischarge:
	default:
		return fmt.Errorf("invalid block direction %q", b.Direction)
	}
	if b.TargetLevelPercent < 0 || b.TargetLevelPercent > 100 {
		return fmt.Errorf("invalid block target %d%%", b.TargetLevelPercent)
	}

	writes := []settingValue{
		{enableSetting(b.Direction), "1"},
		{blockLimitSetting(b.Direction, b.Slot), strconv.Itoa(b.TargetLevelPercent)},
		{powerSetting(b.Direction), watts(b.AbsChargePowerW)},
		{blockStartSetting(b.Direction, b.Slot), b.Start.String()},
		{blockEndSetting(b.Direction, b.Slot), b.Stop.String()},
		{settingPauseBattery, PauseNone},
	}
	if err := c.writeAll(ctx, writes, note); err != nil {
		log.Op(ctx, "device.Controller.SetChargeDischargeBlock").ErrorContext(ctx, "failed to set block",
			slog.Int("block", b.Slot),
			slog.String("direction", string(b.Direction)),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to set %s block %d: %w", b.Direction, b.Slot, err)
	}
	return nil
}

// Control drives the inverter into the command's mode.
func (c *Controller) Control(ctx context.Context, cmd types.Command) error {
	note := cmd.Message
	if note == "" {
		note = "control " + string(cmd.Mode)
	}
	ctx = log.WithAttrs(ctx, slog.String("mode", string(cmd.Mode)))

	var err error
	switch cmd.Mode {
	case types.ModeCharge, types.ModeDischarge:
		err = c.timed(ctx, cmd, note)
	case types.ModeEco:
		err = c.eco(ctx, note)
	case types.ModeIdle:
		if err = c.clearBlock(ctx, types.DirectionCharge, ControlBlock, note); err == nil {
			err = c.clearBlock(ctx, types.DirectionDischarge, ControlBlock, note)
		}
	default:
		err = fmt.Errorf("unknown mode %q", cmd.Mode)
	}
	if err != nil {
		log.Op(ctx, "device.Controller.Control").ErrorContext(ctx, "failed to apply command", slog.Any("error", err))
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "applied inverter command",
		slog.Float64("absChargePowerW", cmd.AbsChargePowerW),
		slog.Int("targetLevelPercent", cmd.TargetLevelPercent),
	)
	return nil
}

func (c *Controller) timed(ctx context.Context, cmd types.Command, note string) error {
	if cmd.Start.IsZero() || cmd.Stop.IsZero() || !cmd.Stop.After(cmd.Start) {
		return fmt.Errorf("%s command needs a start before its stop", cmd.Mode)
	}
	if cmd.AbsChargePowerW <= 0 {
		return fmt.Errorf("%s command needs a positive power", cmd.Mode)
	}
	direction := types.DirectionCharge
	if cmd.Mode == types.ModeDischarge {
		direction = types.DirectionDischarge
	}
	err := c.SetChargeDischargeBlock(ctx, types.Block{
		Slot:               ControlBlock,
		Direction:          direction,
		Start:              types.ClockTimeOf(cmd.Start),
		Stop:               types.ClockTimeOf(cmd.Stop),
		AbsChargePowerW:    cmd.AbsChargePowerW,
		TargetLevelPercent: cmd.TargetLevelPercent,
	}, note)
	if err != nil {
		return err
	}
	return c.clearBlock(ctx, direction.Opposite(), ControlBlock, note)
}

// eco leaves both control blocks empty so the inverter follows net load,
// with discharge allowed up to the battery's rating.
func (c *Controller) eco(ctx context.Context, note string) error {
	chargeW := c.battery.DefaultChargePowerW
	if chargeW <= 0 {
		chargeW = c.battery.MaxChargeKW * 1000
	}
	blocks := []types.Block{
		{
			Slot:               ControlBlock,
			Direction:          types.DirectionCharge,
			AbsChargePowerW:    chargeW,
			TargetLevelPercent: c.battery.DefaultChargeTargetPct,
		},
		{
			Slot:               ControlBlock,
			Direction:          types.DirectionDischarge,
			AbsChargePowerW:    c.battery.MaxDischargeKW * 1000,
			TargetLevelPercent: c.battery.DefaultDischargeCutoffPc,
		},
	}
	for _, b := range blocks {
		if err := c.SetChargeDischargeBlock(ctx, b, note); err != nil {
			return err
		}
	}
	return c.cache.Write(ctx, settingDischargePower, watts(c.battery.MaxDischargeKW*1000), note)
}

func (c *Controller) clearBlock(ctx context.Context, d types.Direction, n int, note string) error {
	return c.writeAll(ctx, []settingValue{
		{blockStartSetting(d, n), clearTime},
		{blockEndSetting(d, n), clearTime},
	}, note)
}

// Initialise puts the inverter into a known state: battery paused, every
// timed block set to its default and then the general defaults, which
// unpause it.
func (c *Controller) Initialise(ctx context.Context) error {
	const note = "initialise"
	if err := c.writeAll(ctx, preDefaults, note); err != nil {
		log.Op(ctx, "device.Controller.Initialise").ErrorContext(ctx, "failed to write pre defaults", slog.Any("error", err))
		return err
	}
	for _, d := range []types.Direction{types.DirectionCharge, types.DirectionDischarge} {
		for n := firstBlock; n <= lastBlock; n++ {
			b := types.Block{TargetLevelPercent: defaultBlockTargetPercent}
			if d == types.DirectionCharge {
				if def, ok := defaultChargeBlocks[n]; ok {
					b = def
				}
			}
			b.Slot = n
			b.Direction = d
			if err := c.SetChargeDischargeBlock(ctx, b, note); err != nil {
				return err
			}
		}
	}
	if err := c.writeAll(ctx, postDefaults, note); err != nil {
		log.Op(ctx, "device.Controller.Initialise").ErrorContext(ctx, "failed to write post defaults", slog.Any("error", err))
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "initialised inverter")
	return nil
}

func (c *Controller) writeAll(ctx context.Context, writes []settingValue, note string) error {
	for _, w := range writes {
		if err := c.cache.Write(ctx, w.setting, w.value, note); err != nil {
			return err
		}
	}
	return nil
}

func watts(w float64) string {
	return strconv.Itoa(int(math.Round(math.Abs(w))))
}

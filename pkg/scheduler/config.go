package scheduler

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/dispatcher/pkg/optimizer"
	"github.com/raterudder/dispatcher/pkg/types"
)

// DefaultBattery describes a 9.5 kWh all in one unit.
var DefaultBattery = types.BatteryParams{
	CapacityKWh:              9.5,
	DepthOfDischargePercent:  90,
	RoundTripEfficiencyPct:   90,
	WearCostGBPPerKWh:        0.03,
	WearRatio:                2,
	OutOfSpecMultiplier:      10,
	MaxChargeKW:              6,
	MaxDischargeKW:           6,
	LowerLimitPercent:        5,
	UpperLimitPercent:        95,
	DefaultChargePowerW:      6000,
	DefaultChargeTargetPct:   95,
	DefaultDischargeCutoffPc: 5,
}

// Configured registers the scheduler flags. The returned config is filled
// in and validated once flags are parsed.
func Configured() *Config {
	cfg := &Config{
		Slots:            48,
		Battery:          DefaultBattery,
		Grid:             types.GridLimits{ImportLimitKW: 15, ExportLimitKW: 5},
		Optimizer:        optimizer.DefaultOptions(),
		MaxSleepMultiple: 1,
	}
	tariffCombination := lflag.String("tariff-combination", "default", "Name the planned slots are stored under")
	accept := lflag.Bool("accept-unconverged-plan", true, "Apply the best plan found when the optimizer runs out of budget")
	guard := lflag.Duration("slot-start-guard", 30*time.Second, "How long before a slot starts its command is sent")
	period := lflag.Duration("cycle-period", types.SlotDuration, "Expected time between dispatch cycles")
	cronSpec := lflag.String("cycle-cron", "25,55 * * * *", "Cron schedule that triggers dispatch cycles, empty to only run on request")
	lflag.JSON(&cfg.Slots, "horizon-slots", cfg.Slots, "Number of 30 minute slots planned ahead")
	lflag.JSON(&cfg.Battery, "battery", cfg.Battery, "JSON battery parameters")
	lflag.JSON(&cfg.Grid, "grid", cfg.Grid, "JSON grid import and export limits")
	lflag.JSON(&cfg.Optimizer, "optimizer", cfg.Optimizer, "JSON optimizer budget and tolerances")
	lflag.JSON(&cfg.MaxSleepMultiple, "max-sleep-multiple", cfg.MaxSleepMultiple, "Longest wait for a slot start as a multiple of the cycle period")

	lflag.Do(func() {
		cfg.TariffCombination = *tariffCombination
		cfg.AcceptNotConverged = *accept
		cfg.StartGuard = *guard
		cfg.CyclePeriod = *period
		cfg.Cron = *cronSpec
		if err := cfg.Validate(); err != nil {
			panic(fmt.Sprintf("invalid scheduler config: %v", err))
		}
	})
	return cfg
}

// Package scheduler runs the dispatch cycle: it plans the next horizon of
// slots with the cost model and optimizer, turns the next slot into an
// inverter command, waits for the slot to start and applies the command
// before committing everything it did.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raterudder/dispatcher/pkg/cost"
	"github.com/raterudder/dispatcher/pkg/device"
	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/optimizer"
	"github.com/raterudder/dispatcher/pkg/storage"
	"github.com/raterudder/dispatcher/pkg/types"
)

// ErrCycleRunning is returned when a cycle is triggered while another one
// still holds the inverter.
var ErrCycleRunning = errors.New("dispatch cycle already running")

// Forecaster fills horizon slots with load and solar predictions.
type Forecaster interface {
	Fill(ctx context.Context, now time.Time, slots []types.Slot) error
}

// RateSource resolves the tariff at an instant.
type RateSource interface {
	Rates(ctx context.Context, t time.Time) (types.TariffRates, error)
}

// Config drives the scheduler.
type Config struct {
	TariffCombination string
	Slots             int
	Battery           types.BatteryParams
	Grid              types.GridLimits
	Optimizer         optimizer.Options
	// AcceptNotConverged applies the best plan found when the optimizer
	// runs out of budget instead of failing the cycle.
	AcceptNotConverged bool
	// StartGuard is how long before the slot starts the command is sent.
	StartGuard       time.Duration
	CyclePeriod      time.Duration
	MaxSleepMultiple float64
	Cron             string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TariffCombination == "" {
		return types.MissingError("scheduler.tariff_combination")
	}
	if c.Slots < 1 {
		return types.RangeError("scheduler.slots", float64(c.Slots), 1, 336)
	}
	b := c.Battery
	if b.LowerLimitPercent < 0 || b.LowerLimitPercent >= b.UpperLimitPercent {
		return types.RangeError("battery.lower_limit_percent", b.LowerLimitPercent, 0, b.UpperLimitPercent)
	}
	if b.UpperLimitPercent > 100 {
		return types.RangeError("battery.upper_limit_percent", b.UpperLimitPercent, b.LowerLimitPercent, 100)
	}
	if c.CyclePeriod <= 0 {
		return types.MissingError("scheduler.cycle_period")
	}
	if c.MaxSleepMultiple <= 0 {
		return types.MissingError("scheduler.max_sleep_multiple")
	}
	if c.StartGuard < 0 {
		return &types.ConfigError{Field: "scheduler.start_guard", Reason: "cannot be negative"}
	}
	return nil
}

// Result is what a cycle planned and did.
type Result struct {
	CycleID      string             `json:"cycleID"`
	At           time.Time          `json:"at"`
	Status       types.DeviceStatus `json:"status"`
	Command      types.Command      `json:"command"`
	Cost         cost.Breakdown     `json:"cost"`
	Iterations   int                `json:"iterations"`
	Evaluations  int                `json:"evaluations"`
	Converged    bool               `json:"converged"`
	Slept        time.Duration      `json:"slept"`
	DeviceWrites int                `json:"deviceWrites"`
	ProxyHits    int                `json:"proxyHits"`
	Slots        []types.Slot       `json:"slots"`
}

// Scheduler owns the dispatch cycle. Only one cycle runs at a time.
type Scheduler struct {
	cfg        Config
	db         storage.Database
	controller *device.Controller
	forecaster Forecaster
	rates      RateSource

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
}

// New returns a scheduler.
func New(cfg Config, db storage.Database, controller *device.Controller, forecaster Forecaster, rates RateSource) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		cfg:        cfg,
		db:         db,
		controller: controller,
		forecaster: forecaster,
		rates:      rates,
		now:        time.Now,
		sleep:      sleepContext,
	}, nil
}

// RunCycle plans the horizon, applies the next slot's command and commits
// the cycle. It returns ErrCycleRunning without doing anything when another
// cycle is in progress.
func (s *Scheduler) RunCycle(ctx context.Context) (Result, error) {
	if !s.mu.TryLock() {
		return Result{}, ErrCycleRunning
	}
	defer s.mu.Unlock()

	res := Result{CycleID: uuid.NewString()}
	ctx = log.WithAttrs(ctx, slog.String("cycleID", res.CycleID))
	s.controller.Cache().SetCycleID(res.CycleID)

	if err := s.runCycle(ctx, &res); err != nil {
		cyclesTotal.WithLabelValues("failed").Inc()
		log.Op(ctx, "scheduler.Scheduler.RunCycle").ErrorContext(ctx, "dispatch cycle failed", slog.Any("error", err))
		return res, err
	}
	cyclesTotal.WithLabelValues("ok").Inc()
	log.Ctx(ctx).InfoContext(ctx, "dispatch cycle done",
		slog.String("mode", string(res.Command.Mode)),
		slog.String("message", res.Command.Message),
		slog.Float64("costGBP", res.Cost.TotalGBP),
		slog.Int("evaluations", res.Evaluations),
		slog.Int("deviceWrites", res.DeviceWrites),
		slog.Int("proxyHits", res.ProxyHits),
	)
	return res, nil
}

func (s *Scheduler) runCycle(ctx context.Context, res *Result) error {
	cache := s.controller.Cache()
	res.At = s.now()

	status, err := cache.Channel().Status(ctx)
	if err != nil {
		cache.Forget()
		return fmt.Errorf("failed to get device status: %w", err)
	}
	res.Status = status
	batteryPercent.Set(status.BatteryPercent)
	observation := observe(status, res.At)

	slots := Horizon(s.cfg.TariffCombination, res.At, s.cfg.Slots)
	if err := s.forecaster.Fill(ctx, res.At, slots); err != nil {
		return fmt.Errorf("failed to forecast: %w", err)
	}
	for i := range slots {
		rates, err := s.rates.Rates(ctx, slots[i].Mid)
		if err != nil {
			return fmt.Errorf("failed to resolve rates for slot %d: %w", i, err)
		}
		slots[i].ImportGBPPerKWh = rates.ImportGBPPerKWh
		slots[i].ExportGBPPerKWh = rates.ExportGBPPerKWh
	}

	if err := s.plan(ctx, status, slots, res); err != nil {
		return err
	}
	res.Slots = slots

	cmd := Command(slots[0], s.cfg.Battery)
	slots[0].Command = &cmd
	res.Command = cmd

	res.Slept = BoundSleep(ctx, slots[0].Start.Sub(s.now())-s.cfg.StartGuard, s.maxSleep())
	sleepSeconds.Observe(res.Slept.Seconds())
	if err := s.sleep(ctx, res.Slept); err != nil {
		return err
	}

	before := cache.Stats()
	if err := s.controller.Control(ctx, cmd); err != nil {
		cache.Forget()
		return fmt.Errorf("failed to apply command: %w", err)
	}
	after := cache.Stats()
	res.DeviceWrites = after.DeviceWrites - before.DeviceWrites
	res.ProxyHits = after.ProxyHits - before.ProxyHits
	for _, m := range []types.Mode{types.ModeEco, types.ModeCharge, types.ModeDischarge, types.ModeIdle} {
		v := 0.0
		if m == cmd.Mode {
			v = 1
		}
		commandMode.WithLabelValues(string(m)).Set(v)
	}

	return s.commit(ctx, storage.Cycle{
		ID:                res.CycleID,
		At:                s.now(),
		TariffCombination: s.cfg.TariffCombination,
		Slots:             slots,
		Observation:       &observation,
	})
}

// plan optimizes the grid schedule and writes it into slots.
func (s *Scheduler) plan(ctx context.Context, status types.DeviceStatus, slots []types.Slot, res *Result) error {
	p := &cost.Problem{
		SlotHours:       types.SlotDuration.Hours(),
		NetLoadKW:       make([]float64, len(slots)),
		ImportGBPPerKWh: make([]float64, len(slots)),
		ExportGBPPerKWh: make([]float64, len(slots)),
		InitialLevelKWh: status.BatteryPercent * s.cfg.Battery.CapacityKWh / 100,
		Battery:         s.cfg.Battery,
		Grid:            s.cfg.Grid,
	}
	for i, sl := range slots {
		p.NetLoadKW[i] = sl.NetLoadKW()
		p.ImportGBPPerKWh[i] = sl.ImportGBPPerKWh
		p.ExportGBPPerKWh[i] = sl.ExportGBPPerKWh
	}
	if err := p.Validate(); err != nil {
		return err
	}

	x0 := s.firstGuess(ctx, p, slots)
	lo, hi := p.Bounds()
	opt, err := optimizer.Minimize(ctx, p.Cost, x0, lo, hi, s.cfg.Optimizer)
	optimizerEvaluations.Add(float64(opt.Evaluations))
	res.Iterations = opt.Iterations
	res.Evaluations = opt.Evaluations
	res.Converged = opt.Converged
	switch {
	case errors.Is(err, optimizer.ErrNotConverged):
		optimizerNotConverged.Inc()
		if !s.cfg.AcceptNotConverged {
			return fmt.Errorf("failed to plan horizon: %w", err)
		}
		log.Ctx(ctx).WarnContext(ctx, "optimizer did not converge, using best plan found",
			slog.Int("iterations", opt.Iterations),
			slog.Int("evaluations", opt.Evaluations),
			slog.Float64("cost", opt.Cost),
		)
	case err != nil:
		return fmt.Errorf("failed to plan horizon: %w", err)
	}

	chargeKW, levelKWh := p.Levels(opt.X)
	level := p.InitialLevelKWh
	for i := range slots {
		slots[i].GridKW = p.ClipGrid(opt.X[i])
		slots[i].BatteryChargeKW = chargeKW[i]
		slots[i].LevelStartKWh = level
		slots[i].LevelEndKWh = levelKWh[i]
		level = levelKWh[i]
	}
	res.Cost = p.Breakdown(opt.X)
	return nil
}

// firstGuess starts from the previous cycle's plan where one was stored and
// otherwise from leaving the battery alone.
func (s *Scheduler) firstGuess(ctx context.Context, p *cost.Problem, slots []types.Slot) []float64 {
	x0 := make([]float64, len(slots))
	for i := range x0 {
		x0[i] = p.ClipGrid(p.NetLoadKW[i])
	}
	stored, err := s.db.GetSlots(ctx, s.cfg.TariffCombination, slots[0].Start, slots[len(slots)-1].Stop)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get previous plan", slog.Any("error", err))
		return x0
	}
	byStart := make(map[time.Time]float64, len(stored))
	for _, sl := range stored {
		byStart[sl.Start.UTC()] = sl.GridKW
	}
	for i, sl := range slots {
		if g, ok := byStart[sl.Start.UTC()]; ok {
			x0[i] = g
		}
	}
	return x0
}

// Initialise resets the inverter to its defaults and commits the setting
// journal. It is serialised with the dispatch cycle.
func (s *Scheduler) Initialise(ctx context.Context) error {
	if !s.mu.TryLock() {
		return ErrCycleRunning
	}
	defer s.mu.Unlock()

	id := uuid.NewString()
	ctx = log.WithAttrs(ctx, slog.String("cycleID", id))
	cache := s.controller.Cache()
	cache.SetCycleID(id)
	if err := s.controller.Initialise(ctx); err != nil {
		cache.Forget()
		return fmt.Errorf("failed to initialise inverter: %w", err)
	}
	return s.commit(ctx, storage.Cycle{
		ID:                id,
		At:                s.now(),
		TariffCombination: s.cfg.TariffCombination,
	})
}

// commit persists c together with the pending setting journal. The journal
// is only dropped once it is stored.
func (s *Scheduler) commit(ctx context.Context, c storage.Cycle) error {
	cache := s.controller.Cache()
	c.Settings = cache.Journal()
	if err := s.db.CommitCycle(ctx, c); err != nil {
		return err
	}
	cache.Flush()
	return nil
}

func (s *Scheduler) maxSleep() time.Duration {
	return time.Duration(s.cfg.MaxSleepMultiple * float64(s.cfg.CyclePeriod))
}

// BoundSleep clamps a wait to [0, limit]. Both cases mean the cycle was
// not triggered when it should have been and are logged.
func BoundSleep(ctx context.Context, d, limit time.Duration) time.Duration {
	switch {
	case d < 0:
		log.Ctx(ctx).WarnContext(ctx, "slot already due, not sleeping", slog.Duration("overdue", -d))
		return 0
	case d > limit:
		log.Ctx(ctx).WarnContext(ctx, "sleep to slot start exceeds limit",
			slog.Duration("sleep", d),
			slog.Duration("limit", limit),
		)
		return limit
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// observe turns an instantaneous status into the observation of the slot
// it falls in.
func observe(st types.DeviceStatus, at time.Time) types.EnergyStats {
	return types.EnergyStats{
		TSStart:        at.Truncate(types.SlotDuration),
		LoadKW:         st.LoadPowerW / 1000,
		SolarKW:        st.SolarPowerW / 1000,
		GridKW:         st.GridPowerW / 1000,
		BatteryPercent: st.BatteryPercent,
	}
}

// Package simulation steps a home's energy components through a multi-year
// projection and reports the discounted value of the installation.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raterudder/dispatcher/pkg/clock"
	"github.com/raterudder/dispatcher/pkg/component"
	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/types"
)

// ErrBatteryTransferred is returned when a step asks the battery for a
// second transfer.
var ErrBatteryTransferred = errors.New("battery already transferred this step")

// stepsPerCancelCheck is how often a run looks at its context.
const stepsPerCancelCheck = 1024

type costed interface {
	Name() string
	Active() bool
	NPV() *component.NPV
	PostInstall()
	PostStepCost()
}

// home is one instantiation of every configured component on a shared
// clock.
type home struct {
	clock        *clock.Clock
	grid         *component.Supply
	boilerSupply *component.Supply
	boiler       *component.Boiler
	pv           *component.SolarCollectors
	thermal      *component.SolarCollectors
	battery      *component.Battery
	tank         *component.ThermalTank
	heatPump     *component.HeatPump
	insulation   *component.Insulation

	spaceHeating *component.Demand
	hotWater     *component.Demand
	electric     *component.Demand

	targetC  float64
	included []costed

	batteryUsed bool
}

func newHome(cfg component.Config, copFactor float64) (*home, error) {
	clk, err := clock.New(cfg.Time)
	if err != nil {
		return nil, err
	}
	climateC := component.ClimateAt(clk)
	h := &home{
		clock:        clk,
		grid:         component.NewSupply("supply_grid", cfg.SupplyGrid, clk),
		boiler:       component.NewBoiler(cfg.Boiler, clk),
		pv:           component.NewSolarCollectors("solar_pv", cfg.SolarPV, cfg.Location, 0, clk),
		thermal:      component.NewSolarCollectors("solar_thermal", cfg.SolarThermal, cfg.Location, 0, clk),
		battery:      component.NewBattery(cfg.Battery, clk),
		tank:         component.NewThermalTank(cfg.StorageHotWater, cfg.HeatPump.Include, climateC, clk),
		heatPump:     component.NewHeatPump(cfg.HeatPump, clk),
		insulation:   component.NewInsulation(cfg.Insulation, clk),
		spaceHeating: component.NewDemand(cfg.Demands.SpaceHeatingThermal, cfg.Location.TargetC()),
		hotWater:     component.NewDemand(cfg.Demands.HotWaterThermal, cfg.Location.TargetC()),
		electric:     component.NewDemand(cfg.Demands.NonHeatingElectric, cfg.Location.TargetC()),
		targetC:      cfg.Location.TargetC(),
	}
	h.heatPump.SetCOPFactor(copFactor)
	if cfg.Boiler.Include && cfg.SupplyBoiler != nil {
		h.boilerSupply = component.NewSupply("supply_boiler", *cfg.SupplyBoiler, clk)
	}

	all := []costed{h.grid, h.boiler, h.pv, h.thermal, h.battery, h.tank, h.heatPump, h.insulation}
	if h.boilerSupply != nil {
		all = append(all, h.boilerSupply)
	}
	for _, c := range all {
		if c.Active() {
			h.included = append(h.included, c)
		}
	}
	return h, nil
}

// Engine runs projections for one configuration.
type Engine struct {
	cfg component.Config
}

// New returns an engine for cfg. The configuration is validated here so
// that a bad field fails before any step is taken.
func New(cfg component.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Run simulates the whole projection and returns a summary for time zero
// and for each completed year. When the heat pump declares a seasonal COP
// a first year is simulated to calibrate the COP table before the real
// run.
func (e *Engine) Run(ctx context.Context) ([]types.YearSummary, error) {
	ctx = log.WithAttrs(ctx, slog.String("projection", e.cfg.Name))
	copFactor := 1.0
	if e.cfg.HeatPump.Include && e.cfg.HeatPump.SCOP > 0 {
		f, err := e.calibrate(ctx)
		if err != nil {
			return nil, err
		}
		copFactor = f
	}

	h, err := newHome(e.cfg, copFactor)
	if err != nil {
		return nil, err
	}
	var summaries []types.YearSummary
	err = h.traverse(ctx, func() bool {
		s := h.summary()
		summaries = append(summaries, s)
		log.Ctx(ctx).DebugContext(ctx, "year simulated", slog.Int("year", s.Year), slog.Float64("npvGBP", s.NPVGBP))
		return true
	})
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"projection complete",
		slog.Int("years", len(summaries)-1),
		slog.Int64("steps", h.clock.StepCount()),
		slog.Float64("copFactor", copFactor),
	)
	return summaries, nil
}

// calibrate simulates the first year and returns the factor that scales
// the simulated SCOP to the declared one.
func (e *Engine) calibrate(ctx context.Context) (float64, error) {
	h, err := newHome(e.cfg, 1)
	if err != nil {
		return 0, err
	}
	err = h.traverse(ctx, func() bool {
		// continue through time zero, stop at the first boundary
		return h.clock.Year() == 0
	})
	if err != nil {
		return 0, err
	}
	scop := h.heatPump.SCOP(0)
	if scop <= 0 {
		log.Op(ctx, "simulation.Engine.calibrate").WarnContext(ctx, "heat pump unused in calibration year, cop left uncalibrated")
		return 1, nil
	}
	f := e.cfg.HeatPump.SCOP / scop
	log.Ctx(ctx).InfoContext(ctx, "calibrated heat pump", slog.Float64("simulatedSCOP", scop), slog.Float64("copFactor", f))
	return f, nil
}

// traverse posts install costs, then steps to the end of the projection.
// yearEnd is called at time zero and after each year boundary; returning
// false stops the traversal.
func (h *home) traverse(ctx context.Context, yearEnd func() bool) error {
	for _, c := range h.included {
		c.PostInstall()
	}
	if h.clock.YearEnd() && !yearEnd() {
		return nil
	}
	for h.clock.Next() {
		if h.clock.StepCount()%stepsPerCancelCheck == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := h.step(); err != nil {
			log.Op(ctx, "simulation.home.step").ErrorContext(
				ctx,
				"simulation step failed",
				slog.Time("at", h.clock.Now()),
				slog.Any("error", err),
			)
			return fmt.Errorf("step at %s: %w", h.clock.Now().Format("2006-01-02T15:04"), err)
		}
		if h.clock.YearEnd() && !yearEnd() {
			return nil
		}
	}
	if h.clock.YearEnd() {
		yearEnd()
	}
	return nil
}

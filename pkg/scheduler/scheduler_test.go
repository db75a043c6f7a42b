package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/dispatcher/pkg/device"
	"github.com/raterudder/dispatcher/pkg/optimizer"
	"github.com/raterudder/dispatcher/pkg/storage"
	"github.com/raterudder/dispatcher/pkg/storage/storagemock"
	"github.com/raterudder/dispatcher/pkg/types"
)

type fakeForecaster struct {
	loadKW  float64
	solarKW float64
	err     error
}

func (f fakeForecaster) Fill(ctx context.Context, now time.Time, slots []types.Slot) error {
	if f.err != nil {
		return f.err
	}
	for i := range slots {
		slots[i].LoadKW = f.loadKW
		slots[i].SolarKW = f.solarKW
	}
	return nil
}

type fakeRates struct {
	err error
}

func (f fakeRates) Rates(ctx context.Context, t time.Time) (types.TariffRates, error) {
	if f.err != nil {
		return types.TariffRates{}, f.err
	}
	r := types.TariffRates{At: t, ImportGBPPerKWh: 0.30, ExportGBPPerKWh: 0.05}
	if t.Hour() < 5 {
		r.ImportGBPPerKWh = 0.08
	}
	return r, nil
}

var testNow = time.Date(2025, 1, 10, 1, 25, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		TariffCombination:  "agile",
		Slots:              8,
		Battery:            DefaultBattery,
		Grid:               types.GridLimits{ImportLimitKW: 15, ExportLimitKW: 5},
		Optimizer:          optimizer.Options{MaxEval: 5000},
		AcceptNotConverged: true,
		StartGuard:         30 * time.Second,
		CyclePeriod:        types.SlotDuration,
		MaxSleepMultiple:   1,
	}
}

type testScheduler struct {
	*Scheduler
	mock  *device.Mock
	slept []time.Duration
}

func newTestScheduler(t *testing.T, cfg Config, db storage.Database) *testScheduler {
	m := device.NewMock(types.DeviceStatus{BatteryPercent: 50, LoadPowerW: 400})
	controller := device.NewController(device.NewCache(m, db), cfg.Battery)
	s, err := New(cfg, db, controller, fakeForecaster{loadKW: 0.5}, fakeRates{})
	require.NoError(t, err)

	ts := &testScheduler{Scheduler: s, mock: m}
	s.now = func() time.Time { return testNow }
	s.sleep = func(ctx context.Context, d time.Duration) error {
		ts.slept = append(ts.slept, d)
		return nil
	}
	return ts
}

func newTestDB(t *testing.T) *storage.SQLiteProvider {
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "dispatcher.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHorizon(t *testing.T) {
	slots := Horizon("agile", time.Date(2025, 1, 10, 10, 7, 0, 0, time.UTC), 48)
	require.Len(t, slots, 48)
	assert.Equal(t, time.Date(2025, 1, 10, 10, 30, 0, 0, time.UTC), slots[0].Start)
	assert.Equal(t, time.Date(2025, 1, 10, 10, 45, 0, 0, time.UTC), slots[0].Mid)
	assert.Equal(t, time.Date(2025, 1, 11, 10, 30, 0, 0, time.UTC), slots[47].Stop)
	for i, s := range slots {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, "agile", s.TariffCombination)
	}

	// a boundary itself is already running
	onBoundary := Horizon("agile", time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC), 1)
	assert.Equal(t, time.Date(2025, 1, 10, 10, 30, 0, 0, time.UTC), onBoundary[0].Start)
}

func TestCommand(t *testing.T) {
	b := DefaultBattery
	b.CapacityKWh = 10
	start := time.Date(2025, 1, 10, 2, 0, 0, 0, time.UTC)
	slot := func(gridKW, chargeKW, levelEndKWh float64) types.Slot {
		return types.Slot{
			Start:           start,
			Stop:            start.Add(types.SlotDuration),
			GridKW:          gridKW,
			BatteryChargeKW: chargeKW,
			LevelEndKWh:     levelEndKWh,
		}
	}

	tests := []struct {
		name    string
		slot    types.Slot
		mode    types.Mode
		powerW  float64
		percent int
	}{
		{"Eco Below Threshold", slot(0.05, 3, 6), types.ModeEco, 0, 60},
		{"Eco Negative Grid", slot(-0.099, -0.5, 4), types.ModeEco, 0, 40},
		{"Charge", slot(3.5, 3.0004, 6), types.ModeCharge, 3000, 60},
		{"Charge Clamped To Upper", slot(5, 4.5, 9.9), types.ModeCharge, 4500, 95},
		{"Discharge Targets Lower", slot(-2, -2.5, 4), types.ModeDischarge, 2500, 5},
		{"Discharge Clamped From 2%", slot(-2, -2.5, 0.2), types.ModeDischarge, 2500, 5},
		{"Charge Sign Wins", slot(-0.5, 0.4, 6), types.ModeCharge, 400, 60},
		{"Idle", slot(1, 0.05, 5), types.ModeIdle, 0, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := Command(tt.slot, b)
			assert.Equal(t, tt.mode, cmd.Mode)
			assert.Equal(t, tt.powerW, cmd.AbsChargePowerW)
			assert.Equal(t, tt.percent, cmd.TargetLevelPercent)
			assert.Equal(t, start, cmd.Start)
			assert.Equal(t, start.Add(types.SlotDuration), cmd.Stop)
			assert.NotEmpty(t, cmd.Message)
		})
	}

	assert.Equal(t, "CHARGE@3000W to 60%", Command(slot(3.5, 3, 6), b).Message)
	assert.Equal(t, "ECO to 60%", Command(slot(0, 3, 6), b).Message)
}

func TestBoundSleep(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, time.Duration(0), BoundSleep(ctx, -time.Minute, time.Hour))
	assert.Equal(t, 4*time.Minute, BoundSleep(ctx, 4*time.Minute, time.Hour))
	assert.Equal(t, time.Hour, BoundSleep(ctx, 3*time.Hour, time.Hour))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, testConfig().Validate())

	cfg := testConfig()
	cfg.TariffCombination = ""
	assert.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.Battery.LowerLimitPercent = 96
	var ce *types.ConfigError
	require.ErrorAs(t, cfg.Validate(), &ce)
	assert.Equal(t, "battery.lower_limit_percent", ce.Field)

	cfg = testConfig()
	cfg.MaxSleepMultiple = 0
	assert.Error(t, cfg.Validate())

	_, err := New(cfg, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestRunCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Commits Plan", func(t *testing.T) {
		db := newTestDB(t)
		s := newTestScheduler(t, testConfig(), db)

		res, err := s.RunCycle(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, res.CycleID)
		require.Len(t, res.Slots, 8)
		assert.Equal(t, Command(res.Slots[0], DefaultBattery), res.Command)
		assert.Equal(t, []time.Duration{4*time.Minute + 30*time.Second}, s.slept)
		assert.Equal(t, 50.0, res.Status.BatteryPercent)
		assert.Positive(t, res.Evaluations)

		// the level trajectory is continuous from the reported charge
		assert.InDelta(t, 0.5*DefaultBattery.CapacityKWh, res.Slots[0].LevelStartKWh, 1e-9)
		for i := 1; i < len(res.Slots); i++ {
			assert.InDelta(t, res.Slots[i-1].LevelEndKWh, res.Slots[i].LevelStartKWh, 1e-9)
		}

		stored, err := db.GetSlots(ctx, "agile", testNow, testNow.Add(6*time.Hour))
		require.NoError(t, err)
		require.Len(t, stored, 8)
		for _, sl := range stored {
			assert.Equal(t, res.CycleID, sl.CycleID)
			assert.False(t, sl.Final)
		}
		require.NotNil(t, stored[0].Command)
		assert.Equal(t, res.Command.Mode, stored[0].Command.Mode)

		history, err := db.SettingHistory(ctx, "mock", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.NotEmpty(t, history)
		for _, r := range history {
			assert.Equal(t, res.CycleID, r.CycleID)
		}
		assert.Empty(t, s.controller.Cache().Journal())

		observed, err := db.GetEnergyHistory(ctx, testNow.Add(-time.Hour), testNow.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, observed, 1)
		assert.Equal(t, time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC), observed[0].TSStart)
		assert.InDelta(t, 0.4, observed[0].LoadKW, 1e-9)
	})

	t.Run("Not Converged Fails", func(t *testing.T) {
		db := newTestDB(t)
		cfg := testConfig()
		cfg.Optimizer.MaxEval = 10
		cfg.AcceptNotConverged = false
		s := newTestScheduler(t, cfg, db)

		res, err := s.RunCycle(ctx)
		require.ErrorIs(t, err, optimizer.ErrNotConverged)
		assert.False(t, res.Converged)
		assert.Empty(t, s.mock.Writes())
		assert.Empty(t, s.slept)

		stored, err := db.GetSlots(ctx, "agile", testNow, testNow.Add(6*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, stored)
	})

	t.Run("Not Converged Accepted", func(t *testing.T) {
		cfg := testConfig()
		cfg.Optimizer.MaxEval = 10
		s := newTestScheduler(t, cfg, newTestDB(t))

		res, err := s.RunCycle(ctx)
		require.NoError(t, err)
		assert.False(t, res.Converged)
		assert.NotEmpty(t, s.mock.Writes())
	})

	t.Run("Status Failure", func(t *testing.T) {
		db := newTestDB(t)
		s := newTestScheduler(t, testConfig(), db)
		s.mock.FailStatus(errors.New("offline"))

		_, err := s.RunCycle(ctx)
		require.Error(t, err)
		assert.Empty(t, s.slept)
		assert.Empty(t, s.mock.Writes())
	})

	t.Run("Tariff Failure", func(t *testing.T) {
		db := newTestDB(t)
		s := newTestScheduler(t, testConfig(), db)
		s.rates = fakeRates{err: errors.New("no rates")}

		_, err := s.RunCycle(ctx)
		require.Error(t, err)
		assert.Empty(t, s.mock.Writes())
	})

	t.Run("Device Failure Keeps Journal", func(t *testing.T) {
		db := newTestDB(t)
		s := newTestScheduler(t, testConfig(), db)
		// every mode touches one of the control block start times
		s.mock.Fail("AC Charge 1 Start Time", errors.New("timeout"))
		s.mock.Fail("DC Discharge 1 Start Time", errors.New("timeout"))

		failed, err := s.RunCycle(ctx)
		require.Error(t, err)
		pending := len(s.controller.Cache().Journal())

		stored, err := db.GetSlots(ctx, "agile", testNow, testNow.Add(6*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, stored)

		s.mock.Fail("AC Charge 1 Start Time", nil)
		s.mock.Fail("DC Discharge 1 Start Time", nil)
		_, err = s.RunCycle(ctx)
		require.NoError(t, err)

		history, err := db.SettingHistory(ctx, "mock", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		require.NoError(t, err)
		var fromFailed int
		for _, r := range history {
			if r.CycleID == failed.CycleID {
				fromFailed++
			}
		}
		assert.Equal(t, pending, fromFailed)
	})

	t.Run("Commit Failure Keeps Journal", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetSlots", mock.Anything, "agile", mock.Anything, mock.Anything).Return(nil, nil)
		db.On("LatestSetting", mock.Anything, "mock", mock.Anything).Return(types.SettingRecord{}, storage.ErrSettingNotFound)
		db.On("CommitCycle", mock.Anything, mock.Anything).Return(errors.New("unavailable"))
		s := newTestScheduler(t, testConfig(), db)

		_, err := s.RunCycle(ctx)
		require.Error(t, err)
		assert.NotEmpty(t, s.controller.Cache().Journal())
		db.AssertExpectations(t)
	})

	t.Run("Overlapping Cycles", func(t *testing.T) {
		s := newTestScheduler(t, testConfig(), newTestDB(t))
		sleeping := make(chan struct{})
		release := make(chan struct{})
		s.sleep = func(ctx context.Context, d time.Duration) error {
			close(sleeping)
			<-release
			return nil
		}

		var wg sync.WaitGroup
		var firstErr error
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, firstErr = s.RunCycle(ctx)
		}()
		<-sleeping

		_, err := s.RunCycle(ctx)
		assert.ErrorIs(t, err, ErrCycleRunning)
		assert.ErrorIs(t, s.Initialise(ctx), ErrCycleRunning)

		close(release)
		wg.Wait()
		assert.NoError(t, firstErr)
	})
}

func TestInitialise(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := newTestScheduler(t, testConfig(), db)

	require.NoError(t, s.Initialise(ctx))
	assert.Equal(t, "Load First", s.mock.Value("Export Power Priority"))
	assert.Empty(t, s.controller.Cache().Journal())

	history, err := db.SettingHistory(ctx, "mock", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, history)

	// nothing changed on the inverter so the second pass is served from
	// the persisted log
	writes := len(s.mock.Writes())
	require.NoError(t, s.Initialise(ctx))
	assert.Len(t, s.mock.Writes(), writes+6)
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/dispatcher/pkg/types"
)

var (
	// ErrSettingNotFound is returned when no record was ever logged for a
	// setting.
	ErrSettingNotFound = errors.New("setting not found")
)

// Cycle is everything a dispatch cycle persists. It is committed all at
// once or not at all.
type Cycle struct {
	ID                string
	At                time.Time
	TariffCombination string
	// Slots replace the stored plan. Stored slots that are already final
	// are never overwritten.
	Slots       []types.Slot
	Observation *types.EnergyStats
	Settings    []types.SettingRecord
}

// Database defines the interface for persisting the plan, the inverter
// setting log, observations and projections.
type Database interface {
	// Slots
	// GetSlots returns the slots of a tariff combination that start in
	// [start, end), ordered by start.
	GetSlots(ctx context.Context, tariffCombination string, start, end time.Time) ([]types.Slot, error)
	// CommitCycle writes the cycle's slots, observation and setting journal
	// atomically and marks every stored slot that ended by c.At as final.
	CommitCycle(ctx context.Context, c Cycle) error

	// Settings
	LatestSetting(ctx context.Context, device, setting string) (types.SettingRecord, error)
	SettingHistory(ctx context.Context, device string, start, end time.Time) ([]types.SettingRecord, error)

	// History
	GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyStats, error)

	// Projections
	InsertProjection(ctx context.Context, p types.Projection) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: firestore, sqlite)")

	var p struct{ Database }

	fs := configuredFirestore()
	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "sqlite":
			p.Database = sq
			if err := sq.Init(); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

func slotKey(tariffCombination string, start time.Time) string {
	return tariffCombination + "_" + start.UTC().Format(time.RFC3339)
}

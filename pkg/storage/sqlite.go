package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/levenlabs/go-lflag"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/types"
)

type storedSlot struct {
	SlotKey           string    `gorm:"primaryKey"`
	TariffCombination string    `gorm:"index:idx_slots_lookup"`
	Start             time.Time `gorm:"index:idx_slots_lookup"`
	Stop              time.Time `gorm:"index"`
	Final             bool
	CycleID           string
	JSON              string
}

type storedSetting struct {
	ID        uint      `gorm:"primaryKey"`
	Device    string    `gorm:"index:idx_settings_lookup"`
	Setting   string    `gorm:"index:idx_settings_lookup"`
	Timestamp time.Time `gorm:"index"`
	Sequence  int64
	CycleID   string
	Action    string
	Source    string
	Value     string
	Context   string
}

type storedEnergy struct {
	TSStart time.Time `gorm:"primaryKey"`
	JSON    string
}

type storedProjection struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	CreatedAt time.Time
	JSON      string
}

// SQLiteProvider implements Database on a local SQLite file through gorm.
type SQLiteProvider struct {
	path string
	db   *gorm.DB
}

func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "dispatcher.db", "Path of the SQLite database file")

	s := &SQLiteProvider{}
	lflag.Do(func() {
		s.path = *path
	})
	return s
}

// NewSQLite opens (creating if needed) the database at path. Use
// "file::memory:" for a throwaway database.
func NewSQLite(path string) (*SQLiteProvider, error) {
	s := &SQLiteProvider{path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Init opens the database and migrates the schema.
func (s *SQLiteProvider) Init() error {
	db, err := gorm.Open(sqlite.Open(s.path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&storedSlot{}, &storedSetting{}, &storedEnergy{}, &storedProjection{}); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	s.db = db
	return nil
}

// Close implements Database.
func (s *SQLiteProvider) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newStoredSlot(sl types.Slot) (storedSlot, error) {
	b, err := json.Marshal(sl)
	if err != nil {
		return storedSlot{}, fmt.Errorf("failed to marshal slot: %w", err)
	}
	return storedSlot{
		SlotKey:           slotKey(sl.TariffCombination, sl.Start),
		TariffCombination: sl.TariffCombination,
		Start:             sl.Start.UTC(),
		Stop:              sl.Stop.UTC(),
		Final:             sl.Final,
		CycleID:           sl.CycleID,
		JSON:              string(b),
	}, nil
}

func (r storedSetting) record() types.SettingRecord {
	return types.SettingRecord{
		Sequence:  r.Sequence,
		Timestamp: r.Timestamp,
		CycleID:   r.CycleID,
		Device:    r.Device,
		Setting:   r.Setting,
		Action:    types.SettingAction(r.Action),
		Source:    types.SettingSource(r.Source),
		Value:     r.Value,
		Context:   r.Context,
	}
}

// GetSlots implements Database.
func (s *SQLiteProvider) GetSlots(ctx context.Context, tariffCombination string, start, end time.Time) ([]types.Slot, error) {
	var rows []storedSlot
	err := s.db.WithContext(ctx).
		Where("tariff_combination = ? AND start >= ? AND start < ?", tariffCombination, start.UTC(), end.UTC()).
		Order("start asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get slots: %w", err)
	}
	slots := make([]types.Slot, 0, len(rows))
	for _, r := range rows {
		var sl types.Slot
		if err := json.Unmarshal([]byte(r.JSON), &sl); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal slot", slog.String("key", r.SlotKey), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal slot %s: %w", r.SlotKey, err)
		}
		slots = append(slots, sl)
	}
	return slots, nil
}

// CommitCycle implements Database in one transaction.
func (s *SQLiteProvider) CommitCycle(ctx context.Context, c Cycle) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, sl := range c.Slots {
			var existing storedSlot
			err := tx.Where("slot_key = ?", slotKey(sl.TariffCombination, sl.Start)).Take(&existing).Error
			if err == nil && existing.Final {
				continue
			}
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			sl.CycleID = c.ID
			sl.Final = !sl.Stop.After(c.At)
			row, err := newStoredSlot(sl)
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
		}

		var ended []storedSlot
		err := tx.Where("tariff_combination = ? AND final = ? AND stop <= ?", c.TariffCombination, false, c.At.UTC()).
			Find(&ended).Error
		if err != nil {
			return err
		}
		for _, r := range ended {
			var sl types.Slot
			if err := json.Unmarshal([]byte(r.JSON), &sl); err != nil {
				return fmt.Errorf("failed to unmarshal slot %s: %w", r.SlotKey, err)
			}
			sl.Final = true
			row, err := newStoredSlot(sl)
			if err != nil {
				return err
			}
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}

		if o := c.Observation; o != nil {
			b, err := json.Marshal(o)
			if err != nil {
				return fmt.Errorf("failed to marshal observation: %w", err)
			}
			row := storedEnergy{TSStart: o.TSStart.UTC(), JSON: string(b)}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
		}

		for _, r := range c.Settings {
			row := storedSetting{
				Device:    r.Device,
				Setting:   r.Setting,
				Timestamp: r.Timestamp.UTC(),
				Sequence:  r.Sequence,
				CycleID:   r.CycleID,
				Action:    string(r.Action),
				Source:    string(r.Source),
				Value:     r.Value,
				Context:   r.Context,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Op(ctx, "storage.SQLiteProvider.CommitCycle").ErrorContext(ctx, "failed to commit cycle", slog.String("cycleID", c.ID), slog.Any("error", err))
		return fmt.Errorf("failed to commit cycle %s: %w", c.ID, err)
	}
	return nil
}

// LatestSetting implements Database.
func (s *SQLiteProvider) LatestSetting(ctx context.Context, device, setting string) (types.SettingRecord, error) {
	var row storedSetting
	err := s.db.WithContext(ctx).
		Where("device = ? AND setting = ?", device, setting).
		Order("timestamp desc, sequence desc, id desc").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.SettingRecord{}, fmt.Errorf("%w: %s", ErrSettingNotFound, setting)
	}
	if err != nil {
		return types.SettingRecord{}, fmt.Errorf("failed to get latest setting: %w", err)
	}
	return row.record(), nil
}

// SettingHistory implements Database.
func (s *SQLiteProvider) SettingHistory(ctx context.Context, device string, start, end time.Time) ([]types.SettingRecord, error) {
	var rows []storedSetting
	err := s.db.WithContext(ctx).
		Where("device = ? AND timestamp >= ? AND timestamp < ?", device, start.UTC(), end.UTC()).
		Order("timestamp asc, sequence asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get setting history: %w", err)
	}
	records := make([]types.SettingRecord, len(rows))
	for i, r := range rows {
		records[i] = r.record()
	}
	return records, nil
}

// GetEnergyHistory implements Database.
func (s *SQLiteProvider) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyStats, error) {
	var rows []storedEnergy
	err := s.db.WithContext(ctx).
		Where("ts_start >= ? AND ts_start < ?", start.UTC(), end.UTC()).
		Order("ts_start asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get energy history: %w", err)
	}
	stats := make([]types.EnergyStats, 0, len(rows))
	for _, r := range rows {
		var st types.EnergyStats
		if err := json.Unmarshal([]byte(r.JSON), &st); err != nil {
			return nil, fmt.Errorf("failed to unmarshal energy stats %s: %w", r.TSStart, err)
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// InsertProjection implements Database.
func (s *SQLiteProvider) InsertProjection(ctx context.Context, p types.Projection) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}
	row := storedProjection{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt.UTC(), JSON: string(b)}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert projection: %w", err)
	}
	return nil
}

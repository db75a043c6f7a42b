package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/storage"
	"github.com/raterudder/dispatcher/pkg/types"
)

var settingOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatcher_device_setting_ops_total",
	Help: "Inverter setting operations by action and source",
}, []string{"action", "source"})

// SettingStore is the persisted setting log. LatestSetting returns
// storage.ErrSettingNotFound when nothing was ever logged for the setting.
type SettingStore interface {
	LatestSetting(ctx context.Context, device, setting string) (types.SettingRecord, error)
}

// Stats counts what a Cache did since it was created.
type Stats struct {
	DeviceReads  int
	DeviceWrites int
	ProxyHits    int
}

// Cache wraps a Channel so that a setting is only written when the device
// does not already hold the value. Every operation is added to a journal
// that the caller persists with the rest of the cycle and then drops with
// Flush. A journal that failed to persist stays pending for the next try.
type Cache struct {
	ch    Channel
	store SettingStore
	now   func() time.Time

	mu      sync.Mutex
	cycleID string
	seq     int64
	pending []types.SettingRecord
	last    map[string]string
	stats   Stats
}

// NewCache returns a write deduplicating cache in front of ch.
func NewCache(ch Channel, store SettingStore) *Cache {
	return &Cache{
		ch:    ch,
		store: store,
		now:   time.Now,
		last:  make(map[string]string),
	}
}

// Channel returns the wrapped channel.
func (c *Cache) Channel() Channel {
	return c.ch
}

// SetCycleID tags further journal entries with the given cycle.
func (c *Cache) SetCycleID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycleID = id
}

// Read returns the device's value for setting, bypassing the cache.
func (c *Cache) Read(ctx context.Context, setting, note string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked(ctx, setting, note)
}

// Reread forgets what the cache knows about setting and reads the device.
func (c *Cache) Reread(ctx context.Context, setting, note string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, setting)
	return c.readLocked(ctx, setting, note)
}

// Write makes sure the device holds value for setting. The last known value
// is taken from this cycle's journal and then from the persisted log; when
// it already matches no request is sent. Otherwise the device is read and
// only written when its value differs.
func (c *Cache) Write(ctx context.Context, setting, value, note string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	known, ok, err := c.lastValueLocked(ctx, setting)
	if err != nil {
		return err
	}
	if ok && known == value {
		c.journalLocked(setting, types.SettingActionWrite, types.SettingSourceProxy, value, note)
		c.stats.ProxyHits++
		return nil
	}

	current, err := c.readLocked(ctx, setting, note)
	if err != nil {
		return err
	}
	if current == value {
		return nil
	}

	if err := c.ch.Write(ctx, setting, value, note); err != nil {
		// the device may or may not have taken the value
		delete(c.last, setting)
		return err
	}
	c.last[setting] = value
	c.journalLocked(setting, types.SettingActionWrite, types.SettingSourceDevice, value, note)
	c.stats.DeviceWrites++
	return nil
}

// Journal returns a copy of the entries recorded since the last Flush.
func (c *Cache) Journal() []types.SettingRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.SettingRecord(nil), c.pending...)
}

// Flush drops the journal once it has been persisted. Values learned during
// the cycle are kept since the persisted log now has them.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}

// Forget drops every value learned so far, so each following write reads
// the device first. Used once the inverter state is unknown. The journal is
// kept until it is persisted.
func (c *Cache) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]string)
}

// Stats returns the operation counts.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) lastValueLocked(ctx context.Context, setting string) (string, bool, error) {
	if v, ok := c.last[setting]; ok {
		return v, true, nil
	}
	// an unpersisted entry is newer than anything in the store
	for _, r := range c.pending {
		if r.Setting == setting {
			return "", false, nil
		}
	}
	if c.store == nil {
		return "", false, nil
	}
	rec, err := c.store.LatestSetting(ctx, c.ch.Name(), setting)
	if errors.Is(err, storage.ErrSettingNotFound) {
		return "", false, nil
	}
	if err != nil {
		log.Op(ctx, "device.Cache.Write").ErrorContext(ctx, "failed to get latest setting", slog.String("setting", setting), slog.Any("error", err))
		return "", false, fmt.Errorf("failed to get latest %q: %w", setting, err)
	}
	return rec.Value, true, nil
}

func (c *Cache) readLocked(ctx context.Context, setting, note string) (string, error) {
	v, err := c.ch.Read(ctx, setting)
	if err != nil {
		delete(c.last, setting)
		return "", err
	}
	c.last[setting] = v
	c.journalLocked(setting, types.SettingActionRead, types.SettingSourceDevice, v, note)
	c.stats.DeviceReads++
	return v, nil
}

func (c *Cache) journalLocked(setting string, action types.SettingAction, source types.SettingSource, value, note string) {
	c.seq++
	c.pending = append(c.pending, types.SettingRecord{
		Sequence:  c.seq,
		Timestamp: c.now().UTC(),
		CycleID:   c.cycleID,
		Device:    c.ch.Name(),
		Setting:   setting,
		Action:    action,
		Source:    source,
		Value:     value,
		Context:   note,
	})
	settingOps.WithLabelValues(string(action), string(source)).Inc()
}

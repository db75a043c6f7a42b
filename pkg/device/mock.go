package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/raterudder/dispatcher/pkg/types"
)

// Mock is an in memory inverter. Every setting the controller uses exists
// with an empty value until written. It backs the dev provider and tests.
type Mock struct {
	mu        sync.Mutex
	values    map[string]string
	status    types.DeviceStatus
	statusErr error
	reads     int
	writes    []string
	failures  map[string]error
}

// NewMock returns a mock inverter reporting status.
func NewMock(status types.DeviceStatus) *Mock {
	m := &Mock{
		values:   make(map[string]string),
		status:   status,
		failures: make(map[string]error),
	}
	for _, s := range knownSettings() {
		m.values[s] = ""
	}
	return m
}

// knownSettings lists every setting name the controller can write.
func knownSettings() []string {
	var names []string
	for _, w := range preDefaults {
		names = append(names, w.setting)
	}
	for _, w := range postDefaults {
		names = append(names, w.setting)
	}
	for _, d := range []types.Direction{types.DirectionCharge, types.DirectionDischarge} {
		names = append(names, enableSetting(d), powerSetting(d))
		for n := firstBlock; n <= lastBlock; n++ {
			names = append(names, blockLimitSetting(d, n), blockStartSetting(d, n), blockEndSetting(d, n))
		}
	}
	return names
}

// Name implements Channel.
func (m *Mock) Name() string {
	return "mock"
}

// Read implements Channel.
func (m *Mock) Read(ctx context.Context, setting string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[setting]; err != nil {
		return "", err
	}
	v, ok := m.values[setting]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSetting, setting)
	}
	m.reads++
	return v, nil
}

// Write implements Channel.
func (m *Mock) Write(ctx context.Context, setting, value, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[setting]; err != nil {
		return err
	}
	if _, ok := m.values[setting]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSetting, setting)
	}
	m.values[setting] = value
	m.writes = append(m.writes, setting)
	return nil
}

// Status implements Channel.
func (m *Mock) Status(ctx context.Context) (types.DeviceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return types.DeviceStatus{}, m.statusErr
	}
	s := m.status
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	return s, nil
}

// SetStatus changes what Status reports.
func (m *Mock) SetStatus(s types.DeviceStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

// Fail makes every access to setting return err. A nil err clears it.
func (m *Mock) Fail(setting string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, setting)
		return
	}
	m.failures[setting] = err
}

// FailStatus makes Status return err. A nil err clears it.
func (m *Mock) FailStatus(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusErr = err
}

// Value returns the stored value of setting.
func (m *Mock) Value(setting string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[setting]
}

// Reads returns how many reads were served.
func (m *Mock) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Writes returns the settings written, in order.
func (m *Mock) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

// Settings returns the setting names the mock knows, sorted.
func (m *Mock) Settings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := lo.Keys(m.values)
	sort.Strings(names)
	return names
}

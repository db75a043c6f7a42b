package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/raterudder/dispatcher/pkg/storage"
	"github.com/raterudder/dispatcher/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSlots(ctx context.Context, tariffCombination string, start, end time.Time) ([]types.Slot, error) {
	args := m.Called(ctx, tariffCombination, start, end)
	if v := args.Get(0); v != nil {
		return v.([]types.Slot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) CommitCycle(ctx context.Context, c storage.Cycle) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockDatabase) LatestSetting(ctx context.Context, device, setting string) (types.SettingRecord, error) {
	args := m.Called(ctx, device, setting)
	return args.Get(0).(types.SettingRecord), args.Error(1)
}

func (m *MockDatabase) SettingHistory(ctx context.Context, device string, start, end time.Time) ([]types.SettingRecord, error) {
	args := m.Called(ctx, device, start, end)
	if v := args.Get(0); v != nil {
		return v.([]types.SettingRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyStats, error) {
	args := m.Called(ctx, start, end)
	if v := args.Get(0); v != nil {
		return v.([]types.EnergyStats), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) InsertProjection(ctx context.Context, p types.Projection) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}

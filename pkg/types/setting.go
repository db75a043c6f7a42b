package types

import "time"

// SettingAction is what happened to an inverter setting.
type SettingAction string

const (
	SettingActionRead  SettingAction = "READ"
	SettingActionWrite SettingAction = "WRITE"
)

// SettingSource records whether the value came from the device itself or
// from the last known value held by the dispatcher.
type SettingSource string

const (
	SettingSourceDevice SettingSource = "DEVICE"
	SettingSourceProxy  SettingSource = "PROXY"
)

// SettingRecord is one entry of the inverter setting log.
type SettingRecord struct {
	Sequence  int64         `json:"sequence"`
	Timestamp time.Time     `json:"timestamp"`
	CycleID   string        `json:"cycleID,omitempty"`
	Device    string        `json:"device"`
	Setting   string        `json:"setting"`
	Action    SettingAction `json:"action"`
	Source    SettingSource `json:"source"`
	Value     string        `json:"value"`
	Context   string        `json:"context,omitempty"`
}

package models

import "time"

// ActiveDevice is a device the registry currently reports as active, joined
// with its open usage record
type ActiveDevice struct {
	DeviceID            string  `json:"device_id"`
	Alias               string  `json:"alias"`
	UsageRecordID       int64   `json:"usage_record_id"`
	Address             string  `json:"address"`
	BaselineConsumption float64 `json:"baseline_consumption"`
}

// TrackedDevice is a device under observation during the month-end window
type TrackedDevice struct {
	ActiveDevice
	LastEnergyReading float64 `json:"last_energy_reading"` // Cumulative month-to-date kWh
}

// Accumulated returns the consumption attributable to the period after the
// baseline snapshot. Negative values are returned as computed.
func (d TrackedDevice) Accumulated() float64 {
	return d.LastEnergyReading - d.BaselineConsumption
}

// UsageRecord represents one device's monthly usage row
type UsageRecord struct {
	ID          int64      `json:"id"`
	DeviceID    string     `json:"device_id"`
	Alias       string     `json:"alias"`
	Period      string     `json:"period"` // "2006-01"
	Baseline    float64    `json:"baseline"`
	Accumulated *float64   `json:"accumulated,omitempty"` // nil until finalized
	Tracking    bool       `json:"tracking"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// Settlement is the outcome of a committed month-end finalization
type Settlement struct {
	CycleID       string    `json:"cycle_id"`
	DeviceID      string    `json:"device_id"`
	Alias         string    `json:"alias"`
	UsageRecordID int64     `json:"usage_record_id"`
	Period        string    `json:"period"`
	Baseline      float64   `json:"baseline_kwh"`
	Reading       float64   `json:"reading_kwh"`
	Accumulated   float64   `json:"accumulated_kwh"`
	FinalizedAt   time.Time `json:"finalized_at"`
}

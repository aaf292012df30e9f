package monthend

import (
	"sort"

	"github.com/jgoulah/monthclose/pkg/models"
)

// Tracker holds the devices under observation for one month-end cycle.
//
// A Tracker belongs to a single scheduler invocation and is only mutated by
// that invocation's SyncEngine and Finalizer, which run sequentially. It is
// not safe for concurrent use.
type Tracker struct {
	devices map[string]models.TrackedDevice
}

// NewTracker returns an empty tracker
func NewTracker() *Tracker {
	return &Tracker{devices: make(map[string]models.TrackedDevice)}
}

// Add inserts or replaces the entry for d.DeviceID
func (t *Tracker) Add(d models.TrackedDevice) {
	t.devices[d.DeviceID] = d
}

// Remove drops a device and reports whether it was present
func (t *Tracker) Remove(deviceID string) bool {
	if _, ok := t.devices[deviceID]; !ok {
		return false
	}
	delete(t.devices, deviceID)
	return true
}

// UpdateReading overwrites the last observed reading of a tracked device.
// It reports false if the device is not tracked.
func (t *Tracker) UpdateReading(deviceID string, reading float64) bool {
	d, ok := t.devices[deviceID]
	if !ok {
		return false
	}
	d.LastEnergyReading = reading
	t.devices[deviceID] = d
	return true
}

// Get returns the tracked snapshot for a device
func (t *Tracker) Get(deviceID string) (models.TrackedDevice, bool) {
	d, ok := t.devices[deviceID]
	return d, ok
}

// Has reports whether a device is tracked
func (t *Tracker) Has(deviceID string) bool {
	_, ok := t.devices[deviceID]
	return ok
}

// Len returns the number of tracked devices
func (t *Tracker) Len() int {
	return len(t.devices)
}

// Devices returns a copy of all entries ordered by device id. Callers may
// mutate the tracker while iterating the result.
func (t *Tracker) Devices() []models.TrackedDevice {
	out := make([]models.TrackedDevice, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Clear removes every entry
func (t *Tracker) Clear() {
	clear(t.devices)
}

package monthend

import (
	"context"
	"fmt"

	"github.com/jgoulah/monthclose/internal/logging"
	"github.com/jgoulah/monthclose/pkg/models"
)

// Registry is the source of truth for active devices and usage records.
// ListActiveDevices returns each active device with its open record for
// period.
type Registry interface {
	ListActiveDevices(ctx context.Context, period string) ([]models.ActiveDevice, error)
	SetTrackingFlag(ctx context.Context, recordID int64, tracking bool) error
	CommitAccumulatedValue(ctx context.Context, recordID int64, value float64) error
}

// EnergyReader returns a device's cumulative month-to-date energy
type EnergyReader interface {
	ReadMonthEnergy(ctx context.Context, address string) (float64, error)
}

// SyncEngine reconciles a Tracker against the registry's active set
type SyncEngine struct {
	registry Registry
	reader   EnergyReader
	tracker  *Tracker
	period   string
	log      *logging.Logger
}

// NewSyncEngine creates a SyncEngine operating on tracker for the usage
// period being closed ("2006-01")
func NewSyncEngine(registry Registry, reader EnergyReader, tracker *Tracker, period string, log *logging.Logger) *SyncEngine {
	return &SyncEngine{
		registry: registry,
		reader:   reader,
		tracker:  tracker,
		period:   period,
		log:      log.With("component", "sync"),
	}
}

// Sync runs one reconciliation pass. Devices that left the active set are
// dropped before new ones are added, so a device whose usage record changed
// within one pass is tracked afresh. Every device is processed on its own;
// the result is OK only if all of them succeeded.
func (e *SyncEngine) Sync(ctx context.Context) BatchResult {
	var result BatchResult

	active, err := e.registry.ListActiveDevices(ctx, e.period)
	if err != nil {
		e.log.Error("listing active devices failed", "error", err)
		result.Record(fmt.Errorf("listing active devices: %w", err))
		return result
	}

	active, duplicates := e.dedupe(active)
	for _, d := range duplicates {
		e.log.Error("device listed more than once, ignoring extra row",
			"device_id", d.DeviceID,
			"usage_record_id", d.UsageRecordID,
		)
		result.Record(fmt.Errorf("device %s: duplicate active row for usage record %d", d.DeviceID, d.UsageRecordID))
	}

	activeByID := make(map[string]models.ActiveDevice, len(active))
	for _, a := range active {
		activeByID[a.DeviceID] = a
	}

	result.Merge(runBatch(e.tracker.Devices(), func(d models.TrackedDevice) error {
		return e.reconcileTracked(ctx, d, activeByID)
	}))

	var fresh []models.ActiveDevice
	for _, a := range active {
		if !e.tracker.Has(a.DeviceID) {
			fresh = append(fresh, a)
		}
	}
	result.Merge(runBatch(fresh, func(a models.ActiveDevice) error {
		return e.track(ctx, a)
	}))

	e.log.Debug("sync pass complete",
		"tracked", e.tracker.Len(),
		"active", len(active),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result
}

// dedupe keeps one row per device id. The row matching the tracked usage
// record wins, otherwise the first one listed. The rest are returned so no
// tracking flag is ever set on a record that will not be tracked.
func (e *SyncEngine) dedupe(active []models.ActiveDevice) (kept, duplicates []models.ActiveDevice) {
	index := make(map[string]int, len(active))
	kept = make([]models.ActiveDevice, 0, len(active))
	for _, a := range active {
		i, seen := index[a.DeviceID]
		if !seen {
			index[a.DeviceID] = len(kept)
			kept = append(kept, a)
			continue
		}
		if t, ok := e.tracker.Get(a.DeviceID); ok && t.UsageRecordID == a.UsageRecordID {
			duplicates = append(duplicates, kept[i])
			kept[i] = a
			continue
		}
		duplicates = append(duplicates, a)
	}
	return kept, duplicates
}

// reconcileTracked drops a device that is no longer active or refreshes its
// reading if it still is
func (e *SyncEngine) reconcileTracked(ctx context.Context, d models.TrackedDevice, active map[string]models.ActiveDevice) error {
	log := e.log.With("device_id", d.DeviceID, "usage_record_id", d.UsageRecordID)

	a, ok := active[d.DeviceID]
	if !ok || a.UsageRecordID != d.UsageRecordID {
		// The flag clear is attempted, then the device is dropped either way
		err := e.registry.SetTrackingFlag(ctx, d.UsageRecordID, false)
		e.tracker.Remove(d.DeviceID)
		if err != nil {
			log.Warn("device inactive, clearing tracking flag failed", "error", err)
			return fmt.Errorf("device %s: clearing tracking flag: %w", d.DeviceID, err)
		}
		log.Info("device inactive, stopped tracking")
		return nil
	}

	reading, err := e.reader.ReadMonthEnergy(ctx, d.Address)
	if err != nil {
		log.Warn("refreshing energy reading failed, keeping last value",
			"last_energy_reading", d.LastEnergyReading,
			"error", err,
		)
		return fmt.Errorf("device %s: refreshing reading: %w", d.DeviceID, err)
	}

	e.tracker.UpdateReading(d.DeviceID, reading)
	log.Debug("energy reading refreshed", "reading", reading)
	return nil
}

// track starts tracking a newly active device. The tracker entry is only
// created once the registry has accepted the tracking flag.
func (e *SyncEngine) track(ctx context.Context, a models.ActiveDevice) error {
	log := e.log.With("device_id", a.DeviceID, "usage_record_id", a.UsageRecordID)

	reading, err := e.reader.ReadMonthEnergy(ctx, a.Address)
	if err != nil {
		log.Warn("reading energy for new device failed", "address", a.Address, "error", err)
		return fmt.Errorf("device %s: initial reading: %w", a.DeviceID, err)
	}

	if err := e.registry.SetTrackingFlag(ctx, a.UsageRecordID, true); err != nil {
		log.Warn("setting tracking flag failed, device not tracked", "error", err)
		return fmt.Errorf("device %s: setting tracking flag: %w", a.DeviceID, err)
	}

	e.tracker.Add(models.TrackedDevice{ActiveDevice: a, LastEnergyReading: reading})
	log.Info("tracking device",
		"alias", a.Alias,
		"baseline", a.BaselineConsumption,
		"reading", reading,
	)
	return nil
}

package monthend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jgoulah/monthclose/internal/logging"
	"github.com/jgoulah/monthclose/pkg/models"
)

// Reporter receives settlements after they were committed to the registry
type Reporter interface {
	Report(ctx context.Context, s models.Settlement) error
}

// Reporters fans a settlement out to several reporters
type Reporters []Reporter

// Report calls every reporter and joins their errors
func (rs Reporters) Report(ctx context.Context, s models.Settlement) error {
	var errs []error
	for _, r := range rs {
		if err := r.Report(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Finalizer commits the accumulated monthly value of every tracked device
type Finalizer struct {
	registry Registry
	tracker  *Tracker
	reporter Reporter
	log      *logging.Logger
	now      func() time.Time

	cycleID string
	period  string
}

// Finalize settles every tracked device, then clears the tracker whatever
// the individual outcomes, a panic included. Devices that fail are not
// retried this cycle.
func (f *Finalizer) Finalize(ctx context.Context) BatchResult {
	defer f.tracker.Clear()

	devices := f.tracker.Devices()
	result := runBatch(devices, func(d models.TrackedDevice) error {
		return f.settle(ctx, d)
	})

	f.log.Info("finalization complete",
		"devices", len(devices),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result
}

func (f *Finalizer) settle(ctx context.Context, d models.TrackedDevice) error {
	log := f.log.With("device_id", d.DeviceID, "usage_record_id", d.UsageRecordID)

	accumulated := d.Accumulated()
	if accumulated < 0 {
		// Counter reset or bad baseline; stored as computed
		log.Warn("negative accumulated value",
			"baseline", d.BaselineConsumption,
			"reading", d.LastEnergyReading,
			"accumulated", accumulated,
		)
	}

	if err := f.registry.CommitAccumulatedValue(ctx, d.UsageRecordID, accumulated); err != nil {
		log.Error("committing accumulated value failed", "accumulated", accumulated, "error", err)
		return fmt.Errorf("device %s: committing accumulated value: %w", d.DeviceID, err)
	}
	log.Info("accumulated value committed", "alias", d.Alias, "accumulated", accumulated)

	if f.reporter == nil {
		return nil
	}
	s := models.Settlement{
		CycleID:       f.cycleID,
		DeviceID:      d.DeviceID,
		Alias:         d.Alias,
		UsageRecordID: d.UsageRecordID,
		Period:        f.period,
		Baseline:      d.BaselineConsumption,
		Reading:       d.LastEnergyReading,
		Accumulated:   accumulated,
		FinalizedAt:   f.now(),
	}
	if err := f.reporter.Report(ctx, s); err != nil {
		log.Warn("reporting settlement failed", "error", err)
	}
	return nil
}

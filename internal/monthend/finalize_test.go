package monthend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/monthclose/internal/logging"
	"github.com/jgoulah/monthclose/pkg/models"
)

var finalizedAt = time.Date(2026, 10, 31, 23, 59, 0, 0, time.UTC)

func newTestFinalizer(reg *fakeRegistry, tr *Tracker, rep Reporter) *Finalizer {
	return &Finalizer{
		registry: reg,
		tracker:  tr,
		reporter: rep,
		log:      logging.Discard(),
		now:      func() time.Time { return finalizedAt },
		cycleID:  "cycle-1",
		period:   "2026-10",
	}
}

func track(tr *Tracker, d models.ActiveDevice, reading float64) {
	tr.Add(models.TrackedDevice{ActiveDevice: d, LastEnergyReading: reading})
}

func TestFinalize_ComputesAccumulatedValue(t *testing.T) {
	reg := newFakeRegistry()
	tr := NewTracker()
	track(tr, device("a", 1, 10.0), 45.5)

	result := newTestFinalizer(reg, tr, nil).Finalize(context.Background())

	require.True(t, result.OK())
	assert.Equal(t, []float64{35.5}, reg.commits(1))
	assert.Zero(t, tr.Len())
}

func TestFinalize_TwoDevicesScenario(t *testing.T) {
	reg := newFakeRegistry()
	tr := NewTracker()
	track(tr, device("A", 1, 5), 20)
	track(tr, device("B", 2, 0), 0)

	result := newTestFinalizer(reg, tr, nil).Finalize(context.Background())

	assert.True(t, result.OK())
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, []float64{15}, reg.commits(1))
	assert.Equal(t, []float64{0}, reg.commits(2))
	assert.Zero(t, tr.Len())
}

func TestFinalize_NegativeValueNotClamped(t *testing.T) {
	reg := newFakeRegistry()
	tr := NewTracker()
	track(tr, device("a", 1, 30), 4)

	result := newTestFinalizer(reg, tr, nil).Finalize(context.Background())

	assert.True(t, result.OK())
	assert.Equal(t, []float64{-26}, reg.commits(1))
}

func TestFinalize_CommitFailureDoesNotBlockOthers(t *testing.T) {
	reg := newFakeRegistry()
	reg.commitErr[1] = errWrite
	tr := NewTracker()
	track(tr, device("a", 1, 0), 1)
	track(tr, device("b", 2, 0), 2)
	rep := &fakeReporter{}

	result := newTestFinalizer(reg, tr, rep).Finalize(context.Background())

	assert.False(t, result.OK())
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Succeeded)
	assert.ErrorIs(t, result.Err(), errWrite)
	assert.Empty(t, reg.commits(1))
	assert.Equal(t, []float64{2}, reg.commits(2))
	assert.Zero(t, tr.Len(), "tracker is cleared regardless of failures")
	require.Len(t, rep.settlements, 1, "only committed devices are reported")
	assert.Equal(t, "b", rep.settlements[0].DeviceID)
}

func TestFinalize_ReportsSettlement(t *testing.T) {
	reg := newFakeRegistry()
	tr := NewTracker()
	track(tr, device("a", 1, 10), 45.5)
	rep := &fakeReporter{}

	newTestFinalizer(reg, tr, rep).Finalize(context.Background())

	require.Len(t, rep.settlements, 1)
	assert.Equal(t, models.Settlement{
		CycleID:       "cycle-1",
		DeviceID:      "a",
		Alias:         "meter a",
		UsageRecordID: 1,
		Period:        "2026-10",
		Baseline:      10,
		Reading:       45.5,
		Accumulated:   35.5,
		FinalizedAt:   finalizedAt,
	}, rep.settlements[0])
}

func TestFinalize_ReporterFailureIgnored(t *testing.T) {
	reg := newFakeRegistry()
	tr := NewTracker()
	track(tr, device("a", 1, 0), 3)
	rep := &fakeReporter{err: errTransport}

	result := newTestFinalizer(reg, tr, Reporters{rep, &fakeReporter{}}).Finalize(context.Background())

	assert.True(t, result.OK())
	assert.Equal(t, []float64{3}, reg.commits(1))
}

func TestFinalize_EmptyTracker(t *testing.T) {
	result := newTestFinalizer(newFakeRegistry(), NewTracker(), nil).Finalize(context.Background())
	assert.True(t, result.OK())
	assert.Zero(t, result.Succeeded)
}

func TestReporters_JoinsErrors(t *testing.T) {
	first := &fakeReporter{err: errTransport}
	second := &fakeReporter{}

	err := Reporters{first, second}.Report(context.Background(), models.Settlement{DeviceID: "a"})

	assert.ErrorIs(t, err, errTransport)
	assert.Len(t, second.settlements, 1, "later reporters still run")
}

type commitPanicRegistry struct{ *fakeRegistry }

func (commitPanicRegistry) CommitAccumulatedValue(ctx context.Context, recordID int64, value float64) error {
	panic("driver bug")
}

func TestFinalize_ClearsTrackerOnPanic(t *testing.T) {
	tr := NewTracker()
	track(tr, device("a", 1, 0), 3)
	track(tr, device("b", 2, 0), 4)
	f := newTestFinalizer(newFakeRegistry(), tr, nil)
	f.registry = commitPanicRegistry{newFakeRegistry()}

	assert.Panics(t, func() { f.Finalize(context.Background()) })
	assert.Zero(t, tr.Len())
}

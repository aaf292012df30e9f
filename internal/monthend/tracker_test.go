package monthend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/monthclose/pkg/models"
)

func TestTracker(t *testing.T) {
	tr := NewTracker()
	assert.Zero(t, tr.Len())

	tr.Add(models.TrackedDevice{ActiveDevice: device("b", 2, 0), LastEnergyReading: 1})
	tr.Add(models.TrackedDevice{ActiveDevice: device("a", 1, 0), LastEnergyReading: 2})
	require.Equal(t, 2, tr.Len())

	devices := tr.Devices()
	assert.Equal(t, "a", devices[0].DeviceID)
	assert.Equal(t, "b", devices[1].DeviceID)

	assert.True(t, tr.UpdateReading("a", 9.5))
	assert.False(t, tr.UpdateReading("zz", 1))
	got, ok := tr.Get("a")
	require.True(t, ok)
	assert.Equal(t, 9.5, got.LastEnergyReading)

	// Snapshot is detached from the tracker
	assert.Equal(t, 2.0, devices[0].LastEnergyReading)

	assert.True(t, tr.Remove("b"))
	assert.False(t, tr.Remove("b"))
	assert.False(t, tr.Has("b"))

	tr.Clear()
	assert.Zero(t, tr.Len())
	assert.Empty(t, tr.Devices())
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	k55 := MinuteKey{Hour: 23, Minute: 55}
	k56 := MinuteKey{Hour: 23, Minute: 56}

	assert.True(t, l.ShouldRun(k55))

	l.Record(k55, false)
	assert.True(t, l.ShouldRun(k55), "failed minute stays eligible for retry")

	l.Record(k55, true)
	assert.False(t, l.ShouldRun(k55), "successful minute is never reprocessed")

	l.Record(k55, false)
	assert.False(t, l.ShouldRun(k55), "success is not downgraded")

	l.Record(k56, true)
	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, k55, entries[0].Key)
	assert.Equal(t, 3, entries[0].Attempts)
	assert.True(t, entries[0].Succeeded)
	assert.Equal(t, "23:56", entries[1].Key.String())
}

func TestBatchResult(t *testing.T) {
	r := runBatch([]int{1, 2, 3, 4}, func(i int) error {
		if i%2 == 0 {
			return errWrite
		}
		return nil
	})
	assert.Equal(t, 2, r.Succeeded)
	assert.Equal(t, 2, r.Failed)
	assert.False(t, r.OK())
	assert.ErrorIs(t, r.Err(), errWrite)

	var empty BatchResult
	assert.True(t, empty.OK())
	assert.NoError(t, empty.Err())

	empty.Merge(r)
	assert.Equal(t, 2, empty.Failed)
}

func TestIsLastDayOfMonth(t *testing.T) {
	tests := []struct {
		date time.Time
		want bool
	}{
		{time.Date(2026, 10, 31, 23, 55, 0, 0, time.UTC), true},
		{time.Date(2026, 10, 30, 23, 55, 0, 0, time.UTC), false},
		{time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC), true},
		{time.Date(2028, 2, 28, 12, 0, 0, 0, time.UTC), false},
		{time.Date(2028, 2, 29, 12, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.date.Format("2006-01-02"), func(t *testing.T) {
			assert.Equal(t, tt.want, IsLastDayOfMonth(tt.date))
		})
	}
}

func TestIsLastDayOfMonth_UsesLocation(t *testing.T) {
	zurich, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)

	// 2026-11-01 00:30 in Zurich is still October 31st in UTC
	utc := time.Date(2026, 10, 31, 23, 30, 0, 0, time.UTC)
	assert.True(t, IsLastDayOfMonth(utc))
	assert.False(t, IsLastDayOfMonth(utc.In(zurich)))
	assert.Equal(t, "2026-11", Period(utc.In(zurich)))
}

// Package monthend runs the month-end reconciliation of metered devices.
//
// On the last day of a month the Scheduler polls once per second. During
// 23:55 to 23:58 it resynchronises the set of tracked devices, and at 23:59
// it performs a final sync followed by finalization, which commits every
// device's accumulated consumption and clears the tracker. Tracking state
// lives only for one invocation; a process stopped mid-window loses it.
package monthend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/jgoulah/monthclose/internal/logging"
	"github.com/jgoulah/monthclose/pkg/models"
)

// Window boundaries, local time on the last day of the month
const (
	WindowHour        = 23
	WindowStartMinute = 55
	FinalMinute       = 59

	// TickInterval is the polling period of the window loop
	TickInterval = time.Second
)

// Scheduler is the month-end state machine. Run is called once per daily
// trigger; each call owns its own Tracker and Ledger.
type Scheduler struct {
	registry Registry
	reader   EnergyReader
	reporter Reporter
	clock    quartz.Clock
	loc      *time.Location
	log      *logging.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock, for tests
func WithClock(c quartz.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLocation sets the timezone used to evaluate month-end and the window
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// WithReporter registers a sink for committed settlements
func WithReporter(r Reporter) Option {
	return func(s *Scheduler) { s.reporter = r }
}

// NewScheduler creates a Scheduler
func NewScheduler(registry Registry, reader EnergyReader, log *logging.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: registry,
		reader:   reader,
		clock:    quartz.NewReal(),
		loc:      time.Local,
		log:      log.With("component", "monthend"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one invocation. On any day but the last of the month it
// returns immediately. Otherwise it blocks until the window is finalized,
// the hour rolls over, or ctx is cancelled; in the last case ctx.Err() is
// returned and any tracked devices are lost for this month.
func (s *Scheduler) Run(ctx context.Context) error {
	now := s.clock.Now("monthend", "start").In(s.loc)
	if !IsLastDayOfMonth(now) {
		s.log.Debug("not the last day of the month, nothing to do",
			"date", now.Format("2006-01-02"),
			"days_in_month", DaysInMonth(now),
		)
		return nil
	}

	c := s.newCycle(now)
	c.log.Info("month-end window armed", "period", c.period, "now", now.Format(time.RFC3339))
	s.warnStale(ctx, c)

	w := s.clock.TickerFunc(ctx, TickInterval, func() error {
		return c.tick(ctx)
	}, "monthend", "tick")
	err := w.Wait()

	switch {
	case errors.Is(err, errFinalized):
		return nil
	case errors.Is(err, errWindowMissed):
		c.log.Warn("month-end window closed without finalization", "tracked", c.tracker.Len())
		c.logOverview()
		return nil
	case ctx.Err() != nil:
		if c.tracker.Len() > 0 {
			c.log.Warn("shutting down mid-window, tracked devices are lost for this month",
				"tracked", c.tracker.Len(),
			)
		}
		return ctx.Err()
	default:
		return err
	}
}

// StaleRecordLister is implemented by registries that can report open usage
// records left over from periods before the one being closed
type StaleRecordLister interface {
	StaleOpenRecords(ctx context.Context, period string) ([]models.UsageRecord, error)
}

// warnStale logs devices that cannot be finalized this month because an
// earlier record of theirs is still open
func (s *Scheduler) warnStale(ctx context.Context, c *cycle) {
	lister, ok := s.registry.(StaleRecordLister)
	if !ok {
		return
	}
	stale, err := lister.StaleOpenRecords(ctx, c.period)
	if err != nil {
		c.log.Warn("checking for stale usage records failed", "error", err)
		return
	}
	for _, r := range stale {
		c.log.Warn("device has an unfinalized record from an earlier period and is skipped",
			"device_id", r.DeviceID,
			"usage_record_id", r.ID,
			"record_period", r.Period,
		)
	}
}

// cycle is the state of one month-end invocation
type cycle struct {
	id        string
	period    string
	tracker   *Tracker
	ledger    *Ledger
	sync      *SyncEngine
	finalizer *Finalizer
	clock     quartz.Clock
	loc       *time.Location
	log       *logging.Logger
}

func (s *Scheduler) newCycle(now time.Time) *cycle {
	id := uuid.NewString()
	period := Period(now)
	log := s.log.With("cycle_id", id)
	tracker := NewTracker()

	return &cycle{
		id:      id,
		period:  period,
		tracker: tracker,
		ledger:  NewLedger(),
		sync:    NewSyncEngine(s.registry, s.reader, tracker, period, log),
		finalizer: &Finalizer{
			registry: s.registry,
			tracker:  tracker,
			reporter: s.reporter,
			log:      log.With("component", "finalizer"),
			now:      func() time.Time { return s.clock.Now("monthend", "finalize") },
			cycleID:  id,
			period:   period,
		},
		clock: s.clock,
		loc:   s.loc,
		log:   log,
	}
}

// tick decides what the current second calls for
func (c *cycle) tick(ctx context.Context) error {
	now := c.clock.Now("monthend", "tick").In(c.loc)

	if now.Hour() != WindowHour || now.Minute() < WindowStartMinute {
		if now.Minute() == 0 {
			return errWindowMissed
		}
		return nil
	}

	return c.step(ctx, MinuteKey{Hour: now.Hour(), Minute: now.Minute()})
}

// step runs the action for one minute unless the ledger already holds a
// success for it. The terminal minute always ends the loop.
func (c *cycle) step(ctx context.Context, key MinuteKey) error {
	if !c.ledger.ShouldRun(key) {
		return nil
	}

	final := key.Minute == FinalMinute
	err := c.runStep(ctx, key, final)
	c.ledger.Record(key, err == nil)
	if err != nil {
		c.log.Error("month-end step failed", "minute", key.String(), "error", err)
	}

	if final {
		c.logOverview()
		return errFinalized
	}
	return nil
}

// runStep executes sync, or sync and finalize for the terminal minute. A
// panic in a collaborator is turned into a failed step.
func (c *cycle) runStep(ctx context.Context, key MinuteKey, final bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CycleError{Key: key, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	result := c.sync.Sync(ctx)
	if final {
		result.Merge(c.finalizer.Finalize(ctx))
	}

	c.log.Info("month-end step processed",
		"minute", key.String(),
		"final", final,
		"tracked", c.tracker.Len(),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)

	if !result.OK() {
		return &CycleError{Key: key, Err: result.Err()}
	}
	return nil
}

func (c *cycle) logOverview() {
	entries := c.ledger.Entries()
	attrs := make([]any, 0, len(entries)+1)
	attrs = append(attrs, slog.String("period", c.period))
	for _, e := range entries {
		status := "ok"
		if !e.Succeeded {
			status = "failed"
		}
		attrs = append(attrs, slog.String(e.Key.String(), fmt.Sprintf("%s (%d attempts)", status, e.Attempts)))
	}
	c.log.Info("month-end execution overview", attrs...)
}

package monthend

import (
	"fmt"
	"sort"
)

// MinuteKey identifies one scheduled minute inside the monitoring window
type MinuteKey struct {
	Hour   int
	Minute int
}

func (k MinuteKey) String() string {
	return fmt.Sprintf("%02d:%02d", k.Hour, k.Minute)
}

// LedgerEntry is the execution state of one minute
type LedgerEntry struct {
	Key       MinuteKey
	Succeeded bool
	Attempts  int
}

// Ledger records per-minute outcomes for one scheduler invocation so that a
// successful minute is never processed twice. Failed minutes stay eligible
// for retry.
type Ledger struct {
	entries map[MinuteKey]*LedgerEntry
}

// NewLedger returns an empty ledger
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[MinuteKey]*LedgerEntry)}
}

// ShouldRun reports whether the minute still needs processing
func (l *Ledger) ShouldRun(k MinuteKey) bool {
	e, ok := l.entries[k]
	return !ok || !e.Succeeded
}

// Record stores the outcome of an attempt. A success is never downgraded.
func (l *Ledger) Record(k MinuteKey, ok bool) {
	e, exists := l.entries[k]
	if !exists {
		e = &LedgerEntry{Key: k}
		l.entries[k] = e
	}
	e.Attempts++
	e.Succeeded = e.Succeeded || ok
}

// Entries returns all recorded minutes in chronological order
func (l *Ledger) Entries() []LedgerEntry {
	out := make([]LedgerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Hour != out[j].Key.Hour {
			return out[i].Key.Hour < out[j].Key.Hour
		}
		return out[i].Key.Minute < out[j].Key.Minute
	})
	return out
}

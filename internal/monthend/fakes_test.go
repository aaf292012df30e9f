package monthend

import (
	"context"
	"errors"
	"sync"

	"github.com/jgoulah/monthclose/pkg/models"
)

var (
	errWrite     = errors.New("disk I/O error")
	errTransport = errors.New("connection refused")
)

// fakeRegistry is an in-memory Registry with failure injection
type fakeRegistry struct {
	mu sync.Mutex

	active    []models.ActiveDevice
	tracking  map[int64]bool
	committed map[int64][]float64

	listErrs  int // number of upcoming ListActiveDevices calls that fail
	setErr    map[int64]error
	clearErr  map[int64]error
	commitErr map[int64]error

	listCalls int
	periods   []string
	stale     []models.UsageRecord
}

func newFakeRegistry(active ...models.ActiveDevice) *fakeRegistry {
	return &fakeRegistry{
		active:    active,
		tracking:  make(map[int64]bool),
		committed: make(map[int64][]float64),
		setErr:    make(map[int64]error),
		clearErr:  make(map[int64]error),
		commitErr: make(map[int64]error),
	}
}

func (r *fakeRegistry) setActive(active ...models.ActiveDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = active
}

func (r *fakeRegistry) ListActiveDevices(ctx context.Context, period string) ([]models.ActiveDevice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	r.periods = append(r.periods, period)
	if r.listErrs > 0 {
		r.listErrs--
		return nil, errWrite
	}
	return append([]models.ActiveDevice(nil), r.active...), nil
}

func (r *fakeRegistry) SetTrackingFlag(ctx context.Context, recordID int64, tracking bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tracking {
		if err := r.setErr[recordID]; err != nil {
			return err
		}
	} else if err := r.clearErr[recordID]; err != nil {
		return err
	}
	r.tracking[recordID] = tracking
	return nil
}

func (r *fakeRegistry) CommitAccumulatedValue(ctx context.Context, recordID int64, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.commitErr[recordID]; err != nil {
		return err
	}
	r.committed[recordID] = append(r.committed[recordID], value)
	r.tracking[recordID] = false
	return nil
}

func (r *fakeRegistry) StaleOpenRecords(ctx context.Context, period string) ([]models.UsageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale, nil
}

func (r *fakeRegistry) listedPeriods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.periods...)
}

func (r *fakeRegistry) commits(recordID int64) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed[recordID]
}

func (r *fakeRegistry) isTracking(recordID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracking[recordID]
}

func (r *fakeRegistry) listCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls
}

// fakeReader serves readings per address
type fakeReader struct {
	mu       sync.Mutex
	readings map[string]float64
	errs     map[string]error
	calls    map[string]int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		readings: make(map[string]float64),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeReader) set(address string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings[address] = v
	delete(f.errs, address)
}

func (f *fakeReader) fail(address string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[address] = err
}

func (f *fakeReader) ReadMonthEnergy(ctx context.Context, address string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[address]++
	if err := f.errs[address]; err != nil {
		return 0, err
	}
	v, ok := f.readings[address]
	if !ok {
		return 0, errTransport
	}
	return v, nil
}

func (f *fakeReader) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// fakeReporter records settlements
type fakeReporter struct {
	mu          sync.Mutex
	settlements []models.Settlement
	err         error
}

func (f *fakeReporter) Report(ctx context.Context, s models.Settlement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settlements = append(f.settlements, s)
	return f.err
}

func device(id string, recordID int64, baseline float64) models.ActiveDevice {
	return models.ActiveDevice{
		DeviceID:            id,
		Alias:               "meter " + id,
		UsageRecordID:       recordID,
		Address:             "addr-" + id,
		BaselineConsumption: baseline,
	}
}

package monthend

import "errors"

// BatchResult aggregates the outcome of a per-item-independent pass
type BatchResult struct {
	Succeeded int
	Failed    int
	Errs      []error
}

// Record counts one item outcome
func (r *BatchResult) Record(err error) {
	if err != nil {
		r.Failed++
		r.Errs = append(r.Errs, err)
		return
	}
	r.Succeeded++
}

// Merge folds another result into r
func (r *BatchResult) Merge(o BatchResult) {
	r.Succeeded += o.Succeeded
	r.Failed += o.Failed
	r.Errs = append(r.Errs, o.Errs...)
}

// OK is true when no item failed
func (r BatchResult) OK() bool {
	return r.Failed == 0
}

// Err joins every item error, or returns nil
func (r BatchResult) Err() error {
	return errors.Join(r.Errs...)
}

// runBatch applies step to each item in order, one at a time. A failing
// item never stops the pass.
func runBatch[T any](items []T, step func(T) error) BatchResult {
	var r BatchResult
	for _, item := range items {
		r.Record(step(item))
	}
	return r
}

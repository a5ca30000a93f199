package batch

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/credit-batch/internal/batch/domain"
)

// Aggregator collects item results by input index regardless of the order
// in which window-internal calls finish. Safe for concurrent Record calls.
type Aggregator struct {
	mu      sync.Mutex
	results []*domain.ItemResult
	success int
	failure int
}

// NewAggregator creates an aggregator with one slot per item
func NewAggregator(total int) *Aggregator {
	return &Aggregator{
		results: make([]*domain.ItemResult, total),
	}
}

// Record stores r at results[r.Index]
func (a *Aggregator) Record(r domain.ItemResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r.Index < 0 || r.Index >= len(a.results) {
		return fmt.Errorf("result index %d out of range [0,%d)", r.Index, len(a.results))
	}
	if a.results[r.Index] != nil {
		return fmt.Errorf("result for index %d already recorded", r.Index)
	}

	a.results[r.Index] = &r
	if r.Success {
		a.success++
	} else {
		a.failure++
	}
	return nil
}

// Counts returns processed, successful and failed item counts
func (a *Aggregator) Counts() (processed, success, failure int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.success + a.failure, a.success, a.failure
}

// Results returns a copy of the result slots in input order
func (a *Aggregator) Results() []*domain.ItemResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]*domain.ItemResult, len(a.results))
	copy(out, a.results)
	return out
}

// Progress computes the progress snapshot after elapsed time
func (a *Aggregator) Progress(batchID string, elapsed time.Duration) domain.Progress {
	processed, success, failure := a.Counts()
	total := len(a.results)

	p := domain.Progress{
		BatchID:        batchID,
		ProcessedCount: processed,
		TotalCount:     total,
		SuccessCount:   success,
		FailureCount:   failure,
	}
	if total > 0 {
		p.Percentage = float64(processed) * 100 / float64(total)
	}
	if processed > 0 {
		p.EstimatedTimeRemaining = elapsed / time.Duration(processed) * time.Duration(total-processed)
	}
	return p
}

// Summary builds the final summary. Settlement fields are filled by the caller.
func (a *Aggregator) Summary(stoppedEarly bool) domain.Summary {
	processed, success, failure := a.Counts()
	return domain.Summary{
		Total:        len(a.results),
		Processed:    processed,
		Successful:   success,
		Failed:       failure,
		StoppedEarly: stoppedEarly,
	}
}

package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/credit-batch/internal/batch/domain"
)

func TestAggregator_Record(t *testing.T) {
	agg := NewAggregator(3)

	require.NoError(t, agg.Record(domain.ItemResult{Index: 2, Success: true}))
	require.NoError(t, agg.Record(domain.ItemResult{Index: 0, Error: &domain.ItemError{Kind: "TIMEOUT"}}))

	assert.Error(t, agg.Record(domain.ItemResult{Index: 2}))
	assert.Error(t, agg.Record(domain.ItemResult{Index: 3}))
	assert.Error(t, agg.Record(domain.ItemResult{Index: -1}))

	results := agg.Results()
	require.Len(t, results, 3)
	assert.False(t, results[0].Success)
	assert.Nil(t, results[1])
	assert.True(t, results[2].Success)

	processed, success, failure := agg.Counts()
	assert.Equal(t, 2, processed)
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, failure)

	summary := agg.Summary(true)
	assert.Equal(t, domain.Summary{Total: 3, Processed: 2, Successful: 1, Failed: 1, StoppedEarly: true}, summary)
}

func TestAggregator_Progress(t *testing.T) {
	tests := []struct {
		name        string
		recorded    int
		total       int
		elapsed     time.Duration
		wantPercent float64
		wantETA     time.Duration
	}{
		{name: "nothing processed", recorded: 0, total: 4, elapsed: time.Second, wantPercent: 0, wantETA: 0},
		{name: "half way", recorded: 2, total: 4, elapsed: 2 * time.Second, wantPercent: 50, wantETA: 2 * time.Second},
		{name: "done", recorded: 4, total: 4, elapsed: 8 * time.Second, wantPercent: 100, wantETA: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(tt.total)
			for i := 0; i < tt.recorded; i++ {
				require.NoError(t, agg.Record(domain.ItemResult{Index: i, Success: true}))
			}

			p := agg.Progress("b-1", tt.elapsed)
			assert.Equal(t, "b-1", p.BatchID)
			assert.Equal(t, tt.recorded, p.ProcessedCount)
			assert.Equal(t, tt.total, p.TotalCount)
			assert.Equal(t, tt.wantPercent, p.Percentage)
			assert.Equal(t, tt.wantETA, p.EstimatedTimeRemaining)
		})
	}
}

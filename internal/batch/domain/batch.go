package domain

import (
	"time"

	"github.com/cuongbtq/credit-batch/internal/classifier"
)

// Work item status constants
const (
	ItemStatusPending    = "PENDING"
	ItemStatusProcessing = "PROCESSING"
	ItemStatusCompleted  = "COMPLETED"
	ItemStatusFailed     = "FAILED"
)

// State is the lifecycle state of a batch job
type State string

// Batch job states
const (
	StateIdle      State = "IDLE"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateStopped   State = "STOPPED"
	StateFailed    State = "FAILED"
)

// MaxPerItemCost caps the credit price of a single item so that a full batch
// total stays far inside int64
const MaxPerItemCost int64 = 1_000_000_000

// ErrorKindValidation marks an item rejected before any provider call
const ErrorKindValidation = "VALIDATION"

// WorkItem is one file submitted for classification
type WorkItem struct {
	Index     int    `json:"index"`
	Payload   []byte `json:"content"`
	MediaType string `json:"media_type"`
	Filename  string `json:"filename,omitempty"`
	Status    string `json:"status,omitempty"`
}

// ItemError is the classified failure of a single item
type ItemError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ItemResult is the outcome of one item. Index always equals the item's
// position in the submitted batch.
type ItemResult struct {
	Index    int                `json:"index"`
	Filename string             `json:"filename,omitempty"`
	Success  bool               `json:"success"`
	Output   *classifier.Output `json:"output,omitempty"`
	Error    *ItemError         `json:"error,omitempty"`
}

// Progress is emitted after every window
type Progress struct {
	BatchID                string        `json:"batch_id"`
	ProcessedCount         int           `json:"processed_count"`
	TotalCount             int           `json:"total_count"`
	SuccessCount           int           `json:"success_count"`
	FailureCount           int           `json:"failure_count"`
	Percentage             float64       `json:"percentage"`
	EstimatedTimeRemaining time.Duration `json:"estimated_time_remaining"`
}

// Summary is the final accounting of a batch
type Summary struct {
	Total              int    `json:"total"`
	Processed          int    `json:"processed"`
	Successful         int    `json:"successful"`
	Failed             int    `json:"failed"`
	CreditsUsed        int64  `json:"credits_used"`
	CreditsOutstanding int64  `json:"credits_outstanding,omitempty"`
	RemainingBalance   int64  `json:"remaining_balance"`
	StoppedEarly       bool   `json:"stopped_early"`
	TransactionID      string `json:"transaction_id,omitempty"`
	SettlementError    string `json:"settlement_error,omitempty"`
}

// Result is what a finished run hands back to its caller. Results has one
// slot per submitted item; slots of items never started are nil.
type Result struct {
	BatchID  string        `json:"batch_id"`
	State    State         `json:"state"`
	Results  []*ItemResult `json:"results"`
	Summary  Summary       `json:"summary"`
	Duration time.Duration `json:"duration"`

	// SettlementErr is the typed form of Summary.SettlementError
	SettlementErr *SettlementError `json:"-"`
}

// Submission is the serialized form of a batch request, stored with
// asynchronous jobs and carried between the API and worker services
type Submission struct {
	AccountID        string     `json:"account_id"`
	Items            []WorkItem `json:"items"`
	PerItemCost      int64      `json:"per_item_cost"`
	ConcurrencyLimit int        `json:"concurrency_limit"`
	Description      string     `json:"description,omitempty"`
}

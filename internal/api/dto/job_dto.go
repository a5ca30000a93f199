package dto

import "encoding/json"

type CreateJobRequest struct {
	IdempotencyKey   string             `json:"idempotency_key" binding:"required"`
	AccountID        string             `json:"account_id" binding:"required"`
	Items            []BatchItemRequest `json:"items" binding:"required,min=1,dive"`
	PerItemCost      *int64             `json:"per_item_cost" binding:"omitempty,gte=0,lte=1000000000"`
	ConcurrencyLimit int                `json:"concurrency_limit" binding:"gte=0"`
	Description      string             `json:"description"`
	TimeoutSeconds   int                `json:"timeout_seconds" binding:"gte=0"`
	MaxRetries       *int               `json:"max_retries" binding:"omitempty,gte=0"`
}

type ListJobsRequest struct {
	AccountID string `form:"account_id"`
	Status    string `form:"status"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID          string          `json:"job_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	AccountID      string          `json:"account_id"`
	Status         string          `json:"status"`
	StopRequested  bool            `json:"stop_requested"`
	RetryCount     int             `json:"retry_count"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	StartedAt      string          `json:"started_at,omitempty"`
	CompletedAt    string          `json:"completed_at,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

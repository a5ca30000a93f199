package dto

import (
	"github.com/cuongbtq/credit-batch/internal/batch/domain"
)

// BatchItemRequest is one file. Content is base64 in JSON.
type BatchItemRequest struct {
	Content   []byte `json:"content"`
	MediaType string `json:"media_type"`
	Filename  string `json:"filename"`
}

type RunBatchRequest struct {
	Items            []BatchItemRequest `json:"items" binding:"required,min=1,dive"`
	PerItemCost      *int64             `json:"per_item_cost" binding:"omitempty,gte=0,lte=1000000000"`
	ConcurrencyLimit int                `json:"concurrency_limit" binding:"gte=0"`
	Description      string             `json:"description"`
}

type RunBatchResponse struct {
	BatchID string               `json:"batch_id"`
	State   domain.State         `json:"state"`
	Results []*domain.ItemResult `json:"results"`
	Summary domain.Summary       `json:"summary"`
	Message string               `json:"message"`
}

type BatchStartedEvent struct {
	BatchID string `json:"batch_id"`
	Total   int    `json:"total"`
}

type InsufficientCreditsResponse struct {
	Error        string `json:"error"`
	Required     int64  `json:"required"`
	Available    int64  `json:"available"`
	Deficit      int64  `json:"deficit"`
	BatchStarted bool   `json:"batch_started"`
}

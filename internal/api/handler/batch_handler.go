package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/credit-batch/internal/api/dto"
	"github.com/cuongbtq/credit-batch/internal/batch"
	"github.com/cuongbtq/credit-batch/internal/batch/domain"
)

// RunBatch handles POST /api/v1/accounts/:account_id/batches
// Runs the batch in the request. With ?stream=true progress is sent as
// server-sent events followed by a final summary event.
func (h *BatchHandler) RunBatch(c *gin.Context) {
	accountID := c.Param("account_id")

	var req dto.RunBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	sub := toSubmission(accountID, req.Items, req.PerItemCost, h.defaultCost, req.ConcurrencyLimit, req.Description)
	job, err := h.orchestrator.NewJob(sub)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	h.registry.Register(job)
	defer h.registry.Remove(job.ID())
	c.Header("X-Batch-ID", job.ID())

	h.logger.Info("RunBatch called",
		slog.String("batch_id", job.ID()),
		slog.String("account_id", accountID),
		slog.Int("items", len(sub.Items)),
	)

	if c.Query("stream") == "true" {
		h.streamBatch(c, job, len(sub.Items))
		return
	}

	result, err := job.Run(c.Request.Context(), nil)
	if err != nil {
		respondLedgerError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toRunBatchResponse(result))
}

// streamBatch defers writing headers until the first window completes so a
// rejected pre-check can still answer with a plain status code
func (h *BatchHandler) streamBatch(c *gin.Context, job *batch.Job, total int) {
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.SSEvent("started", dto.BatchStartedEvent{BatchID: job.ID(), Total: total})
		c.Writer.Flush()
	}

	result, err := job.Run(c.Request.Context(), func(p domain.Progress) {
		start()
		c.SSEvent("progress", p)
		c.Writer.Flush()
	})
	if err != nil {
		respondLedgerError(c, h.logger, err)
		return
	}

	start()
	c.SSEvent("summary", toRunBatchResponse(result))
	c.Writer.Flush()
}

// StopBatch handles POST /api/v1/batches/:batch_id/stop
func (h *BatchHandler) StopBatch(c *gin.Context) {
	batchID := c.Param("batch_id")

	if err := h.registry.Stop(batchID); err != nil {
		if errors.Is(err, domain.ErrBatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Batch not found or already finished",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to stop batch",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batch_id":       batchID,
		"stop_requested": true,
	})
}

func toSubmission(accountID string, items []dto.BatchItemRequest, cost *int64, defaultCost int64, concurrency int, description string) *domain.Submission {
	sub := &domain.Submission{
		AccountID:        accountID,
		Items:            make([]domain.WorkItem, len(items)),
		PerItemCost:      defaultCost,
		ConcurrencyLimit: concurrency,
		Description:      description,
	}
	if cost != nil {
		sub.PerItemCost = *cost
	}
	for i, it := range items {
		sub.Items[i] = domain.WorkItem{
			Index:     i,
			Payload:   it.Content,
			MediaType: it.MediaType,
			Filename:  it.Filename,
		}
	}
	return sub
}

func toRunBatchResponse(result *domain.Result) dto.RunBatchResponse {
	return dto.RunBatchResponse{
		BatchID: result.BatchID,
		State:   result.State,
		Results: result.Results,
		Summary: result.Summary,
		Message: SummaryMessage(result.Summary),
	}
}

// SummaryMessage renders a one-line human summary of a finished batch
func SummaryMessage(s domain.Summary) string {
	var msg string
	if s.Failed > 0 {
		msg = fmt.Sprintf("%d of %d items failed; charged only for the %d successes", s.Failed, s.Processed, s.Successful)
	} else {
		msg = fmt.Sprintf("all %d items processed successfully", s.Processed)
	}
	if s.StoppedEarly {
		msg += fmt.Sprintf("; stopped early after %d of %d items", s.Processed, s.Total)
	}
	if s.SettlementError != "" {
		msg += fmt.Sprintf("; settlement failed, %d credits outstanding", s.CreditsOutstanding)
	}
	return msg
}

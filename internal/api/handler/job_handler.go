package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/credit-batch/internal/api/domain"
	"github.com/cuongbtq/credit-batch/internal/api/dto"
	"github.com/cuongbtq/credit-batch/internal/api/model"
	"github.com/cuongbtq/credit-batch/internal/api/storage"
)

// CreateJob handles POST /api/v1/jobs
// Persists a batch for the worker service and publishes its ID
func (h *JobHandler) CreateJob(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	sub := toSubmission(req.AccountID, req.Items, req.PerItemCost, h.defaultCost, req.ConcurrencyLimit, req.Description)
	if err := h.orchestrator.Validate(sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	// reject early, the worker checks again before running
	v, err := h.ledger.Validate(ctx, sub.AccountID, int64(len(sub.Items))*sub.PerItemCost)
	if err != nil {
		respondLedgerError(c, h.logger, err)
		return
	}
	if !v.IsValid {
		c.JSON(http.StatusPaymentRequired, dto.InsufficientCreditsResponse{
			Error:        "Insufficient credits",
			Required:     v.Required,
			Available:    v.Available,
			Deficit:      v.Deficit,
			BatchStarted: false,
		})
		return
	}

	payload, err := json.Marshal(sub)
	if err != nil {
		h.logger.Error("Failed to encode submission", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to encode submission",
		})
		return
	}

	maxRetries := h.defaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	now := time.Now().UTC()
	job := &model.BatchJob{
		JobID:          uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
		AccountID:      req.AccountID,
		Payload:        string(payload),
		Status:         domain.JobStatusPending,
		MaxRetries:     maxRetries,
		TimeoutSeconds: req.TimeoutSeconds,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	status := http.StatusAccepted
	err = h.jobs.CreateJob(ctx, job)
	if errors.Is(err, domain.ErrDuplicateJob) {
		existing, getErr := h.jobs.GetJobByIdempotencyKey(ctx, req.IdempotencyKey)
		if getErr != nil {
			h.logger.Error("Failed to load existing job", slog.String("error", getErr.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create job",
			})
			return
		}
		h.logger.Info("Duplicate job submission",
			slog.String("job_id", existing.JobID),
			slog.String("idempotency_key", req.IdempotencyKey),
		)
		if existing.Status != domain.JobStatusPending {
			c.JSON(http.StatusOK, toJobDTO(existing))
			return
		}
		// still pending, the first publish may have been lost
		job, status = existing, http.StatusOK
	} else if err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	body, _ := json.Marshal(map[string]string{"job_id": job.JobID})
	if err := h.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		h.logger.Error("Failed to publish job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "Job saved but could not be queued, retry with the same idempotency key",
			"job_id": job.JobID,
		})
		return
	}

	h.logger.Info("Job queued",
		slog.String("job_id", job.JobID),
		slog.String("account_id", job.AccountID),
		slog.Int("items", len(sub.Items)),
	)

	c.JSON(status, toJobDTO(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := parseJobID(c, h.logger)
	if !ok {
		return
	}

	job, err := h.jobs.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		h.respondJobError(c, err, "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), storage.JobFilter{
		AccountID: req.AccountID,
		Status:    req.Status,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{
		Jobs: make([]dto.JobDTO, len(jobs)),
	}
	for i := range jobs {
		resp.Jobs[i] = toJobDTO(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Pending jobs are canceled at once; running jobs stop after their current window.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := parseJobID(c, h.logger)
	if !ok {
		return
	}

	status, err := h.jobs.RequestStop(c.Request.Context(), jobID)
	if err != nil {
		h.respondJobError(c, err, "Failed to cancel job")
		return
	}

	h.logger.Info("Job stop requested",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":         jobID,
		"status":         status,
		"stop_requested": true,
	})
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Only jobs in a terminal state can be deleted
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := parseJobID(c, h.logger)
	if !ok {
		return
	}

	if err := h.jobs.DeleteJob(c.Request.Context(), jobID); err != nil {
		h.respondJobError(c, err, "Failed to delete job")
		return
	}

	c.Status(http.StatusNoContent)
}

func parseJobID(c *gin.Context, logger *slog.Logger) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

func (h *JobHandler) respondJobError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, domain.ErrJobNotCancelable), errors.Is(err, domain.ErrJobNotTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func toJobDTO(job *model.BatchJob) dto.JobDTO {
	out := dto.JobDTO{
		JobID:          job.JobID,
		IdempotencyKey: job.IdempotencyKey,
		AccountID:      job.AccountID,
		Status:         job.Status,
		StopRequested:  job.StopRequested,
		RetryCount:     job.RetryCount,
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      job.UpdatedAt.Format(time.RFC3339),
	}
	if job.Result != nil && *job.Result != "" {
		out.Result = json.RawMessage(*job.Result)
	}
	if job.StartedAt != nil {
		out.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		out.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return out
}

package router

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cuongbtq/credit-batch/internal/api/handler"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName  = "credit-batch-api"
	readyTimeout = 3 * time.Second
)

// SetupRouter wires middleware and every API route onto a new engine
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggerMiddleware(deps.Logger), CORSMiddleware())

	r.GET("/health", healthHandler(deps))
	r.GET("/ready", readyHandler(deps.Readiness))

	accounts := handler.NewAccountHandler(deps)
	batches := handler.NewBatchHandler(deps)
	jobs := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")

	acct := v1.Group("/accounts")
	acct.POST("", accounts.OpenAccount)
	acct.GET("/:account_id/balance", accounts.GetBalance)
	acct.GET("/:account_id/ledger", accounts.GetLedger)
	acct.POST("/:account_id/credits", accounts.AddCredits)
	acct.POST("/:account_id/debits", accounts.DeductCredits)
	// synchronous run, ?stream=true for server-sent progress
	acct.POST("/:account_id/batches", batches.RunBatch)

	v1.POST("/batches/:batch_id/stop", batches.StopBatch)

	queued := v1.Group("/jobs")
	queued.POST("", jobs.CreateJob)
	queued.GET("", jobs.ListJobs)
	queued.GET("/:job_id", jobs.GetJob)
	queued.POST("/:job_id/cancel", jobs.CancelJob)
	queued.DELETE("/:job_id", jobs.DeleteJob)

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":  "healthy",
			"service": serviceName,
		}
		if deps.Registry != nil {
			body["active_batches"] = deps.Registry.Len()
		}
		c.JSON(http.StatusOK, body)
	}
}

// readyHandler runs every check concurrently and answers 503 if any fails
func readyHandler(checks map[string]func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()

		var mu sync.Mutex
		results := make(map[string]string, len(checks))
		ready := true

		var g errgroup.Group
		for name, check := range checks {
			g.Go(func() error {
				status := "ok"
				if err := check(ctx); err != nil {
					status = err.Error()
				}
				mu.Lock()
				defer mu.Unlock()
				results[name] = status
				if status != "ok" {
					ready = false
				}
				return nil
			})
		}
		_ = g.Wait()

		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"ready": ready, "checks": results})
	}
}

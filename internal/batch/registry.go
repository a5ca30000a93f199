package batch

import (
	"sync"

	"github.com/cuongbtq/credit-batch/internal/batch/domain"
)

// Registry tracks running jobs so they can be stopped by ID
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Register adds a job under its ID
func (r *Registry) Register(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID()] = job
}

// Remove forgets a job
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// Get returns the job with the given ID
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Stop requests the job with the given ID to stop
func (r *Registry) Stop(id string) error {
	job, ok := r.Get(id)
	if !ok {
		return domain.ErrBatchNotFound
	}
	job.Stop()
	return nil
}

// Len returns the number of tracked jobs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

package web

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lvcoi/tunefetch/internal/app"
	"github.com/lvcoi/tunefetch/internal/resolver"
)

const (
	statusQueued   = "queued"
	statusRunning  = "running"
	statusComplete = "complete"
	statusError    = "error"
)

// Job is an async download of one or more queries.
type Job struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	Queries     []resolver.Query `json:"queries"`
	CreatedAt   time.Time        `json:"created_at"`
	Results     []app.Result     `json:"results,omitempty"`
	ExitCode    int              `json:"exit_code,omitempty"`
	Error       string           `json:"error,omitempty"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`

	cancel context.CancelFunc
	mu     sync.RWMutex
}

// jobTracker manages download jobs until they expire.
type jobTracker struct {
	jobs sync.Map
}

func (jt *jobTracker) Create(queries []resolver.Query) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		Status:    statusQueued,
		Queries:   append([]resolver.Query(nil), queries...),
		CreatedAt: time.Now(),
	}
	jt.jobs.Store(job.ID, job)
	return job
}

func (jt *jobTracker) Get(id string) (*Job, bool) {
	v, ok := jt.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

func (jt *jobTracker) ActiveCount() int {
	count := 0
	jt.jobs.Range(func(_, v any) bool {
		if j, ok := v.(*Job); ok && j.isActive() {
			count++
		}
		return true
	})
	return count
}

// RemoveExpired drops finished jobs whose TTL has passed and reports how
// many were removed.
func (jt *jobTracker) RemoveExpired(now time.Time, completedTTL, erroredTTL time.Duration) int {
	removed := 0
	jt.jobs.Range(func(key, value any) bool {
		job, ok := value.(*Job)
		if !ok {
			return true
		}
		if job.isExpired(now, completedTTL, erroredTTL) {
			jt.jobs.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

func (jt *jobTracker) StartCleanup(ctx context.Context, interval, completedTTL, erroredTTL time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				jt.RemoveExpired(now, completedTTL, erroredTTL)
			}
		}
	}()
}

// CancelAll stops every running job.
func (jt *jobTracker) CancelAll() {
	jt.jobs.Range(func(_, v any) bool {
		if j, ok := v.(*Job); ok {
			j.Cancel()
		}
		return true
	})
}

func (j *Job) isActive() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == statusQueued || j.Status == statusRunning
}

func (j *Job) StatusValue() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

func (j *Job) setStatusLocked(status string) {
	j.Status = status
	if status == statusComplete || status == statusError {
		j.CompletedAt = time.Now()
		return
	}
	j.CompletedAt = time.Time{}
}

func (j *Job) SetStatus(status string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.setStatusLocked(status)
}

func (j *Job) setCancel(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
}

func (j *Job) Cancel() {
	j.mu.RLock()
	cancel := j.cancel
	j.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// SetOutcome records the batch results and returns the terminal status.
func (j *Job) SetOutcome(results []app.Result, exitCode int) string {
	resultsCopy := append([]app.Result(nil), results...)

	j.mu.Lock()
	defer j.mu.Unlock()

	j.Results = resultsCopy
	j.ExitCode = exitCode
	j.Error = ""

	if exitCode != 0 {
		j.setStatusLocked(statusError)
		for _, result := range resultsCopy {
			if result.Error != "" {
				j.Error = result.Error
				break
			}
		}
		if j.Error == "" {
			j.Error = "job interrupted"
		}
		return j.Status
	}

	j.setStatusLocked(statusComplete)
	return j.Status
}

// Snapshot returns a copy safe to encode while the job is still running.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{
		ID:          j.ID,
		Status:      j.Status,
		Queries:     j.Queries,
		CreatedAt:   j.CreatedAt,
		Results:     append([]app.Result(nil), j.Results...),
		ExitCode:    j.ExitCode,
		Error:       j.Error,
		CompletedAt: j.CompletedAt,
	}
}

func (j *Job) isExpired(now time.Time, completedTTL, erroredTTL time.Duration) bool {
	j.mu.RLock()
	status := j.Status
	completedAt := j.CompletedAt
	j.mu.RUnlock()

	if completedAt.IsZero() {
		return false
	}
	switch status {
	case statusComplete:
		if completedTTL <= 0 {
			return false
		}
		return now.Sub(completedAt) > completedTTL
	case statusError:
		if erroredTTL <= 0 {
			return false
		}
		return now.Sub(completedAt) > erroredTTL
	default:
		return false
	}
}

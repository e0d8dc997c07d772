// Package registry holds processing jobs in memory for the duration of
// their retention window. Job state is process-lifetime only: nothing is
// persisted, and a swept job id simply reads as not found.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/domain"
)

// InMemory implements domain.Registry with a mutex-guarded map. Reads hand
// out deep snapshots so pollers never observe a group mid-publication, and
// every mutation is funneled through methods that enforce the job state
// machine (queued -> processing -> completed|error, terminal states frozen).
type InMemory struct {
	mu         sync.RWMutex
	jobs       map[string]*domain.ProcessingJob
	retention  time.Duration
	sweepEvery time.Duration
	logger     zerolog.Logger
}

// New creates a registry that keeps jobs for the given retention window.
// Run must be started separately for periodic sweeping.
func New(retention, sweepEvery time.Duration, logger zerolog.Logger) *InMemory {
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	if sweepEvery <= 0 {
		sweepEvery = 5 * time.Minute
	}
	return &InMemory{
		jobs:       make(map[string]*domain.ProcessingJob),
		retention:  retention,
		sweepEvery: sweepEvery,
		logger:     logger,
	}
}

// Create registers a queued job and returns its identifier.
func (r *InMemory) Create(templateID string, totalPages int) string {
	job := &domain.ProcessingJob{
		ID:         uuid.NewString(),
		TemplateID: templateID,
		Status:     domain.StatusQueued,
		TotalPages: totalPages,
		CreatedAt:  time.Now(),
	}
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
	return job.ID
}

// Get returns a deep snapshot of the job, or domain.ErrNotFound. Snapshots
// share no slices with registry state, so callers may serialize them without
// racing the owning background task.
func (r *InMemory) Get(id string) (*domain.ProcessingJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

// MarkProcessing moves a queued job to processing. The page count fixed by
// the document loader replaces the submit-time estimate.
func (r *InMemory) MarkProcessing(id string, totalPages int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.StatusQueued {
		return
	}
	job.Status = domain.StatusProcessing
	if totalPages > 0 {
		job.TotalPages = totalPages
	}
}

// PublishGroup appends one concurrency group's records and warnings and
// advances the page cursor. Progress is derived here and never decreases.
func (r *InMemory) PublishGroup(id string, update domain.GroupUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.StatusProcessing {
		return
	}
	job.Students = append(job.Students, update.Records...)
	job.Warnings = append(job.Warnings, update.Warnings...)
	if update.CurrentPage > job.CurrentPage {
		job.CurrentPage = update.CurrentPage
	}
	if job.TotalPages > 0 {
		if p := job.CurrentPage * 100 / job.TotalPages; p > job.Progress {
			job.Progress = p
		}
	}
	if update.LastPageResult != nil {
		job.LastPageResult = update.LastPageResult
	}
}

// Complete finalizes a processing job. The passed records and warnings are
// authoritative and replace whatever groups published incrementally, so the
// merger can collapse two page records into one without leftovers.
func (r *InMemory) Complete(id string, students []domain.StudentAnswerRecord, warnings []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.StatusProcessing {
		return
	}
	job.Status = domain.StatusCompleted
	job.Students = students
	job.Warnings = warnings
	job.Progress = 100
	job.CurrentPage = job.TotalPages
}

// Fail moves a job to the error state. Allowed from queued as well, for
// documents that cannot be loaded at all.
func (r *InMemory) Fail(id string, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.Terminal() {
		return
	}
	job.Status = domain.StatusError
	job.ErrorMessage = message
}

// SweepExpired deletes every job older than the retention window, terminal
// or not, and returns the number removed.
func (r *InMemory) SweepExpired() int {
	cutoff := time.Now().Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, job := range r.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on a fixed interval until the context is canceled.
func (r *InMemory) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.SweepExpired(); n > 0 {
				r.logger.Info().Int("removed", n).Msg("registry: swept expired jobs")
			}
		}
	}
}

func cloneJob(job *domain.ProcessingJob) *domain.ProcessingJob {
	out := *job
	out.Students = make([]domain.StudentAnswerRecord, len(job.Students))
	for i, s := range job.Students {
		out.Students[i] = s
		out.Students[i].Answers = append([]string(nil), s.Answers...)
	}
	out.Warnings = append([]string(nil), job.Warnings...)
	if job.LastPageResult != nil {
		out.LastPageResult = clonePageResult(job.LastPageResult)
	}
	return &out
}

func clonePageResult(pr *domain.PageResult) *domain.PageResult {
	out := *pr
	out.DetectedAnswers = make([]*string, len(pr.DetectedAnswers))
	for i, a := range pr.DetectedAnswers {
		if a != nil {
			v := *a
			out.DetectedAnswers[i] = &v
		}
	}
	out.Warnings = append([]string(nil), pr.Warnings...)
	if pr.Identity != nil {
		identity := *pr.Identity
		out.Identity = &identity
	}
	return &out
}

var _ domain.Registry = (*InMemory)(nil)

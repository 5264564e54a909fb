// Package progress holds the process-wide conversion state: one job record
// per slide, written only by the conversion orchestrator and read by
// progress lookups. The map starts empty on every process start; lookups
// reconcile against cache contents for slides converted (or half-converted)
// by a previous process.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wsiviewer/api/internal/model"
)

// restartProgress is the fixed placeholder reported for a slide that has
// cached tiles but no in-memory job (e.g. after a restart). True progress
// would require re-deriving the tile total from a fresh plan; the placeholder
// is a deliberate approximation, not a bug.
const restartProgress = 50

// CacheProbe is the slice of the tile cache the tracker needs for
// reconciling lookups after a restart.
type CacheProbe interface {
	DescriptorExists(slide string) bool
	HasAny(slide string) bool
}

type entry struct {
	job    model.ConversionJob
	cancel func()
}

// Tracker is the job registry. It enforces at-most-one in-flight conversion
// per slide and exposes read-only snapshots of job state.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*entry
}

func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]*entry)}
}

// Begin registers a new job for the slide. If a job is already in
// starting/converting it returns that job and false, which is the
// at-most-one-in-flight guarantee. Terminal jobs (complete, error) are
// replaced: a fresh request after failure retries from scratch.
func (t *Tracker) Begin(slideID string) (model.ConversionJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.jobs[slideID]; ok {
		switch e.job.Status {
		case model.JobStatusStarting, model.JobStatusConverting:
			return e.job, false
		}
	}

	job := model.ConversionJob{
		ID:        uuid.New().String(),
		SlideID:   slideID,
		Status:    model.JobStatusStarting,
		CreatedAt: time.Now(),
	}
	t.jobs[slideID] = &entry{job: job}
	return job, true
}

// SetConverting transitions the job to converting with a known tile total.
func (t *Tracker) SetConverting(slideID string, tilesTotal int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[slideID]
	if !ok {
		return
	}
	now := time.Now()
	e.job.Status = model.JobStatusConverting
	e.job.TilesTotal = tilesTotal
	e.job.StartedAt = &now
}

// Advance records completed tile work. Counts only move forward so
// out-of-order worker updates cannot make progress regress.
func (t *Tracker) Advance(slideID string, tilesCompleted int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[slideID]
	if !ok {
		return 0
	}
	if tilesCompleted > e.job.TilesCompleted {
		e.job.TilesCompleted = tilesCompleted
	}
	if e.job.TilesTotal > 0 {
		e.job.Progress = 100 * e.job.TilesCompleted / e.job.TilesTotal
	}
	return e.job.Progress
}

// Complete marks the job finished at exactly 100%.
func (t *Tracker) Complete(slideID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[slideID]
	if !ok {
		return
	}
	now := time.Now()
	e.job.Status = model.JobStatusComplete
	e.job.Progress = 100
	e.job.TilesCompleted = e.job.TilesTotal
	e.job.CompletedAt = &now
}

// Fail marks the job as terminally failed with a recorded message. A later
// conversion request starts a fresh job.
func (t *Tracker) Fail(slideID, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[slideID]
	if !ok {
		return
	}
	now := time.Now()
	e.job.Status = model.JobStatusError
	e.job.Error = &errMsg
	e.job.CompletedAt = &now
}

// MarkComplete seeds a complete job entry without a run, used for the
// idempotent short-circuit when the descriptor already exists.
func (t *Tracker) MarkComplete(slideID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.jobs[slideID] = &entry{job: model.ConversionJob{
		ID:          uuid.New().String(),
		SlideID:     slideID,
		Status:      model.JobStatusComplete,
		Progress:    100,
		CreatedAt:   now,
		CompletedAt: &now,
	}}
}

// BindCancel attaches the running job's cancellation hook.
func (t *Tracker) BindCancel(slideID string, cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.jobs[slideID]; ok {
		e.cancel = cancel
	}
}

// Remove cancels any in-flight run and drops the slide's entry. Used by
// deletion; the canceled worker must not write (or purge) after this.
func (t *Tracker) Remove(slideID string) {
	t.mu.Lock()
	e, ok := t.jobs[slideID]
	if ok {
		delete(t.jobs, slideID)
	}
	t.mu.Unlock()
	if ok && e.cancel != nil {
		e.cancel()
	}
}

// Snapshot returns a copy of the slide's job, if tracked.
func (t *Tracker) Snapshot(slideID string) (model.ConversionJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.jobs[slideID]; ok {
		return e.job, true
	}
	return model.ConversionJob{}, false
}

// Lookup resolves progress for a slide, falling back to cache contents when
// the slide is not tracked in memory: descriptor present means complete,
// cached tiles without a descriptor report the fixed placeholder progress,
// anything else is idle.
func (t *Tracker) Lookup(slideID string, cache CacheProbe) model.ProgressResponse {
	if job, ok := t.Snapshot(slideID); ok {
		return model.ProgressResponse{
			Progress: job.Progress,
			Status:   job.Status,
			Error:    job.Error,
		}
	}
	if cache.DescriptorExists(slideID) {
		return model.ProgressResponse{Progress: 100, Status: model.JobStatusComplete}
	}
	if cache.HasAny(slideID) {
		return model.ProgressResponse{Progress: restartProgress, Status: model.JobStatusConverting}
	}
	return model.ProgressResponse{Progress: 0, Status: model.JobStatusIdle}
}

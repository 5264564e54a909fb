package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wsiviewer/api/internal/config"
	"github.com/wsiviewer/api/internal/model"
	"github.com/wsiviewer/api/internal/progress"
	"github.com/wsiviewer/api/internal/tilecache"
)

const TaskTypeConvert = "convert:slide"

// TaskEnqueuer is the slice of the asynq client the service needs; tests
// substitute a fake so no broker is required.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ConvertService orchestrates slide conversions: it owns the job registry
// decision (at-most-one in flight, idempotent when already converted) and
// dispatches the actual work to the background queue. The triggering call
// never waits for the conversion.
type ConvertService struct {
	tracker  *progress.Tracker
	cache    *tilecache.Cache
	enqueuer TaskEnqueuer
	tiling   config.TilingConfig
}

func NewConvertService(tracker *progress.Tracker, cache *tilecache.Cache, enqueuer TaskEnqueuer, tiling config.TilingConfig) *ConvertService {
	return &ConvertService{
		tracker:  tracker,
		cache:    cache,
		enqueuer: enqueuer,
		tiling:   tiling,
	}
}

// StartConversion triggers a background conversion for a staged slide and
// returns immediately with the job's current state.
//
// If the descriptor already exists the slide is complete and no work is
// performed. If a job is already in flight for the slide, that job is
// returned untouched.
func (s *ConvertService) StartConversion(ctx context.Context, slideID, path string, req *model.ConvertRequest) (*model.ConvertResponse, error) {
	if s.cache.DescriptorExists(slideID) {
		s.tracker.MarkComplete(slideID)
		return &model.ConvertResponse{
			Success: true,
			SlideID: slideID,
			Message: "Slide already converted",
			DziURL:  dziURL(slideID),
			Status:  model.JobStatusComplete,
		}, nil
	}

	job, created := s.tracker.Begin(slideID)
	if !created {
		return &model.ConvertResponse{
			Success: true,
			SlideID: slideID,
			Message: "Conversion already in progress",
			DziURL:  dziURL(slideID),
			Status:  job.Status,
		}, nil
	}

	payload := model.ConvertTaskPayload{
		JobID:    job.ID,
		SlideID:  slideID,
		Path:     path,
		TileSize: s.tiling.TileSize,
		Overlap:  s.tiling.Overlap,
		Format:   s.tiling.Format,
		Quality:  s.tiling.Quality,
	}
	if req != nil {
		if req.TileSize > 0 {
			payload.TileSize = req.TileSize
		}
		if req.Overlap > 0 {
			payload.Overlap = req.Overlap
		}
		if req.Format != "" {
			payload.Format = req.Format
		}
		if req.Quality > 0 {
			payload.Quality = req.Quality
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.tracker.Fail(slideID, "Failed to encode task payload")
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	// MaxRetry(0): a failed conversion is terminal; retrying is an explicit
	// new request, never automatic.
	_, err = s.enqueuer.Enqueue(asynq.NewTask(TaskTypeConvert, data),
		asynq.Queue("convert"),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		s.tracker.Fail(slideID, fmt.Sprintf("Failed to enqueue conversion: %v", err))
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.ConvertResponse{
		Success: true,
		SlideID: slideID,
		Message: "Conversion started",
		DziURL:  dziURL(slideID),
		Status:  model.JobStatusStarting,
	}, nil
}

// GetProgress returns the slide's conversion progress, reconciling against
// cache contents for slides not tracked in memory.
func (s *ConvertService) GetProgress(slideID string) *model.ProgressResponse {
	resp := s.tracker.Lookup(slideID, s.cache)
	return &resp
}

// Delete removes every cached tile and the descriptor for a slide. An
// in-flight conversion is cancelled and its registry entry dropped before
// any file is removed, so the worker cannot resurrect deleted tiles.
func (s *ConvertService) Delete(slideID string) error {
	s.tracker.Remove(slideID)
	if err := s.cache.Invalidate(slideID); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// IsConverted reports whether the slide's descriptor exists.
func (s *ConvertService) IsConverted(slideID string) bool {
	return s.cache.DescriptorExists(slideID)
}

// IsViewable reports whether any cached content exists for the slide.
func (s *ConvertService) IsViewable(slideID string) bool {
	return s.cache.DescriptorExists(slideID) || s.cache.HasAny(slideID)
}

func dziURL(slideID string) string {
	return fmt.Sprintf("/api/dzi/%s.dzi", slideID)
}

package model

import "time"

// JobStatus is the lifecycle state of a slide conversion.
type JobStatus string

const (
	JobStatusIdle       JobStatus = "idle"
	JobStatusStarting   JobStatus = "starting"
	JobStatusConverting JobStatus = "converting"
	JobStatusComplete   JobStatus = "complete"
	JobStatusError      JobStatus = "error"
)

// ConversionJob tracks one slide's conversion run. Jobs are keyed by slide
// name; a slide has at most one job in flight at a time.
type ConversionJob struct {
	ID             string     `json:"id"`
	SlideID        string     `json:"slideId"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"`
	TilesCompleted int        `json:"tilesCompleted"`
	TilesTotal     int        `json:"tilesTotal"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// ConvertRequest carries optional tiling overrides for a conversion trigger.
// Zero values fall back to the configured defaults.
type ConvertRequest struct {
	TileSize int    `json:"tileSize" validate:"omitempty,min=1,max=4096"`
	Overlap  int    `json:"overlap" validate:"omitempty,min=0,max=16"`
	Format   string `json:"format" validate:"omitempty,oneof=jpeg png"`
	Quality  int    `json:"quality" validate:"omitempty,min=1,max=100"`
}

// ConvertResponse is returned by the conversion trigger endpoint.
type ConvertResponse struct {
	Success bool      `json:"success"`
	SlideID string    `json:"slideId"`
	Message string    `json:"message"`
	DziURL  string    `json:"dziUrl"`
	Status  JobStatus `json:"status"`
}

// ProgressResponse is the polled conversion progress for a slide.
type ProgressResponse struct {
	Progress int       `json:"progress"`
	Status   JobStatus `json:"status"`
	Error    *string   `json:"error,omitempty"`
}

// ConvertTaskPayload is the asynq task payload for a conversion job.
type ConvertTaskPayload struct {
	JobID    string `json:"jobId"`
	SlideID  string `json:"slideId"`
	Path     string `json:"path"`
	TileSize int    `json:"tileSize"`
	Overlap  int    `json:"overlap"`
	Format   string `json:"format"`
	Quality  int    `json:"quality"`
}

// Package handlers provides HTTP API handlers for convertarr.
package handlers

import (
	"time"

	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/internal/scheduler"
	"github.com/jmylchreest/convertarr/internal/storage"
)

// Conversion types

// ConversionRequest is the request body for a conversion.
type ConversionRequest struct {
	SourceID     string                   `json:"source_id" doc:"ID of an uploaded file; matched by prefix against the upload directory" minLength:"1" maxLength:"255"`
	OutputFormat string                   `json:"output_format" doc:"Target container, optionally codec-qualified (e.g. mp4, webm, av1.mp4)" minLength:"1" maxLength:"64"`
	Options      models.ConversionOptions `json:"options,omitempty" doc:"Codec, bitrate, geometry and trim hints"`
}

// ConversionResultResponse locates a finished output.
type ConversionResultResponse struct {
	OutputID     string `json:"output_id"`
	OutputPath   string `json:"output_path"`
	Filename     string `json:"filename"`
	DownloadPath string `json:"download_path"`
}

// ConversionResultFromModel converts a result model to a response.
func ConversionResultFromModel(r *models.ConversionResult) *ConversionResultResponse {
	if r == nil {
		return nil
	}
	return &ConversionResultResponse{
		OutputID:     r.OutputID,
		OutputPath:   r.OutputPath,
		Filename:     r.Filename,
		DownloadPath: r.DownloadPath,
	}
}

// ThumbnailRequest is the request body for grabbing a single frame.
type ThumbnailRequest struct {
	SourceID  string   `json:"source_id" doc:"ID of an uploaded video; matched by prefix against the upload directory" minLength:"1" maxLength:"255"`
	Timestamp *float64 `json:"timestamp,omitempty" doc:"Source position in seconds (default 1); past the end grabs the first frame" minimum:"0"`
	Width     int      `json:"width,omitempty" doc:"Frame width; 0 keeps the aspect ratio of height (default 320x240 when both are 0)" minimum:"0" maximum:"7680"`
	Height    int      `json:"height,omitempty" doc:"Frame height; 0 keeps the aspect ratio of width" minimum:"0" maximum:"4320"`
	Format    string   `json:"format,omitempty" doc:"Image format (default jpg)" enum:"jpg,jpeg,png,webp,bmp"`
}

// ConcatRequest is the request body for joining uploads.
type ConcatRequest struct {
	SourceIDs    []string `json:"source_ids" doc:"Uploads to join, in order; they should share codecs" minItems:"2" maxItems:"100"`
	OutputFormat string   `json:"output_format,omitempty" doc:"Target container (default: extension of the first source)" maxLength:"64"`
}

// Job types

// JobResponse represents a job in API responses.
type JobResponse struct {
	ID             models.ULID               `json:"id"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
	SourceID       string                    `json:"source_id"`
	OutputFormat   string                    `json:"output_format"`
	Options        models.ConversionOptions  `json:"options"`
	Status         models.JobStatus          `json:"status"`
	Progress       int                       `json:"progress"`
	AttemptCount   int                       `json:"attempt_count"`
	StallCount     int                       `json:"stall_count"`
	LockedBy       string                    `json:"locked_by,omitempty"`
	LastProgressAt *time.Time                `json:"last_progress_at,omitempty"`
	StartedAt      *time.Time                `json:"started_at,omitempty"`
	CompletedAt    *time.Time                `json:"completed_at,omitempty"`
	DurationMs     int64                     `json:"duration_ms,omitempty"`
	ErrorKind      string                    `json:"error_kind,omitempty"`
	LastError      string                    `json:"last_error,omitempty"`
	Result         *ConversionResultResponse `json:"result,omitempty"`
}

// JobFromModel converts a job model to a response.
func JobFromModel(j *models.ConversionJob) JobResponse {
	return JobResponse{
		ID:             j.ID,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		SourceID:       j.SourceID,
		OutputFormat:   j.OutputFormat,
		Options:        j.Options,
		Status:         j.Status,
		Progress:       j.Progress,
		AttemptCount:   j.AttemptCount,
		StallCount:     j.StallCount,
		LockedBy:       j.LockedBy,
		LastProgressAt: j.LastProgressAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		DurationMs:     j.DurationMs,
		ErrorKind:      j.ErrorKind,
		LastError:      j.LastError,
		Result:         ConversionResultFromModel(j.Result()),
	}
}

// RunnerStatusResponse represents the worker pool state.
type RunnerStatusResponse struct {
	Running       bool     `json:"running"`
	WorkerCount   int      `json:"worker_count"`
	WorkerID      string   `json:"worker_id"`
	InFlight      []string `json:"in_flight"`
	PendingJobs   int64    `json:"pending_jobs"`
	RunningJobs   int64    `json:"running_jobs"`
	PollInterval  string   `json:"poll_interval"`
	LockDuration  string   `json:"lock_duration"`
	StallInterval string   `json:"stall_interval"`
	MaxStalls     int      `json:"max_stalls"`
}

// RunnerStatusFromScheduler converts a runner status to a response.
func RunnerStatusFromScheduler(s scheduler.RunnerStatus) RunnerStatusResponse {
	inFlight := s.InFlight
	if inFlight == nil {
		inFlight = []string{}
	}
	return RunnerStatusResponse{
		Running:       s.Running,
		WorkerCount:   s.WorkerCount,
		WorkerID:      s.WorkerID,
		InFlight:      inFlight,
		PendingJobs:   s.PendingJobs,
		RunningJobs:   s.RunningJobs,
		PollInterval:  s.PollInterval.String(),
		LockDuration:  s.LockDuration.String(),
		StallInterval: s.StallInterval.String(),
		MaxStalls:     s.MaxStalls,
	}
}

// File types

// FileResponse represents a managed file.
type FileResponse struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"`
	DownloadPath string    `json:"download_path,omitempty"`
}

// FileFromStorage converts a file listing entry to a response.
func FileFromStorage(kind storage.Kind, f storage.FileInfo) FileResponse {
	resp := FileResponse{
		ID:         f.ID,
		Filename:   f.Filename,
		Size:       f.Size,
		CreatedAt:  f.CreatedAt,
		ModifiedAt: f.ModifiedAt,
	}
	if kind == storage.KindOutputs {
		resp.DownloadPath = models.DownloadPath(f.Filename)
	}
	return resp
}

package models

import (
	"strings"
	"time"
)

// JobStatus represents the current status of a conversion job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting for a worker.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a worker holds the job's lease.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the output was produced.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed permanently.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled by a client.
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions can happen from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ConversionOptions are the caller-supplied hints for one transcode.
// Zero values mean "not requested".
type ConversionOptions struct {
	VideoCodec   string `json:"video_codec,omitempty"`
	AudioCodec   string `json:"audio_codec,omitempty"`
	VideoBitrate string `json:"video_bitrate,omitempty"`
	AudioBitrate string `json:"audio_bitrate,omitempty"`

	Width    int `json:"width,omitempty"`
	Height   int `json:"height,omitempty"`
	Rotation int `json:"rotation,omitempty"`

	// StartTime and Duration are seconds; nil means untrimmed.
	StartTime *float64 `json:"start_time,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`

	FPS         string `json:"fps,omitempty"`
	Quality     *int   `json:"quality,omitempty"`
	Preset      string `json:"preset,omitempty"`
	Tune        string `json:"tune,omitempty"`
	PixelFormat string `json:"pixel_format,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Channels    int    `json:"channels,omitempty"`
}

// ConversionResult locates a finished output.
type ConversionResult struct {
	OutputID     string `json:"output_id"`
	OutputPath   string `json:"output_path"`
	Filename     string `json:"filename"`
	DownloadPath string `json:"download_path"`
}

// ConversionJob is one queued transcode request.
type ConversionJob struct {
	BaseModel

	// SourceID is matched by prefix against the upload directory.
	SourceID     string            `gorm:"not null;size:255;index" json:"source_id"`
	OutputFormat string            `gorm:"not null;size:64" json:"output_format"`
	Options      ConversionOptions `gorm:"serializer:json;type:text" json:"options"`

	Status   JobStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`
	Progress int       `gorm:"not null;default:0" json:"progress"`

	// AttemptCount counts leases; StallCount counts stall requeues.
	AttemptCount int `gorm:"not null;default:0" json:"attempt_count"`
	StallCount   int `gorm:"not null;default:0" json:"stall_count"`

	LockedBy       string `gorm:"size:100;index" json:"locked_by,omitempty"`
	LeaseToken     string `gorm:"size:36" json:"-"`
	LockedAt       *Time  `json:"locked_at,omitempty"`
	LastProgressAt *Time  `gorm:"index" json:"last_progress_at,omitempty"`

	StartedAt   *Time `json:"started_at,omitempty"`
	CompletedAt *Time `gorm:"index" json:"completed_at,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`

	ErrorKind string `gorm:"size:50" json:"error_kind,omitempty"`
	LastError string `gorm:"type:text" json:"last_error,omitempty"`

	OutputID       string `gorm:"size:36" json:"output_id,omitempty"`
	OutputPath     string `gorm:"size:1024" json:"output_path,omitempty"`
	OutputFilename string `gorm:"size:255" json:"output_filename,omitempty"`
}

// TableName returns the table name for ConversionJob.
func (ConversionJob) TableName() string {
	return "conversion_jobs"
}

// Validate checks the fields a client must supply.
func (j *ConversionJob) Validate() error {
	if strings.TrimSpace(j.SourceID) == "" {
		return ErrSourceIDRequired
	}
	if strings.TrimSpace(j.OutputFormat) == "" {
		return ErrOutputFormatRequired
	}
	if strings.ContainsAny(j.SourceID, `/\`) {
		return ErrValidation{Field: "source_id", Message: "must not contain path separators"}
	}
	if j.Options.Width < 0 || j.Options.Height < 0 {
		return ErrValidation{Field: "options", Message: "width and height must not be negative"}
	}
	return nil
}

// IsFinished returns true if the job reached a terminal state.
func (j *ConversionJob) IsFinished() bool {
	return j.Status.IsTerminal()
}

// Result returns the output location of a completed job, or nil.
func (j *ConversionJob) Result() *ConversionResult {
	if j.Status != JobStatusCompleted || j.OutputID == "" {
		return nil
	}
	return &ConversionResult{
		OutputID:     j.OutputID,
		OutputPath:   j.OutputPath,
		Filename:     j.OutputFilename,
		DownloadPath: DownloadPath(j.OutputFilename),
	}
}

// Elapsed returns how long the job has been (or was) running.
func (j *ConversionJob) Elapsed(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return now.Sub(*j.StartedAt)
}

// DownloadPath is the HTTP path an output file is served under.
func DownloadPath(filename string) string {
	return "/output/" + filename
}

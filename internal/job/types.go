package job

import (
	"context"
	"encoding/json"
	"time"
)

// JobType represents the kind of job
type JobType string

const (
	JobTranscribe JobType = "transcribe"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job represents a queued transcription task
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Status      JobStatus       `json:"status"`
	Source      string          `json:"source"` // original filename or URL
	Params      json.RawMessage `json:"params"`
	Progress    float64         `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// TranscribeParams are parameters for a transcription job
type TranscribeParams struct {
	Engine      string `json:"engine"`       // "gemini", "gemini-inline", "openai"
	ContentType string `json:"content_type"` // MIME type of the staged media
	MediaPath   string `json:"media_path"`   // absolute path of the staged upload
	SizeBytes   uint64 `json:"size_bytes"`
	Parts       int    `json:"parts"`                // planned part count
	Milestones  int    `json:"milestones,omitempty"` // expected progress events, for the progress bar
}

// TranscribeResult is the metadata stored on a completed job. The transcript
// text itself is held by the queue in memory and served from there, so a
// restart clears transcripts but keeps job history.
type TranscribeResult struct {
	Engine     string  `json:"engine"`
	Parts      int     `json:"parts"`
	Characters int     `json:"characters"`
	Duration   float64 `json:"duration"` // processing time in seconds
}

// Event is one progress line recorded while a job ran
type Event struct {
	Seq       int       `json:"seq"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// JobHandler processes a job and returns its transcript. Implementations
// are provided by the transcribe package.
type JobHandler func(ctx context.Context, job *Job, emitEvent func(message string)) (string, error)

package models

import "time"

// JobStatus is the lifecycle state of a ConversionJob.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// ActiveStatuses are the states in which a job still holds or awaits a worker.
var ActiveStatuses = []JobStatus{StatusPending, StatusProcessing}

// IsTerminal reports whether no further transition can leave s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ConversionJob is one document-to-audio request.
type ConversionJob struct {
	ID              string     `json:"id"`
	Filename        string     `json:"filename"`
	Format          string     `json:"format"`
	VoiceID         string     `json:"voiceId,omitempty"`
	Status          JobStatus  `json:"status"`
	Progress        float64    `json:"progress"`
	ChunksTotal     int        `json:"chunksTotal"`
	ChunksCompleted int        `json:"chunksCompleted"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	OutputPath      string     `json:"outputPath,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	TaskID          string     `json:"taskId,omitempty"`
}

// JobUpdate is a field-level change set. Nil fields are left untouched.
type JobUpdate struct {
	Status          *JobStatus
	Progress        *float64
	ChunksTotal     *int
	ChunksCompleted *int
	StartedAt       *time.Time
	CompletedAt     *time.Time
	OutputPath      *string
	ErrorMessage    *string
	TaskID          *string
}

// IsEmpty reports whether the update carries no field.
func (u JobUpdate) IsEmpty() bool {
	return u.Status == nil && u.Progress == nil && u.ChunksTotal == nil &&
		u.ChunksCompleted == nil && u.StartedAt == nil && u.CompletedAt == nil &&
		u.OutputPath == nil && u.ErrorMessage == nil && u.TaskID == nil
}

// Apply copies the non-nil fields of u onto job.
func (u JobUpdate) Apply(job *ConversionJob) {
	if u.Status != nil {
		job.Status = *u.Status
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.ChunksTotal != nil {
		job.ChunksTotal = *u.ChunksTotal
	}
	if u.ChunksCompleted != nil {
		job.ChunksCompleted = *u.ChunksCompleted
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		job.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		job.CompletedAt = &t
	}
	if u.OutputPath != nil {
		job.OutputPath = *u.OutputPath
	}
	if u.ErrorMessage != nil {
		job.ErrorMessage = *u.ErrorMessage
	}
	if u.TaskID != nil {
		job.TaskID = *u.TaskID
	}
}

// TextChunk is one sentence-aligned unit queued for synthesis.
type TextChunk struct {
	Index int
	Text  string
}

// AudioSegment references the synthesized audio of one chunk.
type AudioSegment struct {
	Index int
	Path  string
}

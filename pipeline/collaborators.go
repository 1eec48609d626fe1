package pipeline

import (
	"context"
	"io"

	"voynich/models"
	"voynich/synth"
)

// Repository persists conversion jobs. UpdateJob applies update only while
// the row is in one of the expected statuses (any status when none are
// given) and reports whether a row was changed.
type Repository interface {
	CreateJob(ctx context.Context, job *models.ConversionJob) error
	GetJob(ctx context.Context, id string) (*models.ConversionJob, error)
	UpdateJob(ctx context.Context, id string, update models.JobUpdate, expected ...models.JobStatus) (bool, error)
	ListActiveJobs(ctx context.Context, limit int) ([]models.ConversionJob, error)
}

// TaskExecutor runs Controller.Run for a job somewhere else and can be
// asked to stop it.
type TaskExecutor interface {
	Dispatch(ctx context.Context, jobID string) (handle string, err error)
	Terminate(ctx context.Context, handle string) error
}

// Storage holds uploaded sources and finished narrations.
type Storage interface {
	SaveSource(ctx context.Context, key string, r io.Reader) error
	// FetchSource makes the source available as a local file under dir.
	FetchSource(ctx context.Context, key, dir string) (string, error)
	// PublishOutput moves a finished file into the output store and returns
	// the path recorded on the job.
	PublishOutput(ctx context.Context, localPath, key string) (string, error)
	// RemoveOutput deletes a published narration. A missing one is not an
	// error.
	RemoveOutput(ctx context.Context, key string) error
}

type Extractor interface {
	Supports(format string) bool
	Extract(ctx context.Context, path, format string) (string, error)
}

type Chunker interface {
	Chunk(text string) []models.TextChunk
}

type Synthesizer interface {
	Run(ctx context.Context, jobID string, chunks []models.TextChunk, voice string, onProgress synth.ProgressFunc) ([]models.AudioSegment, error)
}

type Assembler interface {
	Concatenate(ctx context.Context, segments []models.AudioSegment, dest string) error
}

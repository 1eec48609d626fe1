// Package pipeline owns the conversion job lifecycle: it drives a job from
// pending through extraction, chunking, synthesis and assembly, and exposes
// creation, status, listing and cancellation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voynich/extract"
	"voynich/models"
	"voynich/synth"
)

const DefaultActiveLimit = 50

// Config wires a Controller. Executor may be nil when jobs are only run
// directly through Run.
type Config struct {
	Repository  Repository
	Executor    TaskExecutor
	Storage     Storage
	Extractor   Extractor
	Chunker     Chunker
	Synthesizer Synthesizer
	Assembler   Assembler
	Logger      zerolog.Logger
	WorkDir     string
	ActiveLimit int
	Now         func() time.Time
}

type Controller struct {
	repo        Repository
	executor    TaskExecutor
	storage     Storage
	extractor   Extractor
	chunker     Chunker
	synthesizer Synthesizer
	assembler   Assembler
	logger      zerolog.Logger
	workDir     string
	activeLimit int
	now         func() time.Time
}

func NewController(cfg Config) *Controller {
	if cfg.ActiveLimit <= 0 {
		cfg.ActiveLimit = DefaultActiveLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Controller{
		repo:        cfg.Repository,
		executor:    cfg.Executor,
		storage:     cfg.Storage,
		extractor:   cfg.Extractor,
		chunker:     cfg.Chunker,
		synthesizer: cfg.Synthesizer,
		assembler:   cfg.Assembler,
		logger:      cfg.Logger.With().Str("component", "controller").Logger(),
		workDir:     cfg.WorkDir,
		activeLimit: cfg.ActiveLimit,
		now:         cfg.Now,
	}
}

// SetExecutor replaces the task executor. Used when the executor itself
// needs the controller.
func (c *Controller) SetExecutor(e TaskExecutor) { c.executor = e }

// CreateRequest describes an uploaded document.
type CreateRequest struct {
	Filename string
	VoiceID  string
	Source   io.Reader
}

// SourceKey is the storage key of a job's uploaded document.
func SourceKey(job *models.ConversionJob) string {
	return job.ID + job.Format
}

// OutputKey is the storage key of a job's narration.
func OutputKey(job *models.ConversionJob) string {
	base := strings.TrimSuffix(filepath.Base(job.Filename), filepath.Ext(job.Filename))
	if base == "" || base == "." {
		base = "output"
	}
	return job.ID + "/" + base + ".mp3"
}

// Create stores the source, persists a pending job and hands it to the
// executor. A dispatch failure leaves the job failed and is returned along
// with the job.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (*models.ConversionJob, error) {
	format := extract.Format(req.Filename)
	if !c.extractor.Supports(format) {
		return nil, &StageError{Kind: KindUnsupportedFormat, Message: fmt.Sprintf("unsupported format %q", format)}
	}

	job := &models.ConversionJob{
		ID:        uuid.NewString(),
		Filename:  filepath.Base(req.Filename),
		Format:    format,
		VoiceID:   req.VoiceID,
		Status:    models.StatusPending,
		CreatedAt: c.now().UTC(),
	}

	if err := c.storage.SaveSource(ctx, SourceKey(job), req.Source); err != nil {
		return nil, fmt.Errorf("failed to store source: %w", err)
	}
	if err := c.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	log := c.logger.With().Str("job_id", job.ID).Logger()

	if c.executor == nil {
		return job, nil
	}

	handle, err := c.executor.Dispatch(ctx, job.ID)
	if err != nil {
		msg := fmt.Sprintf("dispatch failed: %v", err)
		status := models.StatusFailed
		update := models.JobUpdate{Status: &status, ErrorMessage: &msg}
		if _, uerr := c.repo.UpdateJob(context.WithoutCancel(ctx), job.ID, update, models.StatusPending); uerr != nil {
			log.Error().Err(uerr).Msg("Failed to record dispatch failure")
		}
		update.Apply(job)
		log.Error().Err(err).Msg("Job dispatch failed")
		return job, fmt.Errorf("failed to dispatch job: %w", err)
	}

	if _, err := c.repo.UpdateJob(ctx, job.ID, models.JobUpdate{TaskID: &handle}); err != nil {
		log.Warn().Err(err).Msg("Failed to record task handle")
	} else {
		job.TaskID = handle
	}

	log.Info().Str("filename", job.Filename).Str("task", handle).Msg("Job created")
	return job, nil
}

// Status returns the job with its ETA.
func (c *Controller) Status(ctx context.Context, id string) (*StatusReport, error) {
	job, err := c.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return newStatusReport(job, c.now()), nil
}

// ListActive returns pending and processing jobs, newest first.
func (c *Controller) ListActive(ctx context.Context) ([]StatusReport, error) {
	jobs, err := c.repo.ListActiveJobs(ctx, c.activeLimit)
	if err != nil {
		return nil, err
	}
	now := c.now()
	reports := make([]StatusReport, 0, len(jobs))
	for i := range jobs {
		reports = append(reports, *newStatusReport(&jobs[i], now))
	}
	return reports, nil
}

// Cancel moves a pending or processing job to cancelled and asks the
// executor to stop it. A synthesis call already in flight finishes first.
func (c *Controller) Cancel(ctx context.Context, id string) (*models.ConversionJob, error) {
	job, err := c.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}

	status := models.StatusCancelled
	applied, err := c.repo.UpdateJob(ctx, id, models.JobUpdate{Status: &status}, models.ActiveStatuses...)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}
	if !applied {
		// Finished between the read and the write.
		current, err := c.repo.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, current.Status)
	}
	job.Status = status

	log := c.logger.With().Str("job_id", id).Logger()
	if c.executor != nil && job.TaskID != "" {
		if err := c.executor.Terminate(ctx, job.TaskID); err != nil {
			log.Warn().Err(err).Str("task", job.TaskID).Msg("Failed to signal task termination")
		}
	}

	log.Info().Msg("Job cancelled")
	return job, nil
}

// Run executes a pending job to a terminal state. It returns an error only
// when the job could not be loaded or claimed or its final state could not
// be recorded; stage failures are recorded on the job instead.
func (c *Controller) Run(ctx context.Context, id string) error {
	job, err := c.repo.GetJob(ctx, id)
	if err != nil {
		return err
	}

	log := c.logger.With().Str("job_id", id).Logger()

	if job.Status != models.StatusPending {
		if job.Status.IsTerminal() {
			log.Info().Str("status", string(job.Status)).Msg("Job already finished, skipping")
			return nil
		}
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
	}

	started := c.now().UTC()
	status := models.StatusProcessing
	applied, err := c.repo.UpdateJob(ctx, id, models.JobUpdate{Status: &status, StartedAt: &started}, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	if !applied {
		log.Info().Msg("Job left pending before start, skipping")
		return nil
	}
	job.Status = status
	job.StartedAt = &started

	log.Info().Str("filename", job.Filename).Msg("Processing job")

	outputPath, runErr := c.execute(ctx, job, log)
	return c.finish(ctx, job, outputPath, runErr, log)
}

func (c *Controller) execute(ctx context.Context, job *models.ConversionJob, log zerolog.Logger) (string, error) {
	jobDir := filepath.Join(c.workDir, job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", &StageError{Kind: KindInternal, Message: "create work dir", Err: err}
	}
	defer os.RemoveAll(jobDir)

	sourcePath, err := c.storage.FetchSource(ctx, SourceKey(job), jobDir)
	if err != nil {
		return "", stageError(KindExtractionFailed, fmt.Errorf("fetch source: %w", err))
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := c.extractor.Extract(ctx, sourcePath, job.Format)
	if err != nil {
		return "", stageError(KindExtractionFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	chunks := c.chunker.Chunk(text)
	if len(chunks) == 0 {
		return "", &StageError{Kind: KindExtractionFailed, Message: "no readable text found in document"}
	}

	total := len(chunks)
	zero := 0
	applied, err := c.repo.UpdateJob(ctx, job.ID, models.JobUpdate{ChunksTotal: &total, ChunksCompleted: &zero}, models.StatusProcessing)
	if err != nil {
		return "", stageError(KindInternal, err)
	}
	if !applied {
		return "", errStopped
	}
	job.ChunksTotal = total

	log.Info().Int("chunks", total).Int("chars", len(text)).Msg("Text chunked")

	segments, err := c.synthesizer.Run(ctx, job.ID, chunks, job.VoiceID, c.progressRecorder(ctx, job))
	if err != nil {
		synth.RemoveSegments(segments)
		return "", stageError(KindSynthesisFailed, err)
	}

	if err := ctx.Err(); err != nil {
		synth.RemoveSegments(segments)
		return "", err
	}

	local := filepath.Join(jobDir, filepath.Base(OutputKey(job)))
	if err := c.assembler.Concatenate(ctx, segments, local); err != nil {
		synth.RemoveSegments(segments)
		return "", stageError(KindAssemblyFailed, err)
	}

	outputPath, err := c.storage.PublishOutput(ctx, local, OutputKey(job))
	if err != nil {
		return "", &StageError{Kind: KindAssemblyFailed, Message: "publish output", Err: err}
	}
	return outputPath, nil
}

// progressRecorder persists chunk progress before the next chunk starts.
// The last chunk's 100% is written together with the completed status.
func (c *Controller) progressRecorder(ctx context.Context, job *models.ConversionJob) synth.ProgressFunc {
	return func(completed, total int, progress float64) error {
		update := models.JobUpdate{ChunksCompleted: &completed}
		if completed < total {
			update.Progress = &progress
		}
		applied, err := c.repo.UpdateJob(ctx, job.ID, update, models.StatusProcessing)
		if err != nil {
			return err
		}
		if !applied {
			return errStopped
		}
		update.Apply(job)
		return nil
	}
}

func (c *Controller) finish(ctx context.Context, job *models.ConversionJob, outputPath string, runErr error, log zerolog.Logger) error {
	// The job context may already be done; final writes must still land.
	ctx = context.WithoutCancel(ctx)

	if runErr == nil {
		status := models.StatusCompleted
		progress := 100.0
		completedAt := c.now().UTC()
		update := models.JobUpdate{
			Status:          &status,
			Progress:        &progress,
			ChunksCompleted: &job.ChunksTotal,
			CompletedAt:     &completedAt,
			OutputPath:      &outputPath,
		}
		applied, err := c.repo.UpdateJob(ctx, job.ID, update, models.StatusProcessing)
		if err != nil {
			return fmt.Errorf("failed to complete job: %w", err)
		}
		if !applied {
			if err := c.storage.RemoveOutput(ctx, OutputKey(job)); err != nil {
				log.Error().Err(err).Str("output", outputPath).Msg("Failed to remove output of cancelled job")
				return nil
			}
			log.Warn().Str("output", outputPath).Msg("Job was cancelled during assembly, output removed")
			return nil
		}
		log.Info().Str("output", outputPath).Msg("Job completed")
		return nil
	}

	kind := KindOf(runErr)
	switch {
	case errors.Is(runErr, errStopped):
		log.Info().Msg("Job stopped after status change")
		return nil
	case errors.Is(runErr, context.Canceled):
		status := models.StatusCancelled
		if _, err := c.repo.UpdateJob(ctx, job.ID, models.JobUpdate{Status: &status}, models.StatusProcessing); err != nil {
			return fmt.Errorf("failed to record cancellation: %w", err)
		}
		log.Info().Msg("Job cancelled while processing")
		return nil
	case errors.Is(runErr, context.DeadlineExceeded):
		kind = KindInternal
		runErr = &StageError{Kind: kind, Message: "conversion timed out", Err: runErr}
	}

	msg := runErr.Error()
	status := models.StatusFailed
	applied, err := c.repo.UpdateJob(ctx, job.ID, models.JobUpdate{Status: &status, ErrorMessage: &msg}, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to record job failure: %w", err)
	}
	if applied {
		log.Error().Str("kind", string(kind)).Str("error", msg).Msg("Job failed")
	}
	return nil
}

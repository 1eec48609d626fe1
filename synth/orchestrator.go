package synth

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"voynich/models"
)

// ProgressFunc is called after each chunk is written. Returning an error
// stops the run before the next chunk starts.
type ProgressFunc func(completed, total int, progress float64) error

// Orchestrator synthesizes chunks one at a time, in index order.
type Orchestrator struct {
	engine  Engine
	workDir string
	logger  zerolog.Logger
}

func NewOrchestrator(engine Engine, workDir string, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		engine:  engine,
		workDir: workDir,
		logger:  logger.With().Str("component", "synth").Logger(),
	}
}

// SegmentPath is where the audio for one chunk of a job is written.
func (o *Orchestrator) SegmentPath(jobID string, index int) string {
	return filepath.Join(o.workDir, fmt.Sprintf("chunk_%s_%d.mp3", jobID, index))
}

// Progress is the percentage reached after completed of total chunks.
func Progress(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

// Run writes one segment per chunk. On failure the segments produced so far
// are returned alongside the error so the caller can remove them.
func (o *Orchestrator) Run(ctx context.Context, jobID string, chunks []models.TextChunk, voice string, onProgress ProgressFunc) ([]models.AudioSegment, error) {
	if err := os.MkdirAll(o.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create work dir: %v", ErrSynthesisFailed, err)
	}

	segments := make([]models.AudioSegment, 0, len(chunks))
	total := len(chunks)

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return segments, err
		}

		path := o.SegmentPath(jobID, chunk.Index)
		if err := o.synthesizeChunk(ctx, chunk.Text, voice, path); err != nil {
			if ctx.Err() != nil {
				return segments, ctx.Err()
			}
			return segments, fmt.Errorf("%w: chunk %d of %d: %v", ErrSynthesisFailed, i+1, total, err)
		}
		segments = append(segments, models.AudioSegment{Index: chunk.Index, Path: path})

		o.logger.Debug().
			Str("job_id", jobID).
			Int("chunk", i+1).
			Int("total", total).
			Msg("Chunk synthesized")

		if onProgress != nil {
			if err := onProgress(i+1, total, Progress(i+1, total)); err != nil {
				return segments, err
			}
		}
	}

	return segments, nil
}

func (o *Orchestrator) synthesizeChunk(ctx context.Context, text, voice, path string) error {
	audio, err := o.engine.Synthesize(ctx, text, voice)
	if err != nil {
		return err
	}
	defer audio.Close()

	out, err := os.Create(path)
	if err != nil {
		return err
	}

	n, err := io.Copy(out, audio)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("engine returned empty audio")
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// RemoveSegments deletes segment files, ignoring ones already gone.
func RemoveSegments(segments []models.AudioSegment) {
	for _, s := range segments {
		os.Remove(s.Path)
	}
}

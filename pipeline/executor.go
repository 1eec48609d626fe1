package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunFunc executes one job to completion.
type RunFunc func(ctx context.Context, jobID string) error

// LocalExecutor runs jobs on goroutines in the current process. Terminate
// cancels the job's context, which the controller checks between stages
// and chunks.
type LocalExecutor struct {
	run    RunFunc
	logger zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewLocalExecutor(run RunFunc, logger zerolog.Logger) *LocalExecutor {
	return &LocalExecutor{
		run:     run,
		logger:  logger.With().Str("component", "local-executor").Logger(),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Dispatch starts the job. The run outlives ctx.
func (e *LocalExecutor) Dispatch(ctx context.Context, jobID string) (string, error) {
	if e.run == nil {
		return "", fmt.Errorf("executor has no run function")
	}

	handle := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	e.mu.Lock()
	e.cancels[handle] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.forget(handle)

		if err := e.run(runCtx, jobID); err != nil {
			e.logger.Error().Err(err).Str("job_id", jobID).Msg("Job run failed")
		}
	}()

	return handle, nil
}

func (e *LocalExecutor) Terminate(_ context.Context, handle string) error {
	e.mu.Lock()
	cancel, ok := e.cancels[handle]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Wait blocks until every dispatched job has returned.
func (e *LocalExecutor) Wait() {
	e.wg.Wait()
}

func (e *LocalExecutor) forget(handle string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.cancels[handle]; ok {
		cancel()
		delete(e.cancels, handle)
	}
}

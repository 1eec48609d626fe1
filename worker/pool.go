package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"voynich/config"
	"voynich/models"
)

const (
	claimWait       = 30 * time.Second
	redisErrorPause = 5 * time.Second
	lostWorkerError = "worker lost while processing the job"
)

// JobRunner executes one job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// JobStore is the part of the job repository the pool needs for metrics and
// for failing jobs whose worker disappeared.
type JobStore interface {
	GetJob(ctx context.Context, id string) (*models.ConversionJob, error)
	UpdateJob(ctx context.Context, id string, update models.JobUpdate, expected ...models.JobStatus) (bool, error)
}

type Pool struct {
	queue        *Queue
	runner       JobRunner
	jobs         JobStore
	metrics      *Metrics
	logger       zerolog.Logger
	heartbeatTTL time.Duration
	recoverEvery time.Duration
	claimWait    time.Duration

	// suspects are handles seen without a heartbeat on the previous
	// recovery pass.
	suspects map[string]struct{}
}

func NewPool(cfg *config.Config, queue *Queue, runner JobRunner, jobs JobStore, metrics *Metrics, logger zerolog.Logger) *Pool {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	heartbeat := cfg.HeartbeatTTL
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	recoverEvery := cfg.RecoveryEvery
	if recoverEvery <= 0 {
		recoverEvery = time.Minute
	}
	return &Pool{
		queue:        queue,
		runner:       runner,
		jobs:         jobs,
		metrics:      metrics,
		logger:       logger.With().Str("component", "worker").Logger(),
		heartbeatTTL: heartbeat,
		recoverEvery: recoverEvery,
		claimWait:    claimWait,
		suspects:     make(map[string]struct{}),
	}
}

func (p *Pool) StartWorker(ctx context.Context, workerID int) {
	log := p.logger.With().Int("worker", workerID).Logger()
	log.Info().Msg("Starting")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down")
			return
		default:
		}

		task, raw, err := p.queue.Claim(ctx, p.claimWait)
		switch {
		case errors.Is(err, errNoTask):
			continue
		case ctx.Err() != nil:
			continue
		case err != nil && raw != "":
			log.Error().Err(err).Msg("Dropping malformed task")
			p.queue.Ack(ctx, raw)
			continue
		case err != nil:
			log.Error().Err(err).Msg("Redis error")
			sleep(ctx, redisErrorPause)
			continue
		}

		p.processTask(ctx, log, task, raw)
	}
}

// processTask runs one claimed task. The job keeps running through a
// graceful shutdown; only revocation or the task timeout stop it early.
func (p *Pool) processTask(ctx context.Context, log zerolog.Logger, task *models.Task, raw string) {
	base := context.WithoutCancel(ctx)
	log = log.With().Str("job_id", task.JobID).Str("task", task.Handle).Logger()
	defer p.queue.Ack(base, raw)

	if err := p.queue.Heartbeat(base, task.Handle, p.heartbeatTTL); err != nil {
		log.Warn().Err(err).Msg("Failed to write heartbeat")
	}

	if revoked, err := p.queue.IsRevoked(base, task.Handle); err == nil && revoked {
		log.Info().Msg("Task revoked before start, skipping")
		p.queue.ClearHeartbeat(base, task.Handle)
		p.metrics.jobsFinished.WithLabelValues("skipped").Inc()
		return
	}

	timeout := time.Duration(task.Timeout) * time.Second
	if timeout <= 0 {
		timeout = time.Hour
	}
	jobCtx, cancel := context.WithTimeout(base, timeout)
	defer cancel()

	watchDone := make(chan struct{})
	go p.watch(jobCtx, log, task.Handle, cancel, watchDone)

	p.metrics.busyWorkers.Inc()
	start := time.Now()
	log.Info().Msg("Processing task")

	if err := p.runner.Run(jobCtx, task.JobID); err != nil {
		log.Error().Err(err).Msg("Job run returned an error")
	}

	cancel()
	<-watchDone
	p.metrics.busyWorkers.Dec()
	p.queue.ClearHeartbeat(base, task.Handle)

	status := "unknown"
	if job, err := p.jobs.GetJob(base, task.JobID); err == nil {
		status = string(job.Status)
	}
	duration := time.Since(start)
	p.metrics.jobsFinished.WithLabelValues(status).Inc()
	p.metrics.jobDuration.WithLabelValues(status).Observe(duration.Seconds())

	log.Info().Str("status", status).Dur("duration", duration).Msg("Task finished")
}

// watch refreshes the heartbeat and cancels the job once its handle is
// revoked. It returns when ctx is done.
func (p *Pool) watch(ctx context.Context, log zerolog.Logger, handle string, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bg := context.WithoutCancel(ctx)
			if err := p.queue.Heartbeat(bg, handle, p.heartbeatTTL); err != nil {
				log.Warn().Err(err).Msg("Failed to write heartbeat")
			}
			if revoked, err := p.queue.IsRevoked(bg, handle); err == nil && revoked {
				log.Info().Msg("Task revoked, stopping job")
				cancel()
				return
			}
		}
	}
}

func (p *Pool) pollInterval() time.Duration {
	interval := p.heartbeatTTL / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

func (p *Pool) RecoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(p.recoverEvery)
	defer ticker.Stop()

	p.logger.Info().Msg("Starting stale task recovery loop")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Recovery loop shutting down")
			return
		case <-ticker.C:
			p.recoverStaleTasks(ctx)
		}
	}
}

// recoverStaleTasks fails jobs whose task sits on the processing list with
// no live heartbeat on two consecutive passes. A task claimed moments ago
// may not have written its first heartbeat yet, so one miss only marks it
// as a suspect. Jobs are not retried.
func (p *Pool) recoverStaleTasks(ctx context.Context) int {
	payloads, err := p.queue.InFlight(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to read processing list")
		return 0
	}

	suspects := make(map[string]struct{})
	defer func() { p.suspects = suspects }()

	recovered := 0
	for _, raw := range payloads {
		var task models.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			p.queue.Ack(ctx, raw)
			continue
		}

		if time.Since(task.EnqueuedAt) < p.heartbeatTTL {
			continue
		}
		alive, err := p.queue.Alive(ctx, task.Handle)
		if err != nil || alive {
			continue
		}
		if _, seen := p.suspects[task.Handle]; !seen {
			suspects[task.Handle] = struct{}{}
			continue
		}

		if err := p.queue.Ack(ctx, raw); err != nil {
			continue
		}

		status := models.StatusFailed
		msg := lostWorkerError
		_, err = p.jobs.UpdateJob(ctx, task.JobID, models.JobUpdate{Status: &status, ErrorMessage: &msg}, models.ActiveStatuses...)
		if err != nil {
			p.logger.Error().Err(err).Str("job_id", task.JobID).Msg("Failed to fail stale job")
			continue
		}
		p.metrics.recovered.Inc()
		recovered++
	}

	if recovered > 0 {
		p.logger.Info().Int("recovered", recovered).Msg("Recovered stale tasks")
	}
	return recovered
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

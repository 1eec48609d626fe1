package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"voynich/config"
	"voynich/models"
)

const revokeTTL = 24 * time.Hour

// Queue is the Redis-backed task executor. Dispatch pushes a task onto the
// pending list; workers move it to the processing list while they run it.
// Terminate marks a handle revoked, which a worker observes at its next
// poll.
type Queue struct {
	client     *redis.Client
	pending    string
	processing string
	prefix     string
	timeout    int
}

func NewQueue(client *redis.Client, cfg *config.Config) *Queue {
	return &Queue{
		client:     client,
		pending:    cfg.PendingQueue,
		processing: cfg.ProcessingQueue,
		prefix:     cfg.RedisPrefix,
		timeout:    cfg.ConversionTimeout,
	}
}

func (q *Queue) revokedKey(handle string) string {
	return fmt.Sprintf("%sconversion:revoked:%s", q.prefix, handle)
}

func (q *Queue) heartbeatKey(handle string) string {
	return fmt.Sprintf("%sconversion:heartbeat:%s", q.prefix, handle)
}

func (q *Queue) Dispatch(ctx context.Context, jobID string) (string, error) {
	task := models.Task{
		Handle:     uuid.NewString(),
		JobID:      jobID,
		EnqueuedAt: time.Now().UTC(),
		Timeout:    q.timeout,
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.pending, payload).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return task.Handle, nil
}

func (q *Queue) Terminate(ctx context.Context, handle string) error {
	return q.client.Set(ctx, q.revokedKey(handle), "1", revokeTTL).Err()
}

func (q *Queue) IsRevoked(ctx context.Context, handle string) (bool, error) {
	n, err := q.client.Exists(ctx, q.revokedKey(handle)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// errNoTask is returned by Claim when the wait elapsed with nothing queued.
var errNoTask = errors.New("no task available")

// Claim atomically moves the oldest pending task to the processing list.
// The raw payload is what Ack later removes.
func (q *Queue) Claim(ctx context.Context, wait time.Duration) (*models.Task, string, error) {
	raw, err := q.client.BRPopLPush(ctx, q.pending, q.processing, wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", errNoTask
	}
	if err != nil {
		return nil, "", err
	}

	var task models.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, raw, fmt.Errorf("failed to parse task: %w", err)
	}
	return &task, raw, nil
}

// Ack removes a claimed task from the processing list.
func (q *Queue) Ack(ctx context.Context, raw string) error {
	return q.client.LRem(ctx, q.processing, 1, raw).Err()
}

func (q *Queue) Heartbeat(ctx context.Context, handle string, ttl time.Duration) error {
	return q.client.Set(ctx, q.heartbeatKey(handle), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

func (q *Queue) ClearHeartbeat(ctx context.Context, handle string) error {
	return q.client.Del(ctx, q.heartbeatKey(handle)).Err()
}

func (q *Queue) Alive(ctx context.Context, handle string) (bool, error) {
	n, err := q.client.Exists(ctx, q.heartbeatKey(handle)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InFlight lists the raw payloads on the processing list.
func (q *Queue) InFlight(ctx context.Context) ([]string, error) {
	return q.client.LRange(ctx, q.processing, 0, -1).Result()
}

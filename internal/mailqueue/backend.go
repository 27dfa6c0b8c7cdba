package mailqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend stores pending jobs between Enqueue and a worker picking them up.
type Backend interface {
	Push(ctx context.Context, job Job) error
	// Pop blocks until a job is available or ctx is done. The job stays
	// claimed until Ack.
	Pop(ctx context.Context) (Job, error)
	// Ack releases a popped job once it completed or was recorded as failed.
	Ack(ctx context.Context, job Job) error
	// Fail records a job that exhausted its attempts.
	Fail(ctx context.Context, job Job, reason string) error
}

// FailedJob is a dead-lettered job.
type FailedJob struct {
	Job Job `json:"job"`
	// Payload holds the raw entry when it could not be decoded into Job.
	Payload  string    `json:"payload,omitempty"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failedAt"`
}

// MemoryBackend is an in-process buffered channel. Jobs do not survive a restart.
type MemoryBackend struct {
	ch chan Job

	mu     sync.Mutex
	failed []FailedJob
}

func NewMemoryBackend(buffer int) *MemoryBackend {
	if buffer <= 0 {
		buffer = 1
	}
	return &MemoryBackend{ch: make(chan Job, buffer)}
}

// Push never blocks; a full buffer reports ErrQueueFull.
func (b *MemoryBackend) Push(ctx context.Context, job Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.ch <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *MemoryBackend) Pop(ctx context.Context) (Job, error) {
	select {
	case <-ctx.Done():
		return Job{}, ctx.Err()
	case job := <-b.ch:
		return job, nil
	}
}

func (b *MemoryBackend) Ack(context.Context, Job) error { return nil }

func (b *MemoryBackend) Fail(_ context.Context, job Job, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = append(b.failed, FailedJob{Job: job, Reason: reason, FailedAt: time.Now().UTC()})
	return nil
}

// Failed returns a copy of the dead-lettered jobs.
func (b *MemoryBackend) Failed() []FailedJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]FailedJob, len(b.failed))
	copy(out, b.failed)
	return out
}

// RedisBackend keeps jobs in Redis lists so they survive restarts and can be
// shared by several service instances. A popped job moves to
// <name>:processing until it is acknowledged.
type RedisBackend struct {
	client        redis.UniversalClient
	jobsKey       string
	processingKey string
	failedKey     string
	pollTimeout   time.Duration
}

func NewRedisBackend(client redis.UniversalClient, name string) *RedisBackend {
	return &RedisBackend{
		client:        client,
		jobsKey:       name + ":jobs",
		processingKey: name + ":processing",
		failedKey:     name + ":failed",
		pollTimeout:   2 * time.Second,
	}
}

func (b *RedisBackend) Push(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := b.client.LPush(ctx, b.jobsKey, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

func (b *RedisBackend) Pop(ctx context.Context) (Job, error) {
	for {
		raw, err := b.client.BLMove(ctx, b.jobsKey, b.processingKey, "RIGHT", "LEFT", b.pollTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if ctx.Err() != nil {
					return Job{}, ctx.Err()
				}
				continue
			}
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			return Job{}, fmt.Errorf("pop job: %w", err)
		}
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return Job{}, b.deadLetter(ctx, raw, err)
		}
		job.raw = raw
		return job, nil
	}
}

// deadLetter moves an undecodable entry from processing to the failed list.
func (b *RedisBackend) deadLetter(ctx context.Context, raw string, cause error) error {
	err := fmt.Errorf("%w: %v", ErrInvalidJob, cause)
	payload, merr := json.Marshal(FailedJob{Payload: raw, Reason: err.Error(), FailedAt: time.Now().UTC()})
	if merr != nil {
		return errors.Join(err, merr)
	}
	_, perr := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, b.failedKey, payload)
		p.LRem(ctx, b.processingKey, 1, raw)
		return nil
	})
	if perr != nil {
		return errors.Join(err, fmt.Errorf("dead-letter job: %w", perr))
	}
	return err
}

func (b *RedisBackend) Ack(ctx context.Context, job Job) error {
	if job.raw == "" {
		return nil
	}
	if err := b.client.LRem(ctx, b.processingKey, 1, job.raw).Err(); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

// Requeue moves every claimed but unacknowledged job back to the pending
// list, oldest first. Run calls it before starting workers.
func (b *RedisBackend) Requeue(ctx context.Context) (int, error) {
	n := 0
	for {
		err := b.client.LMove(ctx, b.processingKey, b.jobsKey, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("requeue jobs: %w", err)
		}
		n++
	}
}

func (b *RedisBackend) Fail(ctx context.Context, job Job, reason string) error {
	payload, err := json.Marshal(FailedJob{Job: job, Reason: reason, FailedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode failed job: %w", err)
	}
	if err := b.client.LPush(ctx, b.failedKey, payload).Err(); err != nil {
		return fmt.Errorf("record failed job: %w", err)
	}
	return nil
}

package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// Config controls the queue and its workers.
type Config struct {
	Enabled      bool          `env:"QUEUE_ENABLED" envDefault:"true"`
	Name         string        `env:"QUEUE_NAME" envDefault:"auth-email"`
	Backend      string        `env:"QUEUE_BACKEND" envDefault:"memory"`
	Concurrency  int           `env:"QUEUE_CONCURRENCY" envDefault:"10"`
	MaxAttempts  int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3"`
	Buffer       int           `env:"QUEUE_BUFFER" envDefault:"256"`
	RetryInitial time.Duration `env:"QUEUE_RETRY_INITIAL" envDefault:"2s"`
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Processor performs the work for one job. Returning an error wrapped with
// Permanent stops retries.
type Processor interface {
	Process(ctx context.Context, job Job) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job Job) error

func (f ProcessorFunc) Process(ctx context.Context, job Job) error { return f(ctx, job) }

// Permanent marks err as not worth retrying.
func Permanent(err error) error { return backoff.Permanent(err) }

// Queue accepts jobs and runs a bounded worker pool over a Backend.
type Queue struct {
	cfg     Config
	backend Backend
	proc    Processor
	log     *zap.Logger

	mu        sync.RWMutex
	observers []Observer
}

func New(cfg Config, backend Backend, proc Processor, log *zap.Logger) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{cfg: cfg, backend: backend, proc: proc, log: log.Named("mailqueue")}
}

// Observe registers an observer for lifecycle events.
func (q *Queue) Observe(o Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observers = append(q.observers, o)
}

func (q *Queue) emit(ev Event) {
	fields := []zap.Field{
		zap.String("job_id", ev.Job.ID),
		zap.String("kind", string(ev.Job.Kind)),
		zap.Int("attempt", ev.Attempt),
	}
	switch ev.Type {
	case EventFailed:
		q.log.Error("job failed", append(fields, zap.Error(ev.Err))...)
	case EventRetrying:
		q.log.Warn("job retrying", append(fields, zap.Error(ev.Err))...)
	default:
		q.log.Debug("job "+string(ev.Type), fields...)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, o := range q.observers {
		o(ev)
	}
}

// Enqueue hands job to the backend and returns its id. It never waits for
// delivery. EventAdded precedes any worker event for the job; a rejected push
// follows it with EventFailed.
func (q *Queue) Enqueue(ctx context.Context, job Job) (string, error) {
	if job.Kind == "" || job.Recipient == "" {
		return "", ErrInvalidJob
	}
	if job.ID == "" {
		job.ID = utilities.NewKSUID()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	q.emit(Event{Type: EventAdded, Job: job})
	if err := q.backend.Push(ctx, job); err != nil {
		err = fmt.Errorf("enqueue %s: %w", job.Kind, err)
		q.emit(Event{Type: EventFailed, Job: job, Err: err})
		return "", err
	}
	return job.ID, nil
}

// Run starts the workers and blocks until ctx is cancelled. Jobs already
// being delivered are allowed to finish.
func (q *Queue) Run(ctx context.Context) error {
	q.log.Info("mail workers starting",
		zap.String("queue", q.cfg.Name),
		zap.Int("concurrency", q.cfg.Concurrency),
		zap.Int("max_attempts", q.cfg.MaxAttempts),
	)
	if r, ok := q.backend.(requeuer); ok {
		n, err := r.Requeue(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			q.log.Warn("requeued unacknowledged jobs", zap.Int("count", n))
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.cfg.Concurrency; i++ {
		g.Go(func() error {
			q.work(gctx)
			return nil
		})
	}
	err := g.Wait()
	q.log.Info("mail workers stopped")
	return err
}

// requeuer is implemented by backends that hold claimed jobs across restarts.
type requeuer interface {
	Requeue(ctx context.Context) (int, error)
}

func (q *Queue) work(ctx context.Context) {
	for {
		job, err := q.backend.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrInvalidJob) {
				q.log.Error("dropped undecodable job", zap.Error(err))
				continue
			}
			q.log.Warn("pop job failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		q.handle(context.WithoutCancel(ctx), job)
	}
}

// handle runs one job through the retry policy.
func (q *Queue) handle(ctx context.Context, job Job) {
	attempt := 0
	q.emit(Event{Type: EventActive, Job: job, Attempt: 1})

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = q.cfg.RetryInitial

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, q.proc.Process(ctx, job)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(q.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			q.emit(Event{Type: EventRetrying, Job: job, Attempt: attempt, Err: err})
		}),
	)
	if err != nil {
		if ferr := q.backend.Fail(ctx, job, err.Error()); ferr != nil {
			q.log.Error("record failed job", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		q.ack(ctx, job)
		q.emit(Event{Type: EventFailed, Job: job, Attempt: attempt, Err: err})
		return
	}
	q.ack(ctx, job)
	q.emit(Event{Type: EventCompleted, Job: job, Attempt: attempt})
}

func (q *Queue) ack(ctx context.Context, job Job) {
	if err := q.backend.Ack(ctx, job); err != nil {
		q.log.Error("ack job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

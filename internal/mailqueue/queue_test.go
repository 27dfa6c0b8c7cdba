package mailqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/otp"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) count(t EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (l *eventLog) last(t EventType) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == t {
			return l.events[i], true
		}
	}
	return Event{}, false
}

func testConfig() Config {
	return Config{Enabled: true, Name: "test", Concurrency: 10, MaxAttempts: 3, Buffer: 64, RetryInitial: time.Millisecond}
}

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestEnqueueAssignsIDAndEmitsAdded(t *testing.T) {
	backend := NewMemoryBackend(4)
	q := New(testConfig(), backend, ProcessorFunc(func(context.Context, Job) error { return nil }), zap.NewNop())
	log := &eventLog{}
	q.Observe(log.observe)

	id, err := q.Enqueue(context.Background(), ResetJob("a@x.com", "tok"))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, 1, log.count(EventAdded))

	_, err = q.Enqueue(context.Background(), Job{Kind: KindResetEmail})
	require.ErrorIs(t, err, ErrInvalidJob)
}

func TestEnqueueFailsFastWhenFull(t *testing.T) {
	q := New(testConfig(), NewMemoryBackend(1), ProcessorFunc(func(context.Context, Job) error { return nil }), zap.NewNop())
	log := &eventLog{}
	q.Observe(log.observe)

	_, err := q.Enqueue(context.Background(), ResetJob("a@x.com", "t1"))
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), ResetJob("b@x.com", "t2"))
	require.ErrorIs(t, err, ErrQueueFull)

	ev, ok := log.last(EventFailed)
	require.True(t, ok)
	require.Equal(t, "t2", ev.Job.ResetToken)
	require.ErrorIs(t, ev.Err, ErrQueueFull)
}

func TestAddedPrecedesWorkerEvents(t *testing.T) {
	q := New(testConfig(), NewMemoryBackend(64), ProcessorFunc(func(context.Context, Job) error { return nil }), zap.NewNop())
	log := &eventLog{}
	q.Observe(log.observe)
	startQueue(t, q)

	for i := 0; i < 20; i++ {
		_, err := q.Enqueue(context.Background(), ResetJob("a@x.com", "tok"))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return log.count(EventCompleted) == 20 }, 2*time.Second, 5*time.Millisecond)

	log.mu.Lock()
	defer log.mu.Unlock()
	seen := map[string]bool{}
	for _, ev := range log.events {
		if ev.Type == EventAdded {
			seen[ev.Job.ID] = true
			continue
		}
		require.True(t, seen[ev.Job.ID], "%s before added for %s", ev.Type, ev.Job.ID)
	}
}

func TestWorkersProcessJobs(t *testing.T) {
	var processed atomic.Int32
	q := New(testConfig(), NewMemoryBackend(64), ProcessorFunc(func(context.Context, Job) error {
		processed.Add(1)
		return nil
	}), zap.NewNop())
	log := &eventLog{}
	q.Observe(log.observe)
	startQueue(t, q)

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(context.Background(), ResetJob("a@x.com", "tok"))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return log.count(EventCompleted) == 5 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int32(5), processed.Load())
	require.Equal(t, 5, log.count(EventActive))
}

func TestConcurrencyIsBounded(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	q := New(testConfig(), NewMemoryBackend(64), ProcessorFunc(func(context.Context, Job) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return nil
	}), zap.NewNop())
	log := &eventLog{}
	q.Observe(log.observe)
	startQueue(t, q)

	for i := 0; i < 25; i++ {
		_, err := q.Enqueue(context.Background(), ResetJob("a@x.com", "tok"))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return inFlight.Load() == 10 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	require.Eventually(t, func() bool { return log.count(EventCompleted) == 25 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int32(10), peak.Load())
}

func TestRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	q := New(testConfig(), NewMemoryBackend(4), ProcessorFunc(func(context.Context, Job) error {
		if calls.Add(1) < 3 {
			return errors.New("smtp unavailable")
		}
		return nil
	}), zap.NewNop())
	log := &eventLog{}
	q.Observe(log.observe)
	startQueue(t, q)

	_, err := q.Enqueue(context.Background(), ResetJob("a@x.com", "tok"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return log.count(EventCompleted) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 2, log.count(EventRetrying))
	ev, _ := log.last(EventCompleted)
	require.Equal(t, 3, ev.Attempt)
}

func TestExhaustedJobIsRecordedAsFailed(t *testing.T) {
	backend := NewMemoryBackend(4)
	var calls atomic.Int32
	q := New(testConfig(), backend, ProcessorFunc(func(context.Context, Job) error {
		calls.Add(1)
		return errors.New("smtp unavailable")
	}), zap.NewNop())
	log := &eventLog{}
	q.Observe(log.observe)
	startQueue(t, q)

	_, err := q.Enqueue(context.Background(), ResetJob("a@x.com", "tok"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return log.count(EventFailed) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int32(3), calls.Load())
	failed := backend.Failed()
	require.Len(t, failed, 1)
	require.Equal(t, "tok", failed[0].Job.ResetToken)
	require.Contains(t, failed[0].Reason, "smtp unavailable")
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	var calls atomic.Int32
	q := New(testConfig(), NewMemoryBackend(4), ProcessorFunc(func(context.Context, Job) error {
		calls.Add(1)
		return Permanent(ErrUnknownKind)
	}), zap.NewNop())
	log := &eventLog{}
	q.Observe(log.observe)
	startQueue(t, q)

	_, err := q.Enqueue(context.Background(), Job{Kind: "bogus", Recipient: "a@x.com"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return log.count(EventFailed) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 0, log.count(EventRetrying))
}

func TestRedisBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := NewRedisBackend(client, "auth-email")

	e := otp.Entry{Code: "1234", ValidTill: time.Now().Add(time.Minute).UTC()}
	require.NoError(t, b.Push(ctx, OTPJob("Asha", "a@x.com", e)))
	require.NoError(t, b.Push(ctx, ResetJob("b@x.com", "tok")))

	first, err := b.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, KindOTPEmail, first.Kind)
	require.Equal(t, "1234", first.OTP.Code)

	second, err := b.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, KindResetEmail, second.Kind)

	require.NoError(t, b.Fail(ctx, second, "boom"))
	n, err := client.LLen(ctx, "auth-email:failed").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestRedisBackendPopHonoursCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := NewRedisBackend(client, "auth-email")
	b.pollTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err := b.Pop(ctx)
	require.Error(t, err)
}

func TestQueueOverRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	backend := NewRedisBackend(client, "auth-email")
	backend.pollTimeout = 50 * time.Millisecond

	cfg := testConfig()
	cfg.Concurrency = 2
	var got atomic.Value
	q := New(cfg, backend, ProcessorFunc(func(_ context.Context, job Job) error {
		got.Store(job.ResetToken)
		return nil
	}), zap.NewNop())
	log := &eventLog{}
	q.Observe(log.observe)
	startQueue(t, q)

	_, err := q.Enqueue(context.Background(), ResetJob("a@x.com", "tok-redis"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return log.count(EventCompleted) == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, "tok-redis", got.Load())
}

func newRedisBackend(t *testing.T) (*RedisBackend, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := NewRedisBackend(client, "auth-email")
	b.pollTimeout = 50 * time.Millisecond
	return b, client
}

func listLen(t *testing.T, client *redis.Client, key string) int64 {
	t.Helper()
	n, err := client.LLen(context.Background(), key).Result()
	require.NoError(t, err)
	return n
}

func TestRedisBackendHoldsJobUntilAck(t *testing.T) {
	ctx := context.Background()
	b, client := newRedisBackend(t)
	require.NoError(t, b.Push(ctx, ResetJob("a@x.com", "tok")))

	job, err := b.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), listLen(t, client, "auth-email:jobs"))
	require.Equal(t, int64(1), listLen(t, client, "auth-email:processing"))

	require.NoError(t, b.Ack(ctx, job))
	require.Equal(t, int64(0), listLen(t, client, "auth-email:processing"))
}

func TestRedisBackendRequeuesUnackedJobs(t *testing.T) {
	ctx := context.Background()
	b, client := newRedisBackend(t)
	require.NoError(t, b.Push(ctx, ResetJob("a@x.com", "first")))
	require.NoError(t, b.Push(ctx, ResetJob("b@x.com", "second")))

	_, err := b.Pop(ctx)
	require.NoError(t, err)
	_, err = b.Pop(ctx)
	require.NoError(t, err)

	// a restarted worker finds both claims abandoned
	restarted := NewRedisBackend(client, "auth-email")
	n, err := restarted.Requeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, int64(0), listLen(t, client, "auth-email:processing"))

	job, err := restarted.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "first", job.ResetToken)
	job, err = restarted.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", job.ResetToken)
}

func TestRedisBackendDeadLettersUndecodableEntries(t *testing.T) {
	ctx := context.Background()
	b, client := newRedisBackend(t)
	require.NoError(t, client.LPush(ctx, "auth-email:jobs", "not-json").Err())

	_, err := b.Pop(ctx)
	require.ErrorIs(t, err, ErrInvalidJob)
	require.Equal(t, int64(0), listLen(t, client, "auth-email:processing"))

	entries, err := client.LRange(ctx, "auth-email:failed", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	var failed FailedJob
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &failed))
	require.Equal(t, "not-json", failed.Payload)
	require.Contains(t, failed.Reason, ErrInvalidJob.Error())
}

func TestQueueAcknowledgesRedisJobs(t *testing.T) {
	b, client := newRedisBackend(t)
	calls := atomic.Int32{}
	cfg := testConfig()
	cfg.Concurrency = 2
	q := New(cfg, b, ProcessorFunc(func(_ context.Context, job Job) error {
		if job.ResetToken == "bad" {
			calls.Add(1)
			return Permanent(ErrInvalidJob)
		}
		return nil
	}), zap.NewNop())
	log := &eventLog{}
	q.Observe(log.observe)
	startQueue(t, q)

	_, err := q.Enqueue(context.Background(), ResetJob("a@x.com", "good"))
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), ResetJob("a@x.com", "bad"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return log.count(EventCompleted) == 1 && log.count(EventFailed) == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return listLen(t, client, "auth-email:processing") == 0
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, int64(1), listLen(t, client, "auth-email:failed"))
	require.Equal(t, int32(1), calls.Load())
}

package admission

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambotlabs/ambot/internal/metrics"
	"github.com/ambotlabs/ambot/internal/queue"
	"github.com/ambotlabs/ambot/internal/ratelimit"
	"github.com/ambotlabs/ambot/internal/storage"
)

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fakePipeline struct {
	convertErr error
	deliverErr error
	unblock    chan struct{} // when set, Convert waits on it

	mu            sync.Mutex
	cleanupCalled bool
}

func (f *fakePipeline) Convert(ctx context.Context, kind storage.JobKind, title string, quality int) (*Artifact, error) {
	if f.unblock != nil {
		<-f.unblock
	}
	if f.convertErr != nil {
		return nil, f.convertErr
	}
	return &Artifact{
		Path:     "/tmp/fake.mp3",
		Filename: title + ".mp3",
		Cleanup: func() {
			f.mu.Lock()
			f.cleanupCalled = true
			f.mu.Unlock()
		},
	}, nil
}

func (f *fakePipeline) Deliver(ctx context.Context, userID int64, artifact *Artifact) error {
	return f.deliverErr
}

func (f *fakePipeline) cleanedUp() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleanupCalled
}

type recordedFailure struct {
	cause    error
	refunded bool
}

// recordingEvents collects lifecycle callbacks and signals done on every
// terminal one.
type recordingEvents struct {
	mu        sync.Mutex
	started   []string
	succeeded []string
	failures  map[string]recordedFailure

	done chan string
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{
		failures: make(map[string]recordedFailure),
		done:     make(chan string, 16),
	}
}

func (e *recordingEvents) JobStarted(ctx context.Context, job *storage.Job) {
	e.mu.Lock()
	e.started = append(e.started, job.ID)
	e.mu.Unlock()
}

func (e *recordingEvents) JobSucceeded(ctx context.Context, job *storage.Job) {
	e.mu.Lock()
	e.succeeded = append(e.succeeded, job.ID)
	e.mu.Unlock()
	e.done <- job.ID
}

func (e *recordingEvents) JobFailed(ctx context.Context, job *storage.Job, cause error, refunded bool) {
	e.mu.Lock()
	e.failures[job.ID] = recordedFailure{cause: cause, refunded: refunded}
	e.mu.Unlock()
	e.done <- job.ID
}

func (e *recordingEvents) waitDone(t *testing.T) string {
	t.Helper()
	select {
	case id := <-e.done:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached a terminal state")
		return ""
	}
}

func (e *recordingEvents) failure(t *testing.T, jobID string) recordedFailure {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.failures[jobID]
	require.True(t, ok, "no failure recorded for job %s", jobID)
	return f
}

type fixture struct {
	store  *storage.Storage
	pool   *queue.Pool
	events *recordingEvents
	ctrl   *Controller
}

func newFixture(t *testing.T, pipe Pipeline, limiter *ratelimit.Limiter) *fixture {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pool := queue.New(3, 16)
	t.Cleanup(pool.Close)

	events := newRecordingEvents()
	log := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	m := metrics.New(prometheus.NewRegistry())

	ctrl := New(store, limiter, pool, pipe, events, m, log)
	ctrl.Now = func() time.Time { return base }

	return &fixture{store: store, pool: pool, events: events, ctrl: ctrl}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// waitIdle waits for the worker to release the user slot, which happens
// shortly after the terminal event fires.
func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if f.pool.ActiveUsers() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("slot never released")
}

func (f *fixture) register(t *testing.T, userID, balance int64) {
	t.Helper()
	_, err := f.store.GetOrCreate(context.Background(), userID, "alice", "Alice", balance, base.Add(-time.Hour))
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	acct, err := f.store.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	return acct.Balance
}

func TestRequest_SuccessChargeStands(t *testing.T) {
	pipe := &fakePipeline{}
	f := newFixture(t, pipe, ratelimit.New(10, 60))
	f.register(t, 1, 500)

	job, err := f.ctrl.Request(context.Background(), 1, storage.KindMP3, "some song", 128, 20)
	require.NoError(t, err)

	f.events.waitDone(t)

	assert.Equal(t, int64(480), f.balance(t, 1), "successful conversion keeps the charge")
	assert.True(t, pipe.cleanedUp())

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.JobSucceeded, stored.Status)

	entries, err := f.store.UserEntries(context.Background(), 1, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2) // registration + charge
	assert.Equal(t, storage.ReasonConversionCharge, entries[0].Reason)
}

func TestRequest_ConvertFailureRefundsExactly(t *testing.T) {
	pipe := &fakePipeline{convertErr: errors.New("no results")}
	f := newFixture(t, pipe, ratelimit.New(10, 60))
	f.register(t, 1, 500)

	job, err := f.ctrl.Request(context.Background(), 1, storage.KindMP4, "some clip", 720, 80)
	require.NoError(t, err)

	f.events.waitDone(t)

	assert.Equal(t, int64(500), f.balance(t, 1), "failed conversion is fully refunded")

	fail := f.events.failure(t, job.ID)
	assert.True(t, fail.refunded)
	assert.ErrorContains(t, fail.cause, "no results")

	stored, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.JobRefunded, stored.Status)

	// the charge is reversed by a paired entry, never erased
	entries, err := f.store.UserEntries(context.Background(), 1, 100)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, storage.ReasonConversionRefund, entries[0].Reason)
	assert.Equal(t, int64(80), entries[0].Delta)
	assert.Equal(t, storage.ReasonConversionCharge, entries[1].Reason)
	assert.Equal(t, int64(-80), entries[1].Delta)
}

func TestRequest_DeliverFailureRefundsAndCleansUp(t *testing.T) {
	pipe := &fakePipeline{deliverErr: errors.New("file too large")}
	f := newFixture(t, pipe, ratelimit.New(10, 60))
	f.register(t, 1, 500)

	job, err := f.ctrl.Request(context.Background(), 1, storage.KindMP3, "some song", 320, 50)
	require.NoError(t, err)

	f.events.waitDone(t)

	assert.Equal(t, int64(500), f.balance(t, 1))
	assert.True(t, pipe.cleanedUp(), "artifact is removed even when delivery fails")
	assert.True(t, f.events.failure(t, job.ID).refunded)
}

func TestRequest_SecondRequestWhileActiveIsBusy(t *testing.T) {
	pipe := &fakePipeline{unblock: make(chan struct{})}
	f := newFixture(t, pipe, ratelimit.New(10, 0))
	f.register(t, 1, 500)

	_, err := f.ctrl.Request(context.Background(), 1, storage.KindMP3, "first", 128, 20)
	require.NoError(t, err)

	_, err = f.ctrl.Request(context.Background(), 1, storage.KindMP3, "second", 128, 20)
	require.ErrorIs(t, err, queue.ErrBusy)

	// only the admitted job was charged
	assert.Equal(t, int64(480), f.balance(t, 1))

	close(pipe.unblock)
	f.events.waitDone(t)
	f.waitIdle(t)

	// slot freed on completion, next request is admitted
	_, err = f.ctrl.Request(context.Background(), 1, storage.KindMP3, "third", 128, 20)
	require.NoError(t, err)
	f.events.waitDone(t)
}

func TestRequest_CooldownDenied(t *testing.T) {
	pipe := &fakePipeline{}
	f := newFixture(t, pipe, ratelimit.New(10, 60))
	f.register(t, 1, 500)

	_, err := f.ctrl.Request(context.Background(), 1, storage.KindMP3, "first", 128, 20)
	require.NoError(t, err)
	f.events.waitDone(t)
	f.waitIdle(t)

	// clock has not moved, cooldown still holds
	_, err = f.ctrl.Request(context.Background(), 1, storage.KindMP3, "second", 128, 20)
	require.ErrorIs(t, err, ratelimit.ErrCooldownActive)
	assert.Equal(t, int64(480), f.balance(t, 1))

	f.ctrl.Now = func() time.Time { return base.Add(61 * time.Second) }
	_, err = f.ctrl.Request(context.Background(), 1, storage.KindMP3, "second", 128, 20)
	require.NoError(t, err)
	f.events.waitDone(t)
}

func TestRequest_DailyLimitDenied(t *testing.T) {
	pipe := &fakePipeline{}
	f := newFixture(t, pipe, ratelimit.New(2, 0))
	f.register(t, 1, 1000)

	for i := 0; i < 2; i++ {
		_, err := f.ctrl.Request(context.Background(), 1, storage.KindMP3, "song", 128, 20)
		require.NoError(t, err)
		f.events.waitDone(t)
		f.waitIdle(t)
	}

	_, err := f.ctrl.Request(context.Background(), 1, storage.KindMP3, "song", 128, 20)
	require.ErrorIs(t, err, ratelimit.ErrDailyLimitReached)
	assert.Equal(t, int64(960), f.balance(t, 1))

	// next UTC day the counter is fresh
	f.ctrl.Now = func() time.Time { return base.Add(24 * time.Hour) }
	_, err = f.ctrl.Request(context.Background(), 1, storage.KindMP3, "song", 128, 20)
	require.NoError(t, err)
	f.events.waitDone(t)
}

func TestRequest_InsufficientFunds(t *testing.T) {
	pipe := &fakePipeline{}
	f := newFixture(t, pipe, ratelimit.New(10, 60))
	f.register(t, 1, 10)

	_, err := f.ctrl.Request(context.Background(), 1, storage.KindMP4, "clip", 1080, 120)
	require.ErrorIs(t, err, storage.ErrInsufficientFunds)
	assert.Equal(t, int64(10), f.balance(t, 1))

	// denial released the slot
	require.NoError(t, f.pool.Acquire(1))
	f.pool.Release(1)
}

func TestRequest_UnregisteredUser(t *testing.T) {
	pipe := &fakePipeline{}
	f := newFixture(t, pipe, ratelimit.New(10, 60))

	_, err := f.ctrl.Request(context.Background(), 99, storage.KindMP3, "song", 128, 20)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

// Full user journey: register, convert, lose a job to a pipeline error,
// claim the daily reward.
func TestLifecycle(t *testing.T) {
	pipe := &fakePipeline{}
	f := newFixture(t, pipe, ratelimit.New(10, 0))
	f.register(t, 1, 500)

	_, err := f.ctrl.Request(context.Background(), 1, storage.KindMP3, "song", 128, 20)
	require.NoError(t, err)
	f.events.waitDone(t)
	f.waitIdle(t)
	assert.Equal(t, int64(480), f.balance(t, 1))

	pipe.convertErr = errors.New("offline")
	_, err = f.ctrl.Request(context.Background(), 1, storage.KindMP4, "clip", 360, 50)
	require.NoError(t, err)
	f.events.waitDone(t)
	assert.Equal(t, int64(480), f.balance(t, 1))

	credited, acct, err := f.store.ClaimDailyReward(context.Background(), 1, 20, base)
	require.NoError(t, err)
	assert.True(t, credited)
	assert.Equal(t, int64(500), acct.Balance)

	credited, _, err = f.store.ClaimDailyReward(context.Background(), 1, 20, base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, credited)

	sum, err := f.store.BalanceFromEntries(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), sum)
}

func TestDenialReason(t *testing.T) {
	assert.Equal(t, "busy", DenialReason(queue.ErrBusy))
	assert.Equal(t, "cooldown_active", DenialReason(ratelimit.ErrCooldownActive))
	assert.Equal(t, "daily_limit_reached", DenialReason(ratelimit.ErrDailyLimitReached))
	assert.Equal(t, "insufficient_funds", DenialReason(storage.ErrInsufficientFunds))
	assert.Equal(t, "not_registered", DenialReason(storage.ErrNotFound))
	assert.Equal(t, "", DenialReason(errors.New("disk on fire")))
}

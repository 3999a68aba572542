package job_runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptotracker/tracker_service/internal/infrastructure/queue"
	"github.com/cryptotracker/tracker_service/pkg/logger"
)

type chanSource struct {
	mu       sync.Mutex
	ch       chan queue.Job
	deferred []queue.Job
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan queue.Job, 16)}
}

func (s *chanSource) Jobs() <-chan queue.Job { return s.ch }

func (s *chanSource) Enqueue(ctx context.Context, job queue.Job, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferred = append(s.deferred, job)
	return nil
}

func (s *chanSource) Pending(ctx context.Context) (int, error) { return 0, nil }

func (s *chanSource) deferredJobs() []queue.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]queue.Job(nil), s.deferred...)
}

type recordingHandler struct {
	mu      sync.Mutex
	polled  []uuid.UUID
	sent    []uuid.UUID
	release chan struct{}
	started chan uuid.UUID
	err     error
}

func (h *recordingHandler) Poll(ctx context.Context, addressID uuid.UUID) error {
	if h.started != nil {
		h.started <- addressID
	}
	if h.release != nil {
		<-h.release
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.polled = append(h.polled, addressID)
	return h.err
}

func (h *recordingHandler) Send(ctx context.Context, transactionID uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, transactionID)
	return h.err
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.polled), len(h.sent)
}

func newRunner(t *testing.T, source Source, handler *recordingHandler, workers int) *Runner {
	t.Helper()
	runner, err := NewRunner(Config{WorkerCount: workers, JobTimeout: time.Second}, source, handler, handler, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, runner.Start(context.Background()))
	t.Cleanup(func() { runner.Shutdown(time.Second) })
	return runner
}

func TestRunnerRoutesJobs(t *testing.T) {
	source := newChanSource()
	handler := &recordingHandler{}
	newRunner(t, source, handler, 2)

	addressID, txID := uuid.New(), uuid.New()
	source.ch <- queue.NewPollJob(addressID)
	source.ch <- queue.NewWebhookJob(txID)
	source.ch <- queue.Job{Kind: queue.KindPoll, ID: "not-a-uuid"}
	source.ch <- queue.Job{Kind: "unknown", ID: uuid.NewString()}

	require.Eventually(t, func() bool {
		polled, sent := handler.counts()
		return polled == 1 && sent == 1
	}, time.Second, 10*time.Millisecond)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []uuid.UUID{addressID}, handler.polled)
	assert.Equal(t, []uuid.UUID{txID}, handler.sent)
}

func TestRunnerDefersBusyKey(t *testing.T) {
	source := newChanSource()
	handler := &recordingHandler{release: make(chan struct{}), started: make(chan uuid.UUID, 2)}
	newRunner(t, source, handler, 2)

	addressID := uuid.New()
	source.ch <- queue.NewPollJob(addressID)
	<-handler.started

	source.ch <- queue.NewPollJob(addressID)
	require.Eventually(t, func() bool {
		return len(source.deferredJobs()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, queue.NewPollJob(addressID), source.deferredJobs()[0])

	close(handler.release)
	require.Eventually(t, func() bool {
		polled, _ := handler.counts()
		return polled == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRunnerKeepsGoingAfterFailure(t *testing.T) {
	source := newChanSource()
	handler := &recordingHandler{err: errors.New("db down")}
	newRunner(t, source, handler, 1)

	source.ch <- queue.NewPollJob(uuid.New())
	source.ch <- queue.NewPollJob(uuid.New())

	require.Eventually(t, func() bool {
		polled, _ := handler.counts()
		return polled == 2
	}, time.Second, 10*time.Millisecond)
	assert.Empty(t, source.deferredJobs())
}

func TestRunnerLifecycle(t *testing.T) {
	runner, err := NewRunner(Config{WorkerCount: 1}, newChanSource(), &recordingHandler{}, &recordingHandler{}, logger.NewNop())
	require.NoError(t, err)

	assert.False(t, runner.IsRunning())
	require.NoError(t, runner.Start(context.Background()))
	assert.True(t, runner.IsRunning())
	assert.Error(t, runner.Start(context.Background()))

	require.NoError(t, runner.Shutdown(time.Second))
	assert.False(t, runner.IsRunning())
	assert.NoError(t, runner.Shutdown(time.Second))
}

package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cryptotracker/tracker_service/internal/domain/entities"
	domainerrors "github.com/cryptotracker/tracker_service/internal/domain/errors"
	"github.com/cryptotracker/tracker_service/internal/infrastructure/queue"
	"github.com/cryptotracker/tracker_service/pkg/logger"
)

const fn = entities.FunctionProcessTransactionFetch

type MockAddressRepository struct {
	mock.Mock
}

func (m *MockAddressRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Address, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Address), args.Error(1)
}

func (m *MockAddressRepository) ListListening(ctx context.Context) ([]*entities.Address, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Address), args.Error(1)
}

func (m *MockAddressRepository) SetListening(ctx context.Context, id uuid.UUID, listening bool) error {
	return m.Called(ctx, id, listening).Error(0)
}

type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) GetActive(ctx context.Context, addressID uuid.UUID, functionName string) (*entities.ScheduledRun, error) {
	args := m.Called(ctx, addressID, functionName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ScheduledRun), args.Error(1)
}

func (m *MockRunRepository) GetLatest(ctx context.Context, addressID uuid.UUID, functionName string) (*entities.ScheduledRun, error) {
	args := m.Called(ctx, addressID, functionName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ScheduledRun), args.Error(1)
}

func (m *MockRunRepository) CreateActive(ctx context.Context, run *entities.ScheduledRun) (bool, error) {
	args := m.Called(ctx, run)
	return args.Bool(0), args.Error(1)
}

func (m *MockRunRepository) MarkStopping(ctx context.Context, addressID uuid.UUID, functionName string) (int64, error) {
	args := m.Called(ctx, addressID, functionName)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRunRepository) MarkStopped(ctx context.Context, id uuid.UUID, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockRunRepository) ListStaleActive(ctx context.Context, functionName string, before time.Time) ([]*entities.ScheduledRun, error) {
	args := m.Called(ctx, functionName, before)
	return args.Get(0).([]*entities.ScheduledRun), args.Error(1)
}

func (m *MockRunRepository) ListActive(ctx context.Context, functionName string) ([]*entities.ScheduledRun, error) {
	args := m.Called(ctx, functionName)
	return args.Get(0).([]*entities.ScheduledRun), args.Error(1)
}

// recordingScheduler captures enqueued jobs
type recordingScheduler struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (r *recordingScheduler) Enqueue(ctx context.Context, job queue.Job, delay time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recordingScheduler) enqueued() []queue.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.Job(nil), r.jobs...)
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(addresses *MockAddressRepository, runs *MockRunRepository, jobs *recordingScheduler) *Service {
	svc := NewService(addresses, runs, jobs, Config{}, logger.NewNop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func TestStart(t *testing.T) {
	ctx := context.Background()
	addressID := uuid.New()

	t.Run("creates active run and enqueues first poll", func(t *testing.T) {
		runs := new(MockRunRepository)
		jobs := &recordingScheduler{}
		runs.On("GetActive", ctx, addressID, fn).Return(nil, nil)
		runs.On("CreateActive", ctx, mock.MatchedBy(func(run *entities.ScheduledRun) bool {
			return run.AddressID == addressID &&
				run.Status == entities.RunStatusActive &&
				run.RunCount == 0 &&
				run.StartedAt.Equal(fixedNow) &&
				run.LastRunAt.Equal(fixedNow)
		})).Return(true, nil)

		err := newTestService(new(MockAddressRepository), runs, jobs).Start(ctx, addressID)
		require.NoError(t, err)
		assert.Equal(t, []queue.Job{queue.NewPollJob(addressID)}, jobs.enqueued())
		runs.AssertExpectations(t)
	})

	t.Run("is a no-op when already active", func(t *testing.T) {
		runs := new(MockRunRepository)
		jobs := &recordingScheduler{}
		runs.On("GetActive", ctx, addressID, fn).Return(&entities.ScheduledRun{ID: uuid.New(), Status: entities.RunStatusActive}, nil)

		require.NoError(t, newTestService(new(MockAddressRepository), runs, jobs).Start(ctx, addressID))
		assert.Empty(t, jobs.enqueued())
		runs.AssertNotCalled(t, "CreateActive", mock.Anything, mock.Anything)
	})

	t.Run("losing a concurrent insert does not enqueue", func(t *testing.T) {
		runs := new(MockRunRepository)
		jobs := &recordingScheduler{}
		runs.On("GetActive", ctx, addressID, fn).Return(nil, nil)
		runs.On("CreateActive", ctx, mock.Anything).Return(false, nil)

		require.NoError(t, newTestService(new(MockAddressRepository), runs, jobs).Start(ctx, addressID))
		assert.Empty(t, jobs.enqueued())
	})
}

func TestStop(t *testing.T) {
	ctx := context.Background()
	addressID := uuid.New()

	runs := new(MockRunRepository)
	runs.On("MarkStopping", ctx, addressID, fn).Return(int64(1), nil)

	require.NoError(t, newTestService(new(MockAddressRepository), runs, &recordingScheduler{}).Stop(ctx, addressID))
	runs.AssertExpectations(t)
}

// Scenario: an address stopped listening while its job was lost; the sweep
// stops its row. A listening address with a stale row is left for Resume.
func TestCleanupStale(t *testing.T) {
	ctx := context.Background()

	gone := &entities.ScheduledRun{ID: uuid.New(), AddressID: uuid.New(), Status: entities.RunStatusActive}
	muted := &entities.ScheduledRun{ID: uuid.New(), AddressID: uuid.New(), Status: entities.RunStatusActive}
	alive := &entities.ScheduledRun{ID: uuid.New(), AddressID: uuid.New(), Status: entities.RunStatusActive}

	addresses := new(MockAddressRepository)
	addresses.On("GetByID", ctx, gone.AddressID).Return(nil, nil)
	addresses.On("GetByID", ctx, muted.AddressID).Return(&entities.Address{ID: muted.AddressID, IsListening: false}, nil)
	addresses.On("GetByID", ctx, alive.AddressID).Return(&entities.Address{ID: alive.AddressID, IsListening: true}, nil)

	runs := new(MockRunRepository)
	runs.On("ListStaleActive", ctx, fn, fixedNow.Add(-60*time.Second)).
		Return([]*entities.ScheduledRun{gone, muted, alive}, nil)
	runs.On("MarkStopped", ctx, gone.ID, fixedNow).Return(nil)
	runs.On("MarkStopped", ctx, muted.ID, fixedNow).Return(nil)

	result, err := newTestService(addresses, runs, &recordingScheduler{}).CleanupStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, result.CleanedCount)
	require.Len(t, result.StaleFunctions, 3)
	assert.Equal(t, entities.RunStatusStopped, result.StaleFunctions[0].Status)
	assert.Equal(t, entities.RunStatusActive, result.StaleFunctions[2].Status)
	runs.AssertNotCalled(t, "MarkStopped", ctx, alive.ID, fixedNow)
}

func TestCleanupStaleCustomThreshold(t *testing.T) {
	ctx := context.Background()
	runs := new(MockRunRepository)
	runs.On("ListStaleActive", ctx, fn, fixedNow.Add(-5*time.Minute)).Return([]*entities.ScheduledRun{}, nil)

	result, err := newTestService(new(MockAddressRepository), runs, &recordingScheduler{}).CleanupStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, result.CleanedCount)
	runs.AssertExpectations(t)
}

func TestRestart(t *testing.T) {
	ctx := context.Background()
	withRun := &entities.Address{ID: uuid.New(), IsListening: true}
	withoutRun := &entities.Address{ID: uuid.New(), IsListening: true}

	addresses := new(MockAddressRepository)
	addresses.On("ListListening", ctx).Return([]*entities.Address{withRun, withoutRun}, nil)

	runs := new(MockRunRepository)
	runs.On("GetActive", mock.Anything, withRun.ID, fn).Return(&entities.ScheduledRun{ID: uuid.New()}, nil)
	runs.On("GetActive", mock.Anything, withoutRun.ID, fn).Return(nil, nil)
	runs.On("CreateActive", mock.Anything, mock.MatchedBy(func(run *entities.ScheduledRun) bool {
		return run.AddressID == withoutRun.ID
	})).Return(true, nil)

	jobs := &recordingScheduler{}
	result, err := newTestService(addresses, runs, jobs).Restart(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RestartedCount)
	assert.Equal(t, 2, result.TotalListening)
	assert.Equal(t, []queue.Job{queue.NewPollJob(withoutRun.ID)}, jobs.enqueued())
}

func TestRestartPropagatesErrors(t *testing.T) {
	ctx := context.Background()
	address := &entities.Address{ID: uuid.New(), IsListening: true}

	addresses := new(MockAddressRepository)
	addresses.On("ListListening", ctx).Return([]*entities.Address{address}, nil)
	runs := new(MockRunRepository)
	runs.On("GetActive", mock.Anything, address.ID, fn).Return(nil, errors.New("db down"))

	_, err := newTestService(addresses, runs, &recordingScheduler{}).Restart(ctx)
	assert.ErrorContains(t, err, "db down")
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	listening := &entities.ScheduledRun{ID: uuid.New(), AddressID: uuid.New()}
	muted := &entities.ScheduledRun{ID: uuid.New(), AddressID: uuid.New()}

	addresses := new(MockAddressRepository)
	addresses.On("GetByID", mock.Anything, listening.AddressID).Return(&entities.Address{ID: listening.AddressID, IsListening: true}, nil)
	addresses.On("GetByID", mock.Anything, muted.AddressID).Return(&entities.Address{ID: muted.AddressID, IsListening: false}, nil)

	t.Run("all active runs at boot", func(t *testing.T) {
		runs := new(MockRunRepository)
		runs.On("ListActive", ctx, fn).Return([]*entities.ScheduledRun{listening, muted}, nil)
		jobs := &recordingScheduler{}

		n, err := newTestService(addresses, runs, jobs).Resume(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []queue.Job{queue.NewPollJob(listening.AddressID)}, jobs.enqueued())
	})

	t.Run("only stale runs during the sweep", func(t *testing.T) {
		runs := new(MockRunRepository)
		runs.On("ListStaleActive", ctx, fn, fixedNow.Add(-time.Minute)).Return([]*entities.ScheduledRun{listening}, nil)
		jobs := &recordingScheduler{}

		n, err := newTestService(addresses, runs, jobs).Resume(ctx, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		runs.AssertNotCalled(t, "ListActive", mock.Anything, mock.Anything)
	})
}

func TestSetListening(t *testing.T) {
	ctx := context.Background()
	ownerID := uuid.New()
	address := &entities.Address{ID: uuid.New(), OwnerID: ownerID}

	t.Run("enabling starts the lineage", func(t *testing.T) {
		addresses := new(MockAddressRepository)
		addresses.On("GetByID", ctx, address.ID).Return(&entities.Address{ID: address.ID, OwnerID: ownerID}, nil)
		addresses.On("SetListening", ctx, address.ID, true).Return(nil)
		runs := new(MockRunRepository)
		runs.On("GetActive", ctx, address.ID, fn).Return(nil, nil)
		runs.On("CreateActive", ctx, mock.Anything).Return(true, nil)
		jobs := &recordingScheduler{}

		updated, err := newTestService(addresses, runs, jobs).SetListening(ctx, ownerID, address.ID, true)
		require.NoError(t, err)
		assert.True(t, updated.IsListening)
		assert.Len(t, jobs.enqueued(), 1)
	})

	t.Run("disabling marks runs stopping", func(t *testing.T) {
		addresses := new(MockAddressRepository)
		addresses.On("GetByID", ctx, address.ID).Return(&entities.Address{ID: address.ID, OwnerID: ownerID, IsListening: true}, nil)
		addresses.On("SetListening", ctx, address.ID, false).Return(nil)
		runs := new(MockRunRepository)
		runs.On("MarkStopping", ctx, address.ID, fn).Return(int64(1), nil)

		updated, err := newTestService(addresses, runs, &recordingScheduler{}).SetListening(ctx, ownerID, address.ID, false)
		require.NoError(t, err)
		assert.False(t, updated.IsListening)
		runs.AssertExpectations(t)
	})

	t.Run("rejects other owners", func(t *testing.T) {
		addresses := new(MockAddressRepository)
		addresses.On("GetByID", ctx, address.ID).Return(address, nil)

		_, err := newTestService(addresses, new(MockRunRepository), &recordingScheduler{}).SetListening(ctx, uuid.New(), address.ID, true)
		assert.True(t, domainerrors.IsForbidden(err))
		addresses.AssertNotCalled(t, "SetListening", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing address", func(t *testing.T) {
		addresses := new(MockAddressRepository)
		addresses.On("GetByID", ctx, address.ID).Return(nil, nil)

		_, err := newTestService(addresses, new(MockRunRepository), &recordingScheduler{}).SetListening(ctx, ownerID, address.ID, true)
		assert.True(t, domainerrors.IsNotFound(err))
	})
}

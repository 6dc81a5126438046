package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
	genmem "github.com/ahrav/schedule-armada/internal/infra/storage/generation/memory"
)

// mockRepository stubs the calls the sweeper makes.
type mockRepository struct {
	mock.Mock
	generation.Repository
}

func (m *mockRepository) ListStalled(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, before, limit)
	if ids := args.Get(0); ids != nil {
		return ids.([]uuid.UUID), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepository) SetStatus(ctx context.Context, id uuid.UUID, status generation.Status, reason string) (generation.Status, error) {
	args := m.Called(ctx, id, status, reason)
	return args.Get(0).(generation.Status), args.Error(1)
}

func (m *mockRepository) Get(ctx context.Context, id uuid.UUID) (*generation.Generation, error) {
	args := m.Called(ctx, id)
	if g := args.Get(0); g != nil {
		return g.(*generation.Generation), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestSweeper(t *testing.T, repo generation.Repository, pub *recordingPublisher) *Sweeper {
	t.Helper()
	cfg := SweeperConfig{Interval: 10 * time.Millisecond, StallAfter: 10 * time.Minute, BatchSize: 10}
	return NewSweeper(repo, pub, cfg, newTestLogger(), newTestMetrics(t), testTracer)
}

func TestSweeper_FailsStalledGenerations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := genmem.NewGenerationStore()
	pub := newRecordingPublisher()
	sweeper := newTestSweeper(t, repo, pub)

	start := func(mode generation.Mode) *generation.Generation {
		g := generation.NewGeneration(newRequest(t, schedule.FilterSpec{}, "CSE101"), mode, 10)
		require.NoError(t, repo.Create(ctx, g))
		_, err := repo.SetStatus(ctx, g.ID(), generation.StatusProcessing, "")
		require.NoError(t, err)
		return g
	}
	stalled := start(generation.ModeAsync)
	syncGen := start(generation.ModeSync)

	// Nothing is old enough yet.
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	g, err := repo.Get(ctx, stalled.ID())
	require.NoError(t, err)
	assert.Equal(t, generation.StatusFailed, g.Status())
	assert.Contains(t, g.Reason(), "stalled")

	// Synchronous generations are never swept.
	g, err = repo.Get(ctx, syncGen.ID())
	require.NoError(t, err)
	assert.Equal(t, generation.StatusProcessing, g.Status())

	finished := pub.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, stalled.ID(), finished[0].GenerationID)
	assert.Equal(t, generation.StatusFailed, finished[0].Status)
}

func TestSweeper_SkipsGenerationsThatFinishedMeanwhile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := new(mockRepository)
	pub := newRecordingPublisher()
	sweeper := newTestSweeper(t, repo, pub)

	finishedID, failingID := uuid.New(), uuid.New()
	repo.On("ListStalled", mock.Anything, mock.Anything, 10).Return([]uuid.UUID{finishedID, failingID}, nil)
	repo.On("SetStatus", mock.Anything, finishedID, generation.StatusFailed, mock.Anything).
		Return(generation.StatusCompleted, generation.ErrInvalidTransition)
	repo.On("SetStatus", mock.Anything, failingID, generation.StatusFailed, mock.Anything).
		Return(generation.Status(""), errors.New("connection reset"))

	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.finished())
	repo.AssertExpectations(t)
}

func TestSweeper_ListErrorIsReturned(t *testing.T) {
	t.Parallel()
	repo := new(mockRepository)
	sweeper := newTestSweeper(t, repo, newRecordingPublisher())

	repo.On("ListStalled", mock.Anything, mock.Anything, 10).Return(nil, errors.New("database down"))

	_, err := sweeper.Sweep(context.Background())
	assert.ErrorContains(t, err, "database down")
}

func TestSweeper_RunSweepsOnlyAsLeader(t *testing.T) {
	t.Parallel()
	repo := new(mockRepository)
	sweeper := newTestSweeper(t, repo, newRecordingPublisher())

	swept := make(chan struct{}, 1)
	repo.On("ListStalled", mock.Anything, mock.Anything, 10).
		Run(func(mock.Arguments) {
			select {
			case swept <- struct{}{}:
			default:
			}
		}).
		Return([]uuid.UUID{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	repo.AssertNotCalled(t, "ListStalled", mock.Anything, mock.Anything, mock.Anything)

	sweeper.SetLeader(true)
	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("leader never swept")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

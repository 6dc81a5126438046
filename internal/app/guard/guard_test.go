package guard

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/schedule-armada/internal/domain/schedule"
	"github.com/ahrav/schedule-armada/internal/infra/storage/kv/memory"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
)

var _ KVStore = (*memory.Store)(nil)

type mockKVStore struct{ mock.Mock }

func (m *mockKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockKVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *mockKVStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	args := m.Called(ctx, key, ttl)
	return args.Get(0).(int64), args.Error(1)
}

func newTestGuard(kv KVStore, cfg Config) (*Guard, *time.Time) {
	g := New(kv, cfg, logger.New(io.Discard, logger.LevelDebug, "test", nil), noop.NewTracerProvider().Tracer("test"))
	clock := time.Date(2024, 9, 1, 8, 30, 0, 0, time.UTC)
	g.now = func() time.Time { return clock }
	return g, &clock
}

func TestGuard_HourlyLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.HourlyLimit = 3
	g, clock := newTestGuard(memory.NewStore(), cfg)

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Admit(ctx, "user-1"))
	}
	err := g.Admit(ctx, "user-1")
	assert.ErrorIs(t, err, ErrRateLimited)

	// Other users and anonymous callers are unaffected.
	assert.NoError(t, g.Admit(ctx, "user-2"))
	assert.NoError(t, g.Admit(ctx, ""))

	// The next hour starts a new bucket.
	*clock = clock.Add(time.Hour)
	assert.NoError(t, g.Admit(ctx, "user-1"))
}

func TestGuard_KillSwitch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := memory.NewStore()
	g, clock := newTestGuard(kv, DefaultConfig())

	assert.True(t, g.Status(ctx).Enabled)
	require.NoError(t, g.SetStatus(ctx, SystemStatus{Enabled: false, Reason: "maintenance"}))

	err := g.Admit(ctx, "user-1")
	require.ErrorIs(t, err, ErrSystemDisabled)
	assert.Contains(t, err.Error(), "maintenance")

	// Another instance re-enabling the system is seen once the cache expires.
	require.NoError(t, kv.Set(ctx, StatusKey, `{"enabled":true}`, 0))
	assert.ErrorIs(t, g.Admit(ctx, "user-1"), ErrSystemDisabled)

	*clock = clock.Add(DefaultConfig().StatusTTL)
	assert.NoError(t, g.Admit(ctx, "user-1"))
}

func TestGuard_StatusFailsOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name  string
		value string
		found bool
		err   error
	}{
		{name: "read error", err: errors.New("connection refused")},
		{name: "missing document"},
		{name: "malformed document", value: "{not json", found: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := new(mockKVStore)
			kv.On("Get", mock.Anything, StatusKey).Return(tt.value, tt.found, tt.err)
			g, _ := newTestGuard(kv, Config{StatusTTL: time.Minute})

			assert.NoError(t, g.Admit(ctx, "user-1"))
			kv.AssertExpectations(t)
		})
	}
}

func TestGuard_UsageCheckFailureRejects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := new(mockKVStore)
	kv.On("Get", mock.Anything, StatusKey).Return("", false, nil)
	kv.On("Incr", mock.Anything, "usage:generate:20240901_08:user-1", 2*time.Hour).
		Return(int64(0), errors.New("timeout"))

	g, _ := newTestGuard(kv, DefaultConfig())
	err := g.Admit(ctx, "user-1")
	assert.True(t, schedule.IsTransient(err))
	kv.AssertExpectations(t)
}

func TestGuard_StatusIsCached(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := new(mockKVStore)
	kv.On("Get", mock.Anything, StatusKey).Return(`{"enabled":true}`, true, nil).Once()

	g, clock := newTestGuard(kv, Config{StatusTTL: time.Minute})
	for i := 0; i < 5; i++ {
		assert.True(t, g.Status(ctx).Enabled)
	}
	kv.AssertNumberOfCalls(t, "Get", 1)

	kv.On("Get", mock.Anything, StatusKey).Return(`{"enabled":false}`, true, nil).Once()
	*clock = clock.Add(time.Minute)
	assert.False(t, g.Status(ctx).Enabled)
}

package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() (*Store, *time.Time) {
	clock := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	s := NewStore()
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestStore_SetAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, clock := newTestStore()

	_, ok, err := s.Get(ctx, "system_status")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "system_status", "disabled", time.Minute))
	v, ok, err := s.Get(ctx, "system_status")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "disabled", v)

	*clock = clock.Add(time.Minute)
	_, ok, err = s.Get(ctx, "system_status")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "forever", "x", 0))
	*clock = clock.Add(24 * time.Hour)
	_, ok, err = s.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_Incr(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, clock := newTestStore()

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "usage:u1:2024090108", 2*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// Later increments keep the original expiry.
	*clock = clock.Add(90 * time.Minute)
	n, err := s.Incr(ctx, "usage:u1:2024090108", 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	*clock = clock.Add(30 * time.Minute)
	n, err = s.Incr(ctx, "usage:u1:2024090108", 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_IncrConcurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Incr(ctx, "k", time.Hour)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "50", v)
}

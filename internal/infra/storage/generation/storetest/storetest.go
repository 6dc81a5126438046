// Package storetest holds behavior tests shared by every
// generation.Repository implementation.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
)

// Factory returns the repository under test. Repositories may be shared
// between subtests; every subtest works on its own generations.
type Factory func(t *testing.T) generation.Repository

func section(course, label string) schedule.Section {
	return schedule.MustSection(schedule.SectionSpec{
		Course:   course,
		Label:    label,
		Capacity: "1/30",
		Faculty:  "Dr. Rahman",
		Sessions: []schedule.SessionSpec{
			{Days: "MW", StartTime: "08:30 AM", EndTime: "10:00 AM", Room: "NAC501"},
		},
	})
}

// Combo builds a combination of one section per label pair.
func Combo(pairs ...string) schedule.Combination {
	c := make(schedule.Combination, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		c = append(c, section(pairs[i], pairs[i+1]))
	}
	return c
}

// NewAsync builds a PENDING asynchronous generation with the given limit.
func NewAsync(t *testing.T, limit int) *generation.Generation {
	t.Helper()
	req, err := generation.NewRequest("Fall 2024", []string{"CSE101", "MAT101"},
		schedule.FilterSpec{ExcludeDays: []string{"F"}}, "user-1")
	require.NoError(t, err)
	return generation.NewGeneration(req, generation.ModeAsync, limit)
}

func create(t *testing.T, ctx context.Context, repo generation.Repository, limit int) *generation.Generation {
	t.Helper()
	g := NewAsync(t, limit)
	require.NoError(t, repo.Create(ctx, g))
	_, err := repo.SetStatus(ctx, g.ID(), generation.StatusProcessing, "")
	require.NoError(t, err)
	return g
}

// Run exercises newRepo against the Repository contract.
func Run(t *testing.T, newRepo Factory) {
	t.Run("create and get", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		g := NewAsync(t, 50)
		require.NoError(t, repo.Create(ctx, g))

		loaded, err := repo.Get(ctx, g.ID())
		require.NoError(t, err)
		assert.Equal(t, g.ID(), loaded.ID())
		assert.Equal(t, generation.ModeAsync, loaded.Mode())
		assert.Equal(t, generation.StatusPending, loaded.Status())
		assert.Equal(t, g.Request(), loaded.Request())
		assert.Equal(t, 50, loaded.Limit())
		assert.Equal(t, 1, loaded.Outstanding())
		assert.Equal(t, 1, loaded.Spawned())
		assert.True(t, loaded.CompletedAt().IsZero())
	})

	t.Run("get unknown id", func(t *testing.T) {
		_, err := newRepo(t).Get(context.Background(), uuid.New())
		assert.ErrorIs(t, err, generation.ErrGenerationNotFound)
	})

	t.Run("merge is a set and keeps insertion order", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		g := create(t, ctx, repo, 50)

		first := Combo("CSE101", "1", "MAT101", "1")
		second := Combo("CSE101", "2", "MAT101", "1")
		// Same sections in a different course order share a key.
		reordered := Combo("MAT101", "1", "CSE101", "1")

		res, err := repo.MergeCombinations(ctx, g.ID(), []schedule.Combination{first, second, first})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Added)
		assert.Equal(t, 2, res.Count)
		assert.False(t, res.Completed)

		res, err = repo.MergeCombinations(ctx, g.ID(), []schedule.Combination{reordered})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Added)
		assert.Equal(t, 2, res.Count)

		combos, err := repo.Combinations(ctx, g.ID())
		require.NoError(t, err)
		require.Len(t, combos, 2)
		assert.Equal(t, first.Key(), combos[0].Key())
		assert.Equal(t, second.Key(), combos[1].Key())
		assert.Equal(t, "NAC501", combos[0][0].Sessions()[0].Room())
	})

	t.Run("merge reaching the limit completes", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		g := create(t, ctx, repo, 2)

		res, err := repo.MergeCombinations(ctx, g.ID(), []schedule.Combination{
			Combo("CSE101", "1"), Combo("CSE101", "2"), Combo("CSE101", "3"),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Added)
		assert.Equal(t, 2, res.Count)
		assert.True(t, res.Completed)
		assert.Equal(t, generation.StatusCompleted, res.Status)

		loaded, err := repo.Get(ctx, g.ID())
		require.NoError(t, err)
		assert.Equal(t, generation.StatusCompleted, loaded.Status())
		assert.False(t, loaded.CompletedAt().IsZero())

		// Terminal records ignore later merges.
		res, err = repo.MergeCombinations(ctx, g.ID(), []schedule.Combination{Combo("CSE101", "4")})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Added)
		assert.Equal(t, 2, res.Count)
		assert.False(t, res.Completed)
	})

	t.Run("set status guards transitions", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		g := NewAsync(t, 10)
		require.NoError(t, repo.Create(ctx, g))

		status, err := repo.SetStatus(ctx, g.ID(), generation.StatusCompleted, "")
		assert.ErrorIs(t, err, generation.ErrInvalidTransition)
		assert.Equal(t, generation.StatusPending, status)

		status, err = repo.SetStatus(ctx, g.ID(), generation.StatusProcessing, "")
		require.NoError(t, err)
		assert.Equal(t, generation.StatusProcessing, status)

		status, err = repo.SetStatus(ctx, g.ID(), generation.StatusProcessing, "")
		require.NoError(t, err)
		assert.Equal(t, generation.StatusProcessing, status)

		status, err = repo.SetStatus(ctx, g.ID(), generation.StatusFailed, "publish failed")
		require.NoError(t, err)
		assert.Equal(t, generation.StatusFailed, status)

		loaded, err := repo.Get(ctx, g.ID())
		require.NoError(t, err)
		assert.Equal(t, "publish failed", loaded.Reason())
		assert.False(t, loaded.CompletedAt().IsZero())

		_, err = repo.SetStatus(ctx, uuid.New(), generation.StatusProcessing, "")
		assert.ErrorIs(t, err, generation.ErrGenerationNotFound)
	})

	t.Run("spawn and completion count once per item", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		g := create(t, ctx, repo, 50)
		seed := generation.WorkItemKey(g.ID(), nil)

		spawn, err := repo.RecordSpawn(ctx, g.ID(), seed, 3, 0)
		require.NoError(t, err)
		assert.True(t, spawn.Recorded)
		assert.Equal(t, 4, spawn.Outstanding)
		assert.Equal(t, 4, spawn.Spawned)

		// A redelivered seed does not spawn again.
		spawn, err = repo.RecordSpawn(ctx, g.ID(), seed, 3, 0)
		require.NoError(t, err)
		assert.False(t, spawn.Recorded)
		assert.Equal(t, 4, spawn.Outstanding)

		done, err := repo.CompleteWorkItem(ctx, g.ID(), seed)
		require.NoError(t, err)
		assert.Equal(t, 3, done.Outstanding)

		done, err = repo.CompleteWorkItem(ctx, g.ID(), seed)
		require.NoError(t, err)
		assert.Equal(t, 3, done.Outstanding)
		assert.False(t, done.Completed)

		for i, id := range []string{"a", "b"} {
			done, err = repo.CompleteWorkItem(ctx, g.ID(), generation.WorkItemKey(g.ID(), []string{id}))
			require.NoError(t, err)
			assert.Equal(t, 2-i, done.Outstanding)
		}

		done, err = repo.CompleteWorkItem(ctx, g.ID(), generation.WorkItemKey(g.ID(), []string{"c"}))
		require.NoError(t, err)
		assert.Equal(t, 0, done.Outstanding)
		assert.True(t, done.Completed)
		assert.Equal(t, generation.StatusCompleted, done.Status)
	})

	t.Run("spawn limit", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		g := create(t, ctx, repo, 50)

		spawn, err := repo.RecordSpawn(ctx, g.ID(), "seed", 4, 4)
		require.NoError(t, err)
		assert.True(t, spawn.LimitExceeded)
		assert.False(t, spawn.Recorded)
		assert.Equal(t, 1, spawn.Spawned)

		spawn, err = repo.RecordSpawn(ctx, g.ID(), "seed", 3, 4)
		require.NoError(t, err)
		assert.True(t, spawn.Recorded)
		assert.Equal(t, 4, spawn.Spawned)
	})

	t.Run("terminal generations ignore spawns", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		g := create(t, ctx, repo, 50)
		_, err := repo.SetStatus(ctx, g.ID(), generation.StatusCancelled, "")
		require.NoError(t, err)

		spawn, err := repo.RecordSpawn(ctx, g.ID(), "seed", 2, 0)
		require.NoError(t, err)
		assert.False(t, spawn.Recorded)
		assert.Equal(t, generation.StatusCancelled, spawn.Status)
	})

	t.Run("concurrent completions drain exactly once", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		g := create(t, ctx, repo, 50)

		const children = 8
		_, err := repo.RecordSpawn(ctx, g.ID(), "seed", children, 0)
		require.NoError(t, err)
		_, err = repo.CompleteWorkItem(ctx, g.ID(), "seed")
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			completed int
		)
		for i := 0; i < children; i++ {
			key := generation.WorkItemKey(g.ID(), []string{string(rune('a' + i))})
			// Each child is delivered twice.
			for r := 0; r < 2; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := repo.CompleteWorkItem(ctx, g.ID(), key)
					assert.NoError(t, err)
					if res.Completed {
						mu.Lock()
						completed++
						mu.Unlock()
					}
				}()
			}
		}
		wg.Wait()

		assert.Equal(t, 1, completed)
		loaded, err := repo.Get(ctx, g.ID())
		require.NoError(t, err)
		assert.Equal(t, 0, loaded.Outstanding())
		assert.Equal(t, generation.StatusCompleted, loaded.Status())
	})

	t.Run("list stalled", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)

		stalled := create(t, ctx, repo, 50)
		pending := NewAsync(t, 50)
		require.NoError(t, repo.Create(ctx, pending))

		ids, err := repo.ListStalled(ctx, time.Now().Add(time.Minute), 100)
		require.NoError(t, err)
		assert.Contains(t, ids, stalled.ID())
		assert.NotContains(t, ids, pending.ID())

		ids, err = repo.ListStalled(ctx, time.Now().Add(-time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

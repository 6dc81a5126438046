// Package memory provides an in-memory generation repository for tests and
// single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
)

var _ generation.Repository = (*GenerationStore)(nil)

type record struct {
	mode        generation.Mode
	status      generation.Status
	request     generation.Request
	limit       int
	outstanding int
	spawned     int
	reason      string
	createdAt   time.Time
	updatedAt   time.Time
	completedAt time.Time

	combos    []schedule.Combination
	comboKeys map[string]struct{}
	spawns    map[string]struct{}
	completes map[string]struct{}
}

func (r *record) touch(now time.Time) { r.updatedAt = now }

func (r *record) complete(now time.Time) {
	r.status = generation.StatusCompleted
	r.completedAt = now
}

// GenerationStore implements generation.Repository with a single mutex
// guarding every record.
type GenerationStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*record
	now     func() time.Time
}

// NewGenerationStore creates an empty in-memory generation store.
func NewGenerationStore() *GenerationStore {
	return &GenerationStore{
		records: make(map[uuid.UUID]*record),
		now:     time.Now,
	}
}

// Create stores a copy of g.
func (s *GenerationStore) Create(_ context.Context, g *generation.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[g.ID()] = &record{
		mode:        g.Mode(),
		status:      g.Status(),
		request:     g.Request(),
		limit:       g.Limit(),
		outstanding: g.Outstanding(),
		spawned:     g.Spawned(),
		reason:      g.Reason(),
		createdAt:   g.CreatedAt(),
		updatedAt:   g.UpdatedAt(),
		completedAt: g.CompletedAt(),
		comboKeys:   make(map[string]struct{}),
		spawns:      make(map[string]struct{}),
		completes:   make(map[string]struct{}),
	}
	return nil
}

// Get returns a snapshot of the record.
func (s *GenerationStore) Get(_ context.Context, id uuid.UUID) (*generation.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, generation.ErrGenerationNotFound
	}
	return generation.ReconstructGeneration(
		id,
		r.mode,
		r.status,
		r.request,
		r.limit, len(r.combos), r.outstanding, r.spawned,
		r.reason,
		r.createdAt, r.updatedAt, r.completedAt,
	), nil
}

// Combinations returns copies of the stored combinations in insertion order.
func (s *GenerationStore) Combinations(_ context.Context, id uuid.UUID) ([]schedule.Combination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, generation.ErrGenerationNotFound
	}
	out := make([]schedule.Combination, len(r.combos))
	for i, c := range r.combos {
		out[i] = c.Clone()
	}
	return out, nil
}

// MergeCombinations adds unseen combinations up to the record's limit.
func (s *GenerationStore) MergeCombinations(
	_ context.Context,
	id uuid.UUID,
	combos []schedule.Combination,
) (generation.MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return generation.MergeResult{}, generation.ErrGenerationNotFound
	}
	res := generation.MergeResult{Count: len(r.combos), Status: r.status}
	if r.status.IsTerminal() {
		return res, nil
	}

	for _, c := range combos {
		if len(r.combos) >= r.limit {
			break
		}
		key := c.Key()
		if _, dup := r.comboKeys[key]; dup {
			continue
		}
		r.comboKeys[key] = struct{}{}
		r.combos = append(r.combos, c.Clone())
		res.Added++
	}

	now := s.now()
	res.Count = len(r.combos)
	if res.Count >= r.limit && r.status == generation.StatusProcessing {
		r.complete(now)
		res.Completed = true
	}
	res.Status = r.status
	if res.Added > 0 || res.Completed {
		r.touch(now)
	}
	return res, nil
}

// SetStatus performs a guarded transition.
func (s *GenerationStore) SetStatus(
	_ context.Context,
	id uuid.UUID,
	status generation.Status,
	reason string,
) (generation.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return "", generation.ErrGenerationNotFound
	}
	if r.status == status {
		return status, nil
	}
	if err := r.status.ValidateTransition(status); err != nil {
		return r.status, err
	}

	now := s.now()
	r.status = status
	if reason != "" {
		r.reason = reason
	}
	if status.IsTerminal() {
		r.completedAt = now
	}
	r.touch(now)
	return status, nil
}

// RecordSpawn adds n outstanding items for itemKey at most once.
func (s *GenerationStore) RecordSpawn(
	_ context.Context,
	id uuid.UUID,
	itemKey string,
	n, maxWorkItems int,
) (generation.SpawnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return generation.SpawnResult{}, generation.ErrGenerationNotFound
	}
	res := generation.SpawnResult{Outstanding: r.outstanding, Spawned: r.spawned, Status: r.status}
	if r.status.IsTerminal() {
		return res, nil
	}
	if _, seen := r.spawns[itemKey]; seen {
		return res, nil
	}
	if maxWorkItems > 0 && r.spawned+n > maxWorkItems {
		res.LimitExceeded = true
		return res, nil
	}

	r.spawns[itemKey] = struct{}{}
	r.outstanding += n
	r.spawned += n
	r.touch(s.now())

	res.Recorded = true
	res.Outstanding = r.outstanding
	res.Spawned = r.spawned
	return res, nil
}

// CompleteWorkItem decrements the outstanding counter at most once per key.
func (s *GenerationStore) CompleteWorkItem(
	_ context.Context,
	id uuid.UUID,
	itemKey string,
) (generation.CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return generation.CompletionResult{}, generation.ErrGenerationNotFound
	}
	if _, seen := r.completes[itemKey]; seen {
		return generation.CompletionResult{Outstanding: r.outstanding, Status: r.status}, nil
	}
	r.completes[itemKey] = struct{}{}

	now := s.now()
	r.outstanding--
	var completed bool
	if r.outstanding <= 0 && r.status == generation.StatusProcessing {
		r.complete(now)
		completed = true
	}
	r.touch(now)

	return generation.CompletionResult{Outstanding: r.outstanding, Status: r.status, Completed: completed}, nil
}

// ListStalled returns asynchronous PROCESSING generations not updated since
// before, oldest first.
func (s *GenerationStore) ListStalled(_ context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type stalled struct {
		id        uuid.UUID
		updatedAt time.Time
	}
	var found []stalled
	for id, r := range s.records {
		if r.mode == generation.ModeAsync && r.status == generation.StatusProcessing && r.updatedAt.Before(before) {
			found = append(found, stalled{id: id, updatedAt: r.updatedAt})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].updatedAt.Before(found[j].updatedAt) })

	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	ids := make([]uuid.UUID, len(found))
	for i, f := range found {
		ids[i] = f.id
	}
	return ids, nil
}

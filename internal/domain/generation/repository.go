package generation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/schedule-armada/internal/domain/schedule"
)

// ErrGenerationNotFound is returned when no record exists for an ID.
var ErrGenerationNotFound = errors.New("generation not found")

// MergeResult reports the effect of a MergeCombinations call.
type MergeResult struct {
	// Added is the number of combinations not previously present.
	Added int
	// Count is the record's combination count after the merge.
	Count int
	// Status is the record's status after the merge.
	Status Status
	// Completed is true when this merge reached the cap and completed the
	// generation.
	Completed bool
}

// SpawnResult reports the effect of a RecordSpawn call.
type SpawnResult struct {
	// Recorded is false when the item key was already recorded, the
	// generation is terminal, or the spawn limit would be exceeded.
	Recorded      bool
	LimitExceeded bool
	Outstanding   int
	Spawned       int
	Status        Status
}

// CompletionResult reports the effect of a CompleteWorkItem call.
type CompletionResult struct {
	Outstanding int
	Status      Status
	// Completed is true when this call drained the last outstanding item and
	// completed the generation.
	Completed bool
}

// Repository persists generation records. Every mutating method is safe to
// call concurrently from many processors and is idempotent under
// redelivery: combinations merge as a set keyed by sorted section IDs, and
// spawn and completion signals count at most once per work item key.
type Repository interface {
	// Create stores a new record.
	Create(ctx context.Context, g *Generation) error

	// Get loads a record without its combinations.
	Get(ctx context.Context, id uuid.UUID) (*Generation, error)

	// Combinations loads the stored combinations in insertion order.
	Combinations(ctx context.Context, id uuid.UUID) ([]schedule.Combination, error)

	// MergeCombinations adds combos to the record's result set. Combinations
	// already present are ignored, the count never exceeds the record's
	// limit, and reaching the limit completes the generation. Terminal
	// records are left unchanged.
	MergeCombinations(ctx context.Context, id uuid.UUID, combos []schedule.Combination) (MergeResult, error)

	// SetStatus performs a guarded transition and returns the resulting
	// status. Setting the current status again is a no-op. Invalid
	// transitions return an error matching ErrInvalidTransition.
	SetStatus(ctx context.Context, id uuid.UUID, status Status, reason string) (Status, error)

	// RecordSpawn adds n to the outstanding work counter on behalf of the
	// item identified by itemKey, at most once per key. When maxWorkItems is
	// positive and the generation's total spawned items would exceed it,
	// nothing is recorded and LimitExceeded is set.
	RecordSpawn(ctx context.Context, id uuid.UUID, itemKey string, n, maxWorkItems int) (SpawnResult, error)

	// CompleteWorkItem decrements the outstanding counter at most once per
	// itemKey. The generation completes when the counter reaches zero.
	CompleteWorkItem(ctx context.Context, id uuid.UUID, itemKey string) (CompletionResult, error)

	// ListStalled returns asynchronous PROCESSING generations not updated
	// since before, oldest first.
	ListStalled(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
}

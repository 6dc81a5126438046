// Package postgres stores generation records in PostgreSQL. Every mutation
// of a record's counters or status runs in a transaction holding a row lock
// on the generation, so concurrent processors serialize per generation.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
	"github.com/ahrav/schedule-armada/internal/infra/storage"
)

var _ generation.Repository = (*generationStore)(nil)

// generationStore implements generation.Repository using PostgreSQL.
type generationStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewGenerationStore creates a PostgreSQL-backed generation repository with
// tracing capabilities.
func NewGenerationStore(pool *pgxpool.Pool, tracer trace.Tracer) *generationStore {
	return &generationStore{db: pool, tracer: tracer}
}

const createGeneration = `
INSERT INTO generations (
    id, mode, status, term, course_codes, filters, user_id, result_limit,
    combination_count, outstanding, spawned, reason, created_at, updated_at, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

// Create persists a new generation record.
func (s *generationStore) Create(ctx context.Context, g *generation.Generation) error {
	dbAttrs := storage.Attributes(
		attribute.String("generation_id", g.ID().String()),
		attribute.String("mode", string(g.Mode())),
		attribute.String("status", g.Status().String()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_generation", dbAttrs, func(ctx context.Context) error {
		req := g.Request()
		filters, err := json.Marshal(req.Filters)
		if err != nil {
			return fmt.Errorf("marshal filters: %w", err)
		}

		_, err = s.db.Exec(ctx, createGeneration,
			g.ID(),
			string(g.Mode()),
			g.Status().String(),
			req.Term,
			req.CourseCodes,
			filters,
			req.UserID,
			g.Limit(),
			g.Count(),
			g.Outstanding(),
			g.Spawned(),
			g.Reason(),
			g.CreatedAt(),
			g.UpdatedAt(),
			nullTime(g.CompletedAt()),
		)
		if err != nil {
			return storage.ClassifyError("create generation", fmt.Errorf("insert generation: %w", err))
		}
		return nil
	})
}

const getGeneration = `
SELECT id, mode::text, status::text, term, course_codes, filters, user_id, result_limit,
       combination_count, outstanding, spawned, reason, created_at, updated_at, completed_at
FROM generations
WHERE id = $1`

// Get loads a generation record without its combinations.
func (s *generationStore) Get(ctx context.Context, id uuid.UUID) (*generation.Generation, error) {
	var g *generation.Generation
	dbAttrs := storage.Attributes(attribute.String("generation_id", id.String()))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_generation", dbAttrs, func(ctx context.Context) error {
		var (
			rowID                              uuid.UUID
			mode, status, term, userID         string
			reason                             string
			codes                              []string
			filters                            []byte
			limit, count, outstanding, spawned int
			createdAt, updatedAt               time.Time
			completedAt                        pgtype.Timestamptz
		)
		err := s.db.QueryRow(ctx, getGeneration, id).Scan(
			&rowID, &mode, &status, &term, &codes, &filters, &userID, &limit,
			&count, &outstanding, &spawned, &reason, &createdAt, &updatedAt, &completedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return generation.ErrGenerationNotFound
			}
			return storage.ClassifyError("get generation", fmt.Errorf("select generation: %w", err))
		}

		var spec schedule.FilterSpec
		if len(filters) > 0 {
			if err := json.Unmarshal(filters, &spec); err != nil {
				return fmt.Errorf("unmarshal filters: %w", err)
			}
		}

		req := generation.Request{Term: term, CourseCodes: codes, Filters: spec, UserID: userID}
		g = generation.ReconstructGeneration(
			rowID,
			generation.Mode(mode),
			generation.Status(status),
			req,
			limit, count, outstanding, spawned,
			reason,
			createdAt, updatedAt, completedAt.Time,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

const listCombinations = `
SELECT sections
FROM generation_combinations
WHERE generation_id = $1
ORDER BY position`

// Combinations loads the stored combinations in insertion order.
func (s *generationStore) Combinations(ctx context.Context, id uuid.UUID) ([]schedule.Combination, error) {
	var combos []schedule.Combination
	dbAttrs := storage.Attributes(attribute.String("generation_id", id.String()))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_combinations", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, listCombinations, id)
		if err != nil {
			return storage.ClassifyError("list combinations", fmt.Errorf("query combinations: %w", err))
		}

		combos, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (schedule.Combination, error) {
			var raw []byte
			if err := row.Scan(&raw); err != nil {
				return nil, err
			}
			var c schedule.Combination
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, fmt.Errorf("unmarshal combination: %w", err)
			}
			return c, nil
		})
		if err != nil {
			return storage.ClassifyError("list combinations", fmt.Errorf("collect combinations: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return combos, nil
}

const lockGeneration = `
SELECT status::text, result_limit, combination_count, outstanding, spawned
FROM generations
WHERE id = $1
FOR UPDATE`

type lockedGeneration struct {
	status      generation.Status
	limit       int
	count       int
	outstanding int
	spawned     int
}

func lockRow(ctx context.Context, tx pgx.Tx, id uuid.UUID) (lockedGeneration, error) {
	var (
		row    lockedGeneration
		status string
	)
	err := tx.QueryRow(ctx, lockGeneration, id).Scan(&status, &row.limit, &row.count, &row.outstanding, &row.spawned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return row, generation.ErrGenerationNotFound
		}
		return row, fmt.Errorf("lock generation: %w", err)
	}
	row.status = generation.Status(status)
	return row, nil
}

const insertCombination = `
INSERT INTO generation_combinations (generation_id, combo_key, position, section_ids, sections)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (generation_id, combo_key) DO NOTHING`

const updateCount = `
UPDATE generations
SET combination_count = $2,
    status = $3,
    completed_at = CASE WHEN $4 THEN NOW() ELSE completed_at END,
    updated_at = NOW()
WHERE id = $1`

// MergeCombinations adds combos to the record's result set in one
// transaction. Combinations already present are skipped and the count is
// capped at the record's limit.
func (s *generationStore) MergeCombinations(
	ctx context.Context,
	id uuid.UUID,
	combos []schedule.Combination,
) (generation.MergeResult, error) {
	var res generation.MergeResult
	dbAttrs := storage.Attributes(
		attribute.String("generation_id", id.String()),
		attribute.Int("combinations", len(combos)),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.merge_combinations", dbAttrs, func(ctx context.Context) error {
		return s.inTx(ctx, "merge combinations", func(tx pgx.Tx) error {
			row, err := lockRow(ctx, tx, id)
			if err != nil {
				return err
			}
			res = generation.MergeResult{Count: row.count, Status: row.status}
			if row.status.IsTerminal() {
				return nil
			}

			seen := make(map[string]struct{}, len(combos))
			for _, c := range combos {
				if row.count+res.Added >= row.limit {
					break
				}
				key := c.Key()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				sections, err := json.Marshal(c)
				if err != nil {
					return fmt.Errorf("marshal combination: %w", err)
				}
				tag, err := tx.Exec(ctx, insertCombination, id, key, row.count+res.Added, c.SectionIDs(), sections)
				if err != nil {
					return fmt.Errorf("insert combination: %w", err)
				}
				if tag.RowsAffected() == 1 {
					res.Added++
				}
			}

			res.Count = row.count + res.Added
			if res.Count >= row.limit && row.status == generation.StatusProcessing {
				res.Status = generation.StatusCompleted
				res.Completed = true
			}
			if res.Added == 0 && !res.Completed {
				return nil
			}

			if _, err := tx.Exec(ctx, updateCount, id, res.Count, res.Status.String(), res.Completed); err != nil {
				return fmt.Errorf("update combination count: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return generation.MergeResult{}, err
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("added", res.Added))
	return res, nil
}

const updateStatus = `
UPDATE generations
SET status = $2,
    reason = CASE WHEN $3 = '' THEN reason ELSE $3 END,
    completed_at = CASE WHEN $4 THEN NOW() ELSE completed_at END,
    updated_at = NOW()
WHERE id = $1`

// SetStatus performs a guarded status transition.
func (s *generationStore) SetStatus(
	ctx context.Context,
	id uuid.UUID,
	status generation.Status,
	reason string,
) (generation.Status, error) {
	var result generation.Status
	dbAttrs := storage.Attributes(
		attribute.String("generation_id", id.String()),
		attribute.String("status", status.String()),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.set_generation_status", dbAttrs, func(ctx context.Context) error {
		return s.inTx(ctx, "set generation status", func(tx pgx.Tx) error {
			row, err := lockRow(ctx, tx, id)
			if err != nil {
				return err
			}
			result = row.status
			if row.status == status {
				return nil
			}
			if err := row.status.ValidateTransition(status); err != nil {
				return err
			}

			if _, err := tx.Exec(ctx, updateStatus, id, status.String(), reason, status.IsTerminal()); err != nil {
				return fmt.Errorf("update status: %w", err)
			}
			result = status
			return nil
		})
	})
	return result, err
}

const spawnRecorded = `
SELECT EXISTS (
    SELECT 1 FROM generation_work_items
    WHERE generation_id = $1 AND item_key = $2 AND spawned_at IS NOT NULL
)`

const recordSpawn = `
INSERT INTO generation_work_items (generation_id, item_key, children, spawned_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (generation_id, item_key) DO UPDATE
SET children = EXCLUDED.children, spawned_at = EXCLUDED.spawned_at
WHERE generation_work_items.spawned_at IS NULL`

const addOutstanding = `
UPDATE generations
SET outstanding = outstanding + $2,
    spawned = spawned + $2,
    updated_at = NOW()
WHERE id = $1`

// RecordSpawn adds n outstanding work items on behalf of itemKey, once.
func (s *generationStore) RecordSpawn(
	ctx context.Context,
	id uuid.UUID,
	itemKey string,
	n, maxWorkItems int,
) (generation.SpawnResult, error) {
	var res generation.SpawnResult
	dbAttrs := storage.Attributes(
		attribute.String("generation_id", id.String()),
		attribute.String("item_key", itemKey),
		attribute.Int("children", n),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.record_spawn", dbAttrs, func(ctx context.Context) error {
		return s.inTx(ctx, "record spawn", func(tx pgx.Tx) error {
			row, err := lockRow(ctx, tx, id)
			if err != nil {
				return err
			}
			res = generation.SpawnResult{Outstanding: row.outstanding, Spawned: row.spawned, Status: row.status}
			if row.status.IsTerminal() {
				return nil
			}

			var recorded bool
			if err := tx.QueryRow(ctx, spawnRecorded, id, itemKey).Scan(&recorded); err != nil {
				return fmt.Errorf("check spawn: %w", err)
			}
			if recorded {
				return nil
			}

			if maxWorkItems > 0 && row.spawned+n > maxWorkItems {
				res.LimitExceeded = true
				return nil
			}

			if _, err := tx.Exec(ctx, recordSpawn, id, itemKey, n); err != nil {
				return fmt.Errorf("insert spawn: %w", err)
			}
			if _, err := tx.Exec(ctx, addOutstanding, id, n); err != nil {
				return fmt.Errorf("add outstanding: %w", err)
			}

			res.Recorded = true
			res.Outstanding += n
			res.Spawned += n
			return nil
		})
	})
	if err != nil {
		return generation.SpawnResult{}, err
	}
	return res, nil
}

const recordCompletion = `
INSERT INTO generation_work_items (generation_id, item_key, completed_at)
VALUES ($1, $2, NOW())
ON CONFLICT (generation_id, item_key) DO UPDATE
SET completed_at = EXCLUDED.completed_at
WHERE generation_work_items.completed_at IS NULL`

const decrementOutstanding = `
UPDATE generations
SET outstanding = outstanding - 1,
    status = $2,
    completed_at = CASE WHEN $3 THEN NOW() ELSE completed_at END,
    updated_at = NOW()
WHERE id = $1`

// CompleteWorkItem decrements the outstanding counter once per itemKey and
// completes the generation when the counter drains.
func (s *generationStore) CompleteWorkItem(
	ctx context.Context,
	id uuid.UUID,
	itemKey string,
) (generation.CompletionResult, error) {
	var res generation.CompletionResult
	dbAttrs := storage.Attributes(
		attribute.String("generation_id", id.String()),
		attribute.String("item_key", itemKey),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.complete_work_item", dbAttrs, func(ctx context.Context) error {
		return s.inTx(ctx, "complete work item", func(tx pgx.Tx) error {
			row, err := lockRow(ctx, tx, id)
			if err != nil {
				return err
			}
			res = generation.CompletionResult{Outstanding: row.outstanding, Status: row.status}

			tag, err := tx.Exec(ctx, recordCompletion, id, itemKey)
			if err != nil {
				return fmt.Errorf("insert completion: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}

			res.Outstanding = row.outstanding - 1
			if res.Outstanding <= 0 && row.status == generation.StatusProcessing {
				res.Status = generation.StatusCompleted
				res.Completed = true
			}

			if _, err := tx.Exec(ctx, decrementOutstanding, id, res.Status.String(), res.Completed); err != nil {
				return fmt.Errorf("decrement outstanding: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return generation.CompletionResult{}, err
	}
	return res, nil
}

const listStalled = `
SELECT id
FROM generations
WHERE status = 'PROCESSING' AND mode = 'ASYNC' AND updated_at < $1
ORDER BY updated_at
LIMIT $2`

// ListStalled returns asynchronous PROCESSING generations not updated since
// before, oldest first.
func (s *generationStore) ListStalled(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	dbAttrs := storage.Attributes(
		attribute.String("before", before.String()),
		attribute.Int("limit", limit),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_stalled_generations", dbAttrs, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, listStalled, before, limit)
		if err != nil {
			return storage.ClassifyError("list stalled", fmt.Errorf("query stalled generations: %w", err))
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return storage.ClassifyError("list stalled", fmt.Errorf("collect stalled generations: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// inTx runs fn in a transaction, committing when it returns nil. Retryable
// database failures are reported as transient errors.
func (s *generationStore) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storage.ClassifyError(op, fmt.Errorf("begin transaction error: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		if errors.Is(err, generation.ErrGenerationNotFound) || errors.Is(err, generation.ErrInvalidTransition) {
			return err
		}
		return storage.ClassifyError(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.ClassifyError(op, fmt.Errorf("commit transaction error: %w", err))
	}
	return nil
}

func nullTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

package generation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/schedule-armada/internal/domain/schedule"
)

// TimeProvider abstracts time so transitions can be tested deterministically.
type TimeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time { return time.Now() }

// Generation is the persisted record of one enumeration request.
// Combinations are stored alongside the record and loaded separately.
type Generation struct {
	id      uuid.UUID
	mode    Mode
	status  Status
	request Request
	limit   int

	count       int
	outstanding int
	spawned     int

	reason string

	createdAt   time.Time
	updatedAt   time.Time
	completedAt time.Time

	timeProvider TimeProvider
}

// Option configures a new Generation.
type Option func(*Generation)

// WithTimeProvider overrides the clock used for timestamps.
func WithTimeProvider(tp TimeProvider) Option {
	return func(g *Generation) { g.timeProvider = tp }
}

// WithID sets the generation ID instead of generating one.
func WithID(id uuid.UUID) Option {
	return func(g *Generation) { g.id = id }
}

// NewGeneration creates a PENDING generation. Asynchronous generations start
// with one outstanding work item: the seed.
func NewGeneration(req Request, mode Mode, limit int, opts ...Option) *Generation {
	g := &Generation{
		id:           uuid.New(),
		mode:         mode,
		status:       StatusPending,
		request:      req,
		limit:        limit,
		timeProvider: realTimeProvider{},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.limit <= 0 {
		g.limit = schedule.DefaultLimit
	}
	if mode == ModeAsync {
		g.outstanding = 1
		g.spawned = 1
	}
	now := g.timeProvider.Now()
	g.createdAt, g.updatedAt = now, now
	return g
}

// ReconstructGeneration rebuilds a Generation from storage.
func ReconstructGeneration(
	id uuid.UUID,
	mode Mode,
	status Status,
	req Request,
	limit, count, outstanding, spawned int,
	reason string,
	createdAt, updatedAt, completedAt time.Time,
) *Generation {
	return &Generation{
		id:           id,
		mode:         mode,
		status:       status,
		request:      req,
		limit:        limit,
		count:        count,
		outstanding:  outstanding,
		spawned:      spawned,
		reason:       reason,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
		completedAt:  completedAt,
		timeProvider: realTimeProvider{},
	}
}

func (g *Generation) ID() uuid.UUID          { return g.id }
func (g *Generation) Mode() Mode             { return g.mode }
func (g *Generation) Status() Status         { return g.status }
func (g *Generation) Request() Request       { return g.request }
func (g *Generation) Limit() int             { return g.limit }
func (g *Generation) Count() int             { return g.count }
func (g *Generation) Outstanding() int       { return g.outstanding }
func (g *Generation) Spawned() int           { return g.spawned }
func (g *Generation) Reason() string         { return g.reason }
func (g *Generation) CreatedAt() time.Time   { return g.createdAt }
func (g *Generation) UpdatedAt() time.Time   { return g.updatedAt }
func (g *Generation) CompletedAt() time.Time { return g.completedAt }

// Transition moves the generation to target. reason, when set, explains the
// transition: why a generation failed, or that completed results are partial.
func (g *Generation) Transition(target Status, reason string) error {
	if err := g.status.ValidateTransition(target); err != nil {
		return err
	}
	now := g.timeProvider.Now()
	g.status = target
	g.updatedAt = now
	if reason != "" {
		g.reason = reason
	}
	if target.IsTerminal() {
		g.completedAt = now
	}
	return nil
}

// MarkProcessing starts enumeration.
func (g *Generation) MarkProcessing() error { return g.Transition(StatusProcessing, "") }

// MarkCompleted finishes the generation successfully.
func (g *Generation) MarkCompleted() error { return g.Transition(StatusCompleted, "") }

// MarkFailed finishes the generation with reason.
func (g *Generation) MarkFailed(reason string) error { return g.Transition(StatusFailed, reason) }

// MarkCancelled finishes the generation at the caller's request.
func (g *Generation) MarkCancelled() error { return g.Transition(StatusCancelled, "") }

// RecordCount sets the number of combinations stored for a synchronous
// generation. The count never exceeds the limit.
func (g *Generation) RecordCount(n int) {
	g.count = min(n, g.limit)
	g.updatedAt = g.timeProvider.Now()
}

// MarshalJSON serializes the record for API responses and logging.
func (g *Generation) MarshalJSON() ([]byte, error) {
	var completedAt *time.Time
	if !g.completedAt.IsZero() {
		completedAt = &g.completedAt
	}
	return json.Marshal(&struct {
		ID          string     `json:"generationId"`
		Mode        Mode       `json:"mode"`
		Status      Status     `json:"status"`
		Request     Request    `json:"request"`
		Limit       int        `json:"limit"`
		Count       int        `json:"count"`
		Outstanding int        `json:"outstandingWorkItems"`
		Reason      string     `json:"reason,omitempty"`
		CreatedAt   time.Time  `json:"createdAt"`
		UpdatedAt   time.Time  `json:"updatedAt"`
		CompletedAt *time.Time `json:"completedAt,omitempty"`
	}{
		ID:          g.id.String(),
		Mode:        g.mode,
		Status:      g.status,
		Request:     g.request,
		Limit:       g.limit,
		Count:       g.count,
		Outstanding: g.outstanding,
		Reason:      g.reason,
		CreatedAt:   g.createdAt,
		UpdatedAt:   g.updatedAt,
		CompletedAt: completedAt,
	})
}

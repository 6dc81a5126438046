package generation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
)

// SweeperConfig tunes stalled generation detection.
type SweeperConfig struct {
	// Interval is the time between sweeps.
	Interval time.Duration
	// StallAfter is how long a PROCESSING generation may go without progress
	// before it is failed.
	StallAfter time.Duration
	// BatchSize bounds the generations failed per sweep.
	BatchSize int
}

// DefaultSweeperConfig returns the production defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   time.Minute,
		StallAfter: 15 * time.Minute,
		BatchSize:  100,
	}
}

// Sweeper fails asynchronous generations whose work items stopped making
// progress, for example because an item was dropped after exhausting its
// redeliveries. Only the elected leader sweeps.
type Sweeper struct {
	repo      generation.Repository
	publisher events.DomainEventPublisher
	cfg       SweeperConfig
	now       func() time.Time

	isLeader atomic.Bool

	logger  *logger.Logger
	metrics generationMetrics
	tracer  trace.Tracer
}

// NewSweeper creates a stalled generation sweeper. It does nothing until
// SetLeader(true) is called.
func NewSweeper(
	repo generation.Repository,
	publisher events.DomainEventPublisher,
	cfg SweeperConfig,
	logger *logger.Logger,
	metrics generationMetrics,
	tracer trace.Tracer,
) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweeperConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweeperConfig().BatchSize
	}
	return &Sweeper{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With("component", "stall_sweeper"),
		metrics:   metrics,
		tracer:    tracer,
	}
}

// SetLeader records whether this process holds leadership. It is meant to be
// registered as a leadership change callback.
func (s *Sweeper) SetLeader(isLeader bool) {
	if s.isLeader.Swap(isLeader) == isLeader {
		return
	}
	ctx := context.Background()
	s.metrics.SetLeaderStatus(ctx, isLeader)
	s.logger.Info(ctx, "Sweeper leadership changed", "is_leader", isLeader)
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.isLeader.Load() {
				continue
			}
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error(ctx, "Stall sweep failed", "error", err)
			}
		}
	}
}

// Sweep fails one batch of stalled generations and returns how many it
// failed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "stall_sweeper.sweep")
	defer span.End()

	cutoff := s.now().Add(-s.cfg.StallAfter)
	ids, err := s.repo.ListStalled(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list stalled generations")
		return 0, fmt.Errorf("failed to list stalled generations: %w", err)
	}
	span.SetAttributes(attribute.Int("candidates", len(ids)))

	reason := fmt.Sprintf("stalled: no progress for %s", s.cfg.StallAfter)
	var failed int
	for _, id := range ids {
		_, err := s.repo.SetStatus(ctx, id, generation.StatusFailed, reason)
		switch {
		case errors.Is(err, generation.ErrInvalidTransition):
			// Finished between the listing and the update.
			continue
		case err != nil:
			span.RecordError(err)
			s.logger.Error(ctx, "Failed to fail stalled generation", "generation_id", id.String(), "error", err)
			continue
		}
		failed++
		s.logger.Warn(ctx, "Failed stalled generation", "generation_id", id.String())
		announceFinished(ctx, s.repo, s.publisher, s.metrics, s.logger, id)
	}

	if failed > 0 {
		s.metrics.IncStalledGenerations(ctx, failed)
	}
	span.SetAttributes(attribute.Int("failed", failed))
	return failed, nil
}

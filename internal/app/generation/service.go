// Package generation runs schedule generations: synchronously within one
// bounded call, or asynchronously as a fan-out of work items processed by
// workers.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
)

// generationMetrics records generation lifecycle and work item processing.
type generationMetrics interface {
	IncGenerationsStarted(ctx context.Context, mode generation.Mode)
	IncGenerationsFinished(ctx context.Context, mode generation.Mode, status generation.Status)
	AddCombinationsMerged(ctx context.Context, n int)
	ObserveSyncDuration(ctx context.Context, d time.Duration, outcome schedule.Outcome)
	IncStalledGenerations(ctx context.Context, n int)

	IncWorkItemsProcessed(ctx context.Context)
	IncWorkItemsRetried(ctx context.Context)
	AddWorkItemsSpawned(ctx context.Context, n int)

	SetLeaderStatus(ctx context.Context, isLeader bool)
}

// Admitter decides whether a user may start a generation.
type Admitter interface {
	Admit(ctx context.Context, userID string) error
}

// PartialReason is recorded on synchronous generations interrupted by their
// deadline.
const PartialReason = "partial: deadline exceeded"

// Config tunes the service.
type Config struct {
	// Limit is the default result cap.
	Limit int
	// MaxLimit bounds caller-supplied caps.
	MaxLimit int
	// SyncDeadline is the default deadline of a synchronous enumeration.
	SyncDeadline time.Duration
	// MaxSyncDeadline bounds caller-supplied deadlines.
	MaxSyncDeadline time.Duration
	// CatalogConcurrency bounds concurrent catalog lookups per request.
	CatalogConcurrency int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Limit:              schedule.DefaultLimit,
		MaxLimit:           1000,
		SyncDeadline:       10 * time.Second,
		MaxSyncDeadline:    60 * time.Second,
		CatalogConcurrency: 4,
	}
}

// GenerateRequest is a request for a synchronous generation.
type GenerateRequest struct {
	generation.Request
	// Limit overrides the default cap when positive.
	Limit int
	// Deadline overrides the default deadline when positive.
	Deadline time.Duration
}

// SyncResult is the outcome of a synchronous generation.
type SyncResult struct {
	GenerationID uuid.UUID
	Outcome      schedule.Outcome
	Combinations []schedule.Combination
}

// Count is the number of combinations returned.
func (r *SyncResult) Count() int { return len(r.Combinations) }

// Service creates and manages generations.
type Service struct {
	catalog   schedule.SectionCatalog
	repo      generation.Repository
	publisher events.DomainEventPublisher
	admitter  Admitter
	cfg       Config

	logger  *logger.Logger
	metrics generationMetrics
	tracer  trace.Tracer
}

// NewService creates a generation service. admitter may be nil, in which case
// every request is admitted.
func NewService(
	catalog schedule.SectionCatalog,
	repo generation.Repository,
	publisher events.DomainEventPublisher,
	admitter Admitter,
	cfg Config,
	logger *logger.Logger,
	metrics generationMetrics,
	tracer trace.Tracer,
) *Service {
	if cfg.Limit <= 0 {
		cfg.Limit = schedule.DefaultLimit
	}
	if cfg.CatalogConcurrency <= 0 {
		cfg.CatalogConcurrency = 1
	}
	return &Service{
		catalog:   catalog,
		repo:      repo,
		publisher: publisher,
		admitter:  admitter,
		cfg:       cfg,
		logger:    logger.With("component", "generation_service"),
		metrics:   metrics,
		tracer:    tracer,
	}
}

// Generate runs a bounded synchronous enumeration and persists its result.
// Input, unsatisfiable and not-found errors are returned before any record is
// created. A search interrupted by its deadline yields OutcomePartial with
// the combinations found so far.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*SyncResult, error) {
	ctx, span := s.tracer.Start(ctx, "generation_service.generate",
		trace.WithAttributes(
			attribute.String("term", req.Term),
			attribute.StringSlice("course_codes", req.CourseCodes),
		))
	defer span.End()

	limit, err := s.limit(req.Limit)
	if err != nil {
		return nil, err
	}
	deadline, err := s.deadline(req.Deadline)
	if err != nil {
		return nil, err
	}

	courses, err := s.admitAndPrepare(ctx, req.Request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request rejected")
		return nil, err
	}

	g := generation.NewGeneration(req.Request, generation.ModeSync, limit)
	logger := s.logger.With("operation", "generate", "generation_id", g.ID().String())
	span.SetAttributes(attribute.String("generation_id", g.ID().String()))

	if err := s.repo.Create(ctx, g); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create generation")
		return nil, fmt.Errorf("failed to create generation: %w", err)
	}
	s.metrics.IncGenerationsStarted(ctx, generation.ModeSync)
	if _, err := s.repo.SetStatus(ctx, g.ID(), generation.StatusProcessing, ""); err != nil {
		return nil, s.fail(ctx, g, "failed to start generation", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, deadline)
	start := time.Now()
	result := schedule.NewEnumerator(schedule.WithLimit(limit)).Enumerate(searchCtx, courses)
	cancel()
	s.metrics.ObserveSyncDuration(ctx, time.Since(start), result.Outcome)
	span.SetAttributes(
		attribute.String("outcome", string(result.Outcome)),
		attribute.Int("combinations", result.Count()),
		attribute.Int("frames", result.Frames),
	)

	// The result is persisted even if the caller went away mid-search.
	persistCtx := context.WithoutCancel(ctx)

	merged, err := s.repo.MergeCombinations(persistCtx, g.ID(), result.Combinations)
	if err != nil {
		return nil, s.fail(persistCtx, g, "failed to store combinations", err)
	}
	s.metrics.AddCombinationsMerged(ctx, merged.Added)

	var reason string
	if result.Outcome == schedule.OutcomePartial {
		reason = PartialReason
	}
	if !merged.Status.IsTerminal() {
		if _, err := s.repo.SetStatus(persistCtx, g.ID(), generation.StatusCompleted, reason); err != nil {
			return nil, s.fail(persistCtx, g, "failed to complete generation", err)
		}
	}
	s.announce(persistCtx, g.ID())

	logger.Info(ctx, "Synchronous generation finished",
		"outcome", result.Outcome,
		"count", result.Count(),
		"frames", result.Frames,
	)

	return &SyncResult{
		GenerationID: g.ID(),
		Outcome:      result.Outcome,
		Combinations: result.Combinations,
	}, nil
}

// Kickoff starts an asynchronous generation: it validates the request and
// resolves the catalog, creates the record, moves it to PROCESSING and
// publishes the seed work item. The returned snapshot is the record as
// created, in PENDING.
func (s *Service) Kickoff(ctx context.Context, req generation.Request, limit int) (*generation.Generation, error) {
	ctx, span := s.tracer.Start(ctx, "generation_service.kickoff",
		trace.WithAttributes(
			attribute.String("term", req.Term),
			attribute.StringSlice("course_codes", req.CourseCodes),
		))
	defer span.End()

	limit, err := s.limit(limit)
	if err != nil {
		return nil, err
	}

	courses, err := s.admitAndPrepare(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request rejected")
		return nil, err
	}

	g := generation.NewGeneration(req, generation.ModeAsync, limit)
	logger := s.logger.With("operation", "kickoff", "generation_id", g.ID().String())
	span.SetAttributes(attribute.String("generation_id", g.ID().String()))

	if err := s.repo.Create(ctx, g); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create generation")
		return nil, fmt.Errorf("failed to create generation: %w", err)
	}
	s.metrics.IncGenerationsStarted(ctx, generation.ModeAsync)

	// The record must be PROCESSING before any worker can see the seed.
	if _, err := s.repo.SetStatus(ctx, g.ID(), generation.StatusProcessing, ""); err != nil {
		return nil, s.fail(ctx, g, "failed to start generation", err)
	}

	seed := generation.NewSeedItem(g.ID(), courses)
	if err := s.publisher.PublishDomainEvent(ctx, seed, events.WithKey(g.ID().String())); err != nil {
		return nil, s.fail(ctx, g, "failed to publish seed work item", schedule.NewTransientError("publish seed", err))
	}

	logger.Info(ctx, "Asynchronous generation started",
		"courses", len(courses),
		"search_space", schedule.SearchSpace(courses),
	)
	return g, nil
}

// Get returns a generation and its stored combinations.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*generation.Generation, []schedule.Combination, error) {
	ctx, span := s.tracer.Start(ctx, "generation_service.get",
		trace.WithAttributes(attribute.String("generation_id", id.String())))
	defer span.End()

	g, err := s.repo.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load generation")
		return nil, nil, err
	}
	combos, err := s.repo.Combinations(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load combinations")
		return nil, nil, err
	}
	return g, combos, nil
}

// Cancel moves a generation to CANCELLED. Cancelling an already cancelled
// generation succeeds; cancelling one that finished otherwise is an input
// error.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*generation.Generation, error) {
	ctx, span := s.tracer.Start(ctx, "generation_service.cancel",
		trace.WithAttributes(attribute.String("generation_id", id.String())))
	defer span.End()

	before, err := s.repo.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	status, err := s.repo.SetStatus(ctx, id, generation.StatusCancelled, "cancelled by request")
	if errors.Is(err, generation.ErrInvalidTransition) {
		return nil, schedule.NewInputError("generation %s already %s", id, status)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to cancel generation")
		return nil, fmt.Errorf("failed to cancel generation: %w", err)
	}

	if before.Status() != generation.StatusCancelled {
		s.logger.Info(ctx, "Generation cancelled", "generation_id", id.String())
		s.announce(ctx, id)
	}
	return s.repo.Get(ctx, id)
}

// admitAndPrepare runs the usage guard, resolves every course and prepares
// the search input.
func (s *Service) admitAndPrepare(ctx context.Context, req generation.Request) ([]schedule.Course, error) {
	filters, err := req.ParsedFilters()
	if err != nil {
		return nil, err
	}
	if s.admitter != nil {
		if err := s.admitter.Admit(ctx, req.UserID); err != nil {
			return nil, err
		}
	}

	courses, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return schedule.Prepare(courses, filters)
}

// resolve fetches every requested course from the catalog concurrently. When
// several lookups fail the error of the earliest course in request order is
// returned.
func (s *Service) resolve(ctx context.Context, req generation.Request) ([]schedule.Course, error) {
	ctx, span := s.tracer.Start(ctx, "generation_service.resolve_catalog",
		trace.WithAttributes(attribute.Int("courses", len(req.CourseCodes))))
	defer span.End()

	courses := make([]schedule.Course, len(req.CourseCodes))
	errs := make([]error, len(req.CourseCodes))

	var g errgroup.Group
	g.SetLimit(s.cfg.CatalogConcurrency)
	for i, code := range req.CourseCodes {
		g.Go(func() error {
			sections, err := s.catalog.SectionsForCourse(ctx, req.Term, code)
			if err != nil {
				errs[i] = err
				return nil
			}
			courses[i] = schedule.Course{Code: code, Sections: sections}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err == nil {
			continue
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog lookup failed")
		var se *schedule.Error
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, schedule.NewInternalError("catalog lookup", err)
	}
	return courses, nil
}

func (s *Service) limit(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, schedule.NewInputError("limit must not be negative")
	case requested == 0:
		return s.cfg.Limit, nil
	case s.cfg.MaxLimit > 0 && requested > s.cfg.MaxLimit:
		return 0, schedule.NewInputError("limit must be at most %d", s.cfg.MaxLimit)
	default:
		return requested, nil
	}
}

func (s *Service) deadline(requested time.Duration) (time.Duration, error) {
	switch {
	case requested < 0:
		return 0, schedule.NewInputError("deadline must not be negative")
	case requested == 0:
		return s.cfg.SyncDeadline, nil
	case s.cfg.MaxSyncDeadline > 0 && requested > s.cfg.MaxSyncDeadline:
		return 0, schedule.NewInputError("deadline must be at most %s", s.cfg.MaxSyncDeadline)
	default:
		return requested, nil
	}
}

// fail marks g FAILED with msg and returns err wrapped with msg. A failure to
// record the status is logged.
func (s *Service) fail(ctx context.Context, g *generation.Generation, msg string, err error) error {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)

	if _, serr := s.repo.SetStatus(ctx, g.ID(), generation.StatusFailed, msg+": "+err.Error()); serr != nil {
		s.logger.Error(ctx, "Failed to mark generation failed",
			"generation_id", g.ID().String(),
			"error", serr,
		)
	} else {
		s.announce(ctx, g.ID())
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// announce publishes a GenerationFinished event for id and records the
// terminal status. Failures are logged; the record remains the source of
// truth.
func (s *Service) announce(ctx context.Context, id uuid.UUID) {
	announceFinished(ctx, s.repo, s.publisher, s.metrics, s.logger, id)
}

func announceFinished(
	ctx context.Context,
	repo generation.Repository,
	publisher events.DomainEventPublisher,
	metrics generationMetrics,
	logger *logger.Logger,
	id uuid.UUID,
) {
	g, err := repo.Get(ctx, id)
	if err != nil {
		logger.Warn(ctx, "Failed to load finished generation", "generation_id", id.String(), "error", err)
		return
	}
	metrics.IncGenerationsFinished(ctx, g.Mode(), g.Status())

	evt := generation.NewFinishedEvent(g)
	if err := publisher.PublishDomainEvent(ctx, evt, events.WithKey(id.String())); err != nil {
		logger.Warn(ctx, "Failed to publish generation finished event",
			"generation_id", id.String(),
			"status", g.Status(),
			"error", err,
		)
	}
}

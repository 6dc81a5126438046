package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
	"github.com/ahrav/schedule-armada/pkg/common"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
)

// ProcessorConfig tunes work item processing.
type ProcessorConfig struct {
	// MaxWorkItems caps the work items a single generation may spawn. Zero
	// disables the cap.
	MaxWorkItems int
	// MaxRetries bounds the retries of a transiently failing work item
	// before its generation is failed.
	MaxRetries uint64
	// InitialBackoff and MaxBackoff shape the exponential retry delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultProcessorConfig returns the production defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxWorkItems:   100_000,
		MaxRetries:     5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// Processor executes one step of a distributed enumeration per work item:
// it expands the item's head course, merges completed combinations into the
// generation record and publishes a child item for every other extension.
//
// Items may be delivered more than once. Merges are set unions, and spawn and
// completion signals are recorded once per item key, so a redelivered item
// never inflates the record.
type Processor struct {
	repo      generation.Repository
	publisher events.DomainEventPublisher
	limiter   *common.RateLimiter
	cfg       ProcessorConfig

	logger  *logger.Logger
	metrics generationMetrics
	tracer  trace.Tracer
}

// NewProcessor creates a work item processor. limiter paces child
// publication and may be nil.
func NewProcessor(
	repo generation.Repository,
	publisher events.DomainEventPublisher,
	limiter *common.RateLimiter,
	cfg ProcessorConfig,
	logger *logger.Logger,
	metrics generationMetrics,
	tracer trace.Tracer,
) *Processor {
	if limiter == nil {
		limiter = common.NewRateLimiter(0, 1)
	}
	return &Processor{
		repo:      repo,
		publisher: publisher,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger.With("component", "work_item_processor"),
		metrics:   metrics,
		tracer:    tracer,
	}
}

var _ events.EventHandler = (*Processor)(nil)

// SupportedEvents implements events.EventHandler.
func (p *Processor) SupportedEvents() []events.EventType {
	return []events.EventType{events.EventTypeWorkItemCreated}
}

// HandleEvent acknowledges a work item once processed. A failed item is
// negatively acknowledged so it is delivered again.
func (p *Processor) HandleEvent(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	item, ok := evt.Payload.(generation.WorkItem)
	if !ok {
		p.logger.Error(ctx, "Dropping work item event with unexpected payload",
			"event_type", evt.Type,
			"payload_type", fmt.Sprintf("%T", evt.Payload),
		)
		ack(nil)
		return nil
	}

	if err := p.Process(ctx, item); err != nil {
		ack(err)
		return nil
	}
	ack(nil)
	return nil
}

// Process handles one work item, retrying transient failures with
// exponential backoff. When retries are exhausted or a permanent error
// occurs the generation is failed and nil is returned. An error is returned
// only when the failure itself could not be recorded.
func (p *Processor) Process(ctx context.Context, item generation.WorkItem) error {
	ctx, span := p.tracer.Start(ctx, "work_item_processor.process",
		trace.WithAttributes(
			attribute.String("generation_id", item.GenerationID.String()),
			attribute.String("item_key", item.Key()),
			attribute.Int("depth", item.Depth()),
			attribute.Int("remaining_courses", len(item.Remaining)),
		))
	defer span.End()

	logger := p.logger.With("generation_id", item.GenerationID.String(), "item_key", item.Key())

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = p.cfg.InitialBackoff
	expBackoff.MaxInterval = p.cfg.MaxBackoff
	expBackoff.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, p.cfg.MaxRetries), ctx)

	operation := func() error {
		err := p.step(ctx, item)
		if err != nil && !schedule.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.metrics.IncWorkItemsRetried(ctx)
		logger.Warn(ctx, "Retrying work item after transient failure", "error", err, "wait", wait)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		p.metrics.IncWorkItemsProcessed(ctx)
		return nil
	}
	span.RecordError(err)

	// A cancelled worker leaves the item for redelivery.
	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "processing interrupted")
		return ctx.Err()
	}

	logger.Error(ctx, "Work item failed, failing generation", "error", err)
	if ferr := p.failGeneration(ctx, item.GenerationID, fmt.Sprintf("work item %s: %v", item.Key(), err)); ferr != nil {
		span.SetStatus(codes.Error, "failed to record failure")
		return ferr
	}
	span.SetStatus(codes.Error, "generation failed")
	return nil
}

// step performs one attempt. It is safe to repeat.
func (p *Processor) step(ctx context.Context, item generation.WorkItem) error {
	ctx, span := p.tracer.Start(ctx, "work_item_processor.step")
	defer span.End()

	id := item.GenerationID
	g, err := p.repo.Get(ctx, id)
	if errors.Is(err, generation.ErrGenerationNotFound) {
		p.logger.Warn(ctx, "Dropping work item of unknown generation", "generation_id", id.String())
		return nil
	}
	if err != nil {
		return err
	}

	switch status := g.Status(); {
	case status.IsTerminal():
		span.AddEvent("generation_terminal", trace.WithAttributes(attribute.String("status", status.String())))
		return nil
	case status != generation.StatusProcessing:
		return schedule.NewTransientError("work item", fmt.Errorf("generation %s is %s", id, status))
	}

	var (
		children []generation.WorkItem
		complete []schedule.Combination
	)
	schedule.Step(item.Frame(), func(next schedule.Frame) bool {
		if next.Complete() {
			complete = append(complete, next.Partial.Clone())
		} else {
			children = append(children, item.Child(next))
		}
		return true
	})
	span.SetAttributes(
		attribute.Int("children", len(children)),
		attribute.Int("complete", len(complete)),
	)

	if len(complete) > 0 {
		res, err := p.repo.MergeCombinations(ctx, id, complete)
		if err != nil {
			return err
		}
		p.metrics.AddCombinationsMerged(ctx, res.Added)
		if res.Completed {
			p.logger.Info(ctx, "Generation reached its limit", "generation_id", id.String(), "count", res.Count)
			p.announce(ctx, id)
		}
		if res.Status.IsTerminal() {
			return nil
		}
	}

	if len(children) > 0 {
		spawn, err := p.repo.RecordSpawn(ctx, id, item.Key(), len(children), p.cfg.MaxWorkItems)
		if err != nil {
			return err
		}
		if spawn.LimitExceeded {
			return p.failGeneration(ctx, id,
				fmt.Sprintf("work item limit exceeded: %d spawned, %d more requested, limit %d",
					spawn.Spawned, len(children), p.cfg.MaxWorkItems))
		}
		if spawn.Status.IsTerminal() {
			return nil
		}
		// Children are published again when the spawn was recorded by an
		// earlier delivery of this item; processing them is idempotent.
		if err := p.publishChildren(ctx, children); err != nil {
			return err
		}
	}

	done, err := p.repo.CompleteWorkItem(ctx, id, item.Key())
	if err != nil {
		return err
	}
	if done.Completed {
		p.logger.Info(ctx, "Generation search exhausted", "generation_id", id.String())
		p.announce(ctx, id)
	}
	return nil
}

func (p *Processor) publishChildren(ctx context.Context, children []generation.WorkItem) error {
	if err := p.limiter.WaitN(ctx, len(children)); err != nil {
		return fmt.Errorf("waiting to publish work items: %w", err)
	}
	for _, child := range children {
		key := events.WithKey(child.GenerationID.String())
		if err := p.publisher.PublishDomainEvent(ctx, child, key); err != nil {
			return schedule.NewTransientError("publish work item", err)
		}
	}
	p.metrics.AddWorkItemsSpawned(ctx, len(children))
	return nil
}

// failGeneration moves the generation to FAILED. A generation that already
// reached a terminal status is left alone.
func (p *Processor) failGeneration(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := p.repo.SetStatus(ctx, id, generation.StatusFailed, reason)
	switch {
	case errors.Is(err, generation.ErrInvalidTransition), errors.Is(err, generation.ErrGenerationNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to mark generation failed: %w", err)
	}
	p.announce(ctx, id)
	return nil
}

func (p *Processor) announce(ctx context.Context, id uuid.UUID) {
	announceFinished(ctx, p.repo, p.publisher, p.metrics, p.logger, id)
}

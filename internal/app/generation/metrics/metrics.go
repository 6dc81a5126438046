package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
	"github.com/ahrav/schedule-armada/internal/infra/eventbus/kafka"
)

var _ kafka.EventBusMetrics = (*Generation)(nil)

// Generation implements the metrics used by the planner and the worker:
// event bus traffic, generation lifecycle and work item processing.
type Generation struct {
	// Event bus metrics.
	messagesPublished metric.Int64Counter
	messagesConsumed  metric.Int64Counter
	publishErrors     metric.Int64Counter
	consumeErrors     metric.Int64Counter

	// Generation lifecycle metrics.
	generationsStarted  metric.Int64Counter
	generationsFinished metric.Int64Counter
	combinationsMerged  metric.Int64Counter
	syncDuration        metric.Float64Histogram
	stalledGenerations  metric.Int64Counter

	// Work item metrics.
	workItemsProcessed metric.Int64Counter
	workItemsRetried   metric.Int64Counter
	workItemsSpawned   metric.Int64Counter

	// Leader election metrics
	leaderStatus metric.Int64UpDownCounter
}

const namespace = "schedule_armada"

// New creates a new Generation metrics instance.
func New(mp metric.MeterProvider) (*Generation, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	g := new(Generation)
	var err error

	if g.messagesPublished, err = meter.Int64Counter(
		"messages_published_total",
		metric.WithDescription("Total number of messages published"),
	); err != nil {
		return nil, err
	}

	if g.messagesConsumed, err = meter.Int64Counter(
		"messages_consumed_total",
		metric.WithDescription("Total number of messages consumed"),
	); err != nil {
		return nil, err
	}

	if g.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of publish errors"),
	); err != nil {
		return nil, err
	}

	if g.consumeErrors, err = meter.Int64Counter(
		"consume_errors_total",
		metric.WithDescription("Total number of consume errors"),
	); err != nil {
		return nil, err
	}

	if g.generationsStarted, err = meter.Int64Counter(
		"generations_started_total",
		metric.WithDescription("Total number of generations started"),
	); err != nil {
		return nil, err
	}

	if g.generationsFinished, err = meter.Int64Counter(
		"generations_finished_total",
		metric.WithDescription("Total number of generations that reached a terminal status"),
	); err != nil {
		return nil, err
	}

	if g.combinationsMerged, err = meter.Int64Counter(
		"combinations_merged_total",
		metric.WithDescription("Total number of new combinations merged into generation records"),
	); err != nil {
		return nil, err
	}

	if g.syncDuration, err = meter.Float64Histogram(
		"sync_enumeration_duration_seconds",
		metric.WithDescription("Time taken by synchronous enumerations"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if g.stalledGenerations, err = meter.Int64Counter(
		"stalled_generations_total",
		metric.WithDescription("Total number of generations failed by the stall sweeper"),
	); err != nil {
		return nil, err
	}

	if g.workItemsProcessed, err = meter.Int64Counter(
		"work_items_processed_total",
		metric.WithDescription("Total number of work items processed"),
	); err != nil {
		return nil, err
	}

	if g.workItemsRetried, err = meter.Int64Counter(
		"work_items_retried_total",
		metric.WithDescription("Total number of work item attempts retried after a transient failure"),
	); err != nil {
		return nil, err
	}

	if g.workItemsSpawned, err = meter.Int64Counter(
		"work_items_spawned_total",
		metric.WithDescription("Total number of child work items published"),
	); err != nil {
		return nil, err
	}

	if g.leaderStatus, err = meter.Int64UpDownCounter(
		"leader_status",
		metric.WithDescription("Indicates if this instance is the leader (1) or follower (0)"),
	); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *Generation) IncMessagePublished(ctx context.Context, topic string) {
	g.messagesPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
func (g *Generation) IncMessageConsumed(ctx context.Context, topic string) {
	g.messagesConsumed.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
func (g *Generation) IncPublishError(ctx context.Context, topic string) {
	g.publishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
func (g *Generation) IncConsumeError(ctx context.Context, topic string) {
	g.consumeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (g *Generation) IncGenerationsStarted(ctx context.Context, mode generation.Mode) {
	g.generationsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(mode))))
}

func (g *Generation) IncGenerationsFinished(ctx context.Context, mode generation.Mode, status generation.Status) {
	g.generationsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("status", status.String()),
	))
}

func (g *Generation) AddCombinationsMerged(ctx context.Context, n int) {
	g.combinationsMerged.Add(ctx, int64(n))
}

func (g *Generation) ObserveSyncDuration(ctx context.Context, d time.Duration, outcome schedule.Outcome) {
	g.syncDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (g *Generation) IncStalledGenerations(ctx context.Context, n int) {
	g.stalledGenerations.Add(ctx, int64(n))
}

func (g *Generation) IncWorkItemsProcessed(ctx context.Context) { g.workItemsProcessed.Add(ctx, 1) }
func (g *Generation) IncWorkItemsRetried(ctx context.Context)   { g.workItemsRetried.Add(ctx, 1) }

func (g *Generation) AddWorkItemsSpawned(ctx context.Context, n int) {
	g.workItemsSpawned.Add(ctx, int64(n))
}

func (g *Generation) SetLeaderStatus(ctx context.Context, isLeader bool) {
	if isLeader {
		g.leaderStatus.Add(ctx, 1)
	} else {
		g.leaderStatus.Add(ctx, -1)
	}
}

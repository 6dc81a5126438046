package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
	busmem "github.com/ahrav/schedule-armada/internal/infra/eventbus/memory"
	genmem "github.com/ahrav/schedule-armada/internal/infra/storage/generation/memory"
	"github.com/ahrav/schedule-armada/pkg/common"
)

func testProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxWorkItems:   1000,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

type processorSuite struct {
	svc       *Service
	proc      *Processor
	repo      *genmem.GenerationStore
	publisher *recordingPublisher
}

func newProcessorSuite(t *testing.T, cfg ProcessorConfig) processorSuite {
	t.Helper()
	repo := genmem.NewGenerationStore()
	pub := newRecordingPublisher()
	m := newTestMetrics(t)
	svc := NewService(newTestCatalog(), repo, pub, nil, DefaultConfig(), newTestLogger(), m, testTracer)
	proc := NewProcessor(repo, pub, nil, cfg, newTestLogger(), m, testTracer)
	return processorSuite{svc: svc, proc: proc, repo: repo, publisher: pub}
}

func (s processorSuite) kickoff(t *testing.T, limit int, codes ...string) (uuid.UUID, generation.WorkItem) {
	t.Helper()
	g, err := s.svc.Kickoff(context.Background(), newRequest(t, schedule.FilterSpec{}, codes...), limit)
	require.NoError(t, err)
	items := s.publisher.workItems()
	require.NotEmpty(t, items)
	return g.ID(), items[len(items)-1]
}

// drain processes every published work item, delivering each one twice,
// until no new items appear.
func (s processorSuite) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for next := 0; ; next++ {
		items := s.publisher.workItems()
		if next >= len(items) {
			return
		}
		require.NoError(t, s.proc.Process(ctx, items[next]))
		require.NoError(t, s.proc.Process(ctx, items[next]))
		require.Less(t, next, 1000, "work items never drained")
	}
}

func combinationKeys(combos []schedule.Combination) []string {
	keys := make([]string, len(combos))
	for i, c := range combos {
		keys[i] = c.Key()
	}
	return keys
}

func TestProcessor_FanOutMatchesSynchronousResult(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, testProcessorConfig())
	ctx := context.Background()

	sync, err := s.svc.Generate(ctx, GenerateRequest{Request: newRequest(t, schedule.FilterSpec{}, "CSE101", "MAT101")})
	require.NoError(t, err)

	id, _ := s.kickoff(t, 0, "CSE101", "MAT101")
	s.drain(t)

	g, combos, err := s.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusCompleted, g.Status())
	assert.Equal(t, 0, g.Outstanding())
	assert.Equal(t, 5, g.Count())
	assert.ElementsMatch(t, combinationKeys(sync.Combinations), combinationKeys(combos))
}

func TestProcessor_RedeliveryDoesNotInflateRecord(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, testProcessorConfig())
	ctx := context.Background()

	id, _ := s.kickoff(t, 0, "CSE101", "MAT101")
	// drain delivers every item twice, and redelivered parents publish their
	// children again.
	s.drain(t)

	g, err := s.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusCompleted, g.Status())
	assert.Equal(t, 5, g.Count())
	assert.Equal(t, 0, g.Outstanding())
	// One seed plus two MAT101 children.
	assert.Equal(t, 3, g.Spawned())

	finished := s.publisher.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, id, finished[0].GenerationID)
	assert.Equal(t, 5, finished[0].Count)
}

func TestProcessor_LimitCompletesGeneration(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, testProcessorConfig())
	ctx := context.Background()

	id, _ := s.kickoff(t, 2, "CSE101", "MAT101")
	s.drain(t)

	g, err := s.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusCompleted, g.Status())
	assert.Equal(t, 2, g.Count())
	assert.Len(t, s.publisher.finished(), 1)
}

func TestProcessor_SingleCourseCompletesFromSeed(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, testProcessorConfig())
	ctx := context.Background()

	id, seed := s.kickoff(t, 0, "CSE101")
	require.NoError(t, s.proc.Process(ctx, seed))

	g, combos, err := s.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusCompleted, g.Status())
	assert.Equal(t, []string{"CSE101-1", "CSE101-2", "CSE101-3"}, []string{
		combos[0][0].ID(), combos[1][0].ID(), combos[2][0].ID(),
	})
	// The seed spawned nothing.
	assert.Len(t, s.publisher.workItems(), 1)
}

func TestProcessor_WorkItemLimitFailsGeneration(t *testing.T) {
	t.Parallel()
	cfg := testProcessorConfig()
	cfg.MaxWorkItems = 2
	s := newProcessorSuite(t, cfg)
	ctx := context.Background()

	id, seed := s.kickoff(t, 0, "CSE101", "MAT101")
	require.NoError(t, s.proc.Process(ctx, seed))

	g, err := s.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusFailed, g.Status())
	assert.Contains(t, g.Reason(), "work item limit exceeded")
	assert.Len(t, s.publisher.workItems(), 1, "no children are published")

	finished := s.publisher.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, generation.StatusFailed, finished[0].Status)
}

func TestProcessor_IgnoresTerminalAndUnknownGenerations(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, testProcessorConfig())
	ctx := context.Background()

	id, seed := s.kickoff(t, 0, "CSE101", "MAT101")
	_, err := s.svc.Cancel(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.proc.Process(ctx, seed))
	assert.Len(t, s.publisher.workItems(), 1)

	g, err := s.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusCancelled, g.Status())
	assert.Equal(t, 0, g.Count())

	orphan := generation.NewSeedItem(uuid.New(), seed.Remaining)
	assert.NoError(t, s.proc.Process(ctx, orphan))
}

func TestProcessor_PendingGenerationFailsAfterRetries(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, testProcessorConfig())
	ctx := context.Background()

	g := generation.NewGeneration(newRequest(t, schedule.FilterSpec{}, "CSE101"), generation.ModeAsync, 10)
	require.NoError(t, s.repo.Create(ctx, g))

	require.NoError(t, s.proc.Process(ctx, generation.NewSeedItem(g.ID(), nil)))

	stored, err := s.repo.Get(ctx, g.ID())
	require.NoError(t, err)
	assert.Equal(t, generation.StatusFailed, stored.Status())
	assert.Contains(t, stored.Reason(), "PENDING")
}

func TestProcessor_PublishFailureFailsGeneration(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, testProcessorConfig())
	ctx := context.Background()

	id, seed := s.kickoff(t, 0, "CSE101", "MAT101")
	s.publisher.failFor(events.EventTypeWorkItemCreated, errors.New("broker unavailable"))

	require.NoError(t, s.proc.Process(ctx, seed))

	g, err := s.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusFailed, g.Status())
	assert.Contains(t, g.Reason(), "broker unavailable")
}

func TestProcessor_CancelledContextLeavesItemForRedelivery(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, testProcessorConfig())

	id, seed := s.kickoff(t, 0, "CSE101", "MAT101")
	s.publisher.failFor(events.EventTypeWorkItemCreated, errors.New("broker unavailable"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.proc.Process(ctx, seed))

	g, err := s.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusProcessing, g.Status())
}

func TestProcessor_HandleEventAcksUnexpectedPayload(t *testing.T) {
	t.Parallel()
	s := newProcessorSuite(t, testProcessorConfig())

	var (
		acked  bool
		ackErr error
	)
	err := s.proc.HandleEvent(context.Background(),
		events.EventEnvelope{Type: events.EventTypeWorkItemCreated, Payload: "not a work item"},
		func(err error) { acked, ackErr = true, err })
	require.NoError(t, err)
	assert.True(t, acked)
	assert.NoError(t, ackErr)
}

func TestProcessor_EndToEndOverBroker(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := busmem.NewBroker(newTestLogger(), busmem.WithWorkers(4))
	defer broker.Close()
	publisher := events.NewDomainEventPublisher(broker)

	repo := genmem.NewGenerationStore()
	m := newTestMetrics(t)
	svc := NewService(newTestCatalog(), repo, publisher, nil, DefaultConfig(), newTestLogger(), m, testTracer)
	proc := NewProcessor(repo, publisher, common.NewRateLimiter(1000, 10), testProcessorConfig(), newTestLogger(), m, testTracer)

	finished := make(chan generation.FinishedEvent, 4)
	require.NoError(t, events.SubscribeHandler(ctx, broker, proc))
	require.NoError(t, broker.Subscribe(ctx, []events.EventType{events.EventTypeGenerationFinished},
		func(_ context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
			finished <- evt.Payload.(generation.FinishedEvent)
			ack(nil)
			return nil
		}))

	g, err := svc.Kickoff(ctx, newRequest(t, schedule.FilterSpec{}, "CSE101", "MAT101"), 0)
	require.NoError(t, err)

	idleCtx, idleCancel := context.WithTimeout(ctx, 5*time.Second)
	defer idleCancel()
	require.NoError(t, broker.WaitIdle(idleCtx))

	stored, combos, err := svc.Get(ctx, g.ID())
	require.NoError(t, err)
	assert.Equal(t, generation.StatusCompleted, stored.Status())
	assert.Len(t, combos, 5)

	select {
	case evt := <-finished:
		assert.Equal(t, g.ID(), evt.GenerationID)
		assert.Equal(t, generation.StatusCompleted, evt.Status)
		assert.Equal(t, 5, evt.Count)
	default:
		t.Fatal("no finished event delivered")
	}
}

package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/internal/infra/eventbus/serialization"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
)

type fakeMetrics struct {
	mu            sync.Mutex
	published     int
	consumed      int
	publishErrors int
	consumeErrors int
}

func (m *fakeMetrics) IncMessagePublished(context.Context, string) { m.inc(&m.published) }
func (m *fakeMetrics) IncMessageConsumed(context.Context, string)  { m.inc(&m.consumed) }
func (m *fakeMetrics) IncPublishError(context.Context, string)     { m.inc(&m.publishErrors) }
func (m *fakeMetrics) IncConsumeError(context.Context, string)     { m.inc(&m.consumeErrors) }

func (m *fakeMetrics) inc(n *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*n++
}

var testConfig = &EventBusConfig{
	Brokers:        []string{"localhost:9092"},
	WorkItemTopic:  "work-items",
	LifecycleTopic: "generation-lifecycle",
	GroupID:        "workers",
	ClientID:       "worker-1",
	ServiceType:    "worker",
}

func newTestBus(t *testing.T, producer sarama.SyncProducer) (*EventBus, *fakeMetrics) {
	t.Helper()
	metrics := new(fakeMetrics)
	bus, err := NewEventBus(
		producer,
		nil,
		testConfig,
		logger.New(io.Discard, logger.LevelDebug, "test", nil),
		metrics,
		noop.NewTracerProvider().Tracer("test"),
	)
	require.NoError(t, err)
	return bus, metrics
}

func TestNewEventBus_Validation(t *testing.T) {
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	tracer := noop.NewTracerProvider().Tracer("test")

	_, err := NewEventBus(nil, nil, testConfig, log, nil, tracer)
	require.Error(t, err)

	_, err = NewEventBus(nil, nil, &EventBusConfig{WorkItemTopic: "w"}, log, new(fakeMetrics), tracer)
	require.Error(t, err)
}

func TestEventBus_Publish(t *testing.T) {
	t.Run("routes work items to the work item topic", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		bus, metrics := newTestBus(t, producer)

		item := generation.NewSeedItem(uuid.New(), nil)
		producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			if msg.Topic != "work-items" {
				return errors.New("wrong topic " + msg.Topic)
			}
			key, err := msg.Key.Encode()
			if err != nil {
				return err
			}
			if string(key) != item.GenerationID.String() {
				return errors.New("wrong key")
			}
			return nil
		})

		err := bus.Publish(context.Background(), events.EventEnvelope{
			Type:    events.EventTypeWorkItemCreated,
			Payload: item,
		}, events.WithKey(item.GenerationID.String()))
		require.NoError(t, err)
		assert.Equal(t, 1, metrics.published)
		require.NoError(t, producer.Close())
	})

	t.Run("routes lifecycle events to the lifecycle topic", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		bus, _ := newTestBus(t, producer)

		producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			if msg.Topic != "generation-lifecycle" {
				return errors.New("wrong topic " + msg.Topic)
			}
			return nil
		})

		err := bus.Publish(context.Background(), events.EventEnvelope{
			Type:    events.EventTypeGenerationFinished,
			Payload: generation.FinishedEvent{GenerationID: uuid.New(), Status: generation.StatusCompleted},
		})
		require.NoError(t, err)
		require.NoError(t, producer.Close())
	})

	t.Run("unknown event type", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		bus, _ := newTestBus(t, producer)

		err := bus.Publish(context.Background(), events.EventEnvelope{Type: "Unknown"})
		require.Error(t, err)
		require.NoError(t, producer.Close())
	})

	t.Run("send failure is counted", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		bus, metrics := newTestBus(t, producer)
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		err := bus.Publish(context.Background(), events.EventEnvelope{
			Type:    events.EventTypeWorkItemCreated,
			Payload: generation.NewSeedItem(uuid.New(), nil),
		})
		require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
		assert.Equal(t, 1, metrics.publishErrors)
		require.NoError(t, producer.Close())
	})
}

func TestEventBus_PublishOnly(t *testing.T) {
	bus, _ := newTestBus(t, mocks.NewSyncProducer(t, nil))

	err := bus.Subscribe(context.Background(), []events.EventType{events.EventTypeWorkItemCreated}, nil)
	require.Error(t, err)
	require.NoError(t, bus.Close())
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member-1" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct{ msgs chan *sarama.ConsumerMessage }

func (c *fakeClaim) Topic() string                            { return "work-items" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func newClaim(t *testing.T, n int) *fakeClaim {
	t.Helper()
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, n)}
	for i := 0; i < n; i++ {
		data, err := serialization.SerializeEventEnvelope(
			events.EventTypeWorkItemCreated,
			generation.NewSeedItem(uuid.New(), nil),
		)
		require.NoError(t, err)
		claim.msgs <- &sarama.ConsumerMessage{
			Topic:  "work-items",
			Offset: int64(i),
			Key:    []byte("k"),
			Value:  data,
		}
	}
	close(claim.msgs)
	return claim
}

func TestClaimHandler_ConsumeClaim(t *testing.T) {
	wanted := map[events.EventType]struct{}{events.EventTypeWorkItemCreated: {}}

	t.Run("acknowledged messages are marked", func(t *testing.T) {
		bus, metrics := newTestBus(t, mocks.NewSyncProducer(t, nil))
		var seen int
		h := &claimHandler{
			bus:    bus,
			wanted: wanted,
			handle: func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
				seen++
				_, ok := evt.Payload.(generation.WorkItem)
				assert.True(t, ok)
				ack(nil)
				return nil
			},
		}

		sess := &fakeSession{ctx: context.Background()}
		require.NoError(t, h.ConsumeClaim(sess, newClaim(t, 2)))
		assert.Equal(t, 2, seen)
		assert.Equal(t, []int64{0, 1}, sess.marked)
		assert.Equal(t, 2, metrics.consumed)
	})

	t.Run("negative acknowledgement redelivers before marking", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		bus, metrics := newTestBus(t, producer)
		producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			for _, h := range msg.Headers {
				if string(h.Key) == RedeliveryHeader && string(h.Value) == "1" {
					return nil
				}
			}
			return errors.New("missing redelivery header")
		})

		h := &claimHandler{
			bus:    bus,
			wanted: wanted,
			handle: func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
				ack(errors.New("store unavailable"))
				return nil
			},
		}

		sess := &fakeSession{ctx: context.Background()}
		require.NoError(t, h.ConsumeClaim(sess, newClaim(t, 1)))
		assert.Equal(t, []int64{0}, sess.marked)
		assert.Equal(t, 1, metrics.consumeErrors)
		require.NoError(t, producer.Close())
	})

	t.Run("failed redelivery stops the claim without marking", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		bus, metrics := newTestBus(t, producer)
		producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

		var seen int
		h := &claimHandler{
			bus:    bus,
			wanted: wanted,
			handle: func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
				seen++
				return errors.New("handler failed")
			},
		}

		sess := &fakeSession{ctx: context.Background()}
		require.NoError(t, h.ConsumeClaim(sess, newClaim(t, 2)))
		assert.Equal(t, 1, seen)
		assert.Empty(t, sess.marked)
		assert.Equal(t, 1, metrics.publishErrors)
		require.NoError(t, producer.Close())
	})

	t.Run("undecodable messages are skipped", func(t *testing.T) {
		bus, metrics := newTestBus(t, mocks.NewSyncProducer(t, nil))
		h := &claimHandler{
			bus:    bus,
			wanted: wanted,
			handle: func(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
				t.Fatal("handler must not run for poison messages")
				return nil
			},
		}

		claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 1)}
		claim.msgs <- &sarama.ConsumerMessage{Topic: "work-items", Offset: 7, Value: []byte{0xff, 0xff, 0xff}}
		close(claim.msgs)

		sess := &fakeSession{ctx: context.Background()}
		require.NoError(t, h.ConsumeClaim(sess, claim))
		assert.Equal(t, []int64{7}, sess.marked)
		assert.Equal(t, 1, metrics.consumeErrors)
	})
}

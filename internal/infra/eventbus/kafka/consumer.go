package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/codes"

	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/schedule-armada/internal/infra/eventbus/serialization"
)

// RedeliveryHeader counts how many times a record was put back on its topic
// after a negative acknowledgement.
const RedeliveryHeader = "x-redelivery-count"

const commitInterval = time.Second

// claimHandler delivers the records of each claimed partition to a
// subscriber. Offsets are marked only once the subscriber acknowledges, and
// a negative acknowledgement republishes the record to the tail of its topic
// before the offset moves past it.
type claimHandler struct {
	bus    *EventBus
	handle events.HandlerFunc
	wanted map[events.EventType]struct{}
}

func (h *claimHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.bus.logger.Info(sess.Context(), "Partitions assigned",
		"member_id", sess.MemberID(),
		"claims", sess.Claims(),
	)
	return nil
}

func (h *claimHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.bus.logger.Info(sess.Context(), "Partitions released", "member_id", sess.MemberID())
	return nil
}

func (h *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log := h.bus.logger.With("topic", claim.Topic(), "partition", claim.Partition())

	lastCommit := time.Now()
	defer sess.Commit()

	for msg := range claim.Messages() {
		if !h.deliver(sess, msg) {
			// Leave the offset unmarked; the record comes back after the
			// next rebalance.
			log.Warn(sess.Context(), "Abandoning claim after failed redelivery", "offset", msg.Offset)
			return nil
		}
		if time.Since(lastCommit) > commitInterval {
			sess.Commit()
			lastCommit = time.Now()
		}
	}
	return nil
}

// deliver hands one record to the subscriber and reports whether the claim
// may continue.
func (h *claimHandler) deliver(sess sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) bool {
	ctx, span := tracing.StartDelivery(sess.Context(), h.bus.tracer, msg)
	defer span.End()

	evt, err := decode(msg)
	if err != nil {
		// A record that cannot be decoded never will be.
		h.bus.logger.Error(ctx, "Dropping undecodable record", "offset", msg.Offset, "error", err)
		h.bus.metrics.IncConsumeError(ctx, msg.Topic)
		span.RecordError(err)
		sess.MarkMessage(msg, "")
		return true
	}
	if _, ok := h.wanted[evt.Type]; !ok {
		sess.MarkMessage(msg, "")
		return true
	}

	a := &acker{h: h, sess: sess, msg: msg, ok: true}
	if err := h.handle(ctx, evt, a.ack(ctx)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		a.ack(ctx)(err)
		return a.ok
	}
	a.ack(ctx)(nil)
	return a.ok
}

// acker settles a record exactly once, however many times the subscriber
// calls its AckFunc.
type acker struct {
	h       *claimHandler
	sess    sarama.ConsumerGroupSession
	msg     *sarama.ConsumerMessage
	settled bool
	ok      bool
}

func (a *acker) ack(ctx context.Context) events.AckFunc {
	return func(ackErr error) {
		if a.settled {
			return
		}
		a.settled = true

		if ackErr == nil {
			a.h.bus.metrics.IncMessageConsumed(ctx, a.msg.Topic)
			a.sess.MarkMessage(a.msg, "")
			return
		}

		a.h.bus.metrics.IncConsumeError(ctx, a.msg.Topic)
		a.h.bus.logger.Warn(ctx, "Record not acknowledged, redelivering",
			"offset", a.msg.Offset,
			"key", string(a.msg.Key),
			"error", ackErr,
		)
		if err := a.h.redeliver(ctx, a.msg); err != nil {
			a.h.bus.logger.Error(ctx, "Redelivery failed", "offset", a.msg.Offset, "error", err)
			a.ok = false
			return
		}
		a.sess.MarkMessage(a.msg, "")
	}
}

// redeliver appends msg to the tail of its topic with its redelivery count
// incremented.
func (h *claimHandler) redeliver(ctx context.Context, msg *sarama.ConsumerMessage) error {
	headers := tracing.Headers(msg)
	count := 0
	kept := headers[:0]
	for _, hdr := range headers {
		if string(hdr.Key) == RedeliveryHeader {
			count, _ = strconv.Atoi(string(hdr.Value))
			continue
		}
		kept = append(kept, hdr)
	}
	kept = append(kept, sarama.RecordHeader{
		Key:   []byte(RedeliveryHeader),
		Value: []byte(strconv.Itoa(count + 1)),
	})
	return h.bus.send(ctx, msg.Topic, string(msg.Key), msg.Value, kept)
}

func decode(msg *sarama.ConsumerMessage) (events.EventEnvelope, error) {
	evtType, body, err := serialization.UnmarshalUniversalEnvelope(msg.Value)
	if err != nil {
		return events.EventEnvelope{}, fmt.Errorf("unwrapping envelope: %w", err)
	}
	payload, err := serialization.DeserializePayload(evtType, body)
	if err != nil {
		return events.EventEnvelope{}, fmt.Errorf("decoding %s payload: %w", evtType, err)
	}

	headers := make(map[string]string, len(msg.Headers))
	for _, hdr := range msg.Headers {
		if hdr != nil {
			headers[string(hdr.Key)] = string(hdr.Value)
		}
	}

	return events.EventEnvelope{
		Type:      evtType,
		Key:       string(msg.Key),
		Headers:   headers,
		Timestamp: msg.Timestamp,
		Payload:   payload,
		Metadata: events.EventMetadata{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		},
	}, nil
}

// Package serialization encodes bus payloads as protobuf Structs wrapped in
// an Any envelope that names the event type. Each event type registers a
// codec, so domain types stay free of wire concerns.
package serialization

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/internal/infra/eventbus/serialization/protobuf"
)

type codec struct {
	encode func(payload any) (*structpb.Struct, error)
	decode func(st *structpb.Struct) (any, error)
}

var codecs = map[events.EventType]codec{}

// register binds the Struct conversions of payload type T to eventType.
func register[T any](
	eventType events.EventType,
	toProto func(T) (*structpb.Struct, error),
	fromProto func(*structpb.Struct) (T, error),
) {
	codecs[eventType] = codec{
		encode: func(payload any) (*structpb.Struct, error) {
			v, ok := payload.(T)
			if !ok {
				var want T
				return nil, fmt.Errorf("%s payload must be %T, got %T", eventType, want, payload)
			}
			return toProto(v)
		},
		decode: func(st *structpb.Struct) (any, error) { return fromProto(st) },
	}
}

func init() {
	register(events.EventTypeWorkItemCreated, protobuf.WorkItemToProto, protobuf.ProtoToWorkItem)
	register(events.EventTypeGenerationFinished, protobuf.FinishedEventToProto, protobuf.ProtoToFinishedEvent)
}

// SerializePayload encodes payload with the codec of eventType.
func SerializePayload(eventType events.EventType, payload any) ([]byte, error) {
	c, ok := codecs[eventType]
	if !ok {
		return nil, fmt.Errorf("no codec registered for event type %s", eventType)
	}
	st, err := c.encode(payload)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

// DeserializePayload decodes data with the codec of eventType.
func DeserializePayload(eventType events.EventType, data []byte) (any, error) {
	c, ok := codecs[eventType]
	if !ok {
		return nil, fmt.Errorf("no codec registered for event type %s", eventType)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", eventType, err)
	}
	return c.decode(&st)
}

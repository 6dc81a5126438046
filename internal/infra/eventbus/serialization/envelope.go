package serialization

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/ahrav/schedule-armada/internal/domain/events"
)

// typeURLPrefix namespaces event types inside the universal envelope.
const typeURLPrefix = "schedule-armada/events/"

// SerializeEventEnvelope serializes payload with the serializer registered for
// eventType and wraps the result in a universal envelope that records the
// event type, so consumers can route a message without knowing its topic.
func SerializeEventEnvelope(eventType events.EventType, payload any) ([]byte, error) {
	body, err := SerializePayload(eventType, payload)
	if err != nil {
		return nil, err
	}
	env := &anypb.Any{TypeUrl: typeURLPrefix + string(eventType), Value: body}
	data, err := proto.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// UnmarshalUniversalEnvelope splits a message produced by
// SerializeEventEnvelope into its event type and payload bytes.
func UnmarshalUniversalEnvelope(data []byte) (events.EventType, []byte, error) {
	var env anypb.Any
	if err := proto.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	evtType, ok := strings.CutPrefix(env.GetTypeUrl(), typeURLPrefix)
	if !ok || evtType == "" {
		return "", nil, fmt.Errorf("envelope has unknown type url %q", env.GetTypeUrl())
	}
	return events.EventType(evtType), env.GetValue(), nil
}

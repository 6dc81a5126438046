package serialization

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/internal/domain/generation"
)

func TestEventEnvelope(t *testing.T) {
	t.Run("work item survives the envelope", func(t *testing.T) {
		item := generation.NewSeedItem(uuid.New(), nil)

		data, err := SerializeEventEnvelope(events.EventTypeWorkItemCreated, item)
		require.NoError(t, err)

		evtType, body, err := UnmarshalUniversalEnvelope(data)
		require.NoError(t, err)
		assert.Equal(t, events.EventTypeWorkItemCreated, evtType)

		payload, err := DeserializePayload(evtType, body)
		require.NoError(t, err)
		got, ok := payload.(generation.WorkItem)
		require.True(t, ok)
		assert.Equal(t, item.GenerationID, got.GenerationID)
		assert.Equal(t, item.Key(), got.Key())
	})

	t.Run("finished event survives the envelope", func(t *testing.T) {
		evt := generation.FinishedEvent{
			GenerationID: uuid.New(),
			Status:       generation.StatusCompleted,
			Count:        4,
			FinishedAt:   time.Now().UTC(),
		}

		data, err := SerializeEventEnvelope(events.EventTypeGenerationFinished, evt)
		require.NoError(t, err)

		evtType, body, err := UnmarshalUniversalEnvelope(data)
		require.NoError(t, err)
		payload, err := DeserializePayload(evtType, body)
		require.NoError(t, err)
		assert.Equal(t, evt.GenerationID, payload.(generation.FinishedEvent).GenerationID)
		assert.Equal(t, 4, payload.(generation.FinishedEvent).Count)
	})

	t.Run("payload of the wrong type", func(t *testing.T) {
		_, err := SerializeEventEnvelope(events.EventTypeWorkItemCreated, "not a work item")
		require.Error(t, err)
	})

	t.Run("unregistered event type", func(t *testing.T) {
		_, err := SerializeEventEnvelope(events.EventType("Unknown"), nil)
		require.Error(t, err)
	})

	t.Run("foreign type url", func(t *testing.T) {
		data, err := proto.Marshal(&anypb.Any{TypeUrl: "example.com/Other", Value: []byte{1}})
		require.NoError(t, err)

		_, _, err = UnmarshalUniversalEnvelope(data)
		require.Error(t, err)
	})

	t.Run("garbage bytes", func(t *testing.T) {
		_, _, err := UnmarshalUniversalEnvelope([]byte{0xff, 0xff, 0xff})
		require.Error(t, err)
	})
}

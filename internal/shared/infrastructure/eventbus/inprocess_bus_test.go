package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, routingKey string) []byte {
	t.Helper()
	payload, err := json.Marshal(&ConsumedEvent{
		EventID:     uuid.New(),
		AggregateID: uuid.New(),
		RoutingKey:  routingKey,
		OccurredAt:  time.Now(),
		Payload:     json.RawMessage(`{"item_id":"` + uuid.NewString() + `"}`),
	})
	require.NoError(t, err)
	return payload
}

func TestInProcessEventBus_DeliversSynchronously(t *testing.T) {
	bus := NewInProcessEventBus(nil)
	consumer := &testConsumer{types: []string{"agenda.item.scheduled"}}
	bus.RegisterConsumer(consumer)

	err := bus.Publish(context.Background(), "agenda.item.scheduled", envelope(t, "agenda.item.scheduled"))
	require.NoError(t, err)
	require.Len(t, consumer.handled, 1)
	assert.Equal(t, "agenda.item.scheduled", consumer.handled[0].RoutingKey)
}

func TestInProcessEventBus_FillsRoutingKeyFromTransport(t *testing.T) {
	bus := NewInProcessEventBus(nil)
	consumer := &testConsumer{types: []string{"agenda.item.cancelled"}}
	bus.RegisterConsumer(consumer)

	payload, err := json.Marshal(&ConsumedEvent{EventID: uuid.New()})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "agenda.item.cancelled", payload))
	require.Len(t, consumer.handled, 1)
	assert.Equal(t, "agenda.item.cancelled", consumer.handled[0].RoutingKey)
}

func TestInProcessEventBus_MalformedPayloadNeverFailsPublish(t *testing.T) {
	bus := NewInProcessEventBus(nil)
	err := bus.Publish(context.Background(), "agenda.item.scheduled", []byte(`{bad json`))
	assert.NoError(t, err)
}

func TestNoopPublisher_AcceptsEverything(t *testing.T) {
	pub := NewNoopPublisher(nil)
	assert.NoError(t, pub.Publish(context.Background(), "agenda.item.scheduled", []byte(`{}`)))
	assert.NoError(t, pub.Close())
}

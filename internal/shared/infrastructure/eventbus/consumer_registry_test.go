package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConsumer struct {
	types   []string
	handled []*ConsumedEvent
	err     error
}

func (c *testConsumer) EventTypes() []string { return c.types }

func (c *testConsumer) Handle(ctx context.Context, event *ConsumedEvent) error {
	c.handled = append(c.handled, event)
	return c.err
}

func TestConsumerRegistry_DispatchByRoutingKey(t *testing.T) {
	registry := NewConsumerRegistry(nil)
	agenda := &testConsumer{types: []string{"agenda.item.scheduled", "agenda.item.cancelled"}}
	reminders := &testConsumer{types: []string{"agenda.reminder.sent"}}
	registry.Register(agenda)
	registry.Register(reminders)

	event := &ConsumedEvent{EventID: uuid.New(), RoutingKey: "agenda.item.scheduled"}
	require.NoError(t, registry.Dispatch(context.Background(), event))

	assert.Len(t, agenda.handled, 1)
	assert.Empty(t, reminders.handled)
}

func TestConsumerRegistry_NoConsumersIsNoop(t *testing.T) {
	registry := NewConsumerRegistry(nil)
	err := registry.Dispatch(context.Background(), &ConsumedEvent{RoutingKey: "agenda.item.edited"})
	assert.NoError(t, err)
}

func TestConsumerRegistry_FailingConsumerDoesNotStopOthers(t *testing.T) {
	registry := NewConsumerRegistry(nil)
	failing := &testConsumer{types: []string{"agenda.item.scheduled"}, err: errors.New("boom")}
	healthy := &testConsumer{types: []string{"agenda.item.scheduled"}}
	registry.Register(failing)
	registry.Register(healthy)

	err := registry.Dispatch(context.Background(), &ConsumedEvent{RoutingKey: "agenda.item.scheduled"})
	require.Error(t, err)
	assert.Len(t, healthy.handled, 1)
}

func TestConsumerRegistry_Consumers(t *testing.T) {
	registry := NewConsumerRegistry(nil)
	consumer := &testConsumer{types: []string{"agenda.item.synced"}}
	registry.Register(consumer)

	assert.Len(t, registry.Consumers("agenda.item.synced"), 1)
	assert.Empty(t, registry.Consumers("agenda.item.scheduled"))
}

package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/npjlab/pauta/internal/shared/domain"
	"github.com/google/uuid"
)

// Publisher sends events to a message broker.
type Publisher interface {
	// Publish sends a message under the given routing key.
	Publish(ctx context.Context, routingKey string, payload []byte) error

	// Close closes the publisher connection.
	Close() error
}

// PublishDomainEvent marshals a domain event into its transport envelope
// and publishes it under the event's routing key.
func PublishDomainEvent(ctx context.Context, publisher Publisher, event domain.DomainEvent) error {
	if publisher == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	envelope := ConsumedEvent{
		EventID:       event.EventID(),
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		RoutingKey:    event.RoutingKey(),
		OccurredAt:    event.OccurredAt(),
		Payload:       payload,
		Metadata: EventMetadata{
			ActorID: event.Metadata().ActorID,
		},
	}
	if corr := event.Metadata().CorrelationID; corr != uuid.Nil {
		envelope.Metadata.CorrelationID = corr.String()
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return publisher.Publish(ctx, event.RoutingKey(), body)
}

// NoopPublisher discards events. Used when no broker is configured.
type NoopPublisher struct {
	logger *slog.Logger
}

// NewNoopPublisher creates a publisher that does nothing.
func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPublisher{logger: logger}
}

// Publish logs the message but doesn't actually publish.
func (p *NoopPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.logger.Debug("noop publish",
		"routing_key", routingKey,
		"size", len(payload),
	)
	return nil
}

// Close is a no-op.
func (p *NoopPublisher) Close() error {
	return nil
}

package subscribers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/npjlab/pauta/internal/agenda/application"
	"github.com/npjlab/pauta/internal/agenda/domain"
	"github.com/npjlab/pauta/internal/shared/infrastructure/eventbus"
)

// ItemSyncSubscriber reacts to docket changes by reconciling the affected
// item right away instead of waiting for the next worker poll.
type ItemSyncSubscriber struct {
	repo      domain.ScheduleItemRepository
	registry  *application.ProviderRegistry
	publisher eventbus.Publisher
	provider  domain.ProviderType
	logger    *slog.Logger
	enabled   bool
}

// NewItemSyncSubscriber creates a new item sync subscriber.
func NewItemSyncSubscriber(
	repo domain.ScheduleItemRepository,
	registry *application.ProviderRegistry,
	publisher eventbus.Publisher,
	provider domain.ProviderType,
	logger *slog.Logger,
) *ItemSyncSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &ItemSyncSubscriber{
		repo:      repo,
		registry:  registry,
		publisher: publisher,
		provider:  provider,
		logger:    logger,
		enabled:   true,
	}
}

// SetEnabled enables or disables the subscriber.
func (s *ItemSyncSubscriber) SetEnabled(enabled bool) {
	s.enabled = enabled
}

// EventTypes returns the event types this subscriber handles.
func (s *ItemSyncSubscriber) EventTypes() []string {
	return []string{
		domain.RoutingKeyItemScheduled,
		domain.RoutingKeyItemEdited,
		domain.RoutingKeyItemCancelled,
	}
}

// itemEventPayload covers the fields shared by scheduled, edited and
// cancelled events.
type itemEventPayload struct {
	ItemID uuid.UUID `json:"item_id"`
}

// Handle processes a docket event.
func (s *ItemSyncSubscriber) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	if !s.enabled {
		s.logger.Debug("item sync subscriber disabled, skipping event",
			"routing_key", event.RoutingKey,
		)
		return nil
	}

	var payload itemEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal event payload: %w", err)
	}
	if payload.ItemID == uuid.Nil {
		s.logger.Warn("event without item id", "routing_key", event.RoutingKey)
		return nil
	}

	item, err := s.repo.FindByID(ctx, payload.ItemID)
	if err != nil {
		return fmt.Errorf("failed to load schedule item: %w", err)
	}
	if item == nil {
		s.logger.Warn("event for unknown schedule item", "item_id", payload.ItemID)
		return nil
	}

	remote, err := s.registry.Create(ctx, s.provider, item.OwnerID())
	if err != nil {
		// The owner has not connected a calendar yet; the worker poll will
		// pick the item up once they do.
		s.logger.Debug("no remote calendar for owner, deferring to worker",
			"item_id", item.ID(),
			"owner_id", item.OwnerID(),
		)
		return nil
	}

	reconciler := application.NewReconciler(s.repo, remote, s.publisher, s.logger)

	switch event.RoutingKey {
	case domain.RoutingKeyItemScheduled, domain.RoutingKeyItemEdited:
		result, err := reconciler.Reconcile(ctx, []*domain.ScheduleItem{item})
		if err != nil {
			return err
		}
		s.logger.Debug("item reconciled from event",
			"item_id", item.ID(),
			"routing_key", event.RoutingKey,
			"failed", result.Failed,
		)
		return nil
	case domain.RoutingKeyItemCancelled:
		outcome := reconciler.CancelAndDelete(ctx, item)
		if outcome.Failed() {
			return outcome.Err
		}
		return nil
	default:
		s.logger.Warn("unknown event type", "routing_key", event.RoutingKey)
		return nil
	}
}

package domain

import (
	"time"

	sharedDomain "github.com/npjlab/pauta/internal/shared/domain"
	"github.com/google/uuid"
)

const aggregateTypeScheduleItem = "schedule_item"

// Routing keys for agenda domain events.
const (
	RoutingKeyItemScheduled  = "agenda.item.scheduled"
	RoutingKeyItemEdited     = "agenda.item.edited"
	RoutingKeyItemSynced     = "agenda.item.synced"
	RoutingKeyItemSyncFailed = "agenda.item.sync_failed"
	RoutingKeyItemCancelled  = "agenda.item.cancelled"
	RoutingKeyReminderSent   = "agenda.reminder.sent"
)

// ItemSyncedEvent is emitted after a confirmed remote push.
type ItemSyncedEvent struct {
	sharedDomain.BaseEvent
	ItemID     uuid.UUID `json:"item_id"`
	RemoteID   string    `json:"remote_id"`
	RemoteLink string    `json:"remote_link"`
	Action     string    `json:"action"` // created or updated
}

// NewItemSyncedEvent creates an item synced event.
func NewItemSyncedEvent(itemID uuid.UUID, remoteID, remoteLink, action string) *ItemSyncedEvent {
	return &ItemSyncedEvent{
		BaseEvent:  sharedDomain.NewBaseEvent(itemID, aggregateTypeScheduleItem, RoutingKeyItemSynced),
		ItemID:     itemID,
		RemoteID:   remoteID,
		RemoteLink: remoteLink,
		Action:     action,
	}
}

// ItemSyncFailedEvent is emitted when a reconciliation attempt fails.
type ItemSyncFailedEvent struct {
	sharedDomain.BaseEvent
	ItemID uuid.UUID `json:"item_id"`
	Kind   string    `json:"kind"`
	Reason string    `json:"reason"`
}

// NewItemSyncFailedEvent creates an item sync failed event.
func NewItemSyncFailedEvent(itemID uuid.UUID, kind FailureKind, reason string) *ItemSyncFailedEvent {
	return &ItemSyncFailedEvent{
		BaseEvent: sharedDomain.NewBaseEvent(itemID, aggregateTypeScheduleItem, RoutingKeyItemSyncFailed),
		ItemID:    itemID,
		Kind:      string(kind),
		Reason:    reason,
	}
}

// ItemCancelledEvent is emitted when an item reaches its terminal state.
type ItemCancelledEvent struct {
	sharedDomain.BaseEvent
	ItemID        uuid.UUID `json:"item_id"`
	RemoteDeleted bool      `json:"remote_deleted"`
}

// NewItemCancelledEvent creates an item cancelled event.
func NewItemCancelledEvent(itemID uuid.UUID, remoteDeleted bool) *ItemCancelledEvent {
	return &ItemCancelledEvent{
		BaseEvent:     sharedDomain.NewBaseEvent(itemID, aggregateTypeScheduleItem, RoutingKeyItemCancelled),
		ItemID:        itemID,
		RemoteDeleted: remoteDeleted,
	}
}

// ReminderSentEvent is emitted after a pre-event reminder is dispatched.
type ReminderSentEvent struct {
	sharedDomain.BaseEvent
	ItemID    uuid.UUID `json:"item_id"`
	Recipient string    `json:"recipient"`
	StartsAt  time.Time `json:"starts_at"`
}

// NewReminderSentEvent creates a reminder sent event.
func NewReminderSentEvent(itemID uuid.UUID, recipient string, startsAt time.Time) *ReminderSentEvent {
	return &ReminderSentEvent{
		BaseEvent: sharedDomain.NewBaseEvent(itemID, aggregateTypeScheduleItem, RoutingKeyReminderSent),
		ItemID:    itemID,
		Recipient: recipient,
		StartsAt:  startsAt,
	}
}

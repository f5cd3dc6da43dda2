package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/npjlab/pauta/internal/agenda/domain"
	"github.com/npjlab/pauta/internal/shared/infrastructure/eventbus"
	"github.com/google/uuid"
)

// DefaultReminderWindow is how far ahead of an event's start a reminder
// becomes due.
const DefaultReminderWindow = 30 * time.Minute

// DefaultNotifyBatchSize caps how many due reminders one poll handles.
const DefaultNotifyBatchSize = 50

// Message is what the external messaging collaborator accepts.
type Message struct {
	To      string
	CC      []string
	Subject string
	Body    string
}

// Messenger dispatches reminder messages. Delivery is best-effort:
// a failure never affects sync state.
type Messenger interface {
	Send(ctx context.Context, msg Message) error
}

// ReminderThrottle deduplicates reminders across concurrent worker
// instances. Acquire returns false when another instance already holds
// the key. A nil throttle falls back to flag-only dedup in the store.
type ReminderThrottle interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// NotifyReport aggregates one reminder poll.
type NotifyReport struct {
	Notified int
	Errors   int
}

// NotificationTrigger decides, per synced item, whether a pre-event
// reminder is due and dispatches it. It is decoupled from the reconciler
// through SyncOutcome values so calendar sync correctness is never gated
// on notification delivery.
type NotificationTrigger struct {
	repo      domain.ScheduleItemRepository
	messenger Messenger
	throttle  ReminderThrottle
	publisher eventbus.Publisher
	logger    *slog.Logger
	window    time.Duration
	batchSize int
}

// NewNotificationTrigger creates a notification trigger. Throttle and
// publisher are optional.
func NewNotificationTrigger(repo domain.ScheduleItemRepository, messenger Messenger, logger *slog.Logger) *NotificationTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationTrigger{
		repo:      repo,
		messenger: messenger,
		logger:    logger,
		window:    DefaultReminderWindow,
		batchSize: DefaultNotifyBatchSize,
	}
}

// WithThrottle installs a cross-instance reminder throttle.
func (t *NotificationTrigger) WithThrottle(throttle ReminderThrottle) *NotificationTrigger {
	t.throttle = throttle
	return t
}

// WithPublisher installs an event publisher for reminder events.
func (t *NotificationTrigger) WithPublisher(publisher eventbus.Publisher) *NotificationTrigger {
	t.publisher = publisher
	return t
}

// WithWindow sets the default lookahead window.
func (t *NotificationTrigger) WithWindow(window time.Duration) *NotificationTrigger {
	if window > 0 {
		t.window = window
	}
	return t
}

// CheckAndNotify scans for synced items starting within the window whose
// reminder is enabled and not yet sent, and dispatches one reminder each.
// A dispatch failure leaves the flag false so a later poll retries.
func (t *NotificationTrigger) CheckAndNotify(ctx context.Context, window time.Duration) (NotifyReport, error) {
	if window <= 0 {
		window = t.window
	}

	report := NotifyReport{}
	items, err := t.repo.FindDueReminder(ctx, window, t.batchSize)
	if err != nil {
		return report, fmt.Errorf("scan due reminders: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		sent, err := t.notifyItem(ctx, item, window)
		if err != nil {
			report.Errors++
			continue
		}
		if sent {
			report.Notified++
		}
	}
	return report, nil
}

// NotifyOutcomes runs the reminder check over the items a reconciliation
// batch just created or updated, so imminent events are not left waiting
// for the next poll.
func (t *NotificationTrigger) NotifyOutcomes(ctx context.Context, items []*domain.ScheduleItem, outcomes []SyncOutcome) NotifyReport {
	byID := make(map[uuid.UUID]*domain.ScheduleItem, len(items))
	for _, item := range items {
		byID[item.ID()] = item
	}

	report := NotifyReport{}
	for _, outcome := range outcomes {
		if outcome.Action != ActionCreated && outcome.Action != ActionUpdated {
			continue
		}
		item, ok := byID[outcome.ItemID]
		if !ok || !t.eligible(item, t.window) {
			continue
		}
		sent, err := t.notifyItem(ctx, item, t.window)
		if err != nil {
			report.Errors++
			continue
		}
		if sent {
			report.Notified++
		}
	}
	return report
}

// eligible mirrors the store-side filter for in-memory candidates.
func (t *NotificationTrigger) eligible(item *domain.ScheduleItem, window time.Duration) bool {
	if item.IsCancelled() || !item.NotifyEmail() || item.ReminderSent() {
		return false
	}
	until := time.Until(item.StartsAt())
	return until > 0 && until <= window
}

// notifyItem dispatches one reminder. The sent flag flips only after a
// confirmed dispatch; throttle conflicts count as "someone else sent it".
func (t *NotificationTrigger) notifyItem(ctx context.Context, item *domain.ScheduleItem, window time.Duration) (bool, error) {
	id := item.ID()

	if t.throttle != nil {
		acquired, err := t.throttle.Acquire(ctx, "reminder:"+id.String(), window)
		if err != nil {
			// Throttle outage degrades to flag-only dedup.
			t.logger.Warn("reminder throttle unavailable", "item_id", id, "error", err)
		} else if !acquired {
			t.logger.Debug("reminder suppressed by throttle", "item_id", id)
			return false, nil
		}
	}

	msg := buildReminder(item)
	if err := t.messenger.Send(ctx, msg); err != nil {
		t.logger.Error("reminder dispatch failed", "item_id", id, "recipient", msg.To, "error", err)
		return false, err
	}

	if err := t.repo.MarkReminderSent(ctx, id); err != nil {
		// The reminder went out; the worst case of a failed flag write is
		// one duplicate on the next poll.
		t.logger.Error("failed to record reminder sent", "item_id", id, "error", err)
		return true, nil
	}
	item.MarkReminderSent()

	t.logger.Info("reminder dispatched", "item_id", id, "recipient", msg.To)
	if err := eventbus.PublishDomainEvent(ctx, t.publisher, domain.NewReminderSentEvent(id, msg.To, item.StartsAt())); err != nil {
		t.logger.Warn("failed to publish reminder event", "item_id", id, "error", err)
	}
	return true, nil
}

func buildReminder(item *domain.ScheduleItem) Message {
	var body strings.Builder
	fmt.Fprintf(&body, "Upcoming %s: %s\n", item.Category(), item.Title())
	fmt.Fprintf(&body, "Starts: %s\n", item.StartsAt().Format("2006-01-02 15:04 MST"))
	if item.Location() != "" {
		fmt.Fprintf(&body, "Location: %s\n", item.Location())
	}
	if item.Description() != "" {
		fmt.Fprintf(&body, "\n%s\n", item.Description())
	}
	if item.RemoteLink() != "" {
		fmt.Fprintf(&body, "\nCalendar: %s\n", item.RemoteLink())
	}

	cc := make([]string, 0, len(item.Attendees()))
	for _, attendee := range item.Attendees() {
		if attendee.Email != "" && attendee.Email != item.OwnerEmail() {
			cc = append(cc, attendee.Email)
		}
	}

	return Message{
		To:      item.OwnerEmail(),
		CC:      cc,
		Subject: fmt.Sprintf("[NPJ] Reminder: %s", item.Title()),
		Body:    body.String(),
	}
}

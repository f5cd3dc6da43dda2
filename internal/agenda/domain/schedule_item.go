package domain

import (
	"context"
	"time"

	sharedDomain "github.com/npjlab/pauta/internal/shared/domain"
	"github.com/google/uuid"
)

// SyncStatus tracks where a schedule item stands relative to the remote calendar.
type SyncStatus string

const (
	// SyncStatusPending means the item has local changes not yet pushed remotely.
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusInProgress means a worker has claimed the item for reconciliation.
	SyncStatusInProgress SyncStatus = "in_progress"
	// SyncStatusSynced means the remote calendar reflects the local state.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusCancelled is terminal: the item is no longer reconciled.
	SyncStatusCancelled SyncStatus = "cancelled"
)

// IsValid returns true if the status is recognized.
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusPending, SyncStatusInProgress, SyncStatusSynced, SyncStatusCancelled:
		return true
	default:
		return false
	}
}

func (s SyncStatus) String() string { return string(s) }

// Category classifies a schedule item within the clinic's docket.
type Category string

const (
	CategoryHearing  Category = "hearing"
	CategoryMeeting  Category = "meeting"
	CategoryDeadline Category = "deadline"
	CategoryOther    Category = "other"
)

// Attendee is a participant on a schedule item.
type Attendee struct {
	Name  string
	Email string
}

// ReminderPolicy describes when reminders fire ahead of the event start.
// Lead times are minutes before start, per delivery channel.
type ReminderPolicy struct {
	EmailMinutes []int
	PopupMinutes []int
}

// IsZero returns true when no explicit policy was configured,
// in which case the remote client applies its defaults.
func (p ReminderPolicy) IsZero() bool {
	return len(p.EmailMinutes) == 0 && len(p.PopupMinutes) == 0
}

// ScheduleItem is the canonical local record of a calendar-worthy event:
// a hearing, client meeting, or procedural deadline owned by a clinic case.
type ScheduleItem struct {
	sharedDomain.BaseEntity
	title        string
	description  string
	location     string
	category     Category
	ownerID      uuid.UUID
	ownerEmail   string
	attendees    []Attendee
	startsAt     time.Time
	endsAt       time.Time
	reminders    ReminderPolicy
	notifyEmail  bool
	reminderSent bool
	remoteID     string // empty means never pushed
	remoteLink   string
	status       SyncStatus
	syncErrors   int
	lastError    string
}

// NewScheduleItem creates a pending schedule item.
func NewScheduleItem(title string, category Category, ownerID uuid.UUID, ownerEmail string, startsAt, endsAt time.Time) *ScheduleItem {
	return &ScheduleItem{
		BaseEntity: sharedDomain.NewBaseEntity(),
		title:      title,
		category:   category,
		ownerID:    ownerID,
		ownerEmail: ownerEmail,
		startsAt:   startsAt,
		endsAt:     endsAt,
		status:     SyncStatusPending,
	}
}

// Getters
func (i *ScheduleItem) Title() string             { return i.title }
func (i *ScheduleItem) Description() string       { return i.description }
func (i *ScheduleItem) Location() string          { return i.location }
func (i *ScheduleItem) Category() Category        { return i.category }
func (i *ScheduleItem) OwnerID() uuid.UUID        { return i.ownerID }
func (i *ScheduleItem) OwnerEmail() string        { return i.ownerEmail }
func (i *ScheduleItem) Attendees() []Attendee     { return i.attendees }
func (i *ScheduleItem) StartsAt() time.Time       { return i.startsAt }
func (i *ScheduleItem) EndsAt() time.Time         { return i.endsAt }
func (i *ScheduleItem) Reminders() ReminderPolicy { return i.reminders }
func (i *ScheduleItem) NotifyEmail() bool         { return i.notifyEmail }
func (i *ScheduleItem) ReminderSent() bool        { return i.reminderSent }
func (i *ScheduleItem) RemoteID() string          { return i.remoteID }
func (i *ScheduleItem) RemoteLink() string        { return i.remoteLink }
func (i *ScheduleItem) Status() SyncStatus        { return i.status }
func (i *ScheduleItem) SyncErrors() int           { return i.syncErrors }
func (i *ScheduleItem) LastError() string         { return i.lastError }

// HasRemote returns true if the item has ever been pushed to the remote calendar.
func (i *ScheduleItem) HasRemote() bool { return i.remoteID != "" }

// IsCancelled returns true if the item reached its terminal state.
func (i *ScheduleItem) IsCancelled() bool { return i.status == SyncStatusCancelled }

// Validate checks the temporal invariant before any remote call is issued.
func (i *ScheduleItem) Validate() error {
	if i.startsAt.IsZero() || i.endsAt.IsZero() || !i.startsAt.Before(i.endsAt) {
		return ErrInvalidRange
	}
	return nil
}

// SetDetails fills the descriptive fields.
func (i *ScheduleItem) SetDetails(description, location string) {
	i.description = description
	i.location = location
	i.Touch()
}

// SetAttendees replaces the attendee list.
func (i *ScheduleItem) SetAttendees(attendees []Attendee) {
	i.attendees = attendees
	i.Touch()
}

// SetReminders configures the reminder policy and enables email notification.
func (i *ScheduleItem) SetReminders(policy ReminderPolicy, notifyEmail bool) {
	i.reminders = policy
	i.notifyEmail = notifyEmail
	i.Touch()
}

// Reschedule moves the item and flags it for re-propagation.
// The remote identifier is kept so the next run updates rather than re-creates.
func (i *ScheduleItem) Reschedule(startsAt, endsAt time.Time) {
	if i.status == SyncStatusCancelled {
		return
	}
	i.startsAt = startsAt
	i.endsAt = endsAt
	i.status = SyncStatusPending
	i.reminderSent = false
	i.Touch()
}

// MarkEdited flags the item for re-propagation after a field edit.
func (i *ScheduleItem) MarkEdited() {
	if i.status == SyncStatusCancelled {
		return
	}
	i.status = SyncStatusPending
	i.Touch()
}

// MarkSynced records a confirmed remote push: remote id, link and status
// move together, never partially.
func (i *ScheduleItem) MarkSynced(remoteID, remoteLink string) {
	i.remoteID = remoteID
	i.remoteLink = remoteLink
	i.status = SyncStatusSynced
	i.syncErrors = 0
	i.lastError = ""
	i.Touch()
}

// MarkSyncFailure records a failed reconciliation attempt without
// touching the sync status.
func (i *ScheduleItem) MarkSyncFailure(reason string) {
	i.syncErrors++
	i.lastError = reason
	i.Touch()
}

// ClearRemote detaches the item from a remote event deleted out-of-band,
// returning it to pending so the next run re-creates it.
func (i *ScheduleItem) ClearRemote() {
	i.remoteID = ""
	i.remoteLink = ""
	i.status = SyncStatusPending
	i.Touch()
}

// MarkCancelled moves the item to its terminal state.
func (i *ScheduleItem) MarkCancelled() {
	i.status = SyncStatusCancelled
	i.Touch()
}

// MarkReminderSent records that the pre-event reminder went out.
func (i *ScheduleItem) MarkReminderSent() {
	i.reminderSent = true
	i.Touch()
}

// RehydrateScheduleItem recreates a schedule item from persisted data.
func RehydrateScheduleItem(
	id uuid.UUID,
	title, description, location string,
	category Category,
	ownerID uuid.UUID,
	ownerEmail string,
	attendees []Attendee,
	startsAt, endsAt time.Time,
	reminders ReminderPolicy,
	notifyEmail, reminderSent bool,
	remoteID, remoteLink string,
	status SyncStatus,
	syncErrors int,
	lastError string,
	createdAt, updatedAt time.Time,
) *ScheduleItem {
	return &ScheduleItem{
		BaseEntity:   sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		title:        title,
		description:  description,
		location:     location,
		category:     category,
		ownerID:      ownerID,
		ownerEmail:   ownerEmail,
		attendees:    attendees,
		startsAt:     startsAt,
		endsAt:       endsAt,
		reminders:    reminders,
		notifyEmail:  notifyEmail,
		reminderSent: reminderSent,
		remoteID:     remoteID,
		remoteLink:   remoteLink,
		status:       status,
		syncErrors:   syncErrors,
		lastError:    lastError,
	}
}

// ScheduleItemRepository is the durable home for schedule items and their
// sync state. Claim is the single place that needs a conditional write:
// it moves an item into in_progress only if it still holds the expected
// status, so two concurrent batches cannot both push the same item.
type ScheduleItemRepository interface {
	// Save persists an item (create or update).
	Save(ctx context.Context, item *ScheduleItem) error

	// FindByID returns the item or nil when absent.
	FindByID(ctx context.Context, id uuid.UUID) (*ScheduleItem, error)

	// FindByStatus returns items with the given status, oldest first.
	FindByStatus(ctx context.Context, status SyncStatus, limit int) ([]*ScheduleItem, error)

	// FindPendingSync returns pending items eligible for reconciliation,
	// excluding those past maxErrors consecutive failures.
	FindPendingSync(ctx context.Context, maxErrors, limit int) ([]*ScheduleItem, error)

	// FindDueReminder returns synced items starting within the window whose
	// email notification is enabled and reminder not yet sent.
	FindDueReminder(ctx context.Context, within time.Duration, limit int) ([]*ScheduleItem, error)

	// Claim atomically transitions the item from the expected status to
	// in_progress. Returns false when another worker already claimed it.
	Claim(ctx context.Context, id uuid.UUID, from SyncStatus) (bool, error)

	// Release returns a claimed item to the given status after a failed attempt.
	Release(ctx context.Context, id uuid.UUID, to SyncStatus) error

	// ReleaseStaleClaims returns in_progress items whose claim is older than
	// the cutoff to pending, recovering claims orphaned by a crashed worker.
	// Returns the number of recovered items.
	ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error)

	// MarkSynced sets remote id, link and synced status in a single write.
	MarkSynced(ctx context.Context, id uuid.UUID, remoteID, remoteLink string) error

	// ClearRemote drops the remote identifier and returns the item to pending.
	ClearRemote(ctx context.Context, id uuid.UUID) error

	// MarkCancelled is terminal; cancelled items are skipped by all scans.
	MarkCancelled(ctx context.Context, id uuid.UUID) error

	// MarkReminderSent flips the reminder-sent flag.
	MarkReminderSent(ctx context.Context, id uuid.UUID) error

	// RecordSyncFailure increments the consecutive failure counter.
	RecordSyncFailure(ctx context.Context, id uuid.UUID, reason string) error

	// Delete removes an item.
	Delete(ctx context.Context, id uuid.UUID) error
}

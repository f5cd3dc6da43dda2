package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestItem(t *testing.T) *ScheduleItem {
	t.Helper()
	starts := time.Now().Add(24 * time.Hour)
	return NewScheduleItem("Custody hearing", CategoryHearing,
		uuid.New(), "staff@npj.example", starts, starts.Add(90*time.Minute))
}

func TestNewScheduleItem_StartsPending(t *testing.T) {
	item := newTestItem(t)

	assert.NotEqual(t, uuid.Nil, item.ID())
	assert.Equal(t, SyncStatusPending, item.Status())
	assert.False(t, item.HasRemote())
	assert.False(t, item.NotifyEmail())
	assert.False(t, item.ReminderSent())
	assert.Zero(t, item.SyncErrors())
}

func TestValidate_RejectsInvertedRange(t *testing.T) {
	starts := time.Now().Add(time.Hour)
	item := NewScheduleItem("Backwards", CategoryDeadline,
		uuid.New(), "staff@npj.example", starts, starts.Add(-time.Minute))

	err := item.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRange))
}

func TestValidate_RejectsZeroTimes(t *testing.T) {
	item := NewScheduleItem("No times", CategoryOther,
		uuid.New(), "staff@npj.example", time.Time{}, time.Time{})

	assert.Error(t, item.Validate())
}

func TestMarkSynced_SetsRemoteAndResetsFailures(t *testing.T) {
	item := newTestItem(t)
	item.MarkSyncFailure("network timeout")
	item.MarkSyncFailure("network timeout")
	require.Equal(t, 2, item.SyncErrors())

	item.MarkSynced("evt-1", "https://calendar.example/evt-1")

	assert.Equal(t, SyncStatusSynced, item.Status())
	assert.Equal(t, "evt-1", item.RemoteID())
	assert.Equal(t, "https://calendar.example/evt-1", item.RemoteLink())
	assert.Zero(t, item.SyncErrors())
	assert.Empty(t, item.LastError())
}

func TestMarkEdited_ReturnsToPendingKeepingRemote(t *testing.T) {
	item := newTestItem(t)
	item.MarkSynced("evt-1", "")

	item.MarkEdited()

	assert.Equal(t, SyncStatusPending, item.Status())
	assert.Equal(t, "evt-1", item.RemoteID())
}

func TestReschedule_ResetsReminderFlag(t *testing.T) {
	item := newTestItem(t)
	item.SetReminders(ReminderPolicy{EmailMinutes: []int{30}}, true)
	item.MarkSynced("evt-1", "")
	item.MarkReminderSent()
	require.True(t, item.ReminderSent())

	newStart := time.Now().Add(48 * time.Hour)
	item.Reschedule(newStart, newStart.Add(time.Hour))

	assert.Equal(t, SyncStatusPending, item.Status())
	assert.False(t, item.ReminderSent())
	assert.Equal(t, "evt-1", item.RemoteID())
}

func TestClearRemote_DetachesAndReturnsToPending(t *testing.T) {
	item := newTestItem(t)
	item.MarkSynced("evt-1", "https://calendar.example/evt-1")

	item.ClearRemote()

	assert.False(t, item.HasRemote())
	assert.Empty(t, item.RemoteLink())
	assert.Equal(t, SyncStatusPending, item.Status())
}

func TestMarkCancelled_IsTerminal(t *testing.T) {
	item := newTestItem(t)
	item.MarkCancelled()
	require.True(t, item.IsCancelled())

	item.MarkEdited()
	assert.Equal(t, SyncStatusCancelled, item.Status())

	before := item.StartsAt()
	item.Reschedule(before.Add(time.Hour), before.Add(2*time.Hour))
	assert.Equal(t, before, item.StartsAt())
}

func TestSyncStatus_IsValid(t *testing.T) {
	assert.True(t, SyncStatusPending.IsValid())
	assert.True(t, SyncStatusInProgress.IsValid())
	assert.True(t, SyncStatusSynced.IsValid())
	assert.True(t, SyncStatusCancelled.IsValid())
	assert.False(t, SyncStatus("deleted").IsValid())
}

func TestClassify_ErrorTaxonomy(t *testing.T) {
	assert.Equal(t, FailureInvalidRange, Classify(ErrInvalidRange))
	assert.Equal(t, FailureAuthExpired,
		Classify(NewRemoteError(FailureAuthExpired, 401, "token expired", nil)))
	assert.Equal(t, FailureRemoteUnavailable, Classify(errors.New("dial tcp: timeout")))

	wrapped := NewRemoteError(FailureRemoteNotFound, 404, "event gone", nil)
	assert.True(t, IsRemoteNotFound(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.True(t, IsRetryable(NewRemoteError(FailureRemoteUnavailable, 503, "", nil)))
	assert.False(t, IsRetryable(NewRemoteError(FailureRemoteRejected, 400, "bad payload", nil)))
}

func TestRehydrateScheduleItem_RestoresEverything(t *testing.T) {
	id := uuid.New()
	owner := uuid.New()
	created := time.Now().Add(-72 * time.Hour).Truncate(time.Second)
	updated := time.Now().Add(-time.Hour).Truncate(time.Second)
	starts := time.Now().Add(6 * time.Hour).Truncate(time.Second)

	item := RehydrateScheduleItem(
		id, "Appeal deadline", "file by end of day", "", CategoryDeadline,
		owner, "staff@npj.example",
		[]Attendee{{Name: "Ana", Email: "ana@example.org"}},
		starts, starts.Add(time.Hour),
		ReminderPolicy{EmailMinutes: []int{60}}, true, false,
		"evt-9", "https://calendar.example/evt-9",
		SyncStatusSynced, 3, "last failure",
		created, updated,
	)

	assert.Equal(t, id, item.ID())
	assert.Equal(t, owner, item.OwnerID())
	assert.Equal(t, CategoryDeadline, item.Category())
	assert.Equal(t, SyncStatusSynced, item.Status())
	assert.Equal(t, 3, item.SyncErrors())
	assert.Equal(t, "evt-9", item.RemoteID())
	assert.Equal(t, created, item.CreatedAt())
	assert.Equal(t, updated, item.UpdatedAt())
	require.Len(t, item.Attendees(), 1)
	assert.Equal(t, []int{60}, item.Reminders().EmailMinutes)
}

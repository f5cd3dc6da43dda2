package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npjlab/pauta/internal/agenda/domain"
	"github.com/npjlab/pauta/internal/shared/infrastructure/migrations"

	_ "modernc.org/sqlite"
)

func setupAgendaTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	require.NoError(t, migrations.RunSQLiteMigrations(context.Background(), db))
	return db
}

func testItem(t *testing.T) *domain.ScheduleItem {
	t.Helper()
	starts := time.Now().Add(4 * time.Hour).UTC().Truncate(time.Second)
	item := domain.NewScheduleItem("Custody hearing", domain.CategoryHearing,
		uuid.New(), "staff@npj.example", starts, starts.Add(time.Hour))
	item.SetDetails("courtroom 2", "Forum Central")
	return item
}

func TestSQLiteScheduleItemRepository_SaveAndFindByID(t *testing.T) {
	db := setupAgendaTestDB(t)
	defer db.Close()

	repo := NewSQLiteScheduleItemRepository(db)
	ctx := context.Background()

	item := testItem(t)
	item.SetAttendees([]domain.Attendee{
		{Name: "Ana Souza", Email: "ana@example.org"},
		{Name: "Carlos Lima", Email: "carlos@example.org"},
	})
	item.SetReminders(domain.ReminderPolicy{EmailMinutes: []int{30, 60}, PopupMinutes: []int{10}}, true)

	require.NoError(t, repo.Save(ctx, item))

	found, err := repo.FindByID(ctx, item.ID())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, item.ID(), found.ID())
	assert.Equal(t, "Custody hearing", found.Title())
	assert.Equal(t, domain.CategoryHearing, found.Category())
	assert.Equal(t, item.OwnerID(), found.OwnerID())
	assert.Equal(t, item.StartsAt().UTC(), found.StartsAt().UTC())
	assert.Equal(t, domain.SyncStatusPending, found.Status())
	assert.True(t, found.NotifyEmail())

	// Attendee order is preserved.
	require.Len(t, found.Attendees(), 2)
	assert.Equal(t, "Ana Souza", found.Attendees()[0].Name)
	assert.Equal(t, "carlos@example.org", found.Attendees()[1].Email)

	assert.ElementsMatch(t, []int{30, 60}, found.Reminders().EmailMinutes)
	assert.Equal(t, []int{10}, found.Reminders().PopupMinutes)
}

func TestSQLiteScheduleItemRepository_FindByID_NotFound(t *testing.T) {
	db := setupAgendaTestDB(t)
	defer db.Close()

	repo := NewSQLiteScheduleItemRepository(db)
	found, err := repo.FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestSQLiteScheduleItemRepository_SaveReplacesChildren(t *testing.T) {
	db := setupAgendaTestDB(t)
	defer db.Close()

	repo := NewSQLiteScheduleItemRepository(db)
	ctx := context.Background()

	item := testItem(t)
	item.SetAttendees([]domain.Attendee{{Name: "Ana", Email: "ana@example.org"}})
	require.NoError(t, repo.Save(ctx, item))

	item.SetAttendees([]domain.Attendee{{Name: "Bruna", Email: "bruna@example.org"}})
	require.NoError(t, repo.Save(ctx, item))

	found, err := repo.FindByID(ctx, item.ID())
	require.NoError(t, err)
	require.Len(t, found.Attendees(), 1)
	assert.Equal(t, "Bruna", found.Attendees()[0].Name)
}

func TestSQLiteScheduleItemRepository_Claim(t *testing.T) {
	db := setupAgendaTestDB(t)
	defer db.Close()

	repo := NewSQLiteScheduleItemRepository(db)
	ctx := context.Background()

	item := testItem(t)
	require.NoError(t, repo.Save(ctx, item))

	claimed, err := repo.Claim(ctx, item.ID(), domain.SyncStatusPending)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim sees in_progress, not pending.
	claimed, err = repo.Claim(ctx, item.ID(), domain.SyncStatusPending)
	require.NoError(t, err)
	assert.False(t, claimed)

	found, err := repo.FindByID(ctx, item.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusInProgress, found.Status())
}

func TestSQLiteScheduleItemRepository_ReleaseStaleClaims(t *testing.T) {
	db := setupAgendaTestDB(t)
	defer db.Close()

	repo := NewSQLiteScheduleItemRepository(db)
	ctx := context.Background()

	stale := testItem(t)
	fresh := testItem(t)
	require.NoError(t, repo.Save(ctx, stale))
	require.NoError(t, repo.Save(ctx, fresh))

	for _, item := range []*domain.ScheduleItem{stale, fresh} {
		claimed, err := repo.Claim(ctx, item.ID(), domain.SyncStatusPending)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	// Backdate the first claim as if its worker died an hour ago.
	_, err := db.Exec(`UPDATE schedule_items SET updated_at = ? WHERE id = ?`,
		time.Now().Add(-time.Hour).UTC().Format(time.RFC3339), stale.ID().String())
	require.NoError(t, err)

	n, err := repo.ReleaseStaleClaims(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	found, err := repo.FindByID(ctx, stale.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusPending, found.Status())

	// The live claim is untouched.
	found, err = repo.FindByID(ctx, fresh.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusInProgress, found.Status())
}

func TestSQLiteScheduleItemRepository_ReleaseAfterFailure(t *testing.T) {
	db := setupAgendaTestDB(t)
	defer db.Close()

	repo := NewSQLiteScheduleItemRepository(db)
	ctx := context.Background()

	item := testItem(t)
	require.NoError(t, repo.Save(ctx, item))

	claimed, err := repo.Claim(ctx, item.ID(), domain.SyncStatusPending)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, repo.Release(ctx, item.ID(), domain.SyncStatusPending))
	require.NoError(t, repo.RecordSyncFailure(ctx, item.ID(), "dial tcp: timeout"))

	found, err := repo.FindByID(ctx, item.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusPending, found.Status())
	assert.Equal(t, 1, found.SyncErrors())
	assert.Equal(t, "dial tcp: timeout", found.LastError())
}

func TestSQLiteScheduleItemRepository_MarkSyncedResetsFailures(t *testing.T) {
	db := setupAgendaTestDB(t)
	defer db.Close()

	repo := NewSQLiteScheduleItemRepository(db)
	ctx := context.Background()

	item := testItem(t)
	require.NoError(t, repo.Save(ctx, item))
	require.NoError(t, repo.RecordSyncFailure(ctx, item.ID(), "boom"))

	require.NoError(t, repo.MarkSynced(ctx, item.ID(), "evt-1", "https://calendar.example/evt-1"))

	found, err := repo.FindByID(ctx, item.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSynced, found.Status())
	assert.Equal(t, "evt-1", found.RemoteID())
	assert.Equal(t, "https://calendar.example/evt-1", found.RemoteLink())
	assert.Zero(t, found.SyncErrors())
	assert.Empty(t, found.LastError())
}

func TestSQLiteScheduleItemRepository_ClearRemote(t *testing.T) {
	db := setupAgendaTestDB(t)
	defer db.Close()

	repo := NewSQLiteScheduleItemRepository(db)
	ctx := context.Background()

	item := testItem(t)
	require.NoError(t, repo.Save(ctx, item))
	require.NoError(t, repo.MarkSynced(ctx, item.ID(), "evt-1", ""))

	require.NoError(t, repo.ClearRemote(ctx, item.ID()))

	found, err := repo.FindByID(ctx, item.ID())
	require.NoError(t, err)
	assert.False(t, found.HasRemote())
	assert.Equal(t, domain.SyncStatusPending, found.Status())
}

func TestSQLiteScheduleItemRepository_FindPendingSync(t *testing.T) {
	db := setupAgendaTestDB(t)
	defer db.Close()

	repo := NewSQLiteScheduleItemRepository(db)
	ctx := context.Background()

	fresh := testItem(t)
	require.NoError(t, repo.Save(ctx, fresh))

	exhausted := testItem(t)
	require.NoError(t, repo.Save(ctx, exhausted))
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.RecordSyncFailure(ctx, exhausted.ID(), "remote rejected"))
	}

	synced := testItem(t)
	require.NoError(t, repo.Save(ctx, synced))
	require.NoError(t, repo.MarkSynced(ctx, synced.ID(), "evt-2", ""))

	items, err := repo.FindPendingSync(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, fresh.ID(), items[0].ID())
}

func TestSQLiteScheduleItemRepository_FindDueReminder(t *testing.T) {
	db := setupAgendaTestDB(t)
	defer db.Close()

	repo := NewSQLiteScheduleItemRepository(db)
	ctx := context.Background()

	makeSynced := func(startsIn time.Duration, notify bool) *domain.ScheduleItem {
		starts := time.Now().Add(startsIn).UTC().Truncate(time.Second)
		item := domain.NewScheduleItem("Intake", domain.CategoryMeeting,
			uuid.New(), "staff@npj.example", starts, starts.Add(time.Hour))
		item.SetReminders(domain.ReminderPolicy{EmailMinutes: []int{30}}, notify)
		require.NoError(t, repo.Save(ctx, item))
		require.NoError(t, repo.MarkSynced(ctx, item.ID(), "evt-"+item.ID().String()[:4], ""))
		return item
	}

	due := makeSynced(15*time.Minute, true)
	makeSynced(15*time.Minute, false)    // notifications disabled
	makeSynced(3*time.Hour, true)        // outside the window
	already := makeSynced(20*time.Minute, true)
	require.NoError(t, repo.MarkReminderSent(ctx, already.ID()))

	items, err := repo.FindDueReminder(ctx, 30*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, due.ID(), items[0].ID())
}

func TestSQLiteScheduleItemRepository_DeleteCascades(t *testing.T) {
	db := setupAgendaTestDB(t)
	defer db.Close()

	repo := NewSQLiteScheduleItemRepository(db)
	ctx := context.Background()

	item := testItem(t)
	item.SetAttendees([]domain.Attendee{{Name: "Ana", Email: "ana@example.org"}})
	require.NoError(t, repo.Save(ctx, item))

	require.NoError(t, repo.Delete(ctx, item.ID()))

	found, err := repo.FindByID(ctx, item.ID())
	require.NoError(t, err)
	assert.Nil(t, found)

	var count int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM schedule_item_attendees WHERE item_id = ?`, item.ID().String()).Scan(&count))
	assert.Zero(t, count)
}

func TestSQLiteScheduleItemRepository_MarkCancelled(t *testing.T) {
	db := setupAgendaTestDB(t)
	defer db.Close()

	repo := NewSQLiteScheduleItemRepository(db)
	ctx := context.Background()

	item := testItem(t)
	require.NoError(t, repo.Save(ctx, item))
	require.NoError(t, repo.MarkCancelled(ctx, item.ID()))

	items, err := repo.FindByStatus(ctx, domain.SyncStatusCancelled, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].IsCancelled())
}

func TestSQLiteScheduleItemRepository_ExecOnMissingRow(t *testing.T) {
	db := setupAgendaTestDB(t)
	defer db.Close()

	repo := NewSQLiteScheduleItemRepository(db)
	err := repo.MarkCancelled(context.Background(), uuid.New())
	assert.Error(t, err)
}

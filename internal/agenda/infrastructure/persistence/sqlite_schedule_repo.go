package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/npjlab/pauta/internal/agenda/domain"
)

const scheduleItemColumns = `
	id, title, description, location, category, owner_id, owner_email,
	starts_at, ends_at, notify_email, reminder_sent,
	remote_event_id, remote_link, sync_status, sync_errors, last_error,
	created_at, updated_at
`

// SQLiteScheduleItemRepository implements ScheduleItemRepository using SQLite.
type SQLiteScheduleItemRepository struct {
	db *sql.DB
}

// NewSQLiteScheduleItemRepository creates a new SQLite schedule item repository.
func NewSQLiteScheduleItemRepository(db *sql.DB) *SQLiteScheduleItemRepository {
	return &SQLiteScheduleItemRepository{db: db}
}

// Save persists an item and its attendee and reminder rows (create or update).
func (r *SQLiteScheduleItemRepository) Save(ctx context.Context, item *domain.ScheduleItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO schedule_items (
			id, title, description, location, category, owner_id, owner_email,
			starts_at, ends_at, notify_email, reminder_sent,
			remote_event_id, remote_link, sync_status, sync_errors, last_error,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			location = excluded.location,
			category = excluded.category,
			owner_email = excluded.owner_email,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			notify_email = excluded.notify_email,
			reminder_sent = excluded.reminder_sent,
			remote_event_id = excluded.remote_event_id,
			remote_link = excluded.remote_link,
			sync_status = excluded.sync_status,
			sync_errors = excluded.sync_errors,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`

	var remoteID, remoteLink, lastError *string
	if s := item.RemoteID(); s != "" {
		remoteID = &s
	}
	if s := item.RemoteLink(); s != "" {
		remoteLink = &s
	}
	if s := item.LastError(); s != "" {
		lastError = &s
	}

	if _, err := tx.ExecContext(ctx, query,
		item.ID().String(),
		item.Title(),
		item.Description(),
		item.Location(),
		string(item.Category()),
		item.OwnerID().String(),
		item.OwnerEmail(),
		item.StartsAt().UTC().Format(time.RFC3339),
		item.EndsAt().UTC().Format(time.RFC3339),
		boolToInt(item.NotifyEmail()),
		boolToInt(item.ReminderSent()),
		remoteID,
		remoteLink,
		item.Status().String(),
		item.SyncErrors(),
		lastError,
		item.CreatedAt().UTC().Format(time.RFC3339),
		item.UpdatedAt().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}

	if err := r.saveChildren(ctx, tx, item); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *SQLiteScheduleItemRepository) saveChildren(ctx context.Context, tx *sql.Tx, item *domain.ScheduleItem) error {
	id := item.ID().String()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_item_attendees WHERE item_id = ?`, id); err != nil {
		return err
	}
	for pos, a := range item.Attendees() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedule_item_attendees (item_id, position, name, email) VALUES (?, ?, ?, ?)`,
			id, pos, a.Name, a.Email,
		); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_item_reminders WHERE item_id = ?`, id); err != nil {
		return err
	}
	policy := item.Reminders()
	for _, m := range policy.EmailMinutes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedule_item_reminders (item_id, channel, minutes) VALUES (?, 'email', ?)`,
			id, m,
		); err != nil {
			return err
		}
	}
	for _, m := range policy.PopupMinutes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedule_item_reminders (item_id, channel, minutes) VALUES (?, 'popup', ?)`,
			id, m,
		); err != nil {
			return err
		}
	}

	return nil
}

// FindByID finds a schedule item by ID. Returns nil when absent.
func (r *SQLiteScheduleItemRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.ScheduleItem, error) {
	query := `SELECT` + scheduleItemColumns + `FROM schedule_items WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id.String())
	rec, err := r.scanItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return r.buildItem(ctx, rec)
}

// FindByStatus finds items with the given sync status, oldest first.
func (r *SQLiteScheduleItemRepository) FindByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]*domain.ScheduleItem, error) {
	query := `SELECT` + scheduleItemColumns + `
		FROM schedule_items
		WHERE sync_status = ?
		ORDER BY updated_at
		LIMIT ?`

	return r.queryItems(ctx, query, status.String(), limit)
}

// FindPendingSync finds pending items still under the failure threshold.
func (r *SQLiteScheduleItemRepository) FindPendingSync(ctx context.Context, maxErrors, limit int) ([]*domain.ScheduleItem, error) {
	query := `SELECT` + scheduleItemColumns + `
		FROM schedule_items
		WHERE sync_status = ? AND sync_errors < ?
		ORDER BY updated_at
		LIMIT ?`

	return r.queryItems(ctx, query, domain.SyncStatusPending.String(), maxErrors, limit)
}

// FindDueReminder finds synced items starting within the window that still
// owe their email reminder.
func (r *SQLiteScheduleItemRepository) FindDueReminder(ctx context.Context, within time.Duration, limit int) ([]*domain.ScheduleItem, error) {
	now := time.Now().UTC()
	query := `SELECT` + scheduleItemColumns + `
		FROM schedule_items
		WHERE sync_status = ?
		  AND notify_email = 1
		  AND reminder_sent = 0
		  AND starts_at > ?
		  AND starts_at <= ?
		ORDER BY starts_at
		LIMIT ?`

	return r.queryItems(ctx, query,
		domain.SyncStatusSynced.String(),
		now.Format(time.RFC3339),
		now.Add(within).Format(time.RFC3339),
		limit,
	)
}

// Claim atomically moves an item from the expected status to in_progress.
// The WHERE clause on the current status makes this a compare-and-set: of
// two concurrent claimants exactly one sees an affected row.
func (r *SQLiteScheduleItemRepository) Claim(ctx context.Context, id uuid.UUID, from domain.SyncStatus) (bool, error) {
	query := `
		UPDATE schedule_items
		SET sync_status = ?, updated_at = ?
		WHERE id = ? AND sync_status = ?
	`

	res, err := r.db.ExecContext(ctx, query,
		domain.SyncStatusInProgress.String(),
		time.Now().UTC().Format(time.RFC3339),
		id.String(),
		from.String(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release returns a claimed item to the given status.
func (r *SQLiteScheduleItemRepository) Release(ctx context.Context, id uuid.UUID, to domain.SyncStatus) error {
	query := `
		UPDATE schedule_items
		SET sync_status = ?, updated_at = ?
		WHERE id = ? AND sync_status = ?
	`

	_, err := r.db.ExecContext(ctx, query,
		to.String(),
		time.Now().UTC().Format(time.RFC3339),
		id.String(),
		domain.SyncStatusInProgress.String(),
	)
	return err
}

// ReleaseStaleClaims recovers claims held past the cutoff, typically left
// behind by a worker that died mid-sync.
func (r *SQLiteScheduleItemRepository) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	query := `
		UPDATE schedule_items
		SET sync_status = ?, updated_at = ?
		WHERE sync_status = ? AND updated_at < ?
	`

	res, err := r.db.ExecContext(ctx, query,
		domain.SyncStatusPending.String(),
		now.Format(time.RFC3339),
		domain.SyncStatusInProgress.String(),
		now.Add(-olderThan).Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// MarkSynced records the remote identifiers and the synced status in one write.
func (r *SQLiteScheduleItemRepository) MarkSynced(ctx context.Context, id uuid.UUID, remoteID, remoteLink string) error {
	query := `
		UPDATE schedule_items
		SET remote_event_id = ?, remote_link = ?, sync_status = ?,
		    sync_errors = 0, last_error = NULL, updated_at = ?
		WHERE id = ?
	`

	return r.exec(ctx, query,
		remoteID,
		remoteLink,
		domain.SyncStatusSynced.String(),
		time.Now().UTC().Format(time.RFC3339),
		id.String(),
	)
}

// ClearRemote detaches the item from its remote event and returns it to pending.
func (r *SQLiteScheduleItemRepository) ClearRemote(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE schedule_items
		SET remote_event_id = NULL, remote_link = NULL, sync_status = ?, updated_at = ?
		WHERE id = ?
	`

	return r.exec(ctx, query,
		domain.SyncStatusPending.String(),
		time.Now().UTC().Format(time.RFC3339),
		id.String(),
	)
}

// MarkCancelled moves the item to its terminal status.
func (r *SQLiteScheduleItemRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE schedule_items SET sync_status = ?, updated_at = ? WHERE id = ?`
	return r.exec(ctx, query,
		domain.SyncStatusCancelled.String(),
		time.Now().UTC().Format(time.RFC3339),
		id.String(),
	)
}

// MarkReminderSent flips the reminder-sent flag.
func (r *SQLiteScheduleItemRepository) MarkReminderSent(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE schedule_items SET reminder_sent = 1, updated_at = ? WHERE id = ?`
	return r.exec(ctx, query, time.Now().UTC().Format(time.RFC3339), id.String())
}

// RecordSyncFailure increments the consecutive failure counter.
func (r *SQLiteScheduleItemRepository) RecordSyncFailure(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE schedule_items
		SET sync_errors = sync_errors + 1, last_error = ?, updated_at = ?
		WHERE id = ?
	`

	return r.exec(ctx, query, reason, time.Now().UTC().Format(time.RFC3339), id.String())
}

// Delete removes an item. Child rows go with it via ON DELETE CASCADE.
func (r *SQLiteScheduleItemRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM schedule_items WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, id.String())
	return err
}

func (r *SQLiteScheduleItemRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("schedule item not found")
	}
	return nil
}

func (r *SQLiteScheduleItemRepository) queryItems(ctx context.Context, query string, args ...any) ([]*domain.ScheduleItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []scheduleItemRow
	for rows.Next() {
		rec, err := r.scanItem(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := make([]*domain.ScheduleItem, 0, len(recs))
	for _, rec := range recs {
		item, err := r.buildItem(ctx, rec)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scheduleItemRow holds one scanned row before the child tables are joined in.
type scheduleItemRow struct {
	id           uuid.UUID
	title        string
	description  string
	location     string
	category     domain.Category
	ownerID      uuid.UUID
	ownerEmail   string
	startsAt     time.Time
	endsAt       time.Time
	notifyEmail  bool
	reminderSent bool
	remoteID     string
	remoteLink   string
	status       domain.SyncStatus
	syncErrors   int
	lastError    string
	createdAt    time.Time
	updatedAt    time.Time
}

func (r *SQLiteScheduleItemRepository) scanItem(row rowScanner) (scheduleItemRow, error) {
	var (
		rec          scheduleItemRow
		idStr        string
		category     string
		ownerIDStr   string
		startsAtStr  string
		endsAtStr    string
		notifyEmail  int
		reminderSent int
		remoteID     sql.NullString
		remoteLink   sql.NullString
		status       string
		lastError    sql.NullString
		createdAtStr string
		updatedAtStr string
	)

	err := row.Scan(
		&idStr, &rec.title, &rec.description, &rec.location, &category, &ownerIDStr, &rec.ownerEmail,
		&startsAtStr, &endsAtStr, &notifyEmail, &reminderSent,
		&remoteID, &remoteLink, &status, &rec.syncErrors, &lastError,
		&createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return scheduleItemRow{}, err
	}

	if rec.id, err = uuid.Parse(idStr); err != nil {
		return scheduleItemRow{}, err
	}
	if rec.ownerID, err = uuid.Parse(ownerIDStr); err != nil {
		return scheduleItemRow{}, err
	}
	if rec.startsAt, err = time.Parse(time.RFC3339, startsAtStr); err != nil {
		return scheduleItemRow{}, err
	}
	if rec.endsAt, err = time.Parse(time.RFC3339, endsAtStr); err != nil {
		return scheduleItemRow{}, err
	}
	if rec.createdAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return scheduleItemRow{}, err
	}
	if rec.updatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return scheduleItemRow{}, err
	}

	rec.category = domain.Category(category)
	rec.notifyEmail = notifyEmail == 1
	rec.reminderSent = reminderSent == 1
	rec.remoteID = remoteID.String
	rec.remoteLink = remoteLink.String
	rec.status = domain.SyncStatus(status)
	rec.lastError = lastError.String
	return rec, nil
}

// buildItem joins in the attendee and reminder rows and rehydrates the aggregate.
func (r *SQLiteScheduleItemRepository) buildItem(ctx context.Context, rec scheduleItemRow) (*domain.ScheduleItem, error) {
	id := rec.id.String()

	rows, err := r.db.QueryContext(ctx,
		`SELECT name, email FROM schedule_item_attendees WHERE item_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attendees []domain.Attendee
	for rows.Next() {
		var a domain.Attendee
		if err := rows.Scan(&a.Name, &a.Email); err != nil {
			return nil, err
		}
		attendees = append(attendees, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	remRows, err := r.db.QueryContext(ctx,
		`SELECT channel, minutes FROM schedule_item_reminders WHERE item_id = ? ORDER BY channel, minutes`, id)
	if err != nil {
		return nil, err
	}
	defer remRows.Close()

	var policy domain.ReminderPolicy
	for remRows.Next() {
		var channel string
		var minutes int
		if err := remRows.Scan(&channel, &minutes); err != nil {
			return nil, err
		}
		switch channel {
		case "email":
			policy.EmailMinutes = append(policy.EmailMinutes, minutes)
		case "popup":
			policy.PopupMinutes = append(policy.PopupMinutes, minutes)
		}
	}
	if err := remRows.Err(); err != nil {
		return nil, err
	}

	return domain.RehydrateScheduleItem(
		rec.id,
		rec.title, rec.description, rec.location,
		rec.category,
		rec.ownerID,
		rec.ownerEmail,
		attendees,
		rec.startsAt, rec.endsAt,
		policy,
		rec.notifyEmail, rec.reminderSent,
		rec.remoteID, rec.remoteLink,
		rec.status,
		rec.syncErrors,
		rec.lastError,
		rec.createdAt, rec.updatedAt,
	), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

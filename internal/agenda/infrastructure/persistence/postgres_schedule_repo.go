package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/npjlab/pauta/internal/agenda/domain"
)

// PostgresScheduleItemRepository implements ScheduleItemRepository on pgx.
type PostgresScheduleItemRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresScheduleItemRepository creates a new Postgres schedule item repository.
func NewPostgresScheduleItemRepository(pool *pgxpool.Pool) *PostgresScheduleItemRepository {
	return &PostgresScheduleItemRepository{pool: pool}
}

// Save persists an item and its attendee and reminder rows (create or update).
func (r *PostgresScheduleItemRepository) Save(ctx context.Context, item *domain.ScheduleItem) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO schedule_items (
			id, title, description, location, category, owner_id, owner_email,
			starts_at, ends_at, notify_email, reminder_sent,
			remote_event_id, remote_link, sync_status, sync_errors, last_error,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			location = EXCLUDED.location,
			category = EXCLUDED.category,
			owner_email = EXCLUDED.owner_email,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			notify_email = EXCLUDED.notify_email,
			reminder_sent = EXCLUDED.reminder_sent,
			remote_event_id = EXCLUDED.remote_event_id,
			remote_link = EXCLUDED.remote_link,
			sync_status = EXCLUDED.sync_status,
			sync_errors = EXCLUDED.sync_errors,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
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

	if _, err := tx.Exec(ctx, query,
		item.ID(),
		item.Title(),
		item.Description(),
		item.Location(),
		string(item.Category()),
		item.OwnerID(),
		item.OwnerEmail(),
		item.StartsAt(),
		item.EndsAt(),
		item.NotifyEmail(),
		item.ReminderSent(),
		remoteID,
		remoteLink,
		item.Status().String(),
		item.SyncErrors(),
		lastError,
		item.CreatedAt(),
		item.UpdatedAt(),
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM schedule_item_attendees WHERE item_id = $1`, item.ID()); err != nil {
		return err
	}
	for pos, a := range item.Attendees() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO schedule_item_attendees (item_id, position, name, email) VALUES ($1, $2, $3, $4)`,
			item.ID(), pos, a.Name, a.Email,
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM schedule_item_reminders WHERE item_id = $1`, item.ID()); err != nil {
		return err
	}
	policy := item.Reminders()
	for _, m := range policy.EmailMinutes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO schedule_item_reminders (item_id, channel, minutes) VALUES ($1, 'email', $2)`,
			item.ID(), m,
		); err != nil {
			return err
		}
	}
	for _, m := range policy.PopupMinutes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO schedule_item_reminders (item_id, channel, minutes) VALUES ($1, 'popup', $2)`,
			item.ID(), m,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// FindByID finds a schedule item by ID. Returns nil when absent.
func (r *PostgresScheduleItemRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.ScheduleItem, error) {
	query := `SELECT` + scheduleItemColumns + `FROM schedule_items WHERE id = $1`

	rec, err := r.scanItem(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r.buildItem(ctx, rec)
}

// FindByStatus finds items with the given sync status, oldest first.
func (r *PostgresScheduleItemRepository) FindByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]*domain.ScheduleItem, error) {
	query := `SELECT` + scheduleItemColumns + `
		FROM schedule_items
		WHERE sync_status = $1
		ORDER BY updated_at
		LIMIT $2`

	return r.queryItems(ctx, query, status.String(), limit)
}

// FindPendingSync finds pending items still under the failure threshold.
func (r *PostgresScheduleItemRepository) FindPendingSync(ctx context.Context, maxErrors, limit int) ([]*domain.ScheduleItem, error) {
	query := `SELECT` + scheduleItemColumns + `
		FROM schedule_items
		WHERE sync_status = $1 AND sync_errors < $2
		ORDER BY updated_at
		LIMIT $3`

	return r.queryItems(ctx, query, domain.SyncStatusPending.String(), maxErrors, limit)
}

// FindDueReminder finds synced items starting within the window that still
// owe their email reminder.
func (r *PostgresScheduleItemRepository) FindDueReminder(ctx context.Context, within time.Duration, limit int) ([]*domain.ScheduleItem, error) {
	now := time.Now().UTC()
	query := `SELECT` + scheduleItemColumns + `
		FROM schedule_items
		WHERE sync_status = $1
		  AND notify_email
		  AND NOT reminder_sent
		  AND starts_at > $2
		  AND starts_at <= $3
		ORDER BY starts_at
		LIMIT $4`

	return r.queryItems(ctx, query, domain.SyncStatusSynced.String(), now, now.Add(within), limit)
}

// Claim atomically moves an item from the expected status to in_progress.
func (r *PostgresScheduleItemRepository) Claim(ctx context.Context, id uuid.UUID, from domain.SyncStatus) (bool, error) {
	query := `
		UPDATE schedule_items
		SET sync_status = $1, updated_at = NOW()
		WHERE id = $2 AND sync_status = $3
	`

	tag, err := r.pool.Exec(ctx, query, domain.SyncStatusInProgress.String(), id, from.String())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release returns a claimed item to the given status.
func (r *PostgresScheduleItemRepository) Release(ctx context.Context, id uuid.UUID, to domain.SyncStatus) error {
	query := `
		UPDATE schedule_items
		SET sync_status = $1, updated_at = NOW()
		WHERE id = $2 AND sync_status = $3
	`

	_, err := r.pool.Exec(ctx, query, to.String(), id, domain.SyncStatusInProgress.String())
	return err
}

// ReleaseStaleClaims recovers claims held past the cutoff, typically left
// behind by a worker that died mid-sync.
func (r *PostgresScheduleItemRepository) ReleaseStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
		UPDATE schedule_items
		SET sync_status = $1, updated_at = NOW()
		WHERE sync_status = $2 AND updated_at < NOW() - make_interval(secs => $3)
	`

	tag, err := r.pool.Exec(ctx, query,
		domain.SyncStatusPending.String(),
		domain.SyncStatusInProgress.String(),
		olderThan.Seconds(),
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// MarkSynced records the remote identifiers and the synced status in one write.
func (r *PostgresScheduleItemRepository) MarkSynced(ctx context.Context, id uuid.UUID, remoteID, remoteLink string) error {
	query := `
		UPDATE schedule_items
		SET remote_event_id = $1, remote_link = $2, sync_status = $3,
		    sync_errors = 0, last_error = NULL, updated_at = NOW()
		WHERE id = $4
	`

	return r.exec(ctx, query, remoteID, remoteLink, domain.SyncStatusSynced.String(), id)
}

// ClearRemote detaches the item from its remote event and returns it to pending.
func (r *PostgresScheduleItemRepository) ClearRemote(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE schedule_items
		SET remote_event_id = NULL, remote_link = NULL, sync_status = $1, updated_at = NOW()
		WHERE id = $2
	`

	return r.exec(ctx, query, domain.SyncStatusPending.String(), id)
}

// MarkCancelled moves the item to its terminal status.
func (r *PostgresScheduleItemRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE schedule_items SET sync_status = $1, updated_at = NOW() WHERE id = $2`
	return r.exec(ctx, query, domain.SyncStatusCancelled.String(), id)
}

// MarkReminderSent flips the reminder-sent flag.
func (r *PostgresScheduleItemRepository) MarkReminderSent(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE schedule_items SET reminder_sent = TRUE, updated_at = NOW() WHERE id = $1`
	return r.exec(ctx, query, id)
}

// RecordSyncFailure increments the consecutive failure counter.
func (r *PostgresScheduleItemRepository) RecordSyncFailure(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE schedule_items
		SET sync_errors = sync_errors + 1, last_error = $1, updated_at = NOW()
		WHERE id = $2
	`

	return r.exec(ctx, query, reason, id)
}

// Delete removes an item. Child rows go with it via ON DELETE CASCADE.
func (r *PostgresScheduleItemRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM schedule_items WHERE id = $1`, id)
	return err
}

func (r *PostgresScheduleItemRepository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schedule item not found")
	}
	return nil
}

func (r *PostgresScheduleItemRepository) queryItems(ctx context.Context, query string, args ...any) ([]*domain.ScheduleItem, error) {
	rows, err := r.pool.Query(ctx, query, args...)
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

func (r *PostgresScheduleItemRepository) scanItem(row pgx.Row) (scheduleItemRow, error) {
	var (
		rec        scheduleItemRow
		category   string
		remoteID   *string
		remoteLink *string
		status     string
		lastError  *string
	)

	err := row.Scan(
		&rec.id, &rec.title, &rec.description, &rec.location, &category, &rec.ownerID, &rec.ownerEmail,
		&rec.startsAt, &rec.endsAt, &rec.notifyEmail, &rec.reminderSent,
		&remoteID, &remoteLink, &status, &rec.syncErrors, &lastError,
		&rec.createdAt, &rec.updatedAt,
	)
	if err != nil {
		return scheduleItemRow{}, err
	}

	rec.category = domain.Category(category)
	if remoteID != nil {
		rec.remoteID = *remoteID
	}
	if remoteLink != nil {
		rec.remoteLink = *remoteLink
	}
	rec.status = domain.SyncStatus(status)
	if lastError != nil {
		rec.lastError = *lastError
	}
	return rec, nil
}

func (r *PostgresScheduleItemRepository) buildItem(ctx context.Context, rec scheduleItemRow) (*domain.ScheduleItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, email FROM schedule_item_attendees WHERE item_id = $1 ORDER BY position`, rec.id)
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

	remRows, err := r.pool.Query(ctx,
		`SELECT channel, minutes FROM schedule_item_reminders WHERE item_id = $1 ORDER BY channel, minutes`, rec.id)
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

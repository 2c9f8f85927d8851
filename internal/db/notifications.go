package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// UpsertNotifications writes every record in one transaction. Either all
// records are stored or none are. Ids are deterministic, so writing the same
// request twice overwrites content and keeps read state and creation time.
func (r *Repository) UpsertNotifications(ctx context.Context, records []NotificationRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO notifications (
			id, recipient_id, request_id, title, message, blood_group,
			hospital, district, urgency, units
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			message = EXCLUDED.message,
			blood_group = EXCLUDED.blood_group,
			hospital = EXCLUDED.hospital,
			district = EXCLUDED.district,
			urgency = EXCLUDED.urgency,
			units = EXCLUDED.units
	`

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(query,
			rec.ID,
			rec.RecipientID,
			rec.RequestID,
			rec.Title,
			rec.Message,
			string(rec.BloodGroup),
			rec.Hospital,
			rec.District,
			rec.Urgency,
			rec.Units,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("upsert notification %s: %w", records[i].ID, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("notifications recorded",
		zap.String("request_id", records[0].RequestID.String()),
		zap.Int("count", len(records)),
	)
	return nil
}

// MarkRead marks one of the recipient's notifications read. Marking an
// already read record keeps the original read_at.
func (r *Repository) MarkRead(ctx context.Context, recipientID string, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND recipient_id = $2
	`, id, recipientID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkAllRead marks every unread notification of the recipient and returns the count.
func (r *Repository) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = NOW()
		WHERE recipient_id = $1 AND is_read = FALSE
	`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListNotifications returns the recipient's history, newest first.
func (r *Repository) ListNotifications(ctx context.Context, recipientID string, opts ListOptions) ([]NotificationRecord, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	query := `
		SELECT
			id, recipient_id, request_id, title, message, blood_group,
			hospital, district, urgency, units, is_read, created_at, read_at
		FROM notifications
		WHERE recipient_id = $1 AND ($2 = FALSE OR is_read = FALSE)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool().Query(ctx, query, recipientID, opts.OnlyUnread, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	records := make([]NotificationRecord, 0, opts.Limit)
	for rows.Next() {
		var rec NotificationRecord
		var group string
		err := rows.Scan(
			&rec.ID,
			&rec.RecipientID,
			&rec.RequestID,
			&rec.Title,
			&rec.Message,
			&group,
			&rec.Hospital,
			&rec.District,
			&rec.Urgency,
			&rec.Units,
			&rec.IsRead,
			&rec.CreatedAt,
			&rec.ReadAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		rec.BloodGroup = bloodGroup(group)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}

	return records, nil
}

// CountUnread returns how many of the recipient's notifications are unread.
func (r *Repository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = FALSE`,
		recipientID,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

package notify

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oneboxhq/onebox-core/pkg/apperrors"
)

// Record is one dispatch outcome, persisted for audit and UI consumption.
type Record struct {
	ID          int64     `db:"id" json:"id"`
	MessageRef  string    `db:"message_ref" json:"message_ref"`
	Subject     string    `db:"subject" json:"subject"`
	From        string    `db:"from_addr" json:"from"`
	Label       string    `db:"label" json:"label"`
	Account     string    `db:"account" json:"account"`
	SlackSent   bool      `db:"slack_sent" json:"slack_sent"`
	WebhookSent bool      `db:"webhook_sent" json:"webhook_sent"`
	Read        bool      `db:"read" json:"read"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// AuditStore persists notification records.
type AuditStore struct {
	db *sqlx.DB
}

// NewAuditStore creates an audit sink.
func NewAuditStore(db *sqlx.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Migrate creates the notifications table.
func (s *AuditStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS notifications (
			id           BIGSERIAL PRIMARY KEY,
			message_ref  TEXT NOT NULL,
			subject      TEXT NOT NULL DEFAULT '(No Subject)',
			from_addr    TEXT NOT NULL DEFAULT '',
			label        TEXT NOT NULL DEFAULT 'Interested',
			account      TEXT NOT NULL DEFAULT '',
			slack_sent   BOOLEAN NOT NULL DEFAULT FALSE,
			webhook_sent BOOLEAN NOT NULL DEFAULT FALSE,
			read         BOOLEAN NOT NULL DEFAULT FALSE,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications (read, created_at DESC)`)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to create notifications table", err)
	}
	return nil
}

// Insert writes one record.
func (s *AuditStore) Insert(ctx context.Context, rec *Record) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notifications (message_ref, subject, from_addr, label, account, slack_sent, webhook_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		rec.MessageRef, rec.Subject, rec.From, rec.Label, rec.Account,
		rec.SlackSent, rec.WebhookSent).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to insert notification record", err)
	}
	return nil
}

// List returns records, newest first. unreadOnly restricts to unread.
func (s *AuditStore) List(ctx context.Context, unreadOnly bool, limit int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT * FROM notifications`
	if unreadOnly {
		query += ` WHERE read = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	records := []Record{}
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to list notifications", err)
	}
	return records, nil
}

// MarkRead flags one record as read.
func (s *AuditStore) MarkRead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to mark notification read", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFound(apperrors.ErrCodeNotificationNotFound, "notification not found")
	}
	return nil
}

// MarkAllRead flags every record as read.
func (s *AuditStore) MarkAllRead(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE read = FALSE`); err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to mark notifications read", err)
	}
	return nil
}

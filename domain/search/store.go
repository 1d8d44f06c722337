package search

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/oneboxhq/onebox-core/domain/pipeline"
	"github.com/oneboxhq/onebox-core/pkg/apperrors"
)

// Store is the searchable email index backed by Postgres.
type Store struct {
	db *sqlx.DB
}

// NewStore creates an index store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the emails table and its search indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS emails (
			id            TEXT PRIMARY KEY,
			from_addr     TEXT NOT NULL DEFAULT '',
			to_addr       TEXT NOT NULL DEFAULT '',
			subject       TEXT NOT NULL DEFAULT '',
			body          TEXT NOT NULL DEFAULT '',
			body_html     TEXT NOT NULL DEFAULT '',
			date          TIMESTAMPTZ NOT NULL,
			account       TEXT NOT NULL DEFAULT '',
			account_email TEXT NOT NULL DEFAULT '',
			folder        TEXT NOT NULL DEFAULT 'INBOX',
			label         TEXT NOT NULL DEFAULT 'Not Interested',
			message_id    TEXT NOT NULL DEFAULT '',
			indexed_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_emails_account ON emails (account_email);
		CREATE INDEX IF NOT EXISTS idx_emails_label ON emails (label);
		CREATE INDEX IF NOT EXISTS idx_emails_message_id ON emails (message_id);
		CREATE INDEX IF NOT EXISTS idx_emails_date ON emails (date DESC)`)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to create emails table", err)
	}
	return nil
}

// DocumentID derives the deterministic index id for a message so
// re-indexing the same message is idempotent: account + cleaned
// Message-ID, or a fallback hash of subject and date when the message
// carries no Message-ID.
func DocumentID(accountEmail, messageID, subject string, date time.Time) string {
	account := strings.ToLower(accountEmail)
	if account == "" {
		account = "unknown"
	}

	cleanMid := strings.Trim(strings.TrimSpace(messageID), "<>")
	if cleanMid == "" {
		payload := subject + "|" + date.UTC().Format(time.RFC3339)
		return "fallback-" + account + "-" + base64.StdEncoding.EncodeToString([]byte(payload))
	}
	return account + ":" + cleanMid
}

// Upsert writes a classified message to the index. Safe to call again for
// the same message; the document id makes the write idempotent.
func (s *Store) Upsert(ctx context.Context, msg *pipeline.Message) error {
	if msg.Subject == "" && msg.Body == "" {
		// Nothing searchable; skip rather than index an empty document.
		return nil
	}

	id := DocumentID(msg.AccountEmail, msg.MessageID, msg.Subject, msg.Date)
	label := string(msg.Label)
	if label == "" {
		label = "Not Interested"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emails (id, from_addr, to_addr, subject, body, body_html, date,
			account, account_email, folder, label, message_id, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (id) DO UPDATE SET
			from_addr = EXCLUDED.from_addr,
			to_addr = EXCLUDED.to_addr,
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			body_html = EXCLUDED.body_html,
			date = EXCLUDED.date,
			label = EXCLUDED.label,
			indexed_at = NOW()`,
		id, msg.From, msg.To, msg.Subject, msg.Body, msg.BodyHTML, msg.Date,
		msg.Account, msg.AccountEmail, msg.Folder, label, msg.MessageID)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeIndexWriteFailed, "failed to index email", err)
	}
	return nil
}

// GetByID returns one indexed document.
func (s *Store) GetByID(ctx context.Context, id string) (*Email, error) {
	var email Email
	err := s.db.GetContext(ctx, &email, `SELECT * FROM emails WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound(apperrors.ErrCodeIndexNotFound, "email not found")
	}
	if err != nil {
		return nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to load email", err)
	}
	return &email, nil
}

// Search runs a filtered free-text query over the index, newest first.
func (s *Store) Search(ctx context.Context, q Query) ([]Email, error) {
	var (
		conditions []string
		args       []interface{}
	)

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Text != "" {
		p := arg("%" + q.Text + "%")
		conditions = append(conditions,
			fmt.Sprintf("(subject ILIKE %s OR body ILIKE %s OR from_addr ILIKE %s)", p, p, p))
	}
	if q.Account != "" {
		conditions = append(conditions, "account_email = "+arg(q.Account))
	}
	if q.Folder != "" {
		conditions = append(conditions, "folder = "+arg(q.Folder))
	}
	if q.Label != "" {
		conditions = append(conditions, "label = "+arg(q.Label))
	}

	query := `SELECT * FROM emails`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date DESC"

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query += " LIMIT " + arg(limit)
	if q.Offset > 0 {
		query += " OFFSET " + arg(q.Offset)
	}

	emails := []Email{}
	if err := s.db.SelectContext(ctx, &emails, query, args...); err != nil {
		return nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "search query failed", err)
	}
	return emails, nil
}

package account

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/oneboxhq/onebox-core/pkg/apperrors"
)

// Store reads accounts from the externally-owned account table.
type Store struct {
	db *sqlx.DB
}

// NewStore creates an account store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the accounts table if it does not exist. The table is
// owned by the external account service in production; this bootstrap
// exists for standalone and development runs.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id         BIGSERIAL PRIMARY KEY,
			owner_id   BIGINT NOT NULL,
			name       TEXT NOT NULL,
			email      TEXT NOT NULL UNIQUE,
			imap_host  TEXT NOT NULL,
			imap_port  INT NOT NULL DEFAULT 993,
			password   TEXT NOT NULL,
			active     BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to create accounts table", err)
	}
	return nil
}

// ListActive returns every active account.
func (s *Store) ListActive(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := s.db.SelectContext(ctx, &accounts, `
		SELECT id, owner_id, name, email, imap_host, imap_port, password, active, created_at, updated_at
		FROM accounts
		WHERE active = TRUE
		ORDER BY id`)
	if err != nil {
		return nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to list active accounts", err)
	}
	return accounts, nil
}

// ListActiveByOwner returns the owner's active accounts.
func (s *Store) ListActiveByOwner(ctx context.Context, ownerID int64) ([]Account, error) {
	var accounts []Account
	err := s.db.SelectContext(ctx, &accounts, `
		SELECT id, owner_id, name, email, imap_host, imap_port, password, active, created_at, updated_at
		FROM accounts
		WHERE owner_id = $1 AND active = TRUE
		ORDER BY id`, ownerID)
	if err != nil {
		return nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to list owner accounts", err)
	}
	return accounts, nil
}

// GetByID returns one account.
func (s *Store) GetByID(ctx context.Context, id int64) (*Account, error) {
	var acct Account
	err := s.db.GetContext(ctx, &acct, `
		SELECT id, owner_id, name, email, imap_host, imap_port, password, active, created_at, updated_at
		FROM accounts
		WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound(apperrors.ErrCodeAccountNotFound, "account not found")
	}
	if err != nil {
		return nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to load account", err)
	}
	return &acct, nil
}

// SetActive flips the active flag.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to update account", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFound(apperrors.ErrCodeAccountNotFound, "account not found")
	}
	return nil
}

package account

import "time"

// Account is one mailbox account the core ingests from. Owned by the
// external account store; the core reads it and flips the active flag.
type Account struct {
	ID        int64     `db:"id" json:"id"`
	OwnerID   int64     `db:"owner_id" json:"owner_id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	IMAPHost  string    `db:"imap_host" json:"imap_host"`
	IMAPPort  int       `db:"imap_port" json:"imap_port"`
	Password  string    `db:"password" json:"-"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

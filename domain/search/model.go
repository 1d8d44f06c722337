package search

import "time"

// Email is one indexed document in the search store.
type Email struct {
	ID           string    `db:"id" json:"id"`
	From         string    `db:"from_addr" json:"from"`
	To           string    `db:"to_addr" json:"to"`
	Subject      string    `db:"subject" json:"subject"`
	Body         string    `db:"body" json:"body"`
	BodyHTML     string    `db:"body_html" json:"body_html,omitempty"`
	Date         time.Time `db:"date" json:"date"`
	Account      string    `db:"account" json:"account"`
	AccountEmail string    `db:"account_email" json:"account_email"`
	Folder       string    `db:"folder" json:"folder"`
	Label        string    `db:"label" json:"label"`
	MessageID    string    `db:"message_id" json:"message_id,omitempty"`
	IndexedAt    time.Time `db:"indexed_at" json:"indexed_at"`
}

// Query filters a search. Zero values mean "no filter".
type Query struct {
	Text    string // free-text match over subject, body and sender
	Account string // account email filter
	Folder  string
	Label   string
	Limit   int
	Offset  int
}

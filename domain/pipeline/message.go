package pipeline

import (
	"time"
	"unicode/utf8"

	"github.com/oneboxhq/onebox-core/domain/classify"
)

// Message is one parsed mailbox message flowing through the pipeline.
// Immutable once parsed, except for Label which the worker assigns.
type Message struct {
	From         string
	To           string
	Subject      string
	Body         string
	BodyHTML     string
	Date         time.Time
	Account      string // display name
	AccountEmail string // login address
	Folder       string
	MessageID    string // optional, may be empty
	Label        classify.Label
}

// DedupeKey identifies a message for reprocessing suppression: the
// Message-ID when present, otherwise truncated subject + sender + date.
// The fallback can collide for distinct messages with identical subject,
// sender and date; known limitation.
func (m *Message) DedupeKey() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return truncateRunes(m.Subject, 200) + "|" + m.From + "|" + m.Date.UTC().Format(time.RFC3339)
}

// NotifyKey is the shorter key the notification dispatcher dedupes on:
// Message-ID when present, otherwise truncated subject + sender.
func (m *Message) NotifyKey() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return truncateRunes(m.Subject, 200) + "|" + m.From
}

// truncateRunes shortens s to at most n runes, never splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Item is one processing queue entry.
type Item struct {
	Message *Message
	Retries int
}

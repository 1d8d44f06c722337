package mailbox

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneboxhq/onebox-core/domain/account"
)

var testAccount = account.Account{
	ID:      1,
	OwnerID: 1,
	Name:    "primary",
	Email:   "inbox@example.com",
}

func TestParseMessagePlainText(t *testing.T) {
	raw := []byte("From: Alice <alice@example.com>\r\n" +
		"To: Bob <bob@example.com>\r\n" +
		"Subject: Hello\r\n" +
		"Message-Id: <m1@example.com>\r\n" +
		"Date: Mon, 02 Mar 2026 10:00:00 +0000\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Plain body\r\n")

	msg, err := parseMessage(raw, testAccount)
	require.NoError(t, err)

	require.Equal(t, "Alice <alice@example.com>", msg.From)
	require.Equal(t, "Bob <bob@example.com>", msg.To)
	require.Equal(t, "Hello", msg.Subject)
	require.Equal(t, "Plain body", strings.TrimSpace(msg.Body))
	require.Equal(t, "m1@example.com", msg.MessageID)
	require.Equal(t, "primary", msg.Account)
	require.Equal(t, "inbox@example.com", msg.AccountEmail)
	require.Equal(t, "INBOX", msg.Folder)
	require.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), msg.Date.UTC())
}

func TestParseMessageHTMLOnlyGetsTextBody(t *testing.T) {
	raw := []byte("From: news@example.com\r\n" +
		"Subject: Weekly deals\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body><p>Big <b>sale</b> today</p></body></html>\r\n")

	msg, err := parseMessage(raw, testAccount)
	require.NoError(t, err)

	// Classification needs plain text even for HTML-only messages.
	require.NotEmpty(t, msg.Body)
	require.Contains(t, msg.Body, "sale")
	require.NotContains(t, msg.Body, "<b>")
}

func TestParseMessageMissingDateDefaultsToNow(t *testing.T) {
	raw := []byte("From: a@example.com\r\n" +
		"Subject: no date\r\n" +
		"\r\n" +
		"body\r\n")

	before := time.Now()
	msg, err := parseMessage(raw, testAccount)
	require.NoError(t, err)
	require.False(t, msg.Date.Before(before.Add(-time.Second)))
	require.False(t, msg.Date.After(time.Now().Add(time.Second)))
}

func TestParseMessageNoMessageID(t *testing.T) {
	raw := []byte("From: a@example.com\r\n" +
		"Subject: hi\r\n" +
		"\r\n" +
		"body\r\n")

	msg, err := parseMessage(raw, testAccount)
	require.NoError(t, err)
	require.Empty(t, msg.MessageID)
	require.NotEmpty(t, msg.DedupeKey())
}

func TestCleanMessageID(t *testing.T) {
	require.Equal(t, "m1@example.com", cleanMessageID(" <m1@example.com> "))
	require.Equal(t, "m1@example.com", cleanMessageID("m1@example.com"))
	require.Equal(t, "", cleanMessageID("  "))
	require.Equal(t, "", cleanMessageID(""))
}

package search

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDocumentIDWithMessageID(t *testing.T) {
	date := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	id := DocumentID("Inbox@Example.com", "<m1@example.com>", "Hello", date)
	require.Equal(t, "inbox@example.com:m1@example.com", id)

	// Angle brackets and whitespace never leak into the id.
	require.Equal(t, id, DocumentID("inbox@example.com", " m1@example.com ", "Other", date))
}

func TestDocumentIDFallback(t *testing.T) {
	date := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	id := DocumentID("inbox@example.com", "", "Hello", date)
	payload := "Hello|" + date.UTC().Format(time.RFC3339)
	require.Equal(t, "fallback-inbox@example.com-"+base64.StdEncoding.EncodeToString([]byte(payload)), id)

	// Deterministic: the same inputs always map to the same document.
	require.Equal(t, id, DocumentID("inbox@example.com", "", "Hello", date))
	require.NotEqual(t, id, DocumentID("inbox@example.com", "", "Hello", date.Add(time.Second)))
}

func TestDocumentIDUnknownAccount(t *testing.T) {
	id := DocumentID("", "m1@example.com", "s", time.Now())
	require.Equal(t, "unknown:m1@example.com", id)
}

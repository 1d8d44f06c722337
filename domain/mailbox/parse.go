package mailbox

import (
	"bytes"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/microcosm-cc/bluemonday"

	"github.com/oneboxhq/onebox-core/domain/account"
	"github.com/oneboxhq/onebox-core/domain/pipeline"
	"github.com/oneboxhq/onebox-core/pkg/apperrors"
)

var htmlStripper = bluemonday.StrictPolicy()

// parseMessage parses one raw RFC 5322 message into a pipeline Message.
// A parse failure is permanent for the item: the caller logs and drops it.
func parseMessage(raw []byte, acct account.Account) (*pipeline.Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.NewBadRequest(
			apperrors.ErrCodeMailboxParseFailed, "failed to parse message").WithDetail(err.Error())
	}

	msg := &pipeline.Message{
		From:         addressHeader(env, "From"),
		To:           addressHeader(env, "To"),
		Subject:      env.GetHeader("Subject"),
		Body:         env.Text,
		BodyHTML:     env.HTML,
		Account:      acct.Name,
		AccountEmail: acct.Email,
		Folder:       "INBOX",
		MessageID:    cleanMessageID(env.GetHeader("Message-Id")),
	}

	// HTML-only messages still need a text body for classification; strip
	// the markup rather than classifying raw HTML.
	if msg.Body == "" && msg.BodyHTML != "" {
		msg.Body = strings.TrimSpace(htmlStripper.Sanitize(msg.BodyHTML))
	}

	if date, err := env.Date(); err == nil {
		msg.Date = date
	} else {
		msg.Date = time.Now()
	}

	return msg, nil
}

// addressHeader renders an address header as "Name <addr>, ..." strings,
// falling back to the raw header when it does not parse.
func addressHeader(env *enmime.Envelope, key string) string {
	raw := env.GetHeader(key)
	if raw == "" {
		return ""
	}

	addrs, err := env.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return raw
	}

	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, formatAddress(a))
	}
	return strings.Join(parts, ", ")
}

func formatAddress(a *mail.Address) string {
	if a.Name != "" && a.Address != "" {
		return a.Name + " <" + a.Address + ">"
	}
	if a.Address != "" {
		return a.Address
	}
	return a.Name
}

// cleanMessageID trims whitespace and angle brackets from a Message-ID
// header. Returns "" when the header is absent or empty.
func cleanMessageID(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

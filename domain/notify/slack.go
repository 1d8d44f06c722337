package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oneboxhq/onebox-core/domain/pipeline"
	"github.com/oneboxhq/onebox-core/pkg/apperrors"
)

const defaultSlackAPIURL = "https://slack.com/api/chat.postMessage"

// SlackConfig holds the chat-channel poster settings.
type SlackConfig struct {
	Token   string
	Channel string
	APIURL  string // override for tests
	Timeout time.Duration
}

// SlackSender posts "Interested" messages to a Slack channel via the Web
// API.
type SlackSender struct {
	cfg        SlackConfig
	httpClient *http.Client
}

// NewSlackSender creates a Slack sender.
func NewSlackSender(cfg SlackConfig) *SlackSender {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultSlackAPIURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SlackSender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name implements Sender.
func (s *SlackSender) Name() string { return "slack" }

type slackPostRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type slackPostResponse struct {
	OK         bool    `json:"ok"`
	Error      string  `json:"error"`
	RetryAfter float64 `json:"retry_after"`
}

// Send posts one message. Error mapping: rate_limited is retryable with a
// server hint, channel_not_found and other API rejections are terminal,
// network and 5xx failures are transient.
func (s *SlackSender) Send(ctx context.Context, msg *pipeline.Message) error {
	accountDisplay := msg.AccountEmail
	if accountDisplay == "" {
		accountDisplay = msg.Account
	}
	folder := msg.Folder
	if folder == "" {
		folder = "INBOX"
	}

	text := fmt.Sprintf(
		"*New Interested Email*\n*Subject:* %s\n*From:* %s\n*Account:* %s\n*Folder:* %s",
		msg.Subject, msg.From, accountDisplay, folder)

	payload, err := json.Marshal(slackPostRequest{
		Channel: normalizeChannel(s.cfg.Channel),
		Text:    text,
	})
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeNotifyTerminal, "failed to encode slack payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeNotifyTerminal, "failed to build slack request", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperrors.NewServiceUnavailable(apperrors.ErrCodeNotifyTransient, "slack request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewServiceUnavailable(apperrors.ErrCodeNotifyTransient, "failed to read slack response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		appErr := apperrors.NewTooManyRequests(apperrors.ErrCodeNotifyRateLimited, "slack rate limited")
		if ra := parseRetryAfterHeader(resp.Header.Get("Retry-After")); ra > 0 {
			appErr = appErr.WithRetryAfter(ra)
		}
		return appErr
	}
	if resp.StatusCode >= 500 {
		return apperrors.NewServiceUnavailable(apperrors.ErrCodeNotifyTransient,
			fmt.Sprintf("slack HTTP %d", resp.StatusCode), nil)
	}

	var parsed slackPostResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return apperrors.NewServiceUnavailable(apperrors.ErrCodeNotifyTransient, "unparseable slack response", err)
	}

	if parsed.OK {
		return nil
	}

	switch parsed.Error {
	case "rate_limited", "ratelimited":
		appErr := apperrors.NewTooManyRequests(apperrors.ErrCodeNotifyRateLimited, "slack rate limited")
		if parsed.RetryAfter > 0 {
			appErr = appErr.WithRetryAfter(time.Duration(parsed.RetryAfter * float64(time.Second)))
		}
		return appErr
	case "channel_not_found":
		return apperrors.NewNotFound(apperrors.ErrCodeNotifyChannelNotFound,
			"slack channel not found").WithDetail(
			"use the channel name without '#' or the channel ID, and invite the bot to the channel")
	default:
		return apperrors.NewBadRequest(apperrors.ErrCodeNotifyTerminal,
			"slack rejected message").WithDetail(parsed.Error)
	}
}

// normalizeChannel strips a leading '#' so operators can paste either the
// display form or the bare name.
func normalizeChannel(raw string) string {
	trimmed := strings.TrimSpace(raw)
	return strings.TrimPrefix(trimmed, "#")
}

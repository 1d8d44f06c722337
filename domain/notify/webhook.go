package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oneboxhq/onebox-core/domain/pipeline"
	"github.com/oneboxhq/onebox-core/pkg/apperrors"
)

// WebhookConfig holds the generic webhook caller settings.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// WebhookSender POSTs a JSON summary of each "Interested" message to a
// configured URL.
type WebhookSender struct {
	cfg        WebhookConfig
	httpClient *http.Client
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(cfg WebhookConfig) *WebhookSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebhookSender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name implements Sender.
func (w *WebhookSender) Name() string { return "webhook" }

type webhookPayload struct {
	Subject string    `json:"subject"`
	From    string    `json:"from"`
	Label   string    `json:"category"`
	Account string    `json:"account"`
	Folder  string    `json:"folder"`
	Date    time.Time `json:"date"`
}

// Send POSTs one payload. 2xx succeeds; 429 is retryable and carries the
// Retry-After hint when present; 5xx and network errors are transient;
// any other status is terminal.
func (w *WebhookSender) Send(ctx context.Context, msg *pipeline.Message) error {
	payload, err := json.Marshal(webhookPayload{
		Subject: msg.Subject,
		From:    msg.From,
		Label:   string(msg.Label),
		Account: msg.Account,
		Folder:  msg.Folder,
		Date:    msg.Date,
	})
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeNotifyTerminal, "failed to encode webhook payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeNotifyTerminal, "failed to build webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return apperrors.NewServiceUnavailable(apperrors.ErrCodeNotifyTransient, "webhook request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		appErr := apperrors.NewTooManyRequests(apperrors.ErrCodeNotifyRateLimited, "webhook rate limited")
		if ra := parseRetryAfterHeader(resp.Header.Get("Retry-After")); ra > 0 {
			appErr = appErr.WithRetryAfter(ra)
		}
		return appErr
	case resp.StatusCode >= 500:
		return apperrors.NewServiceUnavailable(apperrors.ErrCodeNotifyTransient,
			fmt.Sprintf("webhook HTTP %d", resp.StatusCode), nil)
	default:
		return apperrors.NewBadRequest(apperrors.ErrCodeNotifyTerminal,
			fmt.Sprintf("webhook non-retryable HTTP %d", resp.StatusCode))
	}
}

// parseRetryAfterHeader handles both delta-seconds and HTTP-date forms.
func parseRetryAfterHeader(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if sec, err := strconv.ParseFloat(header, 64); err == nil {
		return time.Duration(sec * float64(time.Second))
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return 0
}

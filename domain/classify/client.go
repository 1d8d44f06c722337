package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"

	"github.com/oneboxhq/onebox-core/pkg/apperrors"
)

// ClientConfig holds the upstream classification service settings.
type ClientConfig struct {
	APIKey        string
	URL           string
	Model         string
	Timeout       time.Duration
	MaxEmailChars int
}

// ClientConfigFromEnv builds a ClientConfig from viper keys.
func ClientConfigFromEnv() ClientConfig {
	cfg := ClientConfig{
		APIKey:        viper.GetString("CLASSIFIER_API_KEY"),
		URL:           viper.GetString("CLASSIFIER_URL"),
		Model:         viper.GetString("CLASSIFIER_MODEL"),
		Timeout:       viper.GetDuration("CLASSIFIER_TIMEOUT"),
		MaxEmailChars: viper.GetInt("CLASSIFIER_MAX_EMAIL_CHARS"),
	}
	if cfg.URL == "" {
		cfg.URL = "https://api.cerebras.ai/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-oss-120b"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxEmailChars == 0 {
		cfg.MaxEmailChars = 6000
	}
	return cfg
}

// Client performs a single classification request against a
// chat-completions style endpoint. Rate limiting and retries live in
// Adapter; Client maps upstream failures onto the apperrors taxonomy.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient creates a classification client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

var (
	reRateLimitBody = regexp.MustCompile(`(?i)too[_\s-]*many[_\s-]*requests|request_quota_exceeded|quota|rate limit`)
	reOversized     = regexp.MustCompile(`(?i)context_length_exceeded|reduce the length`)
	reLabelInText   = regexp.MustCompile(`(?i)\b(Interested|Meeting Booked|Not Interested|Spam|Out of Office)\b`)
	reConfInText    = regexp.MustCompile(`([01](?:\.\d+)?|\d?\.\d+)`)
)

// Classify sends one classification request and normalizes the response.
func (c *Client) Classify(ctx context.Context, subject, body string) (Result, error) {
	if c.cfg.APIKey == "" {
		return Result{}, apperrors.NewInternal(
			apperrors.ErrCodeClassifyUpstream, "classifier API key not configured", nil)
	}

	truncSubject := truncateRunes(subject, 500)
	truncBody := body
	wasTruncated := false
	if utf8.RuneCountInString(truncBody) > c.cfg.MaxEmailChars {
		truncBody = truncateRunes(truncBody, c.cfg.MaxEmailChars)
		wasTruncated = true
	}
	text := strings.TrimSpace(truncSubject + "\n\n" + truncBody)

	payload, err := json.Marshal(chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: buildPrompt(text, wasTruncated)}},
	})
	if err != nil {
		return Result{}, apperrors.NewInternal(
			apperrors.ErrCodeClassifyUpstream, "failed to encode classification request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, apperrors.NewInternal(
			apperrors.ErrCodeClassifyUpstream, "failed to build classification request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return Result{}, apperrors.NewServiceUnavailable(
				apperrors.ErrCodeClassifyTimeout, "classification request timed out", err)
		}
		return Result{}, apperrors.NewServiceUnavailable(
			apperrors.ErrCodeClassifyUpstream, "classification request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, apperrors.NewServiceUnavailable(
			apperrors.ErrCodeClassifyUpstream, "failed to read classification response", err)
	}

	if appErr := c.mapHTTPError(resp, raw); appErr != nil {
		return Result{}, appErr
	}

	var chat chatResponse
	content := string(raw)
	if err := json.Unmarshal(raw, &chat); err == nil && len(chat.Choices) > 0 {
		content = chat.Choices[0].Message.Content
	}

	return parseResult(content, text), nil
}

// mapHTTPError converts non-2xx responses into coded errors the adapter's
// retry policy can branch on. Returns nil for success statuses.
func (c *Client) mapHTTPError(resp *http.Response, raw []byte) *apperrors.AppError {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	bodyMsg := string(raw)

	if resp.StatusCode == http.StatusBadRequest && reOversized.MatchString(bodyMsg) {
		return apperrors.NewBadRequest(
			apperrors.ErrCodeClassifyInputTooLarge, "classifier rejected input size")
	}

	if resp.StatusCode == http.StatusTooManyRequests || reRateLimitBody.MatchString(bodyMsg) {
		appErr := apperrors.NewTooManyRequests(
			apperrors.ErrCodeClassifyRateLimited, "classifier rate limit hit")
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			appErr = appErr.WithRetryAfter(ra)
		}
		return appErr
	}

	return apperrors.NewServiceUnavailable(
		apperrors.ErrCodeClassifyUpstream,
		fmt.Sprintf("classifier HTTP %d", resp.StatusCode), nil)
}

// parseResult extracts {label, confidence, explanation} from the model's
// content, falling back to regex scraping when the content is not JSON,
// then applies keyword overrides. The JSON path weighs explanation and
// input text; the scrape path has no explanation and consults content
// only, with its own precedence.
func parseResult(content, inputText string) Result {
	var parsed struct {
		Label       string      `json:"label"`
		Confidence  json.Number `json:"confidence"`
		Explanation string      `json:"explanation"`
	}

	if err := json.Unmarshal([]byte(content), &parsed); err == nil && parsed.Label != "" {
		confidence := 1.0
		if f, err := parsed.Confidence.Float64(); err == nil {
			confidence = clampConfidence(f)
		}

		label := NormalizeLabel(firstNonEmpty(parsed.Label, parsed.Explanation, content))
		label = applyKeywordOverrides(label, parsed.Explanation, inputText)
		if !label.Valid() {
			label = LabelNotInterested
		}

		explanation := parsed.Explanation
		if explanation == "" {
			explanation = content
		}
		return Result{Label: label, Confidence: confidence, Explanation: explanation}
	}

	// Not JSON: scrape a label and confidence out of the raw content.
	labelText := content
	if m := reLabelInText.FindString(content); m != "" {
		labelText = m
	}
	label := NormalizeLabel(labelText)

	confidence := 1.0
	if m := reConfInText.FindString(content); m != "" {
		if f, err := strconv.ParseFloat(m, 64); err == nil {
			confidence = clampConfidence(f)
		}
	}

	label = applyScrapeOverrides(label, inputText)
	if !label.Valid() {
		label = LabelNotInterested
	}
	return Result{Label: label, Confidence: confidence, Explanation: content}
}

// truncateRunes shortens s to at most n runes, never splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func buildPrompt(text string, truncated bool) string {
	labels := make([]string, len(Labels))
	for i, l := range Labels {
		labels[i] = string(l)
	}

	suffix := ""
	if truncated {
		suffix = " (truncated)"
	}

	return fmt.Sprintf(`You are an email classification assistant. Classify the email into exactly one of the following categories:
%s.

Rules (follow exactly):
1) Return JSON ONLY with keys: label (one of the categories), confidence (0.0-1.0), explanation (short).
   Example: {"label":"Interested","confidence":0.95,"explanation":"..."}.
2) Explanation must be a short sentence supporting the label.
3) If the email contains explicit unsubscribe, marketing, promotion links, or clear bulk-marketing signals -> prefer "Not Interested" (use "Spam" only if the email clearly looks like spam).
4) If the email asks to book or confirm a meeting/time -> use "Meeting Booked".
5) If the email mentions vacation, out of office, or OOO -> use "Out of Office".
6) Confidence should reflect certainty: 0.0 (no idea) .. 1.0 (very sure).
7) Ensure the label is consistent with the explanation. If they conflict, adjust the label to match the explanation.

Email%s:
"""%s"""`, strings.Join(labels, ", "), suffix, text)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(header string) time.Duration {
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
	}
	return 0
}

package notify

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/oneboxhq/onebox-core/domain/pipeline"
	"github.com/oneboxhq/onebox-core/domain/search"
	"github.com/oneboxhq/onebox-core/pkg/logger"
)

// Config holds both channels' settings. A channel with empty credentials
// is disabled; its outcome is recorded as false.
type Config struct {
	Slack        SlackConfig
	SlackQueue   ChannelConfig
	Webhook      WebhookConfig
	WebhookQueue ChannelConfig
}

// ConfigFromEnv builds the dispatcher Config from viper keys.
func ConfigFromEnv() Config {
	cfg := Config{
		Slack: SlackConfig{
			Token:   viper.GetString("SLACK_TOKEN"),
			Channel: viper.GetString("SLACK_CHANNEL"),
		},
		SlackQueue: ChannelConfig{
			Concurrency: viper.GetInt("SLACK_CONCURRENCY"),
			MinInterval: viper.GetDuration("SLACK_INTERVAL"),
			BaseBackoff: 2 * time.Second,
			Jitter:      time.Second,
			DedupeTTL:   viper.GetDuration("SLACK_DEDUPE_TTL"),
		},
		Webhook: WebhookConfig{
			URL: viper.GetString("WEBHOOK_URL"),
		},
		WebhookQueue: ChannelConfig{
			Concurrency: viper.GetInt("WEBHOOK_CONCURRENCY"),
			MinInterval: viper.GetDuration("WEBHOOK_INTERVAL"),
			DedupeTTL:   viper.GetDuration("WEBHOOK_DEDUPE_TTL"),
		},
	}
	if cfg.SlackQueue.MinInterval <= 0 {
		cfg.SlackQueue.MinInterval = 3 * time.Second
	}
	// Repeat chat pings are suppressed much longer than repeat webhook
	// calls, independently configurable.
	if cfg.SlackQueue.DedupeTTL <= 0 {
		cfg.SlackQueue.DedupeTTL = 24 * time.Hour
	}
	if cfg.WebhookQueue.MinInterval <= 0 {
		cfg.WebhookQueue.MinInterval = 2 * time.Second
	}
	if cfg.WebhookQueue.DedupeTTL <= 0 {
		cfg.WebhookQueue.DedupeTTL = 5 * time.Minute
	}
	return cfg
}

// Depths is the dispatcher's observability snapshot.
type Depths struct {
	Slack   int `json:"slack_queue_depth"`
	Webhook int `json:"webhook_queue_depth"`
}

// AuditSink records dispatch outcomes. *AuditStore is the production
// implementation.
type AuditSink interface {
	Insert(ctx context.Context, rec *Record) error
}

// Dispatcher fans an "Interested" message out to both channels and writes
// one audit record once both outcomes resolve.
type Dispatcher struct {
	slack   *channelQueue
	webhook *channelQueue
	audit   AuditSink
	log     logger.Logger

	wg sync.WaitGroup
}

// NewDispatcher wires the configured channels. redisClient may be nil;
// dedupe then falls back to in-memory caches.
func NewDispatcher(cfg Config, audit AuditSink, redisClient *redis.Client, log logger.Logger) *Dispatcher {
	d := &Dispatcher{
		audit: audit,
		log:   log.WithComponent("notify_dispatcher"),
	}

	cacheFor := func(prefix string, ttl time.Duration) DedupeCache {
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		if redisClient != nil {
			return NewRedisDedupe(redisClient, prefix, ttl)
		}
		return NewMemoryDedupe(ttl)
	}

	if cfg.Slack.Token != "" && cfg.Slack.Channel != "" {
		d.slack = newChannelQueue(
			cfg.SlackQueue.withDefaults(),
			NewSlackSender(cfg.Slack),
			cacheFor("notify:slack:", cfg.SlackQueue.DedupeTTL),
			log,
		)
	} else {
		d.log.Warn("Slack channel not configured, chat notifications disabled")
	}

	if cfg.Webhook.URL != "" {
		d.webhook = newChannelQueue(
			cfg.WebhookQueue.withDefaults(),
			NewWebhookSender(cfg.Webhook),
			cacheFor("notify:webhook:", cfg.WebhookQueue.DedupeTTL),
			log,
		)
	}

	return d
}

// Run starts both channel loops and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if d.slack != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.slack.run(ctx)
		}()
	}
	if d.webhook != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.webhook.run(ctx)
		}()
	}
	wg.Wait()
}

// Dispatch fans msg out to both channels, fire-and-forget for the caller.
// One audit record is written after both channel attempts resolve
// independently.
func (d *Dispatcher) Dispatch(msg *pipeline.Message) {
	ctx := context.Background()

	var (
		mu          sync.Mutex
		outstanding int
		slackSent   bool
		webhookSent bool
	)

	finish := func() {
		rec := &Record{
			MessageRef:  search.DocumentID(msg.AccountEmail, msg.MessageID, msg.Subject, msg.Date),
			Subject:     msg.Subject,
			From:        msg.From,
			Label:       string(msg.Label),
			Account:     msg.AccountEmail,
			SlackSent:   slackSent,
			WebhookSent: webhookSent,
		}
		if rec.Subject == "" {
			rec.Subject = "(No Subject)"
		}
		if err := d.audit.Insert(ctx, rec); err != nil {
			d.log.Error("Failed to write notification record", err,
				logger.Subject(msg.Subject))
			return
		}
		d.log.Info("Notification record written",
			logger.Subject(msg.Subject),
			logger.Bool("slack_sent", slackSent),
			logger.Bool("webhook_sent", webhookSent))
	}

	resolve := func(set func(bool)) func(bool) {
		return func(sent bool) {
			mu.Lock()
			set(sent)
			outstanding--
			done := outstanding == 0
			mu.Unlock()
			if done {
				finish()
				d.wg.Done()
			}
		}
	}

	mu.Lock()
	if d.slack != nil {
		outstanding++
	}
	if d.webhook != nil {
		outstanding++
	}
	if outstanding == 0 {
		mu.Unlock()
		return
	}
	d.wg.Add(1)

	slackDone := resolve(func(v bool) { slackSent = v })
	webhookDone := resolve(func(v bool) { webhookSent = v })
	slackActive := d.slack != nil
	webhookActive := d.webhook != nil
	mu.Unlock()

	if slackActive {
		d.slack.enqueue(ctx, msg, slackDone)
	}
	if webhookActive {
		d.webhook.enqueue(ctx, msg, webhookDone)
	}
}

// QueueDepths returns both channels' pending counts.
func (d *Dispatcher) QueueDepths() Depths {
	var depths Depths
	if d.slack != nil {
		depths.Slack = d.slack.depth()
	}
	if d.webhook != nil {
		depths.Webhook = d.webhook.depth()
	}
	return depths
}

// Drain waits for in-flight dispatches to resolve, up to timeout.
func (d *Dispatcher) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		d.log.Warn("Drain timed out with dispatches outstanding")
	}
}

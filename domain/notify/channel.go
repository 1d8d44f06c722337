package notify

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oneboxhq/onebox-core/domain/classify"
	"github.com/oneboxhq/onebox-core/domain/pipeline"
	"github.com/oneboxhq/onebox-core/pkg/apperrors"
	"github.com/oneboxhq/onebox-core/pkg/logger"
)

// Sender performs one delivery attempt on a channel. Implementations map
// their failures onto the apperrors taxonomy so the channel queue can
// branch on transient vs terminal.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg *pipeline.Message) error
}

// ChannelConfig tunes one notification channel's queue.
type ChannelConfig struct {
	Concurrency int
	MinInterval time.Duration // minimum gap between sends
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Jitter      time.Duration
	DedupeTTL   time.Duration
}

func (cfg ChannelConfig) withDefaults() ChannelConfig {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Jitter <= 0 {
		cfg.Jitter = 500 * time.Millisecond
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 5 * time.Minute
	}
	return cfg
}

type channelItem struct {
	msg  *pipeline.Message
	key  string
	done func(sent bool)
}

// channelQueue is one rate-limited notification channel: a FIFO drained
// by a pacing loop, a dedupe cache, and a retry state machine around the
// Sender.
type channelQueue struct {
	cfg    ChannelConfig
	sender Sender
	cache  DedupeCache
	sleep  classify.SleepFunc
	now    func() time.Time
	jitter func() time.Duration
	log    logger.Logger

	mu       sync.Mutex
	queue    []channelItem
	running  int
	lastSend time.Time
	wake     chan struct{}
}

func newChannelQueue(cfg ChannelConfig, sender Sender, cache DedupeCache, log logger.Logger) *channelQueue {
	cfg = cfg.withDefaults()
	q := &channelQueue{
		cfg:    cfg,
		sender: sender,
		cache:  cache,
		sleep:  classify.Sleep,
		now:    time.Now,
		log:    log.WithComponent("notify_" + sender.Name()),
		wake:   make(chan struct{}, 1),
	}
	q.jitter = func() time.Duration {
		return time.Duration(rand.Int63n(int64(cfg.Jitter)))
	}
	return q
}

// enqueue reserves the dedupe key and queues the message. When the key is
// already reserved the message is suppressed and done(false) fires
// immediately.
func (q *channelQueue) enqueue(ctx context.Context, msg *pipeline.Message, done func(sent bool)) {
	key := msg.NotifyKey()
	if !q.cache.ShouldSend(ctx, key) {
		done(false)
		return
	}

	q.mu.Lock()
	q.queue = append(q.queue, channelItem{msg: msg, key: key, done: done})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// depth returns the number of queued (not yet in-flight) items.
func (q *channelQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// run drains the channel queue until ctx is cancelled.
func (q *channelQueue) run(ctx context.Context) {
	for {
		item, ok := q.next(ctx)
		if !ok {
			return
		}

		if wait := q.requiredWait(); wait > 0 {
			if err := q.sleep(ctx, wait); err != nil {
				// No send was attempted; the reservation must not
				// suppress a later fetch cycle's retry.
				q.release(item.key)
				item.done(false)
				return
			}
		}

		q.mu.Lock()
		q.lastSend = q.now()
		q.running++
		q.mu.Unlock()

		go func(item channelItem) {
			sent := q.deliver(ctx, item)
			item.done(sent)

			q.mu.Lock()
			q.running--
			q.mu.Unlock()
			select {
			case q.wake <- struct{}{}:
			default:
			}
		}(item)
	}
}

func (q *channelQueue) next(ctx context.Context) (channelItem, bool) {
	for {
		q.mu.Lock()
		if len(q.queue) > 0 && q.running < q.cfg.Concurrency {
			item := q.queue[0]
			q.queue = q.queue[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return channelItem{}, false
		}
	}
}

func (q *channelQueue) requiredWait() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.MinInterval <= 0 || q.lastSend.IsZero() {
		return 0
	}
	elapsed := q.now().Sub(q.lastSend)
	if elapsed >= q.cfg.MinInterval {
		return 0
	}
	return q.cfg.MinInterval - elapsed
}

// deliver runs the per-item retry state machine. On terminal failure or
// retry exhaustion the dedupe reservation is released so a later fetch
// cycle can try again.
func (q *channelQueue) deliver(ctx context.Context, item channelItem) bool {
	for attempt := 0; attempt <= q.cfg.MaxRetries; attempt++ {
		err := q.sender.Send(ctx, item.msg)
		if err == nil {
			q.log.Info("Notification sent",
				logger.Subject(item.msg.Subject),
				logger.Attempt(attempt))
			return true
		}
		if ctx.Err() != nil {
			break
		}

		if apperrors.IsTerminal(err) {
			q.log.Error("Terminal channel failure, not retrying", err,
				logger.Subject(item.msg.Subject))
			break
		}

		if attempt >= q.cfg.MaxRetries {
			q.log.Error("Notification retries exhausted", err,
				logger.Subject(item.msg.Subject),
				logger.Int("max_retries", q.cfg.MaxRetries))
			break
		}

		// A server-supplied Retry-After wins over computed backoff.
		delay := apperrors.RetryAfterOf(err)
		if delay <= 0 {
			delay = q.cfg.BaseBackoff<<uint(attempt) + q.jitter()
			if delay > q.cfg.MaxBackoff {
				delay = q.cfg.MaxBackoff
			}
		}

		q.log.Warn("Notification attempt failed, retrying",
			logger.Subject(item.msg.Subject),
			logger.Attempt(attempt+1),
			logger.Duration("delay_ms", delay),
			logger.Err(err))
		if err := q.sleep(ctx, delay); err != nil {
			break
		}
	}

	q.release(item.key)
	return false
}

// release rolls back a dedupe reservation. A fresh context so the rollback
// still reaches Redis when the caller's context is already cancelled.
func (q *channelQueue) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.cache.Release(ctx, key)
}

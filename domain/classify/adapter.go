package classify

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/oneboxhq/onebox-core/pkg/apperrors"
	"github.com/oneboxhq/onebox-core/pkg/logger"
)

// AdapterConfig tunes the rate-limited classification queue.
type AdapterConfig struct {
	Concurrency int           // max in-flight requests
	RPS         float64       // requests-per-second target
	MaxRetries  int           // retries per request after the first attempt
	BaseBackoff time.Duration // exponential backoff base
	Jitter      time.Duration // random jitter added to each backoff
	DelayStep   time.Duration // dynamic delay growth per rate-limit response
	DelayCap    time.Duration // dynamic delay ceiling
	DelayDecay  time.Duration // dynamic delay shrink per success
}

// AdapterConfigFromEnv builds an AdapterConfig from viper keys.
func AdapterConfigFromEnv() AdapterConfig {
	cfg := AdapterConfig{
		Concurrency: viper.GetInt("CLASSIFIER_CONCURRENCY"),
		RPS:         viper.GetFloat64("CLASSIFIER_RPS"),
		MaxRetries:  viper.GetInt("CLASSIFIER_MAX_RETRIES"),
		BaseBackoff: viper.GetDuration("CLASSIFIER_BACKOFF"),
		Jitter:      viper.GetDuration("CLASSIFIER_JITTER"),
	}
	return cfg.withDefaults()
}

func (cfg AdapterConfig) withDefaults() AdapterConfig {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 0.5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 3 * time.Second
	}
	if cfg.Jitter <= 0 {
		cfg.Jitter = time.Second
	}
	if cfg.DelayStep <= 0 {
		cfg.DelayStep = 5 * time.Second
	}
	if cfg.DelayCap <= 0 {
		cfg.DelayCap = 60 * time.Second
	}
	if cfg.DelayDecay <= 0 {
		cfg.DelayDecay = time.Second
	}
	return cfg
}

// SleepFunc suspends for d or until ctx is done. Injected so retry timing
// is unit-testable without real timers.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats is the adapter's observability snapshot.
type Stats struct {
	QueueLength           int   `json:"queue_length"`
	Running               int   `json:"running"`
	DynamicDelayMs        int64 `json:"dynamic_delay_ms"`
	ConsecutiveRateLimits int   `json:"consecutive_rate_limits"`
}

type pending struct {
	subject string
	body    string
	done    chan outcome
}

type outcome struct {
	res Result
	err error
}

// Adapter wraps a Classifier with a bounded-concurrency, rate-limited,
// retrying request queue. Consecutive requests are spaced at least
// 1/RPS + dynamicDelay apart; the dynamic delay grows on every
// rate-limit response and decays on every success.
type Adapter struct {
	cfg    AdapterConfig
	client Classifier
	log    logger.Logger

	sleep  SleepFunc
	now    func() time.Time
	jitter func() time.Duration

	mu           sync.Mutex
	queue        []*pending
	running      int
	lastRequest  time.Time
	dynamicDelay time.Duration
	consecLimits int
	wake         chan struct{}
}

// NewAdapter creates an adapter around client.
func NewAdapter(cfg AdapterConfig, client Classifier, log logger.Logger) *Adapter {
	cfg = cfg.withDefaults()
	a := &Adapter{
		cfg:    cfg,
		client: client,
		log:    log.WithComponent("classify_adapter"),
		sleep:  Sleep,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
	a.jitter = func() time.Duration {
		return time.Duration(rand.Int63n(int64(cfg.Jitter)))
	}
	return a
}

// Classify enqueues a request and waits for its outcome.
func (a *Adapter) Classify(ctx context.Context, subject, body string) (Result, error) {
	p := &pending{subject: subject, body: body, done: make(chan outcome, 1)}

	a.mu.Lock()
	a.queue = append(a.queue, p)
	a.mu.Unlock()
	a.signal()

	select {
	case o := <-p.done:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run drains the request queue until ctx is cancelled. Exactly one Run
// loop should be active per adapter.
func (a *Adapter) Run(ctx context.Context) {
	for {
		p := a.nextReady(ctx)
		if p == nil {
			return
		}

		if wait := a.requiredWait(); wait > 0 {
			if err := a.sleep(ctx, wait); err != nil {
				p.done <- outcome{err: err}
				return
			}
		}

		a.mu.Lock()
		a.lastRequest = a.now()
		a.running++
		a.mu.Unlock()

		go func(p *pending) {
			res, err := a.processOne(ctx, p)
			p.done <- outcome{res: res, err: err}

			a.mu.Lock()
			a.running--
			a.mu.Unlock()
			a.signal()
		}(p)
	}
}

// Stats returns the adapter's current observability snapshot.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		QueueLength:           len(a.queue),
		Running:               a.running,
		DynamicDelayMs:        a.dynamicDelay.Milliseconds(),
		ConsecutiveRateLimits: a.consecLimits,
	}
}

// nextReady blocks until an item is queued and a concurrency slot is free,
// or returns nil when ctx is done.
func (a *Adapter) nextReady(ctx context.Context) *pending {
	for {
		a.mu.Lock()
		if len(a.queue) > 0 && a.running < a.cfg.Concurrency {
			p := a.queue[0]
			a.queue = a.queue[1:]
			a.mu.Unlock()
			return p
		}
		a.mu.Unlock()

		select {
		case <-a.wake:
		case <-ctx.Done():
			return nil
		}
	}
}

// requiredWait is how long to pause before the next request may be issued:
// the remainder of the minimum inter-request interval plus the current
// dynamic delay.
func (a *Adapter) requiredWait() time.Duration {
	minInterval := time.Duration(float64(time.Second) / a.cfg.RPS)

	a.mu.Lock()
	defer a.mu.Unlock()

	required := minInterval + a.dynamicDelay
	elapsed := a.now().Sub(a.lastRequest)
	if a.lastRequest.IsZero() || elapsed >= required {
		return 0
	}
	return required - elapsed
}

// processOne runs the per-request retry state machine.
func (a *Adapter) processOne(ctx context.Context, p *pending) (Result, error) {
	var lastErr error

	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		res, err := a.client.Classify(ctx, p.subject, p.body)
		if err == nil {
			a.recordSuccess()
			return res, nil
		}
		lastErr = err

		// Oversized input cannot be fixed by retrying; the adapter answers
		// with a deterministic fallback on the spot.
		if apperrors.IsInputTooLarge(err) {
			a.log.Error("Input exceeds classifier size limit", err,
				logger.Subject(p.subject))
			return Result{
				Label:       LabelNotInterested,
				Confidence:  0.5,
				Explanation: "Email too long to classify",
			}, nil
		}

		if apperrors.IsRateLimited(err) {
			delay := a.recordRateLimit()
			a.log.Warn("Classifier rate limit hit",
				logger.Int("consecutive", a.Stats().ConsecutiveRateLimits),
				logger.Duration("dynamic_delay_ms", delay))
		}

		if attempt >= a.cfg.MaxRetries {
			break
		}

		backoff := a.cfg.BaseBackoff<<uint(attempt) + a.jitter() + a.currentDelay()
		a.log.Debug("Retrying classification",
			logger.Attempt(attempt+1),
			logger.Duration("backoff_ms", backoff))
		if err := a.sleep(ctx, backoff); err != nil {
			return Result{}, err
		}
	}

	a.log.Error("Classification retries exhausted", lastErr,
		logger.Subject(p.subject),
		logger.Int("max_retries", a.cfg.MaxRetries))
	return Result{}, lastErr
}

func (a *Adapter) recordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consecLimits = 0
	a.dynamicDelay -= a.cfg.DelayDecay
	if a.dynamicDelay < 0 {
		a.dynamicDelay = 0
	}
}

func (a *Adapter) recordRateLimit() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consecLimits++
	a.dynamicDelay += a.cfg.DelayStep
	if a.dynamicDelay > a.cfg.DelayCap {
		a.dynamicDelay = a.cfg.DelayCap
	}
	return a.dynamicDelay
}

func (a *Adapter) currentDelay() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dynamicDelay
}

func (a *Adapter) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

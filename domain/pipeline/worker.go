package pipeline

import (
	"context"
	"time"

	"github.com/spf13/viper"

	"github.com/oneboxhq/onebox-core/domain/classify"
	"github.com/oneboxhq/onebox-core/pkg/logger"
)

// Indexer writes a classified message to the search/index store.
type Indexer interface {
	Upsert(ctx context.Context, msg *Message) error
}

// Dispatcher hands an "Interested" message to the notification channels.
// Fire-and-forget from the worker's perspective.
type Dispatcher interface {
	Dispatch(msg *Message)
}

// Config tunes the sequential processing worker.
type Config struct {
	MaxRetries int           // classification attempts per item
	RetryDelay time.Duration // multiplied by the attempt number
	ItemPause  time.Duration // pause after every item
	BatchSize  int           // items between long pauses
	BatchPause time.Duration // long pause after each batch
}

// ConfigFromEnv builds a worker Config from viper keys.
func ConfigFromEnv() Config {
	cfg := Config{
		MaxRetries: viper.GetInt("PIPELINE_MAX_RETRIES"),
		RetryDelay: viper.GetDuration("PIPELINE_RETRY_DELAY"),
		ItemPause:  viper.GetDuration("PIPELINE_ITEM_PAUSE"),
		BatchSize:  viper.GetInt("PIPELINE_BATCH_SIZE"),
		BatchPause: viper.GetDuration("PIPELINE_BATCH_PAUSE"),
	}
	return cfg.withDefaults()
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.ItemPause <= 0 {
		cfg.ItemPause = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = 30 * time.Second
	}
	return cfg
}

// Pipeline owns the dedup store, the processing queue and the single
// sequential worker that drains it. One worker serves all accounts so the
// aggregate pressure on downstream rate-limited services stays predictable
// regardless of account count.
type Pipeline struct {
	cfg        Config
	dedup      *DedupStore
	queue      *Queue
	classifier classify.Classifier
	index      Indexer
	dispatcher Dispatcher
	sleep      classify.SleepFunc
	log        logger.Logger
}

// New creates a pipeline. dispatcher may be nil when no notification
// channels are configured.
func New(
	cfg Config,
	classifier classify.Classifier,
	index Indexer,
	dispatcher Dispatcher,
	log logger.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg.withDefaults(),
		dedup:      NewDedupStore(),
		queue:      NewQueue(),
		classifier: classifier,
		index:      index,
		dispatcher: dispatcher,
		sleep:      classify.Sleep,
		log:        log.WithComponent("pipeline"),
	}
}

// Enqueue deduplicates and queues a parsed message. Returns false when the
// message was already seen; duplicates are discarded silently.
func (p *Pipeline) Enqueue(msg *Message) bool {
	key := msg.DedupeKey()
	if !p.dedup.Record(key) {
		return false
	}
	p.queue.Push(Item{Message: msg, Retries: 0})
	return true
}

// QueueLen returns the number of pending items.
func (p *Pipeline) QueueLen() int {
	return p.queue.Len()
}

// DedupLen returns the number of recorded dedupe keys.
func (p *Pipeline) DedupLen() int {
	return p.dedup.Len()
}

// Run drains the queue one item at a time until ctx is cancelled. Never
// two items concurrently, even across accounts.
func (p *Pipeline) Run(ctx context.Context) {
	processed := 0

	for {
		item, ok := p.queue.Pop(ctx)
		if !ok {
			return
		}

		p.processItem(ctx, item)
		if ctx.Err() != nil {
			return
		}

		processed++

		if err := p.sleep(ctx, p.cfg.ItemPause); err != nil {
			return
		}
		if processed%p.cfg.BatchSize == 0 {
			p.log.Debug("Batch pause",
				logger.Count(processed),
				logger.QueueLen(p.queue.Len()))
			if err := p.sleep(ctx, p.cfg.BatchPause); err != nil {
				return
			}
		}
	}
}

// processItem classifies, indexes and dispatches one message. Every
// failure path ends in a bounded retry or a fallback label; nothing here
// may stop the worker loop.
func (p *Pipeline) processItem(ctx context.Context, item Item) {
	msg := item.Message
	log := p.log.WithAccount(msg.Account)

	for {
		res, err := p.classifier.Classify(ctx, msg.Subject, msg.Body)
		if err == nil {
			msg.Label = res.Label
			if !msg.Label.Valid() {
				msg.Label = classify.LabelNotInterested
			}
			break
		}
		if ctx.Err() != nil {
			return
		}

		item.Retries++
		if item.Retries >= p.cfg.MaxRetries {
			// Never hold a message indefinitely: force the label, index it,
			// and move on.
			log.Error("Gave up classifying, forcing label", err,
				logger.Subject(msg.Subject),
				logger.Int("max_retries", p.cfg.MaxRetries))
			msg.Label = classify.LabelNotInterested
			break
		}

		log.Warn("Classification failed, retrying",
			logger.Subject(msg.Subject),
			logger.Attempt(item.Retries),
			logger.Err(err))
		if err := p.sleep(ctx, time.Duration(item.Retries)*p.cfg.RetryDelay); err != nil {
			return
		}
	}

	if err := p.index.Upsert(ctx, msg); err != nil {
		// Roll back the ingestion dedupe so a future fetch cycle can retry
		// the write.
		p.dedup.Forget(msg.DedupeKey())
		log.Error("Index write failed, rolled back dedupe key", err,
			logger.Subject(msg.Subject),
			logger.MessageID(msg.MessageID))
	}

	if msg.Label == classify.LabelInterested && p.dispatcher != nil {
		p.dispatcher.Dispatch(msg)
	}

	log.Info("Processed message",
		logger.Subject(msg.Subject),
		logger.Label(string(msg.Label)))
}

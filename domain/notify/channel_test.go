package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneboxhq/onebox-core/domain/pipeline"
	"github.com/oneboxhq/onebox-core/pkg/apperrors"
	"github.com/oneboxhq/onebox-core/pkg/logger"
)

type scriptedSender struct {
	mu       sync.Mutex
	name     string
	errs     []error // error per attempt; nil means success, exhausted means success
	attempts int
}

func (s *scriptedSender) Name() string { return s.name }

func (s *scriptedSender) Send(_ context.Context, _ *pipeline.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.attempts
	s.attempts++
	if i < len(s.errs) {
		return s.errs[i]
	}
	return nil
}

func (s *scriptedSender) sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

type recordingCache struct {
	mu       sync.Mutex
	deny     bool
	reserved []string
	released []string
}

func (c *recordingCache) ShouldSend(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deny {
		return false
	}
	c.reserved = append(c.reserved, key)
	return true
}

func (c *recordingCache) Release(_ context.Context, key string) {
	c.mu.Lock()
	c.released = append(c.released, key)
	c.mu.Unlock()
}

func (c *recordingCache) releasedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.released...)
}

type chanSleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *chanSleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return nil
}

func (r *chanSleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}

func newTestQueue(t *testing.T, cfg ChannelConfig, sender Sender, cache DedupeCache) (*channelQueue, *chanSleepRecorder) {
	t.Helper()
	q := newChannelQueue(cfg, sender, cache, logger.Get())
	rec := &chanSleepRecorder{}
	q.sleep = rec.sleep
	q.jitter = func() time.Duration { return 0 }
	return q, rec
}

func notifyMessage() *pipeline.Message {
	return &pipeline.Message{
		From:      "alice@example.com",
		Subject:   "Hello",
		MessageID: "m1@example.com",
		Label:     "Interested",
	}
}

func rateLimitedErr(after time.Duration) error {
	e := apperrors.NewTooManyRequests(apperrors.ErrCodeNotifyRateLimited, "rate limited")
	if after > 0 {
		e = e.WithRetryAfter(after)
	}
	return e
}

func transientErr() error {
	return apperrors.NewServiceUnavailable(apperrors.ErrCodeNotifyTransient, "channel down", nil)
}

func terminalErr() error {
	return apperrors.NewNotFound(apperrors.ErrCodeNotifyChannelNotFound, "channel not found")
}

func TestDeliverRetryAfterWinsOverBackoff(t *testing.T) {
	sender := &scriptedSender{name: "test", errs: []error{rateLimitedErr(5 * time.Second)}}
	cache := &recordingCache{}
	q, rec := newTestQueue(t, ChannelConfig{BaseBackoff: time.Second}, sender, cache)

	sent := q.deliver(context.Background(), channelItem{msg: notifyMessage(), key: "k"})
	require.True(t, sent)
	require.Equal(t, 2, sender.sends())
	require.Equal(t, []time.Duration{5 * time.Second}, rec.recorded())
	require.Empty(t, cache.releasedKeys())
}

func TestDeliverComputedBackoffWhenNoHint(t *testing.T) {
	sender := &scriptedSender{name: "test", errs: []error{transientErr(), transientErr()}}
	q, rec := newTestQueue(t, ChannelConfig{BaseBackoff: time.Second, MaxBackoff: 30 * time.Second}, sender, &recordingCache{})

	sent := q.deliver(context.Background(), channelItem{msg: notifyMessage(), key: "k"})
	require.True(t, sent)
	// Exponential with zeroed jitter: 1s<<0, 1s<<1.
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.recorded())
}

func TestDeliverBackoffCapped(t *testing.T) {
	sender := &scriptedSender{name: "test", errs: []error{transientErr()}}
	q, rec := newTestQueue(t, ChannelConfig{BaseBackoff: time.Minute, MaxBackoff: 10 * time.Second}, sender, &recordingCache{})

	sent := q.deliver(context.Background(), channelItem{msg: notifyMessage(), key: "k"})
	require.True(t, sent)
	require.Equal(t, []time.Duration{10 * time.Second}, rec.recorded())
}

func TestDeliverTerminalFailureDoesNotRetry(t *testing.T) {
	sender := &scriptedSender{name: "test", errs: []error{terminalErr(), nil}}
	cache := &recordingCache{}
	q, rec := newTestQueue(t, ChannelConfig{}, sender, cache)

	sent := q.deliver(context.Background(), channelItem{msg: notifyMessage(), key: "k"})
	require.False(t, sent)
	require.Equal(t, 1, sender.sends())
	require.Empty(t, rec.recorded())

	// The reservation is rolled back so a later fetch cycle may retry.
	require.Equal(t, []string{"k"}, cache.releasedKeys())
}

func TestDeliverExhaustionReleasesReservation(t *testing.T) {
	sender := &scriptedSender{name: "test", errs: []error{
		transientErr(), transientErr(), transientErr(), transientErr(), transientErr(),
	}}
	cache := &recordingCache{}
	q, _ := newTestQueue(t, ChannelConfig{MaxRetries: 4}, sender, cache)

	sent := q.deliver(context.Background(), channelItem{msg: notifyMessage(), key: "k"})
	require.False(t, sent)
	require.Equal(t, 5, sender.sends())
	require.Equal(t, []string{"k"}, cache.releasedKeys())
}

func TestEnqueueSuppressedByDedupe(t *testing.T) {
	cache := &recordingCache{deny: true}
	q, _ := newTestQueue(t, ChannelConfig{}, &scriptedSender{name: "test"}, cache)

	var sentResult *bool
	q.enqueue(context.Background(), notifyMessage(), func(sent bool) {
		sentResult = &sent
	})

	require.NotNil(t, sentResult)
	require.False(t, *sentResult)
	require.Equal(t, 0, q.depth())
}

func TestRunDeliversQueuedItems(t *testing.T) {
	sender := &scriptedSender{name: "test"}
	q, _ := newTestQueue(t, ChannelConfig{MinInterval: time.Nanosecond}, sender, &recordingCache{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.run(ctx)

	results := make(chan bool, 2)
	q.enqueue(ctx, notifyMessage(), func(sent bool) { results <- sent })

	other := notifyMessage()
	other.MessageID = "m2@example.com"
	q.enqueue(ctx, other, func(sent bool) { results <- sent })

	for i := 0; i < 2; i++ {
		select {
		case sent := <-results:
			require.True(t, sent)
		case <-time.After(5 * time.Second):
			t.Fatal("delivery did not complete")
		}
	}
	require.Equal(t, 2, sender.sends())
}

func TestRunCancelDuringPacingReleasesReservation(t *testing.T) {
	sender := &scriptedSender{name: "test"}
	cache := &recordingCache{}
	q, _ := newTestQueue(t, ChannelConfig{MinInterval: time.Second}, sender, cache)
	q.sleep = func(_ context.Context, _ time.Duration) error { return context.Canceled }
	q.lastSend = q.now()

	var sentResult *bool
	q.enqueue(context.Background(), notifyMessage(), func(sent bool) {
		sentResult = &sent
	})

	q.run(context.Background())

	// No attempt was made, so the reservation is rolled back instead of
	// suppressing the message for the full dedupe TTL.
	require.Equal(t, 0, sender.sends())
	require.NotNil(t, sentResult)
	require.False(t, *sentResult)
	require.Equal(t, []string{"m1@example.com"}, cache.releasedKeys())
}

func TestMemoryDedupeWindow(t *testing.T) {
	cache := NewMemoryDedupe(time.Hour).(*memoryDedupe)
	base := time.Now()
	cache.now = func() time.Time { return base }

	ctx := context.Background()
	require.True(t, cache.ShouldSend(ctx, "k"))
	require.False(t, cache.ShouldSend(ctx, "k"))

	// After the TTL the key may be sent again.
	cache.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.True(t, cache.ShouldSend(ctx, "k"))

	// Release rolls the reservation back immediately.
	cache.Release(ctx, "k")
	require.True(t, cache.ShouldSend(ctx, "k"))
}

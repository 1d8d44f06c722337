package classify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneboxhq/onebox-core/pkg/apperrors"
	"github.com/oneboxhq/onebox-core/pkg/logger"
)

type funcClassifier func(ctx context.Context, subject, body string) (Result, error)

func (f funcClassifier) Classify(ctx context.Context, subject, body string) (Result, error) {
	return f(ctx, subject, body)
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}

func newTestAdapter(t *testing.T, cfg AdapterConfig, client Classifier) (*Adapter, *sleepRecorder) {
	t.Helper()
	a := NewAdapter(cfg, client, logger.Get())
	rec := &sleepRecorder{}
	a.sleep = rec.sleep
	a.jitter = func() time.Duration { return 0 }
	return a, rec
}

func TestProcessOneOversizedInputFallsBack(t *testing.T) {
	client := funcClassifier(func(ctx context.Context, subject, body string) (Result, error) {
		return Result{}, apperrors.NewBadRequest(
			apperrors.ErrCodeClassifyInputTooLarge, "classifier rejected input size")
	})
	a, rec := newTestAdapter(t, AdapterConfig{}, client)

	res, err := a.processOne(context.Background(), &pending{subject: "s", body: "b"})
	require.NoError(t, err)
	require.Equal(t, LabelNotInterested, res.Label)
	require.Equal(t, 0.5, res.Confidence)
	require.Equal(t, "Email too long to classify", res.Explanation)

	// No backoff: the fallback answers on the first attempt.
	require.Empty(t, rec.recorded())
}

func TestProcessOneRateLimitGrowsThenSuccessDecays(t *testing.T) {
	var calls int
	client := funcClassifier(func(ctx context.Context, subject, body string) (Result, error) {
		calls++
		if calls <= 2 {
			return Result{}, apperrors.NewTooManyRequests(
				apperrors.ErrCodeClassifyRateLimited, "classifier rate limit hit")
		}
		return Result{Label: LabelInterested, Confidence: 0.9}, nil
	})
	a, rec := newTestAdapter(t, AdapterConfig{BaseBackoff: time.Second}, client)

	res, err := a.processOne(context.Background(), &pending{subject: "s", body: "b"})
	require.NoError(t, err)
	require.Equal(t, LabelInterested, res.Label)
	require.Equal(t, 3, calls)

	// Each rate limit adds DelayStep (5s) before the backoff is computed:
	// attempt 0 sleeps 1s<<0 + 5s, attempt 1 sleeps 1s<<1 + 10s.
	require.Equal(t, []time.Duration{6 * time.Second, 12 * time.Second}, rec.recorded())

	// Two limits grew the delay to 10s; the success decays it by 1s and
	// resets the consecutive counter.
	stats := a.Stats()
	require.Equal(t, int64(9000), stats.DynamicDelayMs)
	require.Equal(t, 0, stats.ConsecutiveRateLimits)
}

func TestProcessOneRetriesExhausted(t *testing.T) {
	var calls int
	client := funcClassifier(func(ctx context.Context, subject, body string) (Result, error) {
		calls++
		return Result{}, apperrors.NewServiceUnavailable(
			apperrors.ErrCodeClassifyUpstream, "upstream down", nil)
	})
	a, rec := newTestAdapter(t, AdapterConfig{MaxRetries: 2, BaseBackoff: time.Second}, client)

	_, err := a.processOne(context.Background(), &pending{subject: "s", body: "b"})
	require.Error(t, err)
	require.Equal(t, apperrors.ErrCodeClassifyUpstream, apperrors.CodeOf(err))
	require.Equal(t, 3, calls)
	require.Len(t, rec.recorded(), 2)
}

func TestRequiredWait(t *testing.T) {
	a, _ := newTestAdapter(t, AdapterConfig{RPS: 0.5}, nil)
	base := time.Now()
	a.now = func() time.Time { return base }

	// No request issued yet: no wait.
	require.Equal(t, time.Duration(0), a.requiredWait())

	// 1s elapsed of a 2s minimum interval plus a 5s dynamic delay.
	a.mu.Lock()
	a.lastRequest = base.Add(-time.Second)
	a.dynamicDelay = 5 * time.Second
	a.mu.Unlock()
	require.Equal(t, 6*time.Second, a.requiredWait())

	// Long since the last request: no wait.
	a.mu.Lock()
	a.lastRequest = base.Add(-time.Minute)
	a.mu.Unlock()
	require.Equal(t, time.Duration(0), a.requiredWait())
}

func TestRunBoundsInFlightRequests(t *testing.T) {
	release := make(chan struct{})
	var (
		mu         sync.Mutex
		running    int
		maxRunning int
	)
	client := funcClassifier(func(ctx context.Context, subject, body string) (Result, error) {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()

		<-release

		mu.Lock()
		running--
		mu.Unlock()
		return Result{Label: LabelInterested, Confidence: 1}, nil
	})
	a, _ := newTestAdapter(t, AdapterConfig{Concurrency: 2, RPS: 1000}, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	const total = 6
	errs := make(chan error, total)
	for i := 0; i < total; i++ {
		go func() {
			_, err := a.Classify(ctx, "subject", "body")
			errs <- err
		}()
	}

	// Both slots fill; the rest stay queued behind the blocked requests.
	require.Eventually(t, func() bool {
		return a.Stats().Running == 2
	}, 5*time.Second, time.Millisecond)

	close(release)
	for i := 0; i < total; i++ {
		require.NoError(t, <-errs)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, maxRunning)
}

func TestClassifyThroughRunLoop(t *testing.T) {
	client := funcClassifier(func(ctx context.Context, subject, body string) (Result, error) {
		return Result{Label: LabelMeetingBooked, Confidence: 1}, nil
	})
	a, _ := newTestAdapter(t, AdapterConfig{RPS: 1000}, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	for i := 0; i < 3; i++ {
		res, err := a.Classify(ctx, "subject", "body")
		require.NoError(t, err)
		require.Equal(t, LabelMeetingBooked, res.Label)
	}

	stats := a.Stats()
	require.Equal(t, 0, stats.QueueLength)
}

package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneboxhq/onebox-core/domain/classify"
	"github.com/oneboxhq/onebox-core/pkg/apperrors"
	"github.com/oneboxhq/onebox-core/pkg/logger"
)

type funcClassifier func(ctx context.Context, subject, body string) (classify.Result, error)

func (f funcClassifier) Classify(ctx context.Context, subject, body string) (classify.Result, error) {
	return f(ctx, subject, body)
}

type fakeIndexer struct {
	mu   sync.Mutex
	msgs []*Message
	err  error
}

func (f *fakeIndexer) Upsert(_ context.Context, msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeIndexer) indexed() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Message(nil), f.msgs...)
}

type fakeDispatcher struct {
	mu   sync.Mutex
	msgs []*Message
}

func (f *fakeDispatcher) Dispatch(msg *Message) {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
}

func (f *fakeDispatcher) dispatched() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Message(nil), f.msgs...)
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

func alwaysInterested(ctx context.Context, subject, body string) (classify.Result, error) {
	return classify.Result{Label: classify.LabelInterested, Confidence: 1}, nil
}

func newTestPipeline(t *testing.T, cfg Config, c classify.Classifier, idx *fakeIndexer, d Dispatcher) (*Pipeline, *sleepRecorder) {
	t.Helper()
	p := New(cfg, c, idx, d, logger.Get())
	rec := &sleepRecorder{}
	p.sleep = rec.sleep
	return p, rec
}

func testMessage(id string) *Message {
	return &Message{
		From:      "alice@example.com",
		Subject:   "Hello",
		Body:      "Tell me more.",
		Date:      time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		Account:   "acct",
		MessageID: id,
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	p, _ := newTestPipeline(t, Config{}, funcClassifier(alwaysInterested), &fakeIndexer{}, nil)

	require.True(t, p.Enqueue(testMessage("m1")))
	require.False(t, p.Enqueue(testMessage("m1")))
	require.True(t, p.Enqueue(testMessage("m2")))
	require.Equal(t, 2, p.QueueLen())
	require.Equal(t, 2, p.DedupLen())
}

func TestProcessItemInterestedIsDispatched(t *testing.T) {
	idx := &fakeIndexer{}
	disp := &fakeDispatcher{}
	p, _ := newTestPipeline(t, Config{}, funcClassifier(alwaysInterested), idx, disp)

	p.processItem(context.Background(), Item{Message: testMessage("m1")})

	indexed := idx.indexed()
	require.Len(t, indexed, 1)
	require.Equal(t, classify.LabelInterested, indexed[0].Label)
	require.Len(t, disp.dispatched(), 1)
}

func TestProcessItemOtherLabelsNotDispatched(t *testing.T) {
	idx := &fakeIndexer{}
	disp := &fakeDispatcher{}
	classifier := funcClassifier(func(ctx context.Context, subject, body string) (classify.Result, error) {
		return classify.Result{Label: classify.LabelSpam, Confidence: 1}, nil
	})
	p, _ := newTestPipeline(t, Config{}, classifier, idx, disp)

	p.processItem(context.Background(), Item{Message: testMessage("m1")})

	require.Len(t, idx.indexed(), 1)
	require.Empty(t, disp.dispatched())
}

func TestProcessItemRetryExhaustionForcesLabel(t *testing.T) {
	idx := &fakeIndexer{}
	classifier := funcClassifier(func(ctx context.Context, subject, body string) (classify.Result, error) {
		return classify.Result{}, apperrors.NewServiceUnavailable(
			apperrors.ErrCodeClassifyUpstream, "upstream down", nil)
	})
	p, rec := newTestPipeline(t, Config{MaxRetries: 3, RetryDelay: 2 * time.Second}, classifier, idx, nil)

	p.processItem(context.Background(), Item{Message: testMessage("m1")})

	// Exhaustion never drops the message: it is indexed with the forced
	// fallback label.
	indexed := idx.indexed()
	require.Len(t, indexed, 1)
	require.Equal(t, classify.LabelNotInterested, indexed[0].Label)

	// Linear backoff: attempt n sleeps n * RetryDelay.
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.recorded())
}

func TestProcessItemInvalidLabelCoerced(t *testing.T) {
	idx := &fakeIndexer{}
	classifier := funcClassifier(func(ctx context.Context, subject, body string) (classify.Result, error) {
		return classify.Result{Label: classify.Label("Gibberish"), Confidence: 1}, nil
	})
	p, _ := newTestPipeline(t, Config{}, classifier, idx, nil)

	p.processItem(context.Background(), Item{Message: testMessage("m1")})

	indexed := idx.indexed()
	require.Len(t, indexed, 1)
	require.Equal(t, classify.LabelNotInterested, indexed[0].Label)
}

func TestProcessItemIndexFailureRollsBackDedupe(t *testing.T) {
	idx := &fakeIndexer{err: apperrors.NewInternal(apperrors.ErrCodeIndexWriteFailed, "index down", nil)}
	p, _ := newTestPipeline(t, Config{}, funcClassifier(alwaysInterested), idx, nil)

	msg := testMessage("m1")
	require.True(t, p.Enqueue(msg))

	item, ok := p.queue.Pop(context.Background())
	require.True(t, ok)
	p.processItem(context.Background(), item)

	// The dedupe key was forgotten, so the next fetch cycle can retry.
	require.True(t, p.Enqueue(testMessage("m1")))
}

func TestRunPacesItemsAndBatches(t *testing.T) {
	idx := &fakeIndexer{}
	done := make(chan struct{})
	var processed int
	var mu sync.Mutex
	classifier := funcClassifier(func(ctx context.Context, subject, body string) (classify.Result, error) {
		mu.Lock()
		processed++
		if processed == 3 {
			close(done)
		}
		mu.Unlock()
		return classify.Result{Label: classify.LabelNotInterested, Confidence: 1}, nil
	})

	cfg := Config{
		ItemPause:  500 * time.Millisecond,
		BatchSize:  2,
		BatchPause: 30 * time.Second,
	}
	p, rec := newTestPipeline(t, cfg, classifier, idx, nil)

	require.True(t, p.Enqueue(testMessage("m1")))
	require.True(t, p.Enqueue(testMessage("m2")))
	require.True(t, p.Enqueue(testMessage("m3")))

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not process all items")
	}
	cancel()

	require.Eventually(t, func() bool {
		return len(idx.indexed()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	// Every item is followed by the short pause; the second item closes a
	// batch and adds the long pause.
	slept := rec.recorded()
	var itemPauses, batchPauses int
	for _, d := range slept {
		switch d {
		case cfg.ItemPause:
			itemPauses++
		case cfg.BatchPause:
			batchPauses++
		}
	}
	require.GreaterOrEqual(t, itemPauses, 2)
	require.GreaterOrEqual(t, batchPauses, 1)
}

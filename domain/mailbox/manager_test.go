package mailbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneboxhq/onebox-core/domain/account"
	"github.com/oneboxhq/onebox-core/domain/pipeline"
	"github.com/oneboxhq/onebox-core/pkg/logger"
)

type fakeConn struct {
	mu       sync.Mutex
	msgs     []*pipeline.Message
	fetches  int
	closed   bool
	activity func()
}

func (c *fakeConn) Fetch(_ context.Context) ([]*pipeline.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches++
	if c.fetches == 1 {
		return c.msgs, nil
	}
	return nil, nil
}

func (c *fakeConn) OnActivity(fn func()) {
	c.mu.Lock()
	c.activity = fn
	c.mu.Unlock()
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu    sync.Mutex
	conns map[int64][]*fakeConn // per account, in dial order
	msgs  []*pipeline.Message
}

func newFakeDialer(msgs ...*pipeline.Message) *fakeDialer {
	return &fakeDialer{conns: make(map[int64][]*fakeConn), msgs: msgs}
}

func (d *fakeDialer) Dial(_ context.Context, acct account.Account, _ time.Duration) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := &fakeConn{msgs: d.msgs}
	d.conns[acct.ID] = append(d.conns[acct.ID], conn)
	return conn, nil
}

func (d *fakeDialer) dialCount(accountID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns[accountID])
}

func (d *fakeDialer) connAt(accountID int64, i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns[accountID]) {
		return nil
	}
	return d.conns[accountID][i]
}

type fakeSource struct {
	mu       sync.Mutex
	accounts []account.Account
}

func (s *fakeSource) ListActive(_ context.Context) ([]account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]account.Account(nil), s.accounts...), nil
}

func (s *fakeSource) ListActiveByOwner(_ context.Context, ownerID int64) ([]account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []account.Account
	for _, a := range s.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeSink struct {
	mu   sync.Mutex
	msgs []*pipeline.Message
}

func (s *fakeSink) Enqueue(msg *pipeline.Message) bool {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	return true
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func acct(id, owner int64, name string) account.Account {
	return account.Account{ID: id, OwnerID: owner, Name: name, Email: name + "@example.com"}
}

func newTestManager(dialer Dialer, source AccountSource, sink Sink) *Manager {
	return NewManager(ManagerConfig{
		Lookback:       time.Hour,
		ReconnectDelay: time.Millisecond,
		PollInterval:   time.Hour,
	}, dialer, source, sink, logger.Get())
}

func TestStartAllConnectsActiveAccounts(t *testing.T) {
	msg := &pipeline.Message{Subject: "hi", MessageID: "m1@example.com"}
	dialer := newFakeDialer(msg)
	source := &fakeSource{accounts: []account.Account{acct(1, 1, "a"), acct(2, 1, "b")}}
	sink := &fakeSink{}
	m := newTestManager(dialer, source, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.StartAll(ctx))

	require.Eventually(t, func() bool {
		return m.ActiveConnections() == 2 && sink.count() == 2
	}, 5*time.Second, 10*time.Millisecond)

	m.StopAll()
	require.Eventually(t, func() bool {
		return m.ActiveConnections() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartAccountReplacesExistingConnection(t *testing.T) {
	dialer := newFakeDialer()
	m := newTestManager(dialer, &fakeSource{}, &fakeSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()

	a := acct(1, 1, "a")
	m.StartAccount(a)
	require.Eventually(t, func() bool {
		return dialer.dialCount(1) == 1 && m.ActiveConnections() == 1
	}, 5*time.Second, 10*time.Millisecond)

	m.StartAccount(a)
	require.Eventually(t, func() bool {
		first := dialer.connAt(1, 0)
		return dialer.dialCount(1) == 2 && first != nil && first.isClosed()
	}, 5*time.Second, 10*time.Millisecond)

	// Still exactly one live connection for the account.
	require.Eventually(t, func() bool {
		return m.ActiveConnections() == 1
	}, 5*time.Second, 10*time.Millisecond)
	m.StopAll()
}

func TestStopAccountClosesConnection(t *testing.T) {
	dialer := newFakeDialer()
	m := newTestManager(dialer, &fakeSource{}, &fakeSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()

	m.StartAccount(acct(1, 1, "a"))
	require.Eventually(t, func() bool {
		return m.ActiveConnections() == 1
	}, 5*time.Second, 10*time.Millisecond)

	m.StopAccount(1)
	require.Equal(t, 0, m.ActiveConnections())

	conn := dialer.connAt(1, 0)
	require.NotNil(t, conn)
	require.Eventually(t, conn.isClosed, 5*time.Second, 10*time.Millisecond)
}

func TestRestartOwnerRebuildsOnlyThatOwner(t *testing.T) {
	dialer := newFakeDialer()
	source := &fakeSource{accounts: []account.Account{
		acct(1, 1, "a"),
		acct(2, 1, "b"),
		acct(3, 2, "c"),
	}}
	m := newTestManager(dialer, source, &fakeSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.StartAll(ctx))
	require.Eventually(t, func() bool {
		return m.ActiveConnections() == 3
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, m.RestartOwner(ctx, 1))

	// Owner 1's accounts were redialed, owner 2's connection is untouched.
	require.Eventually(t, func() bool {
		return dialer.dialCount(1) == 2 && dialer.dialCount(2) == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, dialer.dialCount(3))

	require.Eventually(t, func() bool {
		return m.ActiveConnections() == 3
	}, 5*time.Second, 10*time.Millisecond)
	m.StopAll()
}

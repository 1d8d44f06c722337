package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/oneboxhq/onebox-core/domain/account"
	"github.com/oneboxhq/onebox-core/domain/pipeline"
	"github.com/oneboxhq/onebox-core/pkg/logger"
)

// Sink receives parsed, not-yet-seen messages from mailbox connections.
type Sink interface {
	Enqueue(msg *pipeline.Message) bool
}

// AccountSource lists the accounts whose mailboxes should be connected.
type AccountSource interface {
	ListActive(ctx context.Context) ([]account.Account, error)
	ListActiveByOwner(ctx context.Context, ownerID int64) ([]account.Account, error)
}

// ManagerConfig tunes the lifecycle coordinator.
type ManagerConfig struct {
	Lookback       time.Duration // search window for every fetch
	ReconnectDelay time.Duration // pause between reconnect attempts
	PollInterval   time.Duration // fallback fetch cadence when IDLE is quiet
}

// ManagerConfigFromEnv builds a ManagerConfig from viper keys.
func ManagerConfigFromEnv() ManagerConfig {
	cfg := ManagerConfig{
		ReconnectDelay: viper.GetDuration("MAILBOX_RECONNECT_DELAY"),
		PollInterval:   viper.GetDuration("MAILBOX_POLL_INTERVAL"),
	}
	if days := viper.GetInt("MAILBOX_LOOKBACK_DAYS"); days > 0 {
		cfg.Lookback = time.Duration(days) * 24 * time.Hour
	}
	return cfg.withDefaults()
}

func (cfg ManagerConfig) withDefaults() ManagerConfig {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 7 * 24 * time.Hour
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	return cfg
}

type managedAccount struct {
	acct   account.Account
	cancel context.CancelFunc

	mu   sync.Mutex
	conn Conn
}

func (ma *managedAccount) setConn(c Conn) {
	ma.mu.Lock()
	ma.conn = c
	ma.mu.Unlock()
}

func (ma *managedAccount) connected() bool {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	return ma.conn != nil && ma.conn.IsConnected()
}

// Manager maintains the live mapping from account to mailbox connection:
// exactly one connection per active account. Reconnect policy lives here,
// not in the connection itself.
type Manager struct {
	cfg      ManagerConfig
	dialer   Dialer
	accounts AccountSource
	sink     Sink
	sleep    func(ctx context.Context, d time.Duration) error
	log      logger.Logger

	mu      sync.Mutex
	baseCtx context.Context
	conns   map[int64]*managedAccount
}

// NewManager creates a lifecycle coordinator.
func NewManager(
	cfg ManagerConfig,
	dialer Dialer,
	accounts AccountSource,
	sink Sink,
	log logger.Logger,
) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		dialer:   dialer,
		accounts: accounts,
		sink:     sink,
		sleep:    sleepCtx,
		log:      log.WithComponent("mailbox_manager"),
		conns:    make(map[int64]*managedAccount),
	}
}

// StartAll binds the manager to ctx and starts a connection for every
// active account.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()

	accounts, err := m.accounts.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, acct := range accounts {
		m.StartAccount(acct)
	}

	m.log.Info("Started mailbox connections", logger.Count(len(accounts)))
	return nil
}

// StartAccount starts (or restarts) the connection for one account.
func (m *Manager) StartAccount(acct account.Account) {
	m.mu.Lock()
	if existing, ok := m.conns[acct.ID]; ok {
		existing.cancel()
		delete(m.conns, acct.ID)
	}

	base := m.baseCtx
	if base == nil {
		base = context.Background()
		m.baseCtx = base
	}

	ctx, cancel := context.WithCancel(base)
	ma := &managedAccount{acct: acct, cancel: cancel}
	m.conns[acct.ID] = ma
	m.mu.Unlock()

	go m.runAccount(ctx, ma)
}

// StopAccount disconnects and discards the account's connection. An
// in-flight fetch is not aborted; future fetch triggers stop.
func (m *Manager) StopAccount(accountID int64) {
	m.mu.Lock()
	ma, ok := m.conns[accountID]
	if ok {
		delete(m.conns, accountID)
	}
	m.mu.Unlock()

	if ok {
		ma.cancel()
		m.log.Info("Stopped mailbox connection", logger.AccountID(accountID))
	}
}

// RestartOwner tears down all of the owner's connections and rebuilds
// them from the current active-account list. Full rebuild rather than
// incremental patching: correctness over efficiency.
func (m *Manager) RestartOwner(ctx context.Context, ownerID int64) error {
	m.mu.Lock()
	for id, ma := range m.conns {
		if ma.acct.OwnerID == ownerID {
			ma.cancel()
			delete(m.conns, id)
		}
	}
	m.mu.Unlock()

	accounts, err := m.accounts.ListActiveByOwner(ctx, ownerID)
	if err != nil {
		return err
	}

	for _, acct := range accounts {
		m.StartAccount(acct)
	}

	m.log.Info("Rebuilt owner connections",
		logger.OwnerID(ownerID),
		logger.Count(len(accounts)))
	return nil
}

// StopAll cancels every connection.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for id, ma := range m.conns {
		ma.cancel()
		delete(m.conns, id)
	}
	m.mu.Unlock()
}

// ActiveConnections counts currently connected mailboxes.
func (m *Manager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, ma := range m.conns {
		if ma.connected() {
			n++
		}
	}
	return n
}

// runAccount owns one account's connect/fetch/reconnect cycle until its
// context is cancelled.
func (m *Manager) runAccount(ctx context.Context, ma *managedAccount) {
	log := m.log.WithAccount(ma.acct.Name)

	for ctx.Err() == nil {
		conn, err := m.dialer.Dial(ctx, ma.acct, m.cfg.Lookback)
		if err != nil {
			log.Error("Mailbox connect failed, will retry", err,
				logger.Duration("retry_in_ms", m.cfg.ReconnectDelay))
			if m.sleep(ctx, m.cfg.ReconnectDelay) != nil {
				return
			}
			continue
		}

		ma.setConn(conn)

		activity := make(chan struct{}, 1)
		conn.OnActivity(func() {
			select {
			case activity <- struct{}{}:
			default:
			}
		})

		// Initial fetch covers the lookback window; every later trigger
		// refetches the same window and relies on dedup downstream.
		m.fetchInto(ctx, conn, ma.acct, log)

		for conn.IsConnected() && ctx.Err() == nil {
			select {
			case <-ctx.Done():
			case <-activity:
				log.Debug("New mail notification received")
				m.fetchInto(ctx, conn, ma.acct, log)
			case <-time.After(m.cfg.PollInterval):
				m.fetchInto(ctx, conn, ma.acct, log)
			}
		}

		_ = conn.Close()
		ma.setConn(nil)

		if ctx.Err() != nil {
			return
		}

		log.Warn("Mailbox connection lost, reconnecting",
			logger.Duration("retry_in_ms", m.cfg.ReconnectDelay))
		if m.sleep(ctx, m.cfg.ReconnectDelay) != nil {
			return
		}
	}
}

// fetchInto fetches and enqueues everything not yet seen.
func (m *Manager) fetchInto(ctx context.Context, conn Conn, acct account.Account, log logger.Logger) {
	messages, err := conn.Fetch(ctx)
	if err != nil {
		log.Error("Fetch failed", err)
		return
	}

	enqueued := 0
	for _, msg := range messages {
		if m.sink.Enqueue(msg) {
			enqueued++
		}
	}

	if enqueued > 0 {
		log.Info("Enqueued new messages",
			logger.Count(enqueued),
			logger.Int("fetched", len(messages)))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

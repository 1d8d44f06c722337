package mailbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/oneboxhq/onebox-core/domain/account"
	"github.com/oneboxhq/onebox-core/domain/pipeline"
	"github.com/oneboxhq/onebox-core/pkg/apperrors"
	"github.com/oneboxhq/onebox-core/pkg/logger"
)

// Conn is the narrow surface the lifecycle coordinator needs from a
// mailbox connection. Transport internals stay hidden behind it so
// reconnect policy is testable without a live socket.
type Conn interface {
	// Fetch performs a full lookback fetch and returns the parsed
	// messages. Idempotent: downstream dedup suppresses repeats.
	Fetch(ctx context.Context) ([]*pipeline.Message, error)
	// OnActivity registers the callback invoked when the server signals
	// new mail. At most one callback; later calls replace earlier ones.
	OnActivity(fn func())
	// IsConnected reports whether the connection is still usable.
	IsConnected() bool
	// Close terminates the connection. In-flight fetches are not aborted.
	Close() error
}

// Dialer opens mailbox connections. The production implementation speaks
// IMAP over TLS; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, acct account.Account, lookback time.Duration) (Conn, error)
}

// IMAPDialer is the production Dialer.
type IMAPDialer struct {
	Log logger.Logger
}

// idleRestart bounds a single IDLE period; servers commonly drop
// connections idling longer than 29 minutes.
const idleRestart = 25 * time.Minute

// Dial connects, authenticates and selects INBOX read-only, then starts
// the IDLE loop that drives activity callbacks.
func (d *IMAPDialer) Dial(ctx context.Context, acct account.Account, lookback time.Duration) (Conn, error) {
	c := &imapConn{
		acct:     acct,
		lookback: lookback,
		log:      d.Log.WithComponent("mailbox").WithAccount(acct.Name),
	}

	addr := fmt.Sprintf("%s:%d", acct.IMAPHost, acct.IMAPPort)
	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					c.notifyActivity()
				}
			},
		},
	}

	client, err := imapclient.DialTLS(addr, options)
	if err != nil {
		return nil, apperrors.NewServiceUnavailable(
			apperrors.ErrCodeMailboxConnectFailed,
			fmt.Sprintf("failed to connect to %s", addr), err)
	}

	if err := client.Login(acct.Email, acct.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, apperrors.NewServiceUnavailable(
			apperrors.ErrCodeMailboxConnectFailed,
			fmt.Sprintf("authentication failed for %s", acct.Email), err)
	}

	selectData, err := client.Select("INBOX", &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		_ = client.Logout().Wait()
		return nil, apperrors.NewServiceUnavailable(
			apperrors.ErrCodeMailboxConnectFailed, "failed to select INBOX", err)
	}

	c.client = client
	c.connected = true
	c.stopIdle = make(chan struct{})
	c.log.Info("IMAP connected", logger.Count(int(selectData.NumMessages)))

	go c.idleLoop()

	return c, nil
}

// imapConn is one live IMAP connection for a single account.
type imapConn struct {
	acct     account.Account
	lookback time.Duration
	log      logger.Logger
	client   *imapclient.Client

	mu        sync.Mutex
	connected bool
	lastFetch time.Time
	onNewMail func()
	stopIdle  chan struct{}
}

// Fetch searches INBOX for messages since the lookback window and parses
// every hit. Parse failures are logged and dropped, never retried.
func (c *imapConn) Fetch(ctx context.Context) ([]*pipeline.Message, error) {
	if !c.IsConnected() {
		return nil, apperrors.NewServiceUnavailable(
			apperrors.ErrCodeMailboxFetchFailed, "not connected, skipping fetch", nil)
	}

	since := time.Now().Add(-c.lookback)
	searchData, err := c.client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		c.markDisconnected()
		return nil, apperrors.NewServiceUnavailable(
			apperrors.ErrCodeMailboxFetchFailed, "IMAP search failed", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		c.log.Debug("No messages in lookback window")
		c.touch()
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := c.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	var messages []*pipeline.Message
	for {
		fetched := fetchCmd.Next()
		if fetched == nil {
			break
		}

		buf, err := fetched.Collect()
		if err != nil {
			c.log.Warn("Failed to collect message data", logger.Err(err))
			continue
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			continue
		}

		msg, err := parseMessage(raw, c.acct)
		if err != nil {
			// Permanent per-item failure: a malformed message cannot be
			// repaired by retrying parse.
			c.log.Error("Dropping unparseable message", err)
			continue
		}
		messages = append(messages, msg)
	}

	if err := fetchCmd.Close(); err != nil {
		c.markDisconnected()
		return messages, apperrors.NewServiceUnavailable(
			apperrors.ErrCodeMailboxFetchFailed, "IMAP fetch failed", err)
	}

	c.touch()
	c.log.Debug("Fetch completed", logger.Count(len(messages)))
	return messages, nil
}

// OnActivity registers the new-mail callback.
func (c *imapConn) OnActivity(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNewMail = fn
}

// IsConnected reports the connection state.
func (c *imapConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close stops the IDLE loop and logs out.
func (c *imapConn) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	close(c.stopIdle)
	c.mu.Unlock()

	return c.client.Logout().Wait()
}

func (c *imapConn) notifyActivity() {
	c.mu.Lock()
	fn := c.onNewMail
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *imapConn) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *imapConn) touch() {
	c.mu.Lock()
	c.lastFetch = time.Now()
	c.mu.Unlock()
}

// idleLoop keeps an IDLE command open so the server can push new-mail
// notifications, restarting it periodically so servers do not drop us.
func (c *imapConn) idleLoop() {
	for {
		select {
		case <-c.stopIdle:
			return
		default:
		}

		idleCmd, err := c.client.Idle()
		if err != nil {
			c.log.Warn("IDLE failed", logger.Err(err))
			c.markDisconnected()
			return
		}

		select {
		case <-c.stopIdle:
			_ = idleCmd.Close()
			_ = idleCmd.Wait()
			return
		case <-time.After(idleRestart):
			if err := idleCmd.Close(); err != nil {
				c.markDisconnected()
				return
			}
			if err := idleCmd.Wait(); err != nil {
				c.log.Warn("IDLE terminated", logger.Err(err))
				c.markDisconnected()
				return
			}
		}
	}
}

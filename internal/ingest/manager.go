package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/onebox/internal/config"
)

// ConnState is the lifecycle state of one account's connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateReady
	StateListening
	StateError
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateListening:
		return "listening"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// maxReconnectDelay caps the exponential backoff between attempts.
const maxReconnectDelay = time.Minute

// Connection is one account's persistent listening session, owned exclusively
// by the Manager.
type Connection struct {
	account *config.AccountConfig

	mu    sync.Mutex
	state ConnState

	// events is the bounded new-mail channel feeding the scheduler; a full
	// channel coalesces instead of blocking event delivery.
	events chan struct{}
}

// State returns the current connection state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) notify() {
	select {
	case c.events <- struct{}{}:
	default:
	}
}

// Manager owns one connection per mailbox account: it dials, listens for
// new-mail events and hands fetch work to the scheduler. The registry is
// explicit, constructed once at startup.
type Manager struct {
	cfg       *config.Config
	dial      DialFunc
	scheduler *Scheduler
	logger    *logrus.Logger

	mu    sync.Mutex
	conns map[string]*Connection
	wg    sync.WaitGroup
}

// NewManager creates a connection manager.
func NewManager(cfg *config.Config, dial DialFunc, scheduler *Scheduler, logger *logrus.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		dial:      dial,
		scheduler: scheduler,
		logger:    logger,
		conns:     make(map[string]*Connection),
	}
}

// Start connects every configured account.
func (m *Manager) Start(ctx context.Context) {
	for i := range m.cfg.Accounts {
		m.Connect(ctx, &m.cfg.Accounts[i])
	}
}

// Connect starts the connection lifecycle for an account. It is idempotent:
// invoking it while the account is already connecting or connected is a
// no-op.
func (m *Manager) Connect(ctx context.Context, account *config.AccountConfig) {
	m.mu.Lock()
	// A connection still in the registry has a live lifecycle goroutine, even
	// mid-backoff; exhausted or closed ones remove themselves.
	if _, ok := m.conns[account.Name]; ok {
		m.mu.Unlock()
		return
	}

	conn := &Connection{
		account: account,
		state:   StateDisconnected,
		events:  make(chan struct{}, 1),
	}
	m.conns[account.Name] = conn
	m.mu.Unlock()

	m.wg.Add(2)
	go m.consumeEvents(ctx, conn)
	go m.runConnection(ctx, conn)
}

// consumeEvents pulls new-mail events off the bounded channel and triggers
// fetch cycles; the scheduler serializes and coalesces per account.
func (m *Manager) consumeEvents(ctx context.Context, conn *Connection) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.events:
			m.scheduler.Trigger(conn.account)
		}
	}
}

// runConnection drives the state machine for one account: Connecting →
// Ready → Listening, with Error + backoff on transport failures and Closed
// on shutdown or exhausted attempts.
func (m *Manager) runConnection(ctx context.Context, conn *Connection) {
	defer m.wg.Done()

	log := m.logger.WithField("account", conn.account.Name)
	attempts := 0

	for {
		if ctx.Err() != nil {
			m.close(conn, log)
			return
		}

		conn.setState(StateConnecting)
		sess, err := m.dial(ctx, conn.account)
		if err != nil {
			conn.setState(StateError)
			attempts++
			log.WithError(err).WithField("attempt", attempts).Warn("Connection failed")

			if attempts >= m.cfg.ReconnectMaxAttempts {
				log.Error("Reconnect attempts exhausted, giving up")
				m.close(conn, log)
				return
			}
			if !sleepCtx(ctx, backoffDelay(m.cfg.ReconnectBaseDelay, attempts)) {
				m.close(conn, log)
				return
			}
			continue
		}

		attempts = 0
		conn.setState(StateReady)

		// Initial fetch cycle on connect, through the same event path.
		conn.notify()

		conn.setState(StateListening)
		listenErr := m.listen(ctx, sess, conn)
		sess.Close()

		if ctx.Err() != nil {
			m.close(conn, log)
			return
		}

		conn.setState(StateError)
		attempts++
		log.WithError(listenErr).Warn("Listening session ended, reconnecting")
		if !sleepCtx(ctx, backoffDelay(m.cfg.ReconnectBaseDelay, attempts)) {
			m.close(conn, log)
			return
		}
	}
}

// listen forwards new-mail events until the session or context dies.
func (m *Manager) listen(ctx context.Context, sess Session, conn *Connection) error {
	for {
		if err := sess.WaitForUpdate(ctx); err != nil {
			return err
		}
		conn.notify()
	}
}

// close marks the connection Closed and removes it from the active set,
// leaving the account eligible for a later Connect.
func (m *Manager) close(conn *Connection, log *logrus.Entry) {
	conn.setState(StateClosed)
	m.mu.Lock()
	delete(m.conns, conn.account.Name)
	m.mu.Unlock()
	log.Info("Connection closed")
}

// SyncAll triggers a fetch cycle for every configured account, regardless of
// connection state. Used by the HTTP trigger endpoint.
func (m *Manager) SyncAll() {
	for i := range m.cfg.Accounts {
		m.scheduler.Trigger(&m.cfg.Accounts[i])
	}
}

// States reports the connection state per account name.
func (m *Manager) States() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make(map[string]string, len(m.conns))
	for name, conn := range m.conns {
		states[name] = conn.State().String()
	}
	return states
}

// Shutdown waits for connection goroutines and in-flight fetch cycles to
// drain within the grace period. The caller cancels the root context first.
// Cycles that do not finish in time are abandoned; their messages remain
// unacknowledged and are reprocessed after restart.
func (m *Manager) Shutdown(grace time.Duration) {
	deadline := time.Now().Add(grace)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		m.logger.Warn("Connections did not close within grace period")
	}

	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	if !m.scheduler.Drain(remaining) {
		m.logger.Warn("Abandoning in-flight fetch cycles, messages remain unacknowledged")
	}
}

// backoffDelay computes the exponential backoff for the given attempt count.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base << (attempt - 1)
	if delay > maxReconnectDelay || delay <= 0 {
		delay = maxReconnectDelay
	}
	return delay
}

// sleepCtx sleeps unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

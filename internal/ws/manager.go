// Package ws owns the single WebSocket connection to the chat server:
// lifecycle, authentication, fixed-delay reconnection and outbound command
// frames. No other component may open, close or reassign the transport.
package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sobesednik/internal/protocol"
	"sobesednik/internal/session"
)

// State is the connection lifecycle stage. All transitions go through
// transition(); callers never poke at the transport's own ready state.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Ready
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Ready:
		return "ready"
	default:
		return "disconnected"
	}
}

// Transport is the subset of *websocket.Conn the manager uses.
type Transport interface {
	WriteJSON(v any) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// Dialer opens a transport. Swapped out in tests.
type Dialer func(ctx context.Context, url string) (Transport, error)

func gorillaDialer(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// Manager maintains at most one live transport and feeds parsed inbound
// events to its handler, one frame at a time in arrival order.
type Manager struct {
	url            string
	guard          *session.Guard
	reconnectDelay time.Duration
	dial           Dialer

	// handle receives every parsed event, including auth_success and
	// error frames the manager also reacts to itself.
	handle func(protocol.Event)

	// onDisconnect fires after the transport drops, before the reconnect
	// timer is armed. The reconciler degrades everyone to offline here.
	onDisconnect func()

	mu             sync.Mutex
	state          State
	conn           Transport
	reconnectTimer *time.Timer
	writeMu        sync.Mutex
	shutdown       bool
}

type Config struct {
	URL            string
	Guard          *session.Guard
	ReconnectDelay time.Duration
	Handle         func(protocol.Event)
	OnDisconnect   func()

	// Dial overrides the gorilla dialer in tests.
	Dial Dialer
}

func NewManager(cfg Config) *Manager {
	dial := cfg.Dial
	if dial == nil {
		dial = gorillaDialer
	}
	m := &Manager{
		url:            cfg.URL,
		guard:          cfg.Guard,
		reconnectDelay: cfg.ReconnectDelay,
		dial:           dial,
		handle:         cfg.Handle,
		onDisconnect:   cfg.OnDisconnect,
		state:          Disconnected,
	}
	// Session expiry, detected locally or by the server, invalidates both a
	// live transport and any reconnect already on the clock.
	m.guard.OnExpired(m.sessionExpired)
	return m
}

// sessionExpired stops a pending reconnect and tears down a live transport.
// Reconnection resumes only through an explicit Connect after a new token
// is stored.
func (m *Manager) sessionExpired() {
	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	m.conn = nil
	wasLive := m.state != Disconnected
	m.state = Disconnected
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasLive && m.onDisconnect != nil {
		m.onDisconnect()
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition is the single place connection state changes.
func (m *Manager) transition(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()
	if from != to {
		slog.Debug("connection state", "from", from.String(), "to", to.String())
	}
}

// Connect opens the transport and authenticates. A call while already
// Connecting, Authenticating or Ready is a no-op: there is never more than
// one live transport.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.shutdown || m.state != Disconnected {
		m.mu.Unlock()
		return
	}
	m.state = Connecting
	m.mu.Unlock()

	token, err := m.guard.CurrentToken()
	if err != nil {
		// Unauthenticated; nothing to connect with.
		m.transition(Disconnected)
		return
	}

	conn, err := m.dial(ctx, m.url)
	if err != nil {
		slog.Warn("websocket dial failed", "error", err)
		m.transition(Disconnected)
		m.scheduleReconnect(ctx)
		return
	}

	m.mu.Lock()
	m.conn = conn
	m.state = Authenticating
	m.mu.Unlock()

	// The server expects an authenticate frame immediately on open.
	if err := m.writeJSON(protocol.Authenticate{
		Type:  protocol.CommandAuthenticate,
		Token: token,
	}); err != nil {
		slog.Warn("failed to send authenticate frame", "error", err)
		m.dropConnection(ctx, conn, true)
		return
	}

	go m.readLoop(ctx, conn)
}

// readLoop drains frames until the transport dies. It is the only reader,
// which keeps event application strictly ordered.
func (m *Manager) readLoop(ctx context.Context, conn Transport) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !m.isShutdown() {
				slog.Warn("websocket read failed", "error", err)
			}
			m.dropConnection(ctx, conn, true)
			return
		}

		ev, err := protocol.ParseEvent(raw)
		if err != nil {
			// Unknown and malformed frames never kill the pipeline.
			slog.Warn("dropping frame", "error", err)
			continue
		}

		switch e := ev.(type) {
		case *protocol.AuthSuccessEvent:
			m.transition(Ready)
		case *protocol.ErrorEvent:
			if e.TokenExpired() {
				// Session is gone server-side: clear the token, hand
				// control back to re-authentication, do not reconnect.
				m.guard.Expire()
				m.dropConnection(ctx, conn, false)
				if m.handle != nil {
					m.handle(ev)
				}
				return
			}
		}

		if m.handle != nil {
			m.handle(ev)
		}
	}
}

// dropConnection tears down the given transport and, unless the session
// ended or the manager is shutting down, arms the fixed-delay reconnect. A
// stale transport (already replaced by a newer connect) is only closed.
func (m *Manager) dropConnection(ctx context.Context, conn Transport, reconnect bool) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	m.conn = nil
	wasLive := m.state != Disconnected
	m.state = Disconnected
	stopped := m.shutdown
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if !wasLive {
		return
	}

	if m.onDisconnect != nil {
		m.onDisconnect()
	}

	if reconnect && !stopped && ctx.Err() == nil {
		m.scheduleReconnect(ctx)
	}
}

// scheduleReconnect arms one reconnect attempt after the fixed delay. The
// delay is deliberately constant, not exponential; reconnection storms are
// bounded only by it.
func (m *Manager) scheduleReconnect(ctx context.Context) {
	if m.isShutdown() || ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	m.reconnectTimer = time.AfterFunc(m.reconnectDelay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		m.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		m.Connect(ctx)
	})
	m.mu.Unlock()
}

// Close tears the connection down for good (logout or process exit).
func (m *Manager) Close() {
	m.mu.Lock()
	m.shutdown = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.state = Disconnected
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (m *Manager) isShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

func (m *Manager) writeJSON(v any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(v)
}

package ws

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sobesednik/internal/models"
	"sobesednik/internal/protocol"
	"sobesednik/internal/session"
)

type fakeConn struct {
	frames  chan []byte
	writes  chan any
	closeCh chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan []byte, 16),
		writes:  make(chan any, 16),
		closeCh: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-f.frames:
		return 1, frame, nil
	case <-f.closeCh:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeConn) WriteJSON(v any) error {
	select {
	case <-f.closeCh:
		return errors.New("connection closed")
	default:
	}
	f.writes <- v
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closeCh) })
	return nil
}

// serve feeds a frame to the client.
func (f *fakeConn) serve(frame string) {
	f.frames <- []byte(frame)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials atomic.Int32
	fail  atomic.Bool
}

func (d *fakeDialer) dial(ctx context.Context, url string) (Transport, error) {
	d.dials.Add(1)
	if d.fail.Load() {
		return nil, errors.New("dial refused")
	}
	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) latest() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func signToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": int64(1),
		"role":   "member",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func testGuard(t *testing.T) *session.Guard {
	t.Helper()
	store, err := session.NewStore(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	guard := session.NewGuard(store)
	if err := guard.SaveToken(signToken(t)); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}
	return guard
}

func newTestManager(t *testing.T, dialer *fakeDialer, handle func(protocol.Event), onDisconnect func()) *Manager {
	t.Helper()
	m := NewManager(Config{
		URL:            "ws://test",
		Guard:          testGuard(t),
		ReconnectDelay: 20 * time.Millisecond,
		Dial:           dialer.dial,
		Handle:         handle,
		OnDisconnect:   onDisconnect,
	})
	t.Cleanup(m.Close)
	return m
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, stuck at %s", want, m.State())
}

func TestManager_ConnectAuthenticates(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, nil, nil)

	m.Connect(context.Background())
	if got := m.State(); got != Authenticating {
		t.Fatalf("expected Authenticating after connect, got %s", got)
	}

	conn := dialer.latest()
	select {
	case frame := <-conn.writes:
		auth, ok := frame.(protocol.Authenticate)
		if !ok {
			t.Fatalf("first frame is %T, want Authenticate", frame)
		}
		if auth.Token == "" {
			t.Error("authenticate frame has empty token")
		}
	case <-time.After(time.Second):
		t.Fatal("no authenticate frame sent on transport open")
	}

	conn.serve(`{"type":"auth_success"}`)
	waitForState(t, m, Ready)
}

func TestManager_ConnectIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, nil, nil)
	ctx := context.Background()

	m.Connect(ctx)
	m.Connect(ctx) // already Authenticating
	dialer.latest().serve(`{"type":"auth_success"}`)
	waitForState(t, m, Ready)
	m.Connect(ctx) // already Ready

	if got := dialer.dials.Load(); got != 1 {
		t.Errorf("expected exactly one transport, got %d dials", got)
	}
}

func TestManager_ReconnectAfterDrop(t *testing.T) {
	dialer := &fakeDialer{}
	disconnects := make(chan struct{}, 4)
	m := newTestManager(t, dialer, nil, func() { disconnects <- struct{}{} })

	m.Connect(context.Background())
	dialer.latest().serve(`{"type":"auth_success"}`)
	waitForState(t, m, Ready)

	// Kill the transport; the manager degrades and redials after the
	// fixed delay.
	dialer.latest().Close()

	select {
	case <-disconnects:
	case <-time.After(time.Second):
		t.Fatal("onDisconnect never fired")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && dialer.dials.Load() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := dialer.dials.Load(); got != 2 {
		t.Fatalf("expected a single reconnect attempt, got %d dials", got)
	}
}

func TestManager_TokenExpiryStopsReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	events := make(chan protocol.Event, 16)
	m := newTestManager(t, dialer, func(ev protocol.Event) { events <- ev }, nil)

	m.Connect(context.Background())
	conn := dialer.latest()
	conn.serve(`{"type":"auth_success"}`)
	waitForState(t, m, Ready)

	conn.serve(`{"type":"error","message":"TokenExpiredError"}`)
	waitForState(t, m, Disconnected)

	// The token is gone and no reconnect happens: the next move is the
	// re-authentication flow, not a retry with a dead token.
	if _, err := m.guard.CurrentToken(); err == nil {
		t.Error("token survived a TokenExpiredError frame")
	}
	time.Sleep(100 * time.Millisecond)
	if got := dialer.dials.Load(); got != 1 {
		t.Errorf("manager reconnected after token expiry, %d dials", got)
	}
}

func TestManager_ExpiryDropsLiveConnection(t *testing.T) {
	dialer := &fakeDialer{}
	disconnects := make(chan struct{}, 4)
	m := newTestManager(t, dialer, nil, func() { disconnects <- struct{}{} })

	m.Connect(context.Background())
	dialer.latest().serve(`{"type":"auth_success"}`)
	waitForState(t, m, Ready)

	// Locally detected expiry (a CurrentToken call noticing exp passed)
	// fires the same signal as the server's expiry frame.
	m.guard.Expire()
	waitForState(t, m, Disconnected)

	select {
	case <-disconnects:
	case <-time.After(time.Second):
		t.Fatal("onDisconnect never fired on session expiry")
	}

	time.Sleep(100 * time.Millisecond)
	if got := dialer.dials.Load(); got != 1 {
		t.Errorf("manager reconnected after session expiry, %d dials", got)
	}
}

func TestManager_ExpiryStopsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.fail.Store(true)
	m := NewManager(Config{
		URL:            "ws://test",
		Guard:          testGuard(t),
		ReconnectDelay: 200 * time.Millisecond,
		Dial:           dialer.dial,
	})
	t.Cleanup(m.Close)

	// The failed dial arms the reconnect timer.
	m.Connect(context.Background())
	if got := dialer.dials.Load(); got != 1 {
		t.Fatalf("expected one failed dial, got %d", got)
	}

	m.guard.Expire()

	// A fresh token alone must not revive the armed timer; reconnection
	// resumes only through an explicit Connect.
	if err := m.guard.SaveToken(signToken(t)); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}
	dialer.fail.Store(false)

	time.Sleep(500 * time.Millisecond)
	if got := dialer.dials.Load(); got != 1 {
		t.Errorf("reconnect fired after session expiry, %d dials", got)
	}
}

func TestSender_DropsWhenNotReady(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, nil, nil)
	sender := NewSender(m)

	// Disconnected: nothing must be written, nothing must panic.
	sender.SendMessage(5, "dropped", false, nil)

	m.Connect(context.Background())
	conn := dialer.latest()
	<-conn.writes // authenticate frame

	// Authenticating is still not Ready.
	sender.SendMessage(5, "also dropped", false, nil)
	select {
	case frame := <-conn.writes:
		t.Fatalf("command sent while not Ready: %+v", frame)
	case <-time.After(50 * time.Millisecond):
	}

	conn.serve(`{"type":"auth_success"}`)
	waitForState(t, m, Ready)

	sender.SendMessage(5, "delivered", false, nil)
	select {
	case frame := <-conn.writes:
		cmd, ok := frame.(protocol.NewMessage)
		if !ok {
			t.Fatalf("unexpected frame type %T", frame)
		}
		if cmd.Content != "delivered" || cmd.ChannelID != 5 || cmd.Token == "" {
			t.Errorf("unexpected command: %+v", cmd)
		}
	case <-time.After(time.Second):
		t.Fatal("command not sent while Ready")
	}
}

func TestSender_ToggleReaction(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, nil, nil)
	sender := NewSender(m)

	m.Connect(context.Background())
	conn := dialer.latest()
	<-conn.writes // authenticate frame
	conn.serve(`{"type":"auth_success"}`)
	waitForState(t, m, Ready)

	reactions := models.ReactionSet{"👍": {Count: 1, Users: []string{"1"}}}

	sender.ToggleReaction(10, "👍", reactions, "1")
	if cmd := (<-conn.writes).(protocol.ReactionCommand); cmd.Type != protocol.CommandRemoveReaction {
		t.Errorf("expected remove_reaction for existing reactor, got %s", cmd.Type)
	}

	sender.ToggleReaction(10, "❤️", reactions, "1")
	if cmd := (<-conn.writes).(protocol.ReactionCommand); cmd.Type != protocol.CommandAddReaction {
		t.Errorf("expected add_reaction for new emoji, got %s", cmd.Type)
	}
}

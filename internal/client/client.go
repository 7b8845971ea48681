// Package client wires the session guard, REST client, connection manager
// and reconciler together and runs the single event loop that owns all
// canonical state.
//
// Concurrency model: REST calls block the calling goroutine (the
// suspension points), but every state mutation — WebSocket events and REST
// results alike — executes on the one run loop, one at a time. The
// reconciler is never entered concurrently.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sobesednik/internal/config"
	"sobesednik/internal/models"
	"sobesednik/internal/protocol"
	"sobesednik/internal/rest"
	"sobesednik/internal/session"
	"sobesednik/internal/state"
	"sobesednik/internal/view"
	"sobesednik/internal/ws"
)

// ErrLoginRequired is returned when the stored session cannot load the
// identity-critical data (channel list, roster). An unreachable backend is
// indistinguishable from an invalid session, so both redirect to login.
var ErrLoginRequired = errors.New("login required")

// typingDebounce is how long after the last keystroke the client emits
// typing_stop.
const typingDebounce = 3 * time.Second

type typingContext struct {
	Type models.ContextType
	ID   int64
}

type Client struct {
	cfg    *config.Config
	guard  *session.Guard
	api    *rest.Client
	state  *state.Reconciler
	conn   *ws.Manager
	sender *ws.Sender

	claims session.Claims

	tasks chan func()

	typingMu     sync.Mutex
	typingTimers map[typingContext]*time.Timer
}

// Options carries test seams; zero value is production wiring.
type Options struct {
	Dial ws.Dialer
}

func New(ctx context.Context, cfg *config.Config, guard *session.Guard, opts Options) (*Client, error) {
	claims, err := guard.CurrentClaims()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoginRequired, err)
	}

	c := &Client{
		cfg:          cfg,
		guard:        guard,
		api:          rest.NewClient(ctx, cfg.APIBaseURL, guard, cfg.FileURLTTL),
		state:        state.NewReconciler(ctx, claims.UserID, cfg.TypingTTL),
		claims:       claims,
		tasks:        make(chan func(), 64),
		typingTimers: make(map[typingContext]*time.Timer),
	}

	c.conn = ws.NewManager(ws.Config{
		URL:            cfg.WSURL,
		Guard:          guard,
		ReconnectDelay: cfg.ReconnectDelay,
		Dial:           opts.Dial,
		Handle:         c.handleEvent,
		OnDisconnect: func() {
			c.enqueue(func() { c.state.MarkAllOffline() })
		},
	})
	c.sender = ws.NewSender(c.conn)

	return c, nil
}

// Run drains the task queue until the context ends. Everything that
// touches canonical state goes through here.
func (c *Client) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case fn := <-c.tasks:
				fn()
			case <-gCtx.Done():
				c.conn.Close()
				return gCtx.Err()
			}
		}
	})
	return g.Wait()
}

// enqueue posts a state mutation to the run loop without waiting.
func (c *Client) enqueue(fn func()) {
	c.tasks <- fn
}

// do posts a closure to the run loop and waits for it to execute. Used for
// read access so callers observe a consistent snapshot.
func (c *Client) do(fn func()) {
	done := make(chan struct{})
	c.tasks <- func() {
		fn()
		close(done)
	}
	<-done
}

// handleEvent is invoked by the connection read loop for every parsed
// frame, in arrival order.
func (c *Client) handleEvent(ev protocol.Event) {
	switch ev.(type) {
	case *protocol.AuthSuccessEvent:
		// Fresh connection: presence degraded to offline during the gap,
		// ask the server for the real picture.
		c.sender.RequestPresence()
	case *protocol.ErrorEvent, *protocol.SettingsUpdatedEvent:
		// Connection-level frames; nothing for the reconciler.
	}
	c.enqueue(func() { c.state.Apply(ev) })
}

// Start performs the initial REST load and opens the WebSocket. Must be
// called after Run is draining tasks.
func (c *Client) Start(ctx context.Context) error {
	channels, err := c.api.Channels(ctx)
	if err != nil {
		return fmt.Errorf("%w: channel list: %v", ErrLoginRequired, err)
	}
	users, err := c.api.Users(ctx)
	if err != nil {
		return fmt.Errorf("%w: user list: %v", ErrLoginRequired, err)
	}

	c.do(func() {
		c.state.SeedChannels(channels)
		c.state.SeedUsers(users)
	})

	if len(channels) > 0 {
		if err := c.SelectChannel(ctx, channels[0].ID); err != nil {
			return err
		}
	}

	c.conn.Connect(ctx)
	return nil
}

// SelectChannel makes a channel the visible context and loads its history.
// If the user navigates again while the fetch is in flight, the stale
// result is discarded by the reconciler's context comparison.
func (c *Client) SelectChannel(ctx context.Context, channelID int64) error {
	c.do(func() { c.state.SetActiveChannel(channelID) })

	messages, err := c.api.ChannelMessages(ctx, channelID)
	if err != nil {
		if errors.Is(err, session.ErrSessionExpired) {
			return fmt.Errorf("%w: %v", ErrLoginRequired, err)
		}
		return err
	}

	c.do(func() { c.state.SeedMessages(channelID, messages) })
	return nil
}

// Search freezes a server-side search snapshot as the visible context.
// Failures surface as an error state, not a navigation.
func (c *Client) Search(ctx context.Context, query string) error {
	results, err := c.api.SearchMessages(ctx, query)
	if err != nil {
		return err
	}
	c.do(func() { c.state.EnterSearch(results) })
	return nil
}

// OpenThread opens the thread panel for a parent message, fetching replies
// when the thread is already confirmed server-side.
func (c *Client) OpenThread(ctx context.Context, parent models.Message) error {
	var thread *models.Thread
	c.do(func() { thread = c.state.OpenThread(parent) })
	if thread.Pending() {
		return nil
	}
	return c.loadThreadMessages(ctx, thread.ID)
}

// OpenMessage resolves a message click or deep link: plain channel
// messages do nothing, thread replies open their thread.
func (c *Client) OpenMessage(ctx context.Context, messageID, threadParentMessageID int64) error {
	var (
		thread *models.Thread
		opened bool
	)
	c.do(func() { thread, opened = c.state.ResolveMessageTarget(messageID, threadParentMessageID) })
	if !opened || thread.Pending() {
		return nil
	}
	return c.loadThreadMessages(ctx, thread.ID)
}

func (c *Client) loadThreadMessages(ctx context.Context, threadID int64) error {
	messages, err := c.api.ThreadMessages(ctx, threadID)
	if err != nil {
		return err
	}
	c.do(func() { c.state.SeedThreadMessages(threadID, messages) })
	return nil
}

func (c *Client) CloseThread() {
	c.do(func() { c.state.CloseThread() })
}

// SendMessage ships a message command. The message list is not touched
// until the server echoes the message back with its real id.
func (c *Client) SendMessage(channelID int64, content string, isDM bool, attachments []models.Attachment) {
	c.sender.SendMessage(channelID, content, isDM, attachments)
}

// ReplyInThread sends a reply to the open thread. A pending thread turns
// into a create_thread command carrying the first reply.
func (c *Client) ReplyInThread(content string) {
	var (
		thread models.Thread
		ok     bool
	)
	c.do(func() { thread, ok = c.state.OpenedThread() })
	if !ok {
		return
	}
	if thread.Pending() {
		c.sender.CreateThread(thread.ChannelID, thread.ParentMessageID, content)
		return
	}
	c.sender.SendThreadMessage(thread.ID, thread.ChannelID, content)
}

// NotifyTyping is called per keystroke. The first call in a context sends
// typing_start; typing_stop follows after the debounce window with no
// further keystrokes.
func (c *Client) NotifyTyping(contextType models.ContextType, contextID int64) {
	key := typingContext{Type: contextType, ID: contextID}

	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	if timer, ok := c.typingTimers[key]; ok {
		timer.Reset(typingDebounce)
		return
	}

	c.sender.TypingStart(contextType, contextID)
	c.typingTimers[key] = time.AfterFunc(typingDebounce, func() {
		c.typingMu.Lock()
		delete(c.typingTimers, key)
		c.typingMu.Unlock()
		c.sender.TypingStop(contextType, contextID)
	})
}

// Logout closes the socket and clears the stored token.
func (c *Client) Logout() error {
	c.conn.Close()
	return c.guard.Logout()
}

// Sender exposes the remaining one-shot commands (reactions, presence,
// status, productivity settings).
func (c *Client) Sender() *ws.Sender {
	return c.sender
}

// UploadFile pushes an attachment to blob storage for a later SendMessage.
func (c *Client) UploadFile(ctx context.Context, filename string, data []byte) (models.Attachment, error) {
	return c.api.UploadFile(ctx, filename, data)
}

// FileURL resolves an attachment to a download URL.
func (c *Client) FileURL(ctx context.Context, storagePath string) (string, error) {
	return c.api.FileURL(ctx, storagePath)
}

// --- projections the UI renders ---

func (c *Client) Channels() []models.Channel {
	var out []models.Channel
	c.do(func() { out = c.state.Channels() })
	return out
}

func (c *Client) Users() []models.User {
	var out []models.User
	c.do(func() { out = c.state.Users() })
	return out
}

// VisibleMessages returns what the active context shows: root-level
// channel messages, or labeled search hits while search is active.
func (c *Client) VisibleMessages() []models.Message {
	var out []models.Message
	c.do(func() {
		if c.state.SearchActive() {
			out = c.state.Messages()
			return
		}
		out = view.VisibleMessages(c.state.ActiveChannelID(), c.state.Messages())
	})
	return out
}

// SearchResults projects the frozen search snapshot with location labels.
func (c *Client) SearchResults() []view.SearchResult {
	var out []view.SearchResult
	c.do(func() {
		out = view.SearchResults(c.state.Messages(), c.state.Channels(), c.state.Users(), c.claims.UserID)
	})
	return out
}

func (c *Client) ThreadMessages() []models.Message {
	var out []models.Message
	c.do(func() { out = c.state.ThreadMessages() })
	return out
}

// TypingBanner returns the typing indicator line for a context, or "".
func (c *Client) TypingBanner(contextType models.ContextType, contextID int64) string {
	var out string
	c.do(func() {
		out = view.TypingBanner(c.state.TypingUsers(contextType, contextID))
	})
	return out
}

// ChannelDisplayName resolves what the sidebar shows for a channel.
func (c *Client) ChannelDisplayName(channel models.Channel) string {
	var out string
	c.do(func() {
		out = view.ResolveChannelDisplayName(channel, c.state.Users(), c.claims.UserID)
	})
	return out
}

// ActiveChannelID returns the currently selected channel, or -1 before
// any selection.
func (c *Client) ActiveChannelID() int64 {
	var out int64
	c.do(func() { out = c.state.ActiveChannelID() })
	return out
}

func (c *Client) ConnectionState() ws.State {
	return c.conn.State()
}

func (c *Client) CurrentUserID() int64 {
	return c.claims.UserID
}

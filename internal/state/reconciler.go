// Package state holds the canonical in-memory view of channels, users,
// messages and the open thread, and reconciles REST snapshots with live
// WebSocket events.
//
// The reconciler is single-threaded by contract: one event loop applies
// frames one at a time (see the client package), so nothing here locks.
package state

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/c-pro/geche"

	"sobesednik/internal/config"
	"sobesednik/internal/models"
	"sobesednik/internal/protocol"
)

// typingKey scopes one user's typing flag to a channel or thread.
type typingKey struct {
	UserID    int64
	Context   models.ContextType
	ContextID int64
}

type Reconciler struct {
	currentUserID int64

	channels []models.Channel
	users    map[int64]*models.User
	roster   []int64 // insertion order of users

	// Message history is held for the active channel only; events for
	// other channels are dropped and repaired by the refetch on selection.
	activeChannelID int64
	messages        []models.Message

	// Search results are a frozen snapshot. While search is active no live
	// message event reaches the visible list.
	searchActive  bool
	searchResults []models.Message

	openThread     *models.Thread
	threadMessages []models.Message

	// Reply ids already counted against their parent, so a redelivered
	// thread_message never bumps the counter twice, open panel or not.
	seenReplies map[int64]struct{}

	// Typing flags live in a TTL cache rather than on the user records: a
	// sender that disconnects abruptly never sends typing_stop, so flags
	// expire locally instead of sticking forever.
	typing geche.Geche[typingKey, bool]
}

func NewReconciler(ctx context.Context, currentUserID int64, typingTTL time.Duration) *Reconciler {
	cleanup := time.Second
	if typingTTL < cleanup {
		cleanup = typingTTL
	}
	return &Reconciler{
		currentUserID:   currentUserID,
		users:           make(map[int64]*models.User),
		seenReplies:     make(map[int64]struct{}),
		activeChannelID: -1,
		typing:          geche.NewMapTTLCache[typingKey, bool](ctx, typingTTL, cleanup),
	}
}

// --- REST snapshot seeding ---

func (r *Reconciler) SeedChannels(channels []models.Channel) {
	r.channels = slices.Clone(channels)
}

// SeedUsers replaces the roster from a REST fetch.
func (r *Reconciler) SeedUsers(users []models.User) {
	r.users = make(map[int64]*models.User, len(users))
	r.roster = r.roster[:0]
	for i := range users {
		u := users[i]
		r.users[u.ID] = &u
		r.roster = append(r.roster, u.ID)
	}
}

// SeedMessages installs a channel's fetched history. A fetch that resolves
// after the user has moved on is discarded: there is no request
// cancellation, only this comparison against the current context.
func (r *Reconciler) SeedMessages(channelID int64, messages []models.Message) {
	if channelID != r.activeChannelID {
		slog.Debug("discarding stale message fetch", "channel_id", channelID, "active", r.activeChannelID)
		return
	}
	r.messages = slices.Clone(messages)
}

// SeedThreadMessages installs a thread's fetched replies, excluding the
// parent message and ordering by creation time. Stale fetches (the open
// thread changed while the request was in flight) are discarded.
func (r *Reconciler) SeedThreadMessages(threadID int64, messages []models.Message) {
	if r.openThread == nil || r.openThread.ID != threadID {
		slog.Debug("discarding stale thread fetch", "thread_id", threadID)
		return
	}
	replies := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID == r.openThread.ParentMessageID {
			continue
		}
		// Fetched replies are already inside the server's reply count; a
		// later event redelivering one must not bump it.
		r.seenReplies[m.ID] = struct{}{}
		replies = append(replies, m)
	}
	sortByCreatedAt(replies)
	r.threadMessages = replies
}

// --- context switching ---

// SetActiveChannel switches the visible context to a channel and clears
// whatever history the previous context held.
func (r *Reconciler) SetActiveChannel(channelID int64) {
	r.activeChannelID = channelID
	r.messages = nil
	r.searchActive = false
	r.searchResults = nil
}

// EnterSearch freezes a search result snapshot as the visible context.
func (r *Reconciler) EnterSearch(results []models.Message) {
	r.searchActive = true
	r.searchResults = slices.Clone(results)
}

// LeaveSearch drops the snapshot; the caller re-selects a channel next.
func (r *Reconciler) LeaveSearch() {
	r.searchActive = false
	r.searchResults = nil
}

// --- thread lifecycle ---

// OpenThread opens the thread panel for a parent message. If the message
// has no confirmed thread yet, a pending placeholder is synthesized from
// the parent's own fields so the panel can open before the server answers.
func (r *Reconciler) OpenThread(parent models.Message) *models.Thread {
	if parent.Thread != nil {
		t := *parent.Thread
		r.openThread = &t
	} else {
		r.openThread = &models.Thread{
			ID:                   models.PendingThreadID,
			ChannelID:            parent.ChannelID,
			ParentMessageID:      parent.ID,
			CreatedAt:            parent.CreatedAt,
			ThreadStarterContent: parent.Content,
			ThreadStarterName:    parent.DisplayName,
			ThreadStarterID:      parent.UserID,
		}
	}
	r.threadMessages = nil
	return r.openThread
}

// CloseThread closes the thread panel.
func (r *Reconciler) CloseThread() {
	r.openThread = nil
	r.threadMessages = nil
}

// ResolveMessageTarget resolves a message click or deep link. When the
// target is a thread reply that is absent from the channel history, the
// thread is opened from the parent message instead; otherwise the message
// is a plain channel message and no thread opens.
func (r *Reconciler) ResolveMessageTarget(messageID, threadParentMessageID int64) (*models.Thread, bool) {
	if threadParentMessageID == 0 {
		return nil, false
	}
	for _, m := range r.messages {
		if m.ID == messageID && m.ThreadID == 0 {
			return nil, false
		}
	}
	parent, ok := r.findMessage(threadParentMessageID)
	if !ok {
		return nil, false
	}
	return r.OpenThread(*parent), true
}

// --- event application ---

// Apply merges one inbound event into canonical state. Events the
// reconciler does not own (auth_success, error, settings_updated) are
// ignored here; the connection layer reacts to those.
func (r *Reconciler) Apply(ev protocol.Event) {
	switch e := ev.(type) {
	case *protocol.NewMessageEvent:
		r.applyNewMessage(e.Message)
	case *protocol.MessageUpdatedEvent:
		r.applyMessageUpdated(e.Message)
	case *protocol.ThreadCreatedEvent:
		r.applyThreadCreated(e.Thread)
	case *protocol.ThreadMessageEvent:
		r.applyThreadMessage(e.Thread, e.Message)
	case *protocol.ReactionUpdateEvent:
		r.applyReactionUpdate(e.MessageID, e.Reactions)
	case *protocol.PresenceUpdateEvent:
		r.patchPresence(e.UserID, e.Status, e.CustomStatus)
	case *protocol.PresenceListEvent:
		r.applyPresenceBatch(e.Presences)
	case *protocol.BulkPresenceUpdateEvent:
		r.applyPresenceBatch(e.PresenceData)
	case *protocol.CustomStatusUpdateEvent:
		if u, ok := r.users[e.UserID]; ok {
			u.CustomStatus = e.StatusMessage
		}
	case *protocol.TypingUpdateEvent:
		r.applyTypingUpdate(e)
	case *protocol.TypingStatusEvent:
		r.applyTypingStatus(e)
	case *protocol.UserUpdateEvent:
		r.SeedUsers(e.Users)
	case *protocol.UserJoinedEvent:
		r.applyUserJoined(e.User)
	}
}

func (r *Reconciler) applyNewMessage(msg models.Message) {
	// Search results are frozen; live traffic never reaches them.
	if r.searchActive {
		return
	}
	if msg.ChannelID != r.activeChannelID {
		return
	}
	// Reconnects and local echoes can deliver the same message twice.
	for _, m := range r.messages {
		if m.ID == msg.ID {
			return
		}
	}
	r.messages = append(r.messages, msg)
}

func (r *Reconciler) applyMessageUpdated(msg models.Message) {
	for i := range r.messages {
		if r.messages[i].ID == msg.ID {
			r.messages[i] = msg
			break
		}
	}
	for i := range r.threadMessages {
		if r.threadMessages[i].ID == msg.ID {
			r.threadMessages[i] = msg
			break
		}
	}
}

func (r *Reconciler) applyThreadCreated(thread models.Thread) {
	// create_thread carries the first reply, so a wire thread arriving with
	// a zero count is seeded before anything stores a copy of it.
	if thread.ReplyCount == 0 {
		thread.ReplyCount = config.ThreadReplyCountSeed
	}

	// A pending panel for the same parent is patched in place, keeping any
	// replies accumulated against the placeholder.
	if r.openThread != nil && r.openThread.Pending() &&
		r.openThread.ParentMessageID == thread.ParentMessageID {
		*r.openThread = thread
	}

	if parent, ok := r.findMessage(thread.ParentMessageID); ok {
		t := thread
		parent.IsThreadParent = true
		parent.Thread = &t
	}
}

func (r *Reconciler) applyThreadMessage(thread models.Thread, msg models.Message) {
	// Duplicate delivery of a reply is a full no-op: neither the list nor
	// the reply counter moves twice, whether or not the panel is open.
	if _, seen := r.seenReplies[msg.ID]; seen {
		return
	}
	r.seenReplies[msg.ID] = struct{}{}

	if parent, ok := r.findMessage(thread.ParentMessageID); ok {
		if parent.Thread == nil {
			t := thread
			parent.IsThreadParent = true
			parent.Thread = &t
		} else {
			parent.Thread.ReplyCount++
			parent.Thread.LastReplyAt = thread.LastReplyAt
		}
	}

	if r.openThread == nil || msg.ThreadID != r.openThread.ID {
		return
	}
	if msg.ID == r.openThread.ParentMessageID {
		return
	}
	r.threadMessages = append(r.threadMessages, msg)
	sortByCreatedAt(r.threadMessages)
	r.openThread.LastReplyAt = msg.CreatedAt
}

// applyReactionUpdate replaces the whole reaction set of one message.
// Last write wins at message granularity; there is no per-emoji merge.
func (r *Reconciler) applyReactionUpdate(messageID int64, reactions models.ReactionSet) {
	for i := range r.messages {
		if r.messages[i].ID == messageID {
			r.messages[i].Reactions = reactions
		}
	}
	for i := range r.threadMessages {
		if r.threadMessages[i].ID == messageID {
			r.threadMessages[i].Reactions = reactions
		}
	}
}

func (r *Reconciler) patchPresence(userID int64, status models.PresenceStatus, customStatus string) {
	u, ok := r.users[userID]
	if !ok {
		// Orphan update for an unseen user; the next roster sync repairs it.
		return
	}
	u.PresenceStatus = status
	if customStatus != "" {
		u.CustomStatus = customStatus
	}
}

func (r *Reconciler) applyPresenceBatch(entries []protocol.PresenceEntry) {
	for _, e := range entries {
		r.patchPresence(e.UserID, e.Status, e.CustomStatus)
	}
}

func (r *Reconciler) applyUserJoined(user models.User) {
	if _, ok := r.users[user.ID]; ok {
		return
	}
	u := user
	r.users[u.ID] = &u
	r.roster = append(r.roster, u.ID)
}

func (r *Reconciler) applyTypingUpdate(e *protocol.TypingUpdateEvent) {
	key := typingKey{UserID: e.UserID, Context: e.ContextType, ContextID: e.ContextID()}
	if e.IsTyping {
		r.typing.Set(key, true)
	} else {
		_ = r.typing.Del(key)
	}
}

// applyTypingStatus replaces the typing flag for one context across all
// known users based on membership in the event's id list.
func (r *Reconciler) applyTypingStatus(e *protocol.TypingStatusEvent) {
	listed := make(map[int64]bool, len(e.Users))
	for _, id := range e.Users {
		listed[id] = true
	}
	for id := range r.users {
		key := typingKey{UserID: id, Context: e.ContextType, ContextID: e.ContextID}
		if listed[id] {
			r.typing.Set(key, true)
		} else {
			_ = r.typing.Del(key)
		}
	}
}

// MarkAllOffline degrades every user to offline after a transport drop. The
// next presence_list or bulk_presence_update corrects it.
func (r *Reconciler) MarkAllOffline() {
	for _, u := range r.users {
		u.PresenceStatus = models.PresenceOffline
	}
}

// --- read access (copies only; callers never mutate canonical state) ---

func (r *Reconciler) Channels() []models.Channel {
	return slices.Clone(r.channels)
}

func (r *Reconciler) Users() []models.User {
	out := make([]models.User, 0, len(r.roster))
	for _, id := range r.roster {
		if u, ok := r.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out
}

func (r *Reconciler) User(id int64) (models.User, bool) {
	u, ok := r.users[id]
	if !ok {
		return models.User{}, false
	}
	return *u, true
}

func (r *Reconciler) ActiveChannelID() int64 {
	return r.activeChannelID
}

func (r *Reconciler) SearchActive() bool {
	return r.searchActive
}

// Messages returns the active channel's message list, or the frozen search
// snapshot while search is active.
func (r *Reconciler) Messages() []models.Message {
	if r.searchActive {
		return slices.Clone(r.searchResults)
	}
	return slices.Clone(r.messages)
}

func (r *Reconciler) OpenedThread() (models.Thread, bool) {
	if r.openThread == nil {
		return models.Thread{}, false
	}
	return *r.openThread, true
}

func (r *Reconciler) ThreadMessages() []models.Message {
	return slices.Clone(r.threadMessages)
}

// TypingUsers lists users currently typing in the given context, excluding
// the current user. Flags expire on the cache TTL if never cleared.
func (r *Reconciler) TypingUsers(contextType models.ContextType, contextID int64) []models.User {
	var out []models.User
	for _, id := range r.roster {
		if id == r.currentUserID {
			continue
		}
		key := typingKey{UserID: id, Context: contextType, ContextID: contextID}
		if typing, err := r.typing.Get(key); err == nil && typing {
			if u, ok := r.users[id]; ok {
				out = append(out, *u)
			}
		}
	}
	return out
}

// --- helpers ---

func (r *Reconciler) findMessage(id int64) (*models.Message, bool) {
	for i := range r.messages {
		if r.messages[i].ID == id {
			return &r.messages[i], true
		}
	}
	return nil, false
}

func sortByCreatedAt(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return createdAt(messages[i]).Before(createdAt(messages[j]))
	})
}

func createdAt(m models.Message) time.Time {
	t, err := time.Parse(time.RFC3339, m.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

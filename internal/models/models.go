package models

// PendingThreadID marks a thread panel that was opened locally before the
// server assigned a real thread id. It is patched in place once the
// thread_created event for the same parent message arrives.
const PendingThreadID = -1

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceIdle    PresenceStatus = "idle"
	PresenceOffline PresenceStatus = "offline"
)

// User represents a member of the workspace roster.
type User struct {
	ID             int64          `json:"id"`
	DisplayName    string         `json:"display_name"`
	Email          string         `json:"email"`
	PresenceStatus PresenceStatus `json:"presence_status"`
	CustomStatus   string         `json:"custom_status,omitempty"`
}

// Channel represents a chat channel. Identity is ID; only the membership of
// a DM ever changes server-side, so a channel record is treated as
// immutable once seen.
type Channel struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	IsDM           bool    `json:"is_dm"`
	DMParticipants []int64 `json:"dm_participants"`
}

// Reaction is the per-emoji tally on a message. The wire format keys a map
// by the emoji itself, so the emoji is not repeated inside the value.
type Reaction struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// ReactionSet maps emoji -> tally. reaction_update events replace the whole
// set for one message; there is no per-emoji merge.
type ReactionSet map[string]Reaction

type Attachment struct {
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type"`
	Size        int64  `json:"size"`
	StoragePath string `json:"storage_path"`
}

// Message represents a chat message. A message is either a root channel
// message, a thread parent (IsThreadParent) or a thread reply (ThreadID
// set), never ambiguous.
type Message struct {
	ID                    int64        `json:"id"`
	ChannelID             int64        `json:"channel_id"`
	UserID                int64        `json:"user_id"`
	Content               string       `json:"content"`
	CreatedAt             string       `json:"created_at"`
	DisplayName           string       `json:"display_name"`
	ThreadID              int64        `json:"thread_id,omitempty"`
	ThreadParentMessageID int64        `json:"thread_parent_message_id,omitempty"`
	IsThreadParent        bool         `json:"is_thread_parent,omitempty"`
	IsAIGenerated         bool         `json:"is_ai_generated,omitempty"`
	Reactions             ReactionSet  `json:"reactions,omitempty"`
	Attachments           []Attachment `json:"attachments,omitempty"`
	Thread                *Thread      `json:"thread,omitempty"`
}

// Thread represents a reply thread hanging off a parent message.
type Thread struct {
	ID                   int64  `json:"id"`
	ChannelID            int64  `json:"channel_id"`
	ParentMessageID      int64  `json:"parent_message_id"`
	CreatedAt            string `json:"created_at"`
	LastReplyAt          string `json:"last_reply_at"`
	ThreadStarterContent string `json:"thread_starter_content"`
	ThreadStarterName    string `json:"thread_starter_name"`
	ThreadStarterID      int64  `json:"thread_starter_id"`
	ReplyCount           int    `json:"reply_count"`
}

// Pending reports whether the thread is a client-side placeholder that the
// server has not confirmed yet.
func (t *Thread) Pending() bool {
	return t.ID == PendingThreadID
}

// ContextType scopes a typing flag to either a channel or a thread.
type ContextType string

const (
	ContextChannel ContextType = "channel"
	ContextThread  ContextType = "thread"
)

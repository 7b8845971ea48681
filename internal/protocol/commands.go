// Package protocol defines the JSON frames exchanged with the chat server.
// Every frame, inbound or outbound, carries a "type" discriminator. Outbound
// frames additionally carry the auth token: the protocol re-authenticates
// every command rather than relying on connection-level identity.
package protocol

import "sobesednik/internal/models"

type CommandType string

const (
	CommandAuthenticate       CommandType = "authenticate"
	CommandNewMessage         CommandType = "new_message"
	CommandAddReaction        CommandType = "add_reaction"
	CommandRemoveReaction     CommandType = "remove_reaction"
	CommandUpdateReaction     CommandType = "update_reaction"
	CommandCreateThread       CommandType = "create_thread"
	CommandThreadMessage      CommandType = "thread_message"
	CommandTypingStart        CommandType = "typing_start"
	CommandTypingStop         CommandType = "typing_stop"
	CommandGetPresence        CommandType = "get_presence"
	CommandUpdateStatus       CommandType = "update_status"
	CommandSetCustomStatus    CommandType = "set_custom_status"
	CommandUpdateProductivity CommandType = "update_productivity_settings"
)

type Authenticate struct {
	Type  CommandType `json:"type"`
	Token string      `json:"token"`
}

type NewMessage struct {
	Type        CommandType         `json:"type"`
	ChannelID   int64               `json:"channelId"`
	Content     string              `json:"content"`
	IsDM        bool                `json:"isDM"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	Token       string              `json:"token"`
}

// ReactionCommand covers add_reaction, remove_reaction and update_reaction,
// which share a payload and differ only in Type.
type ReactionCommand struct {
	Type      CommandType `json:"type"`
	MessageID int64       `json:"messageId"`
	Emoji     string      `json:"emoji"`
	Token     string      `json:"token"`
}

type CreateThread struct {
	Type      CommandType `json:"type"`
	ChannelID int64       `json:"channelId"`
	MessageID int64       `json:"messageId"`
	Content   string      `json:"content"`
	Token     string      `json:"token"`
}

type ThreadMessage struct {
	Type      CommandType `json:"type"`
	ThreadID  int64       `json:"threadId"`
	ChannelID int64       `json:"channelId"`
	Content   string      `json:"content"`
	Token     string      `json:"token"`
}

// TypingCommand carries either ChannelID or ThreadID depending on
// ContextType; the unused one is omitted from the wire.
type TypingCommand struct {
	Type        CommandType        `json:"type"`
	ChannelID   int64              `json:"channelId,omitempty"`
	ThreadID    int64              `json:"threadId,omitempty"`
	ContextType models.ContextType `json:"contextType"`
	Token       string             `json:"token"`
}

type GetPresence struct {
	Type  CommandType `json:"type"`
	Token string      `json:"token"`
}

type UpdateStatus struct {
	Type   CommandType           `json:"type"`
	Status models.PresenceStatus `json:"status"`
	Token  string                `json:"token"`
}

type SetCustomStatus struct {
	Type         CommandType `json:"type"`
	CustomStatus string      `json:"customStatus"`
	Token        string      `json:"token"`
}

// UpdateProductivitySettings forwards an opaque settings object; the client
// does not interpret it beyond round-tripping JSON.
type UpdateProductivitySettings struct {
	Type     CommandType    `json:"type"`
	Settings map[string]any `json:"settings"`
	Token    string         `json:"token"`
}

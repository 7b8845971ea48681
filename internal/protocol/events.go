package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"sobesednik/internal/models"
)

type EventType string

const (
	EventAuthSuccess        EventType = "auth_success"
	EventError              EventType = "error"
	EventNewMessage         EventType = "new_message"
	EventMessageUpdated     EventType = "message_updated"
	EventThreadCreated      EventType = "thread_created"
	EventThreadMessage      EventType = "thread_message"
	EventReactionUpdate     EventType = "reaction_update"
	EventPresenceUpdate     EventType = "presence_update"
	EventPresenceList       EventType = "presence_list"
	EventBulkPresenceUpdate EventType = "bulk_presence_update"
	EventCustomStatusUpdate EventType = "custom_status_update"
	EventTypingUpdate       EventType = "typing_update"
	EventTypingStatus       EventType = "typing_status"
	EventUserUpdate         EventType = "user_update"
	EventUserJoined         EventType = "user_joined"
	EventSettingsUpdated    EventType = "settings_updated"
)

var (
	ErrUnknownFrame   = errors.New("unknown frame type")
	ErrMalformedFrame = errors.New("malformed frame")
)

// tokenExpiredMessage is the server's error payload for a rejected token.
const tokenExpiredMessage = "TokenExpiredError"

// Event is one parsed inbound frame. Concrete types carry the payload.
type Event interface {
	EventType() EventType
}

type AuthSuccessEvent struct{}

func (AuthSuccessEvent) EventType() EventType { return EventAuthSuccess }

type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventType() EventType { return EventError }

// TokenExpired reports whether the server rejected the session token. The
// connection must not be retried until a fresh token is stored.
func (e ErrorEvent) TokenExpired() bool { return e.Message == tokenExpiredMessage }

type NewMessageEvent struct {
	Message models.Message `json:"message"`
}

func (NewMessageEvent) EventType() EventType { return EventNewMessage }

type MessageUpdatedEvent struct {
	Message models.Message `json:"message"`
}

func (MessageUpdatedEvent) EventType() EventType { return EventMessageUpdated }

type ThreadCreatedEvent struct {
	Thread models.Thread `json:"thread"`
}

func (ThreadCreatedEvent) EventType() EventType { return EventThreadCreated }

type ThreadMessageEvent struct {
	Thread  models.Thread  `json:"thread"`
	Message models.Message `json:"message"`
}

func (ThreadMessageEvent) EventType() EventType { return EventThreadMessage }

type ReactionUpdateEvent struct {
	MessageID int64              `json:"messageId"`
	Reactions models.ReactionSet `json:"reactions"`
}

func (ReactionUpdateEvent) EventType() EventType { return EventReactionUpdate }

type PresenceUpdateEvent struct {
	UserID       int64                 `json:"userId"`
	Status       models.PresenceStatus `json:"status"`
	CustomStatus string                `json:"customStatus"`
}

func (PresenceUpdateEvent) EventType() EventType { return EventPresenceUpdate }

// PresenceEntry is one user's presence inside a presence_list or
// bulk_presence_update batch.
type PresenceEntry struct {
	UserID       int64                 `json:"userId"`
	Status       models.PresenceStatus `json:"status"`
	CustomStatus string                `json:"customStatus"`
}

type PresenceListEvent struct {
	Presences []PresenceEntry `json:"presences"`
}

func (PresenceListEvent) EventType() EventType { return EventPresenceList }

type BulkPresenceUpdateEvent struct {
	PresenceData []PresenceEntry `json:"presenceData"`
}

func (BulkPresenceUpdateEvent) EventType() EventType { return EventBulkPresenceUpdate }

type CustomStatusUpdateEvent struct {
	UserID        int64  `json:"userId"`
	StatusMessage string `json:"statusMessage"`
}

func (CustomStatusUpdateEvent) EventType() EventType { return EventCustomStatusUpdate }

type TypingUpdateEvent struct {
	UserID      int64              `json:"userId"`
	ChannelID   int64              `json:"channelId"`
	ThreadID    int64              `json:"threadId"`
	ContextType models.ContextType `json:"contextType"`
	IsTyping    bool               `json:"isTyping"`
}

func (TypingUpdateEvent) EventType() EventType { return EventTypingUpdate }

// ContextID returns the channel or thread id the flag applies to.
func (e TypingUpdateEvent) ContextID() int64 {
	if e.ContextType == models.ContextThread {
		return e.ThreadID
	}
	return e.ChannelID
}

// TypingStatusEvent replaces the typing flag for one context across all
// users: users listed are typing, everyone else is not.
type TypingStatusEvent struct {
	ContextID   int64              `json:"context_id"`
	ContextType models.ContextType `json:"context_type"`
	Users       []int64            `json:"users"`
}

func (TypingStatusEvent) EventType() EventType { return EventTypingStatus }

type UserUpdateEvent struct {
	Users []models.User `json:"users"`
}

func (UserUpdateEvent) EventType() EventType { return EventUserUpdate }

type UserJoinedEvent struct {
	User models.User `json:"user"`
}

func (UserJoinedEvent) EventType() EventType { return EventUserJoined }

type SettingsUpdatedEvent struct {
	Success  bool           `json:"success"`
	Settings map[string]any `json:"settings"`
}

func (SettingsUpdatedEvent) EventType() EventType { return EventSettingsUpdated }

// ParseEvent decodes one inbound frame. Unknown types return
// ErrUnknownFrame, bad JSON returns ErrMalformedFrame; callers log both and
// drop the frame rather than failing the pipeline.
func ParseEvent(raw []byte) (Event, error) {
	var envelope struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	decode := func(v Event) (Event, error) {
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, envelope.Type, err)
		}
		return v, nil
	}

	switch envelope.Type {
	case EventAuthSuccess:
		return &AuthSuccessEvent{}, nil
	case EventError:
		return decode(&ErrorEvent{})
	case EventNewMessage:
		return decode(&NewMessageEvent{})
	case EventMessageUpdated:
		return decode(&MessageUpdatedEvent{})
	case EventThreadCreated:
		return decode(&ThreadCreatedEvent{})
	case EventThreadMessage:
		return decode(&ThreadMessageEvent{})
	case EventReactionUpdate:
		return decode(&ReactionUpdateEvent{})
	case EventPresenceUpdate:
		return decode(&PresenceUpdateEvent{})
	case EventPresenceList:
		return decode(&PresenceListEvent{})
	case EventBulkPresenceUpdate:
		return decode(&BulkPresenceUpdateEvent{})
	case EventCustomStatusUpdate:
		return decode(&CustomStatusUpdateEvent{})
	case EventTypingUpdate:
		return decode(&TypingUpdateEvent{})
	case EventTypingStatus:
		return decode(&TypingStatusEvent{})
	case EventUserUpdate:
		return decode(&UserUpdateEvent{})
	case EventUserJoined:
		return decode(&UserJoinedEvent{})
	case EventSettingsUpdated:
		return decode(&SettingsUpdatedEvent{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, envelope.Type)
	}
}

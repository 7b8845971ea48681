package ws

import (
	"log/slog"
	"slices"

	"sobesednik/internal/models"
	"sobesednik/internal/protocol"
)

// Sender builds and sends outbound command frames. Every frame carries the
// token: the protocol re-authenticates each command rather than relying on
// connection identity.
//
// A command issued while the connection is not Ready is dropped, not
// queued. This mirrors the server contract; senders that need delivery
// must wait for the echo event.
type Sender struct {
	manager *Manager
}

func NewSender(manager *Manager) *Sender {
	return &Sender{manager: manager}
}

// send performs the Ready check and the write. The token is resolved at
// send time so an expired session fails fast instead of shipping a dead
// token.
func (s *Sender) send(build func(token string) any) {
	if s.manager.State() != Ready {
		slog.Debug("dropping command: connection not ready", "state", s.manager.State().String())
		return
	}
	token, err := s.manager.guard.CurrentToken()
	if err != nil {
		slog.Debug("dropping command: no valid session")
		return
	}
	if err := s.manager.writeJSON(build(token)); err != nil {
		slog.Warn("command send failed", "error", err)
	}
}

func (s *Sender) SendMessage(channelID int64, content string, isDM bool, attachments []models.Attachment) {
	s.send(func(token string) any {
		return protocol.NewMessage{
			Type:        protocol.CommandNewMessage,
			ChannelID:   channelID,
			Content:     content,
			IsDM:        isDM,
			Attachments: attachments,
			Token:       token,
		}
	})
}

func (s *Sender) AddReaction(messageID int64, emoji string) {
	s.sendReaction(protocol.CommandAddReaction, messageID, emoji)
}

func (s *Sender) RemoveReaction(messageID int64, emoji string) {
	s.sendReaction(protocol.CommandRemoveReaction, messageID, emoji)
}

func (s *Sender) UpdateReaction(messageID int64, emoji string) {
	s.sendReaction(protocol.CommandUpdateReaction, messageID, emoji)
}

// ToggleReaction adds or removes the current user's reaction depending on
// whether they are already in the emoji's user list.
func (s *Sender) ToggleReaction(messageID int64, emoji string, reactions models.ReactionSet, currentUser string) {
	if r, ok := reactions[emoji]; ok && slices.Contains(r.Users, currentUser) {
		s.RemoveReaction(messageID, emoji)
		return
	}
	s.AddReaction(messageID, emoji)
}

func (s *Sender) sendReaction(kind protocol.CommandType, messageID int64, emoji string) {
	s.send(func(token string) any {
		return protocol.ReactionCommand{
			Type:      kind,
			MessageID: messageID,
			Emoji:     emoji,
			Token:     token,
		}
	})
}

// CreateThread starts a thread under a parent message, carrying the first
// reply's content.
func (s *Sender) CreateThread(channelID, parentMessageID int64, content string) {
	s.send(func(token string) any {
		return protocol.CreateThread{
			Type:      protocol.CommandCreateThread,
			ChannelID: channelID,
			MessageID: parentMessageID,
			Content:   content,
			Token:     token,
		}
	})
}

func (s *Sender) SendThreadMessage(threadID, channelID int64, content string) {
	s.send(func(token string) any {
		return protocol.ThreadMessage{
			Type:      protocol.CommandThreadMessage,
			ThreadID:  threadID,
			ChannelID: channelID,
			Content:   content,
			Token:     token,
		}
	})
}

func (s *Sender) TypingStart(contextType models.ContextType, contextID int64) {
	s.sendTyping(protocol.CommandTypingStart, contextType, contextID)
}

func (s *Sender) TypingStop(contextType models.ContextType, contextID int64) {
	s.sendTyping(protocol.CommandTypingStop, contextType, contextID)
}

func (s *Sender) sendTyping(kind protocol.CommandType, contextType models.ContextType, contextID int64) {
	s.send(func(token string) any {
		cmd := protocol.TypingCommand{
			Type:        kind,
			ContextType: contextType,
			Token:       token,
		}
		if contextType == models.ContextThread {
			cmd.ThreadID = contextID
		} else {
			cmd.ChannelID = contextID
		}
		return cmd
	})
}

func (s *Sender) RequestPresence() {
	s.send(func(token string) any {
		return protocol.GetPresence{
			Type:  protocol.CommandGetPresence,
			Token: token,
		}
	})
}

func (s *Sender) UpdateStatus(status models.PresenceStatus) {
	s.send(func(token string) any {
		return protocol.UpdateStatus{
			Type:   protocol.CommandUpdateStatus,
			Status: status,
			Token:  token,
		}
	})
}

func (s *Sender) SetCustomStatus(customStatus string) {
	s.send(func(token string) any {
		return protocol.SetCustomStatus{
			Type:         protocol.CommandSetCustomStatus,
			CustomStatus: customStatus,
			Token:        token,
		}
	})
}

func (s *Sender) UpdateProductivitySettings(settings map[string]any) {
	s.send(func(token string) any {
		return protocol.UpdateProductivitySettings{
			Type:     protocol.CommandUpdateProductivity,
			Settings: settings,
			Token:    token,
		}
	})
}

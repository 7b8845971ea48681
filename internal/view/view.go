// Package view derives screen-ready sequences from canonical state. Every
// function is pure: same state in, same sequence out, nothing mutated.
package view

import (
	"fmt"
	"strings"

	"sobesednik/internal/content"
	"sobesednik/internal/models"
)

// MessageBody renders a message's content from markdown to sanitized HTML,
// ready for a display surface.
func MessageBody(m models.Message) string {
	return strings.TrimSpace(content.RenderMessage(m.Content))
}

// SenderName returns a message's author name with any markup stripped;
// display names are server-provided and untrusted.
func SenderName(m models.Message) string {
	return content.Sanitize(m.DisplayName)
}

// VisibleMessages filters a channel's history to root-level messages:
// thread replies only show inside their thread panel.
func VisibleMessages(channelID int64, messages []models.Message) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if m.ChannelID != channelID {
			continue
		}
		if m.ThreadID != 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SearchResult is one search hit plus the location label the results list
// renders next to it.
type SearchResult struct {
	Message models.Message
	Label   string
}

// SearchResults projects a frozen search snapshot, unfiltered, with an
// "in #channel" or "in thread" label per hit.
func SearchResults(messages []models.Message, channels []models.Channel, users []models.User, currentUserID int64) []SearchResult {
	byID := make(map[int64]models.Channel, len(channels))
	for _, c := range channels {
		byID[c.ID] = c
	}

	out := make([]SearchResult, 0, len(messages))
	for _, m := range messages {
		label := "in thread"
		if m.ThreadID == 0 {
			name := fmt.Sprintf("#%d", m.ChannelID)
			if c, ok := byID[m.ChannelID]; ok {
				name = "#" + ResolveChannelDisplayName(c, users, currentUserID)
			}
			label = "in " + name
		}
		out = append(out, SearchResult{Message: m, Label: label})
	}
	return out
}

// TypingBanner formats the "X is typing..." line for the given typing
// users. Returns "" when nobody is typing.
func TypingBanner(typingUsers []models.User) string {
	names := make([]string, 0, len(typingUsers))
	for _, u := range typingUsers {
		names = append(names, displayName(u))
	}

	switch len(names) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing...", names[0])
	case 2:
		return fmt.Sprintf("%s and %s are typing...", names[0], names[1])
	case 3:
		return fmt.Sprintf("%s, %s, and %s are typing...", names[0], names[1], names[2])
	default:
		return fmt.Sprintf("%s, %s, and %d others are typing...", names[0], names[1], len(names)-2)
	}
}

// ResolveChannelDisplayName returns what the channel list shows. DMs are
// named after the other participant; a participant missing from the roster
// renders as "Unknown User".
func ResolveChannelDisplayName(channel models.Channel, users []models.User, currentUserID int64) string {
	if !channel.IsDM {
		return channel.Name
	}

	for _, participantID := range channel.DMParticipants {
		if participantID == currentUserID {
			continue
		}
		for _, u := range users {
			if u.ID == participantID {
				return displayName(u)
			}
		}
	}
	return "Unknown User"
}

func displayName(u models.User) string {
	if u.DisplayName != "" {
		return content.Sanitize(u.DisplayName)
	}
	return content.Sanitize(u.Email)
}

package protocol

import (
	"errors"
	"testing"

	"sobesednik/internal/models"
)

func TestParseEvent_NewMessage(t *testing.T) {
	raw := []byte(`{"type":"new_message","message":{"id":10,"channel_id":5,"user_id":2,"content":"hi","created_at":"2024-01-01T00:00:00Z","display_name":"ann"}}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}

	e, ok := ev.(*NewMessageEvent)
	if !ok {
		t.Fatalf("expected *NewMessageEvent, got %T", ev)
	}
	if e.Message.ID != 10 || e.Message.ChannelID != 5 || e.Message.Content != "hi" {
		t.Errorf("unexpected message: %+v", e.Message)
	}
}

func TestParseEvent_ReactionUpdate(t *testing.T) {
	raw := []byte(`{"type":"reaction_update","messageId":10,"reactions":{"👍":{"count":2,"users":["1","2"]}}}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}

	e := ev.(*ReactionUpdateEvent)
	if e.MessageID != 10 {
		t.Errorf("messageId = %d", e.MessageID)
	}
	if r, ok := e.Reactions["👍"]; !ok || r.Count != 2 {
		t.Errorf("reactions = %+v", e.Reactions)
	}
}

func TestParseEvent_TypingUpdateContextID(t *testing.T) {
	raw := []byte(`{"type":"typing_update","userId":2,"threadId":7,"contextType":"thread","isTyping":true}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}

	e := ev.(*TypingUpdateEvent)
	if e.ContextID() != 7 {
		t.Errorf("ContextID() = %d, want thread id 7", e.ContextID())
	}
	if e.ContextType != models.ContextThread {
		t.Errorf("contextType = %q", e.ContextType)
	}
}

func TestParseEvent_TypingStatusSnakeCase(t *testing.T) {
	raw := []byte(`{"type":"typing_status","context_id":5,"context_type":"channel","users":[2,3]}`)

	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}

	e := ev.(*TypingStatusEvent)
	if e.ContextID != 5 || len(e.Users) != 2 {
		t.Errorf("unexpected typing_status: %+v", e)
	}
}

func TestParseEvent_TokenExpired(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"error","message":"TokenExpiredError"}`))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}

	e := ev.(*ErrorEvent)
	if !e.TokenExpired() {
		t.Error("expected TokenExpired() for TokenExpiredError message")
	}

	ev, err = ParseEvent([]byte(`{"type":"error","message":"something else"}`))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if ev.(*ErrorEvent).TokenExpired() {
		t.Error("generic error mistaken for token expiry")
	}
}

func TestParseEvent_UnknownType(t *testing.T) {
	_, err := ParseEvent([]byte(`{"type":"flying_saucer"}`))
	if !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("expected ErrUnknownFrame, got %v", err)
	}
}

func TestParseEvent_MalformedJSON(t *testing.T) {
	_, err := ParseEvent([]byte(`{"type":`))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestParseEvent_AuthSuccess(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"auth_success"}`))
	if err != nil {
		t.Fatalf("ParseEvent failed: %v", err)
	}
	if _, ok := ev.(*AuthSuccessEvent); !ok {
		t.Errorf("expected *AuthSuccessEvent, got %T", ev)
	}
}

package ws

import (
	"time"

	"github.com/supportchat/internal/model"
)

const (
	EventChatMessage = "chat_message"
	EventError       = "error"
)

// IncomingEvent is the single client->server frame: text plus the handles the
// sender typed as @-mentions. Unknown fields are ignored.
type IncomingEvent struct {
	Message  string   `json:"message"`
	Mentions []string `json:"mentions"`
}

// ChatMessageEvent is the server->client broadcast frame. Mentions carries the
// sender's handle list verbatim, including handles that resolved to nobody.
type ChatMessageEvent struct {
	Type       string     `json:"type"`
	Message    string     `json:"message"`
	Sender     string     `json:"sender"`
	SenderType model.Role `json:"sender_type"`
	Timestamp  string     `json:"timestamp"`
	Mentions   []string   `json:"mentions"`
}

// ErrorEvent reports a per-frame failure without closing the connection.
type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newChatMessageEvent(content, sender string, role model.Role, ts time.Time, mentions []string) ChatMessageEvent {
	if mentions == nil {
		mentions = []string{}
	}
	if !role.Valid() {
		role = model.RoleUser
	}
	return ChatMessageEvent{
		Type:       EventChatMessage,
		Message:    content,
		Sender:     sender,
		SenderType: role,
		Timestamp:  ts.UTC().Format(time.RFC3339Nano),
		Mentions:   mentions,
	}
}

// chatMessageEventFromModel converts a stored message for history replay.
func chatMessageEventFromModel(m model.Message) ChatMessageEvent {
	return newChatMessageEvent(m.Content, m.Sender, m.SenderType, m.CreatedAt, m.Mentions)
}

// Package response provides optimized JSON response builders
// that only serialize fields actually used by the JS client
package response

import (
	"encoding/json"

	"github.com/kittclouds/convstore/internal/store"
	"github.com/kittclouds/convstore/pkg/notify"
)

// SlimChat is a chat list entry
type SlimChat struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
}

// SlimAttachment omits the payload unless requested; payloads can be large
type SlimAttachment struct {
	ID       int64           `json:"id"`
	FileName string          `json:"file_name"`
	FileType string          `json:"file_type"`
	Size     int             `json:"size"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// SlimMessage contains only the fields the chat view renders
type SlimMessage struct {
	ID          int64            `json:"id"`
	ChatID      int64            `json:"chat_id"`
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	Timestamp   int64            `json:"timestamp"`
	Attachments []SlimAttachment `json:"attachments"`
}

// SlimNotification is a toast for the UI. Retry is invoked by ID.
type SlimNotification struct {
	ID        string `json:"id"`
	Level     string `json:"level"`
	Operation string `json:"operation"`
	Message   string `json:"message"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable"`
}

// SlimChatExport is a single conversation as downloaded by the user
type SlimChatExport struct {
	Chat     SlimChat      `json:"chat"`
	Messages []SlimMessage `json:"messages"`
}

// FromChat converts a store chat
func FromChat(c *store.Chat) SlimChat {
	return SlimChat{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt}
}

// FromChats converts a chat list, never returning nil
func FromChats(chats []*store.Chat) []SlimChat {
	out := make([]SlimChat, 0, len(chats))
	for _, c := range chats {
		out = append(out, FromChat(c))
	}
	return out
}

// FromMessage converts a store message
func FromMessage(m *store.Message, withData bool) SlimMessage {
	sm := SlimMessage{
		ID:          m.ID,
		ChatID:      m.ChatID,
		Role:        string(m.Role),
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		Attachments: make([]SlimAttachment, 0, len(m.Attachments)),
	}
	for _, a := range m.Attachments {
		sa := SlimAttachment{
			ID:       a.ID,
			FileName: a.FileName,
			FileType: string(a.FileType),
			Size:     len(a.Data),
		}
		if withData {
			sa.Data = a.Data
		}
		sm.Attachments = append(sm.Attachments, sa)
	}
	return sm
}

// FromMessages converts a message list, never returning nil
func FromMessages(msgs []*store.Message, withData bool) []SlimMessage {
	out := make([]SlimMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, FromMessage(m, withData))
	}
	return out
}

// FromNotification converts a notification
func FromNotification(n notify.Notification) SlimNotification {
	sn := SlimNotification{
		ID:        n.ID.String(),
		Level:     string(n.Level),
		Operation: n.Operation,
		Message:   n.Message,
		Retryable: n.Retryable(),
	}
	if n.Level == notify.LevelError {
		sn.Kind = n.Kind.String()
	}
	return sn
}

// FromNotifications converts a notification list, never returning nil
func FromNotifications(ns []notify.Notification) []SlimNotification {
	out := make([]SlimNotification, 0, len(ns))
	for _, n := range ns {
		out = append(out, FromNotification(n))
	}
	return out
}

// MarshalChatExport creates the JSON download of one conversation
func MarshalChatExport(chat *store.Chat, msgs []*store.Message) ([]byte, error) {
	return json.Marshal(SlimChatExport{
		Chat:     FromChat(chat),
		Messages: FromMessages(msgs, true),
	})
}

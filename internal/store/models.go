// Package store provides SQLite-backed persistence for conversations.
// This is the single data layer behind the chat UI: chats, their ordered
// messages and each message's file attachments.
package store

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// FileType is the parsed format of an attachment payload.
type FileType string

const (
	FileTypeCSV  FileType = "csv"
	FileTypeXLSX FileType = "xlsx"
	FileTypeJSON FileType = "json"
	FileTypePDF  FileType = "pdf"
	FileTypeText FileType = "text"
)

// Chat is a single linear conversation owned by one user.
// Maps 1:1 to the UI Chat interface.
type Chat struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	UserID    string `json:"user_id"`
	CreatedAt int64  `json:"created_at"` // Unix seconds
}

// Message is one turn in a chat.
// Position within the chat is (Timestamp, Seq); Seq breaks timestamp ties.
type Message struct {
	ID          int64        `json:"id"`
	ChatID      int64        `json:"chat_id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   int64        `json:"timestamp"` // Unix seconds
	Seq         int64        `json:"seq"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment is a parsed file payload bound to exactly one message.
// Data is opaque to the store and is returned exactly as written.
type Attachment struct {
	ID        int64           `json:"id"`
	MessageID int64           `json:"chat_message_id"`
	FileName  string          `json:"file_name"`
	FileType  FileType        `json:"file_type"`
	Data      json.RawMessage `json:"data"`
}

// NewChat holds the fields for CreateChat. CreatedAt defaults to now.
type NewChat struct {
	Title     string
	UserID    string
	CreatedAt int64
}

// ChatUpdate is a partial chat update. Nil fields are left unchanged.
type ChatUpdate struct {
	Title *string
}

// NewMessage holds the fields for CreateMessage.
type NewMessage struct {
	ChatID      int64
	Role        Role
	Content     string
	// Timestamp is in Unix seconds. Zero means "now", so a message cannot be
	// created at the epoch itself; use 1 or later for explicit timestamps.
	Timestamp   int64
	Attachments []NewAttachment
}

// MessageUpdate is a partial message update. Role is immutable.
// A non-nil Attachments replaces the whole attachment set, even when empty.
type MessageUpdate struct {
	Content     *string
	Timestamp   *int64
	Attachments *[]NewAttachment
}

// NewAttachment is an attachment to be written under a message.
type NewAttachment struct {
	FileName string          `json:"file_name"`
	FileType FileType        `json:"file_type"`
	Data     json.RawMessage `json:"data"`
}

// ChatDeletion describes what DeleteChat removed.
type ChatDeletion struct {
	Chat       *Chat
	MessageIDs []int64
}

// MessageEdit is the result of UpdateMessage: the merged message and the
// ids of the later messages discarded by truncation.
type MessageEdit struct {
	Message   *Message
	Truncated []int64
}

// MessageTruncation is the result of DeleteMessage. Removed includes the target.
type MessageTruncation struct {
	ChatID  int64
	Removed []int64
}

// ExecResult is returned by the Execute primitive.
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

// Row is a loosely typed result row returned by the Select primitive.
type Row map[string]any

// State is the lifecycle state of the store handle.
type State int

const (
	StateLoading State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Storer defines the interface for conversation persistence.
// SQLiteStore is the sole implementation.
type Storer interface {
	// Lifecycle
	State() State
	Ready() <-chan struct{}
	Wait(ctx context.Context) error
	Close() error

	// Primitives
	Execute(ctx context.Context, query string, args ...any) (ExecResult, error)
	Select(ctx context.Context, query string, args ...any) ([]Row, error)

	// Chats
	CreateChat(ctx context.Context, in NewChat) (*Chat, error)
	GetChat(ctx context.Context, id int64) (*Chat, error)
	ListChats(ctx context.Context, userID string) ([]*Chat, error)
	UpdateChat(ctx context.Context, id int64, upd ChatUpdate) (*Chat, error)
	DeleteChat(ctx context.Context, id int64) (*ChatDeletion, error)

	// Messages
	CreateMessage(ctx context.Context, in NewMessage) (*Message, error)
	GetMessage(ctx context.Context, id int64) (*Message, error)
	UpdateMessage(ctx context.Context, id int64, upd MessageUpdate) (*MessageEdit, error)
	DeleteMessage(ctx context.Context, id int64) (*MessageTruncation, error)
	PurgeMessage(ctx context.Context, id int64) error
	ListMessages(ctx context.Context, chatID int64) ([]*Message, error)
	ListAllMessages(ctx context.Context) ([]*Message, error)
	ClearAllMessages(ctx context.Context) (int64, error)

	// Attachments
	ReplaceAttachments(ctx context.Context, messageID int64, atts []NewAttachment) ([]Attachment, error)
	AddAttachment(ctx context.Context, messageID int64, att NewAttachment) (*Attachment, error)
	RemoveAttachment(ctx context.Context, messageID int64, fileName string) (int64, error)
	ListAttachments(ctx context.Context, messageID int64) ([]Attachment, error)

	// Snapshot (whole-store JSON export/import)
	Export(ctx context.Context) ([]byte, error)
	Import(ctx context.Context, data []byte) error
}

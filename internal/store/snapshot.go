package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// snapshotVersion is written into every export; Import rejects newer versions.
const snapshotVersion = 1

// Snapshot is the portable JSON form of the whole store.
type Snapshot struct {
	Version     int          `json:"version"`
	Chats       []*Chat      `json:"chats"`
	Messages    []*Message   `json:"messages"`
	Attachments []Attachment `json:"attachments"`
}

// Export serializes all tables to JSON bytes.
// This is a portable export that doesn't depend on sqlite3 serialization APIs.
func (s *SQLiteStore) Export(ctx context.Context) ([]byte, error) {
	snap := Snapshot{
		Version:     snapshotVersion,
		Chats:       []*Chat{},
		Messages:    []*Message{},
		Attachments: []Attachment{},
	}

	err := s.read(ctx, func(ctx context.Context, q querier) error {
		chatRows, err := q.QueryContext(ctx, `SELECT `+chatColumns+` FROM chats ORDER BY id`)
		if err != nil {
			return fault("export chats", err)
		}
		for chatRows.Next() {
			c, err := scanChat(chatRows)
			if err != nil {
				chatRows.Close()
				return fault("scan chat", err)
			}
			snap.Chats = append(snap.Chats, c)
		}
		err = chatRows.Err()
		chatRows.Close()
		if err != nil {
			return fault("export chats", err)
		}

		msgRows, err := q.QueryContext(ctx, `SELECT `+messageColumns+` FROM chat_messages ORDER BY id`)
		if err != nil {
			return fault("export messages", err)
		}
		for msgRows.Next() {
			m, err := scanMessage(msgRows)
			if err != nil {
				msgRows.Close()
				return fault("scan message", err)
			}
			// Attachments are exported flat, not nested.
			m.Attachments = nil
			snap.Messages = append(snap.Messages, m)
		}
		err = msgRows.Err()
		msgRows.Close()
		if err != nil {
			return fault("export messages", err)
		}

		attRows, err := q.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM file_attachments ORDER BY id`)
		if err != nil {
			return fault("export attachments", err)
		}
		defer attRows.Close()
		for attRows.Next() {
			a, err := scanAttachment(attRows)
			if err != nil {
				return fault("scan attachment", err)
			}
			snap.Attachments = append(snap.Attachments, a)
		}
		return fault("export attachments", attRows.Err())
	})
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// Import restores the store from an exported JSON byte slice.
// Clears all existing data and re-inserts from the export, keeping IDs.
func (s *SQLiteStore) Import(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return invalid("snapshot: %v", err)
	}
	if err := snap.validate(); err != nil {
		return err
	}

	return s.write(ctx, "import", func(ctx context.Context, q querier) error {
		// Clear children first
		for _, table := range []string{"file_attachments", "chat_messages", "chats"} {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fault("clear "+table, err)
			}
		}

		for _, c := range snap.Chats {
			_, err := q.ExecContext(ctx, `
				INSERT INTO chats (id, title, user_id, created_at) VALUES (?, ?, ?, ?)
			`, c.ID, c.Title, c.UserID, c.CreatedAt)
			if err != nil {
				return fault(fmt.Sprintf("import chat %d", c.ID), err)
			}
		}

		for _, m := range snap.Messages {
			_, err := q.ExecContext(ctx, `
				INSERT INTO chat_messages (id, chat_id, role, content, timestamp, seq)
				VALUES (?, ?, ?, ?, ?, ?)
			`, m.ID, m.ChatID, string(m.Role), m.Content, m.Timestamp, m.Seq)
			if err != nil {
				return fault(fmt.Sprintf("import message %d", m.ID), err)
			}
		}

		for _, a := range snap.Attachments {
			_, err := q.ExecContext(ctx, `
				INSERT INTO file_attachments (id, chat_message_id, file_name, file_type, data)
				VALUES (?, ?, ?, ?, ?)
			`, a.ID, a.MessageID, a.FileName, string(a.FileType), payload(a.Data))
			if err != nil {
				return fault(fmt.Sprintf("import attachment %d", a.ID), err)
			}
		}
		return nil
	})
}

// validate rejects snapshots that would wipe the store or cannot be inserted.
// A missing version means the payload is not an export at all.
func (snap *Snapshot) validate() error {
	switch {
	case snap.Version < 1:
		return invalid("snapshot version missing or invalid (%d)", snap.Version)
	case snap.Version > snapshotVersion:
		return invalid("snapshot version %d is newer than supported %d", snap.Version, snapshotVersion)
	}
	for i, c := range snap.Chats {
		if c == nil {
			return invalid("snapshot chat #%d is null", i)
		}
	}
	for i, m := range snap.Messages {
		if m == nil {
			return invalid("snapshot message #%d is null", i)
		}
		if !m.Role.Valid() {
			return invalid("snapshot message %d has unknown role %q", m.ID, m.Role)
		}
	}
	for i, a := range snap.Attachments {
		if a.MessageID == 0 || a.FileName == "" {
			return invalid("snapshot attachment #%d is missing its message or file name", i)
		}
	}
	return nil
}

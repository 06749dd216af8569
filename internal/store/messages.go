package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// =============================================================================
// Message CRUD
// =============================================================================

// idBatch bounds the number of ids bound into one IN (...) list.
const idBatch = 500

const messageColumns = `id, chat_id, role, content, timestamp, seq`

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var role string
	if err := row.Scan(&m.ID, &m.ChatID, &role, &m.Content, &m.Timestamp, &m.Seq); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	m.Attachments = []Attachment{}
	return &m, nil
}

// CreateMessage appends a message to a chat together with its attachments.
// The message takes the next sequence number of the chat.
//
// Without transactions an attachment failure leaves the message row behind
// and is reported as *OrphanedMessageError.
func (s *SQLiteStore) CreateMessage(ctx context.Context, in NewMessage) (*Message, error) {
	if !in.Role.Valid() {
		return nil, invalid("unknown role %q", in.Role)
	}
	if err := validateAttachments(in.Attachments); err != nil {
		return nil, err
	}
	if in.Timestamp == 0 {
		in.Timestamp = time.Now().Unix()
	}

	var msg *Message
	err := s.write(ctx, "create message", func(ctx context.Context, q querier) error {
		if _, err := getChat(ctx, q, in.ChatID); err != nil {
			return err
		}

		m := &Message{
			ChatID:    in.ChatID,
			Role:      in.Role,
			Content:   in.Content,
			Timestamp: in.Timestamp,
		}
		err := q.QueryRowContext(ctx, `
			INSERT INTO chat_messages (chat_id, role, content, timestamp, seq)
			VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM chat_messages WHERE chat_id = ?))
			RETURNING id, seq
		`, in.ChatID, string(in.Role), in.Content, in.Timestamp, in.ChatID).Scan(&m.ID, &m.Seq)
		if err != nil {
			return fault("create message", err)
		}

		atts, err := insertAttachments(ctx, q, m.ID, in.Attachments)
		if err != nil {
			if !s.atomic {
				return &OrphanedMessageError{MessageID: m.ID, Err: err}
			}
			return err
		}
		m.Attachments = atts
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage retrieves a message with its attachments.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	var msg *Message
	err := s.read(ctx, func(ctx context.Context, q querier) error {
		m, err := getMessage(ctx, q, id)
		if err != nil {
			return err
		}
		if m.Attachments, err = listAttachments(ctx, q, id); err != nil {
			return err
		}
		msg = m
		return nil
	})
	return msg, err
}

// getMessage reads the message row only.
func getMessage(ctx context.Context, q querier, id int64) (*Message, error) {
	m, err := scanMessage(q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("message", id)
	}
	if err != nil {
		return nil, fault("get message", err)
	}
	return m, nil
}

// UpdateMessage edits a message and discards every later message of its chat.
//
// The cut line is the message's position before the edit, and the edited
// message itself is kept. Later messages are removed first, then the merge
// is written, then the attachment set is replaced if upd.Attachments is set.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, id int64, upd MessageUpdate) (*MessageEdit, error) {
	if upd.Attachments != nil {
		if err := validateAttachments(*upd.Attachments); err != nil {
			return nil, err
		}
	}

	var out *MessageEdit
	err := s.write(ctx, "update message", func(ctx context.Context, q querier) error {
		current, err := getMessage(ctx, q, id)
		if err != nil {
			return err
		}

		later, err := queryIDs(ctx, q, `
			SELECT id FROM chat_messages
			WHERE chat_id = ? AND (timestamp, seq) > (?, ?)
			ORDER BY timestamp, seq
		`, current.ChatID, current.Timestamp, current.Seq)
		if err != nil {
			return fault("update message: collect later messages", err)
		}
		if err := deleteMessages(ctx, q, later); err != nil {
			return err
		}

		if upd.Content != nil {
			current.Content = *upd.Content
		}
		if upd.Timestamp != nil {
			current.Timestamp = *upd.Timestamp
		}
		res, err := q.ExecContext(ctx, `
			UPDATE chat_messages SET content = ?, timestamp = ? WHERE id = ?
		`, current.Content, current.Timestamp, id)
		if err != nil {
			return fault("update message", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return notFound("message", id)
		}

		if upd.Attachments != nil {
			current.Attachments, err = replaceAttachments(ctx, q, id, *upd.Attachments)
		} else {
			current.Attachments, err = listAttachments(ctx, q, id)
		}
		if err != nil {
			return err
		}

		out = &MessageEdit{Message: current, Truncated: later}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteMessage removes a message and every message at or after its position
// in the chat.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id int64) (*MessageTruncation, error) {
	var out *MessageTruncation
	err := s.write(ctx, "delete message", func(ctx context.Context, q querier) error {
		target, err := getMessage(ctx, q, id)
		if err != nil {
			return err
		}

		ids, err := queryIDs(ctx, q, `
			SELECT id FROM chat_messages
			WHERE chat_id = ? AND (timestamp, seq) >= (?, ?)
			ORDER BY timestamp, seq
		`, target.ChatID, target.Timestamp, target.Seq)
		if err != nil {
			return fault("delete message: collect messages", err)
		}
		if err := deleteMessages(ctx, q, ids); err != nil {
			return err
		}

		out = &MessageTruncation{ChatID: target.ChatID, Removed: ids}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeMessage deletes exactly one message and its attachments, leaving the
// rest of the chat untouched. Used to compensate a half-written message.
func (s *SQLiteStore) PurgeMessage(ctx context.Context, id int64) error {
	return s.write(ctx, "purge message", func(ctx context.Context, q querier) error {
		if _, err := getMessage(ctx, q, id); err != nil {
			return err
		}
		return deleteMessages(ctx, q, []int64{id})
	})
}

// ListMessages returns a chat's messages in position order with their attachments.
// Attachments are loaded with one bulk query rather than a join.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID int64) ([]*Message, error) {
	return s.listMessages(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE chat_id = ?
		ORDER BY timestamp, seq, id
	`, chatID)
}

// ListAllMessages returns every message of every chat ordered by timestamp.
func (s *SQLiteStore) ListAllMessages(ctx context.Context) ([]*Message, error) {
	return s.listMessages(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		ORDER BY timestamp, seq, id
	`)
}

func (s *SQLiteStore) listMessages(ctx context.Context, query string, args ...any) ([]*Message, error) {
	messages := []*Message{}
	err := s.read(ctx, func(ctx context.Context, q querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return fault("list messages", err)
		}
		ids := []int64{}
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				rows.Close()
				return fault("list messages", err)
			}
			messages = append(messages, m)
			ids = append(ids, m.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fault("list messages", err)
		}
		// The only connection must be released before the attachment query.
		rows.Close()

		byMessage, err := attachmentsByMessage(ctx, q, ids)
		if err != nil {
			return err
		}
		for _, m := range messages {
			if atts, ok := byMessage[m.ID]; ok {
				m.Attachments = atts
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ClearAllMessages removes every message and attachment in the store and
// returns the number of messages removed. Chats are kept.
func (s *SQLiteStore) ClearAllMessages(ctx context.Context) (int64, error) {
	var removed int64
	err := s.write(ctx, "clear messages", func(ctx context.Context, q querier) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM file_attachments`); err != nil {
			return fault("clear attachments", err)
		}
		res, err := q.ExecContext(ctx, `DELETE FROM chat_messages`)
		if err != nil {
			return fault("clear messages", err)
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	return removed, err
}

// deleteMessages removes the given messages, attachments first.
func deleteMessages(ctx context.Context, q querier, ids []int64) error {
	for start := 0; start < len(ids); start += idBatch {
		end := min(start+idBatch, len(ids))
		chunk := int64Args(ids[start:end])
		in := placeholders(len(chunk))

		if _, err := q.ExecContext(ctx, `DELETE FROM file_attachments WHERE chat_message_id IN (`+in+`)`, chunk...); err != nil {
			return fault("delete attachments", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM chat_messages WHERE id IN (`+in+`)`, chunk...); err != nil {
			return fault("delete messages", err)
		}
	}
	return nil
}

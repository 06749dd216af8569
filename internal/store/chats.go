package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// =============================================================================
// Chat CRUD
// =============================================================================

const chatColumns = `id, title, user_id, created_at`

func scanChat(row scanner) (*Chat, error) {
	var c Chat
	if err := row.Scan(&c.ID, &c.Title, &c.UserID, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateChat inserts a chat and returns it with its assigned ID.
func (s *SQLiteStore) CreateChat(ctx context.Context, in NewChat) (*Chat, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, invalid("chat user id is empty")
	}
	if in.CreatedAt == 0 {
		in.CreatedAt = time.Now().Unix()
	}

	var chat *Chat
	err := s.read(ctx, func(ctx context.Context, q querier) error {
		res, err := q.ExecContext(ctx, `
			INSERT INTO chats (title, user_id, created_at)
			VALUES (?, ?, ?)
		`, in.Title, in.UserID, in.CreatedAt)
		if err != nil {
			return fault("create chat", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fault("create chat", err)
		}
		chat = &Chat{ID: id, Title: in.Title, UserID: in.UserID, CreatedAt: in.CreatedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// GetChat retrieves a chat by ID.
func (s *SQLiteStore) GetChat(ctx context.Context, id int64) (*Chat, error) {
	var chat *Chat
	err := s.read(ctx, func(ctx context.Context, q querier) error {
		var err error
		chat, err = getChat(ctx, q, id)
		return err
	})
	return chat, err
}

func getChat(ctx context.Context, q querier, id int64) (*Chat, error) {
	chat, err := scanChat(q.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("chat", id)
	}
	if err != nil {
		return nil, fault("get chat", err)
	}
	return chat, nil
}

// ListChats returns a user's chats, newest first.
func (s *SQLiteStore) ListChats(ctx context.Context, userID string) ([]*Chat, error) {
	var chats []*Chat
	err := s.read(ctx, func(ctx context.Context, q querier) error {
		rows, err := q.QueryContext(ctx, `
			SELECT `+chatColumns+`
			FROM chats WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
		`, userID)
		if err != nil {
			return fault("list chats", err)
		}
		defer rows.Close()

		for rows.Next() {
			c, err := scanChat(rows)
			if err != nil {
				return fault("list chats", err)
			}
			chats = append(chats, c)
		}
		return fault("list chats", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return chats, nil
}

// UpdateChat merges the non-nil fields of upd into the stored chat.
func (s *SQLiteStore) UpdateChat(ctx context.Context, id int64, upd ChatUpdate) (*Chat, error) {
	var chat *Chat
	err := s.write(ctx, "update chat", func(ctx context.Context, q querier) error {
		current, err := getChat(ctx, q, id)
		if err != nil {
			return err
		}
		if upd.Title != nil {
			current.Title = *upd.Title
		}

		res, err := q.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ?`, current.Title, id)
		if err != nil {
			return fault("update chat", err)
		}
		// The row can disappear between the read and the write when not in a transaction.
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return notFound("chat", id)
		}
		chat = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// DeleteChat removes a chat, its messages and their attachments.
// The returned ChatDeletion lists what was removed.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id int64) (*ChatDeletion, error) {
	var out *ChatDeletion
	err := s.write(ctx, "delete chat", func(ctx context.Context, q querier) error {
		chat, err := getChat(ctx, q, id)
		if err != nil {
			return err
		}

		ids, err := queryIDs(ctx, q, `SELECT id FROM chat_messages WHERE chat_id = ? ORDER BY timestamp, seq`, id)
		if err != nil {
			return fault("delete chat: list messages", err)
		}

		// Children first; foreign keys cascade as well.
		if err := deleteMessages(ctx, q, ids); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id); err != nil {
			return fault("delete chat", err)
		}

		out = &ChatDeletion{Chat: chat, MessageIDs: ids}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// queryIDs collects a single integer column.
func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

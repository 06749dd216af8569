package store

import (
	"context"
	"encoding/json"
	"strings"
)

// =============================================================================
// Attachment CRUD
// =============================================================================

const attachmentColumns = `id, chat_message_id, file_name, file_type, data`

func scanAttachment(row scanner) (Attachment, error) {
	var a Attachment
	var fileType, data string
	if err := row.Scan(&a.ID, &a.MessageID, &a.FileName, &fileType, &data); err != nil {
		return Attachment{}, err
	}
	a.FileType = FileType(fileType)
	a.Data = json.RawMessage(data)
	return a, nil
}

// payload returns the stored TEXT form of an attachment's data.
func payload(data json.RawMessage) string {
	if len(data) == 0 {
		return "null"
	}
	return string(data)
}

func validateAttachments(atts []NewAttachment) error {
	for i, a := range atts {
		if strings.TrimSpace(a.FileName) == "" {
			return invalid("attachment %d has no file name", i)
		}
	}
	return nil
}

// ReplaceAttachments deletes every attachment of a message and inserts atts
// in their place.
func (s *SQLiteStore) ReplaceAttachments(ctx context.Context, messageID int64, atts []NewAttachment) ([]Attachment, error) {
	if err := validateAttachments(atts); err != nil {
		return nil, err
	}

	var out []Attachment
	err := s.write(ctx, "replace attachments", func(ctx context.Context, q querier) error {
		if _, err := getMessage(ctx, q, messageID); err != nil {
			return err
		}
		var err error
		out, err = replaceAttachments(ctx, q, messageID, atts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func replaceAttachments(ctx context.Context, q querier, messageID int64, atts []NewAttachment) ([]Attachment, error) {
	if _, err := q.ExecContext(ctx, `DELETE FROM file_attachments WHERE chat_message_id = ?`, messageID); err != nil {
		return nil, fault("replace attachments: delete", err)
	}
	return insertAttachments(ctx, q, messageID, atts)
}

// AddAttachment appends one attachment to a message.
func (s *SQLiteStore) AddAttachment(ctx context.Context, messageID int64, att NewAttachment) (*Attachment, error) {
	if err := validateAttachments([]NewAttachment{att}); err != nil {
		return nil, err
	}

	var out *Attachment
	err := s.write(ctx, "add attachment", func(ctx context.Context, q querier) error {
		if _, err := getMessage(ctx, q, messageID); err != nil {
			return err
		}
		inserted, err := insertAttachments(ctx, q, messageID, []NewAttachment{att})
		if err != nil {
			return err
		}
		out = &inserted[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveAttachment deletes the attachments of a message with the given file
// name and returns how many were removed. Returns ErrNotFound if none matched.
func (s *SQLiteStore) RemoveAttachment(ctx context.Context, messageID int64, fileName string) (int64, error) {
	var removed int64
	err := s.write(ctx, "remove attachment", func(ctx context.Context, q querier) error {
		if _, err := getMessage(ctx, q, messageID); err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `
			DELETE FROM file_attachments WHERE chat_message_id = ? AND file_name = ?
		`, messageID, fileName)
		if err != nil {
			return fault("remove attachment", err)
		}
		removed, _ = res.RowsAffected()
		if removed == 0 {
			return attachmentNotFound(messageID, fileName)
		}
		return nil
	})
	return removed, err
}

func attachmentNotFound(messageID int64, fileName string) error {
	return notFound("attachment "+fileName+" of message", messageID)
}

// ListAttachments returns a message's attachments in insertion order.
func (s *SQLiteStore) ListAttachments(ctx context.Context, messageID int64) ([]Attachment, error) {
	var out []Attachment
	err := s.read(ctx, func(ctx context.Context, q querier) error {
		if _, err := getMessage(ctx, q, messageID); err != nil {
			return err
		}
		var err error
		out, err = listAttachments(ctx, q, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func listAttachments(ctx context.Context, q querier, messageID int64) ([]Attachment, error) {
	byMessage, err := attachmentsByMessage(ctx, q, []int64{messageID})
	if err != nil {
		return nil, err
	}
	if atts, ok := byMessage[messageID]; ok {
		return atts, nil
	}
	return []Attachment{}, nil
}

// insertAttachments writes atts under messageID one row at a time and stops
// at the first failure.
func insertAttachments(ctx context.Context, q querier, messageID int64, atts []NewAttachment) ([]Attachment, error) {
	out := make([]Attachment, 0, len(atts))
	for _, a := range atts {
		data := payload(a.Data)
		res, err := q.ExecContext(ctx, `
			INSERT INTO file_attachments (chat_message_id, file_name, file_type, data)
			VALUES (?, ?, ?, ?)
		`, messageID, a.FileName, string(a.FileType), data)
		if err != nil {
			return out, fault("insert attachment "+a.FileName, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return out, fault("insert attachment "+a.FileName, err)
		}
		out = append(out, Attachment{
			ID:        id,
			MessageID: messageID,
			FileName:  a.FileName,
			FileType:  a.FileType,
			Data:      json.RawMessage(data),
		})
	}
	return out, nil
}

// attachmentsByMessage loads the attachments of many messages with bulk
// IN (...) queries and groups them by owning message.
func attachmentsByMessage(ctx context.Context, q querier, messageIDs []int64) (map[int64][]Attachment, error) {
	out := make(map[int64][]Attachment)
	for start := 0; start < len(messageIDs); start += idBatch {
		end := min(start+idBatch, len(messageIDs))
		chunk := int64Args(messageIDs[start:end])

		rows, err := q.QueryContext(ctx, `
			SELECT `+attachmentColumns+` FROM file_attachments
			WHERE chat_message_id IN (`+placeholders(len(chunk))+`)
			ORDER BY id
		`, chunk...)
		if err != nil {
			return nil, fault("list attachments", err)
		}
		for rows.Next() {
			a, err := scanAttachment(rows)
			if err != nil {
				rows.Close()
				return nil, fault("list attachments", err)
			}
			out[a.MessageID] = append(out[a.MessageID], a)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fault("list attachments", err)
		}
	}
	return out, nil
}

package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentPayloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)
	chat, err := s.CreateChat(ctx, NewChat{Title: "c", UserID: "u"})
	require.NoError(t, err)

	raw := json.RawMessage(`{"a":1,"b":[true,null,"x"]}`)
	m, err := s.CreateMessage(ctx, NewMessage{
		ChatID: chat.ID, Role: RoleUser, Content: "data",
		Attachments: []NewAttachment{{FileName: "d.json", FileType: FileTypeJSON, Data: raw}},
	})
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Attachments, 1)

	got := msgs[0].Attachments[0]
	assert.Equal(t, m.ID, got.MessageID)
	assert.Equal(t, FileTypeJSON, got.FileType)
	assert.Equal(t, string(raw), string(got.Data))
	assert.JSONEq(t, string(raw), string(got.Data))
}

func TestAttachmentNilDataStoredAsNull(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)
	_, msgs := seedChat(t, s, 1)

	att, err := s.AddAttachment(ctx, msgs[0].ID, NewAttachment{FileName: "empty.txt", FileType: FileTypeText})
	require.NoError(t, err)
	assert.Equal(t, "null", string(att.Data))

	atts, err := s.ListAttachments(ctx, msgs[0].ID)
	require.NoError(t, err)
	require.Len(t, atts, 2)
	assert.Equal(t, "null", string(atts[1].Data))
}

func TestReplaceAttachments(t *testing.T) {
	bothModes(t, func(t *testing.T, s *SQLiteStore) {
		ctx := context.Background()
		_, msgs := seedChat(t, s, 1)

		out, err := s.ReplaceAttachments(ctx, msgs[0].ID, []NewAttachment{
			{FileName: "one.csv", FileType: FileTypeCSV, Data: json.RawMessage(`[{"a":"1"}]`)},
			{FileName: "two.xlsx", FileType: FileTypeXLSX, Data: json.RawMessage(`[{"b":"2"}]`)},
		})
		require.NoError(t, err)
		require.Len(t, out, 2)

		atts, err := s.ListAttachments(ctx, msgs[0].ID)
		require.NoError(t, err)
		assert.Equal(t, out, atts)

		_, err = s.ReplaceAttachments(ctx, msgs[0].ID+100, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAddAndRemoveAttachment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, true)
	_, msgs := seedChat(t, s, 1)
	id := msgs[0].ID

	_, err := s.AddAttachment(ctx, id, NewAttachment{FileName: "more.csv", FileType: FileTypeCSV, Data: json.RawMessage(`[]`)})
	require.NoError(t, err)

	n, err := s.RemoveAttachment(ctx, id, "f.csv")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	atts, err := s.ListAttachments(ctx, id)
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "more.csv", atts[0].FileName)

	_, err = s.RemoveAttachment(ctx, id, "f.csv")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.AddAttachment(ctx, id, NewAttachment{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.ListAttachments(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

package response

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/convstore/internal/store"
	"github.com/kittclouds/convstore/pkg/notify"
)

func sampleMessage() *store.Message {
	return &store.Message{
		ID: 3, ChatID: 1, Role: store.RoleUser, Content: "see file", Timestamp: 100, Seq: 1,
		Attachments: []store.Attachment{{
			ID: 9, MessageID: 3, FileName: "a.json", FileType: store.FileTypeJSON,
			Data: json.RawMessage(`{"a":1}`),
		}},
	}
}

func TestFromMessageOmitsDataByDefault(t *testing.T) {
	slim := FromMessage(sampleMessage(), false)
	data, err := json.Marshal(slim)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"id":3,"chat_id":1,"role":"user","content":"see file","timestamp":100,
		"attachments":[{"id":9,"file_name":"a.json","file_type":"json","size":7}]
	}`, string(data))
}

func TestFromMessagesNeverNil(t *testing.T) {
	data, err := json.Marshal(FromMessages(nil, false))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	data, err = json.Marshal(FromChats(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	data, err = json.Marshal(FromMessage(&store.Message{ID: 1, Role: store.RoleAssistant}, false))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"attachments":[]`)
}

func TestMarshalChatExport(t *testing.T) {
	chat := &store.Chat{ID: 1, Title: "Plans", UserID: "u", CreatedAt: 50}
	data, err := MarshalChatExport(chat, []*store.Message{sampleMessage()})
	require.NoError(t, err)

	var out SlimChatExport
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "Plans", out.Chat.Title)
	require.Len(t, out.Messages, 1)
	require.Len(t, out.Messages[0].Attachments, 1)
	assert.JSONEq(t, `{"a":1}`, string(out.Messages[0].Attachments[0].Data))
}

func TestFromNotification(t *testing.T) {
	fail := notify.Failure("delete chat", store.ErrNotFound, nil)
	slim := FromNotification(fail)
	assert.Equal(t, fail.ID.String(), slim.ID)
	assert.Equal(t, "error", slim.Level)
	assert.Equal(t, "not_found", slim.Kind)
	assert.False(t, slim.Retryable)

	ok := FromNotifications([]notify.Notification{notify.Success("create chat", "Chat created")})
	require.Len(t, ok, 1)
	assert.Empty(t, ok[0].Kind)

	retry := notify.Failure("list chats", store.ErrStoreNotReady, func(context.Context) error { return nil })
	slim = FromNotification(retry)
	assert.True(t, slim.Retryable)
	assert.Equal(t, "not_ready", slim.Kind)
}

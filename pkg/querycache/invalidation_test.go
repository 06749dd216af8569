package querycache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func keys(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = s.String()
	}
	return out
}

func TestScopesFor(t *testing.T) {
	tests := []struct {
		name     string
		mutation Mutation
		target   Target
		want     []string
	}{
		{
			name:     "create chat",
			mutation: CreateChat,
			target:   Target{UserID: "u1", ChatID: 4},
			want:     []string{"chats", "chats[u1]", "chat[4]"},
		},
		{
			name:     "update chat",
			mutation: UpdateChat,
			target:   Target{UserID: "u1", ChatID: 4},
			want:     []string{"chats", "chats[u1]", "chat[4]"},
		},
		{
			name:     "delete chat",
			mutation: DeleteChat,
			target:   Target{UserID: "u1", ChatID: 4, Removed: []int64{7, 8}},
			want:     []string{"chats", "chats[u1]", "chat[4]", "messages", "messages[4]", "message[7]", "message[8]"},
		},
		{
			name:     "create message",
			mutation: CreateMessage,
			target:   Target{ChatID: 4, MessageID: 9},
			want:     []string{"messages", "messages[4]", "message[9]"},
		},
		{
			name:     "update message",
			mutation: UpdateMessage,
			target:   Target{ChatID: 4, MessageID: 9, Removed: []int64{10}},
			want:     []string{"messages", "messages[4]", "message[9]", "message[10]"},
		},
		{
			name:     "delete message",
			mutation: DeleteMessage,
			target:   Target{ChatID: 4, MessageID: 9, Removed: []int64{9, 10}},
			want:     []string{"messages", "messages[4]", "message[9]", "message[10]"},
		},
		{
			name:     "clear messages",
			mutation: ClearMessages,
			want:     []string{"messages", "message"},
		},
		{
			name:     "replace attachments",
			mutation: ReplaceAttachments,
			target:   Target{ChatID: 4, MessageID: 9},
			want:     []string{"messages", "messages[4]", "message[9]"},
		},
		{
			name:     "remove attachment",
			mutation: RemoveAttachment,
			target:   Target{ChatID: 4, MessageID: 9},
			want:     []string{"messages", "messages[4]", "message[9]"},
		},
		{
			name:     "import",
			mutation: ImportSnapshot,
			want:     []string{"chats", "chat", "messages", "message"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, keys(ScopesFor(tt.mutation, tt.target)))
		})
	}
}

package querycache

// Mutation identifies a store mutation in the invalidation table.
type Mutation string

const (
	CreateChat         Mutation = "create_chat"
	UpdateChat         Mutation = "update_chat"
	DeleteChat         Mutation = "delete_chat"
	CreateMessage      Mutation = "create_message"
	UpdateMessage      Mutation = "update_message"
	DeleteMessage      Mutation = "delete_message"
	ClearMessages      Mutation = "clear_messages"
	ReplaceAttachments Mutation = "replace_attachments"
	AddAttachment      Mutation = "add_attachment"
	RemoveAttachment   Mutation = "remove_attachment"
	ImportSnapshot     Mutation = "import_snapshot"
)

// Target carries the ids a mutation touched. Only the fields relevant to the
// mutation are read.
type Target struct {
	UserID    string
	ChatID    int64
	MessageID int64
	// Removed lists messages deleted as a side effect (truncation, cascade).
	Removed []int64
}

// ScopesFor returns the scopes a successful mutation invalidates.
// Unknown mutations invalidate everything.
func ScopesFor(m Mutation, t Target) []Scope {
	switch m {
	case CreateChat, UpdateChat:
		return []Scope{All(KindChats), Chats(t.UserID), Chat(t.ChatID)}

	case DeleteChat:
		scopes := []Scope{
			All(KindChats), Chats(t.UserID), Chat(t.ChatID),
			All(KindMessages), Messages(t.ChatID),
		}
		return appendMessages(scopes, t.Removed)

	case CreateMessage:
		return []Scope{All(KindMessages), Messages(t.ChatID), Message(t.MessageID)}

	case UpdateMessage:
		scopes := []Scope{All(KindMessages), Messages(t.ChatID), Message(t.MessageID)}
		return appendMessages(scopes, t.Removed)

	case DeleteMessage:
		// Removed includes the target.
		scopes := []Scope{All(KindMessages), Messages(t.ChatID)}
		return appendMessages(scopes, t.Removed)

	case ClearMessages:
		return []Scope{All(KindMessages), All(KindMessage)}

	case ReplaceAttachments, AddAttachment, RemoveAttachment:
		return []Scope{All(KindMessages), Messages(t.ChatID), Message(t.MessageID)}
	}

	return []Scope{All(KindChats), All(KindChat), All(KindMessages), All(KindMessage)}
}

func appendMessages(scopes []Scope, ids []int64) []Scope {
	for _, id := range ids {
		scopes = append(scopes, Message(id))
	}
	return scopes
}

// Package querycache is the read cache that sits between the UI and the
// conversation store. Entries are keyed by Scope; every store mutation
// invalidates the fixed set of scopes returned by ScopesFor.
package querycache

import (
	"fmt"
	"strconv"
)

// Kind is the family of a cached query.
type Kind string

const (
	KindChats    Kind = "chats"    // chat lists, keyed by user
	KindChat     Kind = "chat"     // single chat, keyed by chat id
	KindMessages Kind = "messages" // message lists, keyed by chat id
	KindMessage  Kind = "message"  // single message, keyed by message id
)

// Scope names one cached query or, with an empty Key, every query of a Kind.
type Scope struct {
	Kind Kind
	Key  string
}

// String renders the scope as the cache key, e.g. "messages[12]".
func (s Scope) String() string {
	if s.Key == "" {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s[%s]", s.Kind, s.Key)
}

// Covers reports whether invalidating s also invalidates other.
func (s Scope) Covers(other Scope) bool {
	return s.Kind == other.Kind && (s.Key == "" || s.Key == other.Key)
}

// All is the whole-kind scope.
func All(kind Kind) Scope { return Scope{Kind: kind} }

// Chats is the chat list of one user.
func Chats(userID string) Scope { return Scope{Kind: KindChats, Key: userID} }

// Chat is a single chat.
func Chat(id int64) Scope { return Scope{Kind: KindChat, Key: strconv.FormatInt(id, 10)} }

// Messages is the message list of one chat.
func Messages(chatID int64) Scope { return Scope{Kind: KindMessages, Key: strconv.FormatInt(chatID, 10)} }

// Message is a single message.
func Message(id int64) Scope { return Scope{Kind: KindMessage, Key: strconv.FormatInt(id, 10)} }

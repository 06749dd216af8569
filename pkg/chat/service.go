// Package chat is the conversation service behind the chat UI.
// Reads go through the query cache; every mutation invalidates the affected
// scopes once the store confirms it and reports its outcome to a notifier.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kittclouds/convstore/internal/metrics"
	"github.com/kittclouds/convstore/internal/store"
	"github.com/kittclouds/convstore/pkg/agent"
	"github.com/kittclouds/convstore/pkg/notify"
	"github.com/kittclouds/convstore/pkg/parser"
	"github.com/kittclouds/convstore/pkg/querycache"
	"github.com/kittclouds/convstore/pkg/response"
)

// ErrNoResponder is returned by the reply operations when no model is configured.
var ErrNoResponder = errors.New("chat: no responder configured")

// Options configures a Service. Zero values are usable.
type Options struct {
	Cache     *querycache.Cache
	Notifier  notify.Notifier
	Retry     notify.RetryConfig
	Responder agent.Responder
	Logger    *zerolog.Logger
}

// Service manages chats and messages on top of a Storer.
type Service struct {
	store     store.Storer
	cache     *querycache.Cache
	notifier  notify.Notifier
	retrier   *notify.Retrier
	responder agent.Responder
	log       zerolog.Logger
}

// NewService creates a chat service.
func NewService(s store.Storer, opts Options) *Service {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "chat").Logger()
	}
	c := opts.Cache
	if c == nil {
		c = querycache.New(5*time.Minute, 10*time.Minute)
	}
	return &Service{
		store:     s,
		cache:     c,
		notifier:  opts.Notifier,
		retrier:   notify.NewRetrier(opts.Retry, log),
		responder: opts.Responder,
		log:       log,
	}
}

// State reports the store lifecycle state.
func (s *Service) State() store.State { return s.store.State() }

// Wait blocks until the store is ready or has failed.
func (s *Service) Wait(ctx context.Context) error { return s.store.Wait(ctx) }

// =============================================================================
// Mutation pipeline
// =============================================================================

// mutation describes one store mutation and how to report it.
type mutation[T any] struct {
	op      string // user-facing verb phrase, e.g. "delete chat"
	kind    querycache.Mutation
	success string
	run     func(ctx context.Context) (T, error)
	target  func(T) querycache.Target
	after   func(ctx context.Context, out T)
}

// mutate runs m once. On failure nothing is invalidated and the user gets an
// error notification whose Retry re-runs m with the same arguments.
func mutate[T any](ctx context.Context, s *Service, m mutation[T]) (T, error) {
	out, err := attempt(ctx, m)
	if err != nil {
		s.failed(m.kind, err)
		notify.Deliver(s.notifier, notify.Failure(m.op, err, retryFor(s, m)), s.log)
		return out, err
	}
	succeed(ctx, s, m, out)
	return out, nil
}

// retryFor binds m to a retry that backs off while the store is loading.
// A retry that still fails reports a fresh error notification.
func retryFor[T any](s *Service, m mutation[T]) notify.RetryFunc {
	return func(ctx context.Context) error {
		var out T
		err := s.retrier.Do(ctx, m.op, func(ctx context.Context) error {
			var err error
			out, err = attempt(ctx, m)
			return err
		})
		if err != nil {
			s.failed(m.kind, err)
			notify.Deliver(s.notifier, notify.Failure(m.op, err, retryFor(s, m)), s.log)
			return err
		}
		succeed(ctx, s, m, out)
		return nil
	}
}

func attempt[T any](ctx context.Context, m mutation[T]) (T, error) {
	start := time.Now()
	out, err := m.run(ctx)
	metrics.RecordMutation(string(m.kind), err, time.Since(start).Seconds())
	return out, err
}

// succeed invalidates before notifying so a notifier that re-reads sees fresh data.
func succeed[T any](ctx context.Context, s *Service, m mutation[T], out T) {
	var target querycache.Target
	if m.target != nil {
		target = m.target(out)
	}
	s.cache.Invalidate(querycache.ScopesFor(m.kind, target)...)
	s.log.Debug().Str("operation", string(m.kind)).Msg("mutation applied")

	if m.after != nil {
		m.after(ctx, out)
	}
	notify.Deliver(s.notifier, notify.Success(m.op, m.success), s.log)
}

func (s *Service) failed(kind querycache.Mutation, err error) {
	s.log.Warn().
		Err(err).
		Str("operation", string(kind)).
		Str("kind", notify.Classify(err).String()).
		Msg("mutation failed")
}

// =============================================================================
// Chats
// =============================================================================

// ListChats returns the user's chats, newest first.
func (s *Service) ListChats(ctx context.Context, userID string) ([]*store.Chat, error) {
	return querycache.Load(ctx, s.cache, querycache.Chats(userID), func(ctx context.Context) ([]*store.Chat, error) {
		return s.store.ListChats(ctx, userID)
	})
}

// GetChat returns one chat.
func (s *Service) GetChat(ctx context.Context, id int64) (*store.Chat, error) {
	return querycache.Load(ctx, s.cache, querycache.Chat(id), func(ctx context.Context) (*store.Chat, error) {
		return s.store.GetChat(ctx, id)
	})
}

// CreateChat creates a chat. An empty title becomes DefaultTitle and is
// replaced by a suggestion once the first user message arrives.
func (s *Service) CreateChat(ctx context.Context, userID, title string) (*store.Chat, error) {
	if title == "" {
		title = DefaultTitle
	}
	in := store.NewChat{Title: title, UserID: userID}
	return mutate(ctx, s, mutation[*store.Chat]{
		op:      "create chat",
		kind:    querycache.CreateChat,
		success: "Chat created",
		run: func(ctx context.Context) (*store.Chat, error) {
			return s.store.CreateChat(ctx, in)
		},
		target: func(c *store.Chat) querycache.Target {
			return querycache.Target{UserID: c.UserID, ChatID: c.ID}
		},
	})
}

// UpdateChat applies a partial update to a chat.
func (s *Service) UpdateChat(ctx context.Context, id int64, upd store.ChatUpdate) (*store.Chat, error) {
	return mutate(ctx, s, mutation[*store.Chat]{
		op:      "update chat",
		kind:    querycache.UpdateChat,
		success: "Chat updated",
		run: func(ctx context.Context) (*store.Chat, error) {
			return s.store.UpdateChat(ctx, id, upd)
		},
		target: func(c *store.Chat) querycache.Target {
			return querycache.Target{UserID: c.UserID, ChatID: c.ID}
		},
	})
}

// RenameChat sets a chat's title.
func (s *Service) RenameChat(ctx context.Context, id int64, title string) (*store.Chat, error) {
	return s.UpdateChat(ctx, id, store.ChatUpdate{Title: &title})
}

// DeleteChat removes a chat with all its messages and attachments.
func (s *Service) DeleteChat(ctx context.Context, id int64) (*store.ChatDeletion, error) {
	return mutate(ctx, s, mutation[*store.ChatDeletion]{
		op:      "delete chat",
		kind:    querycache.DeleteChat,
		success: "Chat deleted",
		run: func(ctx context.Context) (*store.ChatDeletion, error) {
			return s.store.DeleteChat(ctx, id)
		},
		target: func(d *store.ChatDeletion) querycache.Target {
			return querycache.Target{UserID: d.Chat.UserID, ChatID: id, Removed: d.MessageIDs}
		},
	})
}

// =============================================================================
// Messages
// =============================================================================

// ListMessages returns a chat's messages in position order.
func (s *Service) ListMessages(ctx context.Context, chatID int64) ([]*store.Message, error) {
	return querycache.Load(ctx, s.cache, querycache.Messages(chatID), func(ctx context.Context) ([]*store.Message, error) {
		return s.store.ListMessages(ctx, chatID)
	})
}

// ListAllMessages returns every message in the store.
func (s *Service) ListAllMessages(ctx context.Context) ([]*store.Message, error) {
	return querycache.Load(ctx, s.cache, querycache.All(querycache.KindMessages), func(ctx context.Context) ([]*store.Message, error) {
		return s.store.ListAllMessages(ctx)
	})
}

// GetMessage returns one message with its attachments.
func (s *Service) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	return querycache.Load(ctx, s.cache, querycache.Message(id), func(ctx context.Context) (*store.Message, error) {
		return s.store.GetMessage(ctx, id)
	})
}

// CreateMessage appends a message. If the store wrote the message but not all
// of its attachments, the message is purged before the error is returned.
func (s *Service) CreateMessage(ctx context.Context, in store.NewMessage) (*store.Message, error) {
	return mutate(ctx, s, mutation[*store.Message]{
		op:      "send message",
		kind:    querycache.CreateMessage,
		success: "Message saved",
		run: func(ctx context.Context) (*store.Message, error) {
			return s.createMessage(ctx, in)
		},
		target: func(m *store.Message) querycache.Target {
			return querycache.Target{ChatID: m.ChatID, MessageID: m.ID}
		},
		after: func(ctx context.Context, m *store.Message) {
			if m.Role == store.RoleUser {
				s.autoTitle(ctx, m.ChatID, m.Content)
			}
		},
	})
}

// SendMessage appends a user message.
func (s *Service) SendMessage(ctx context.Context, chatID int64, content string, atts ...store.NewAttachment) (*store.Message, error) {
	return s.CreateMessage(ctx, store.NewMessage{
		ChatID:      chatID,
		Role:        store.RoleUser,
		Content:     content,
		Attachments: atts,
	})
}

func (s *Service) createMessage(ctx context.Context, in store.NewMessage) (*store.Message, error) {
	msg, err := s.store.CreateMessage(ctx, in)
	var orphan *store.OrphanedMessageError
	if errors.As(err, &orphan) {
		if perr := s.store.PurgeMessage(ctx, orphan.MessageID); perr != nil {
			s.log.Error().Err(perr).Int64("message_id", orphan.MessageID).Msg("failed to purge orphaned message")
			return nil, errors.Join(err, fmt.Errorf("failed to purge message %d: %w", orphan.MessageID, perr))
		}
		s.log.Warn().Int64("message_id", orphan.MessageID).Msg("purged message written without its attachments")
	}
	return msg, err
}

// autoTitle renames a chat still carrying a placeholder title. Failures are
// logged only; the message itself was saved.
func (s *Service) autoTitle(ctx context.Context, chatID int64, content string) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("auto-title: failed to load chat")
		return
	}
	if !needsTitle(chat.Title) {
		return
	}
	title := SuggestTitle(content)
	if title == DefaultTitle {
		return
	}
	chat, err = s.store.UpdateChat(ctx, chatID, store.ChatUpdate{Title: &title})
	if err != nil {
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("auto-title: failed to rename chat")
		return
	}
	s.cache.Invalidate(querycache.ScopesFor(querycache.UpdateChat, querycache.Target{UserID: chat.UserID, ChatID: chatID})...)
	s.log.Debug().Int64("chat_id", chatID).Str("title", title).Msg("chat titled")
}

// EditMessage updates a message and discards every later message in its chat.
func (s *Service) EditMessage(ctx context.Context, id int64, upd store.MessageUpdate) (*store.MessageEdit, error) {
	return mutate(ctx, s, mutation[*store.MessageEdit]{
		op:      "edit message",
		kind:    querycache.UpdateMessage,
		success: "Message updated",
		run: func(ctx context.Context) (*store.MessageEdit, error) {
			return s.store.UpdateMessage(ctx, id, upd)
		},
		target: func(e *store.MessageEdit) querycache.Target {
			return querycache.Target{ChatID: e.Message.ChatID, MessageID: id, Removed: e.Truncated}
		},
	})
}

// DeleteMessage removes a message and every later message in its chat.
func (s *Service) DeleteMessage(ctx context.Context, id int64) (*store.MessageTruncation, error) {
	return mutate(ctx, s, mutation[*store.MessageTruncation]{
		op:      "delete message",
		kind:    querycache.DeleteMessage,
		success: "Message deleted",
		run: func(ctx context.Context) (*store.MessageTruncation, error) {
			return s.store.DeleteMessage(ctx, id)
		},
		target: func(t *store.MessageTruncation) querycache.Target {
			return querycache.Target{ChatID: t.ChatID, MessageID: id, Removed: t.Removed}
		},
	})
}

// ClearAllMessages deletes every message in every chat and returns the count.
func (s *Service) ClearAllMessages(ctx context.Context) (int64, error) {
	return mutate(ctx, s, mutation[int64]{
		op:      "clear messages",
		kind:    querycache.ClearMessages,
		success: "All messages cleared",
		run:     s.store.ClearAllMessages,
	})
}

// =============================================================================
// Attachments
// =============================================================================

// attachmentMutation resolves the owning chat before running fn so the
// chat's message list can be invalidated.
func attachmentMutation[T any](ctx context.Context, s *Service, op string, kind querycache.Mutation, success string,
	messageID int64, fn func(ctx context.Context) (T, error)) (T, error) {
	var chatID int64
	return mutate(ctx, s, mutation[T]{
		op:      op,
		kind:    kind,
		success: success,
		run: func(ctx context.Context) (T, error) {
			msg, err := s.store.GetMessage(ctx, messageID)
			if err != nil {
				var zero T
				return zero, err
			}
			chatID = msg.ChatID
			return fn(ctx)
		},
		target: func(T) querycache.Target {
			return querycache.Target{ChatID: chatID, MessageID: messageID}
		},
	})
}

// ReplaceAttachments swaps a message's whole attachment set.
func (s *Service) ReplaceAttachments(ctx context.Context, messageID int64, atts []store.NewAttachment) ([]store.Attachment, error) {
	return attachmentMutation(ctx, s, "replace attachments", querycache.ReplaceAttachments, "Attachments updated", messageID,
		func(ctx context.Context) ([]store.Attachment, error) {
			return s.store.ReplaceAttachments(ctx, messageID, atts)
		})
}

// AddAttachment adds one attachment to a message.
func (s *Service) AddAttachment(ctx context.Context, messageID int64, att store.NewAttachment) (*store.Attachment, error) {
	return attachmentMutation(ctx, s, "add attachment", querycache.AddAttachment, "Attachment added", messageID,
		func(ctx context.Context) (*store.Attachment, error) {
			return s.store.AddAttachment(ctx, messageID, att)
		})
}

// RemoveAttachment removes a message's attachments named fileName.
func (s *Service) RemoveAttachment(ctx context.Context, messageID int64, fileName string) (int64, error) {
	return attachmentMutation(ctx, s, "remove attachment", querycache.RemoveAttachment, "Attachment removed", messageID,
		func(ctx context.Context) (int64, error) {
			return s.store.RemoveAttachment(ctx, messageID, fileName)
		})
}

// AttachFile parses the file at path and adds it to a message.
func (s *Service) AttachFile(ctx context.Context, messageID int64, path string) (*store.Attachment, error) {
	parsed, err := parser.Parse(path)
	if err != nil {
		err = fmt.Errorf("failed to attach file: %w", err)
		s.log.Warn().Err(err).Str("path", path).Msg("attachment rejected")
		notify.Deliver(s.notifier, notify.Failure("attach file", err, nil), s.log)
		return nil, err
	}
	return s.AddAttachment(ctx, messageID, parsed.Attachment())
}

// =============================================================================
// Export
// =============================================================================

// Export returns a JSON snapshot of the whole store.
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	return s.store.Export(ctx)
}

// Import replaces the store content with a snapshot.
func (s *Service) Import(ctx context.Context, data []byte) error {
	_, err := mutate(ctx, s, mutation[struct{}]{
		op:      "import data",
		kind:    querycache.ImportSnapshot,
		success: "Data imported",
		run: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.store.Import(ctx, data)
		},
	})
	return err
}

// ExportChat returns one chat and its messages as JSON.
func (s *Service) ExportChat(ctx context.Context, chatID int64) ([]byte, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return response.MarshalChatExport(chat, msgs)
}

// =============================================================================
// Agent loop
// =============================================================================

// Reply asks the responder for the next assistant turn and saves it.
func (s *Service) Reply(ctx context.Context, chatID int64) (*store.Message, error) {
	return s.reply(ctx, chatID, nil)
}

// ReplyStream is Reply with incremental output passed to onDelta.
func (s *Service) ReplyStream(ctx context.Context, chatID int64, onDelta func(string)) (*store.Message, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	return s.reply(ctx, chatID, onDelta)
}

func (s *Service) reply(ctx context.Context, chatID int64, onDelta func(string)) (*store.Message, error) {
	if s.responder == nil {
		return nil, ErrNoResponder
	}
	if _, err := s.store.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	history, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: chat %d has no messages to reply to", store.ErrInvalidInput, chatID)
	}

	turns := agent.HistoryFromMessages(history)
	var content string
	if onDelta != nil {
		content, err = s.responder.Stream(ctx, turns, onDelta)
	} else {
		content, err = s.responder.Respond(ctx, turns)
	}
	if err != nil {
		err = fmt.Errorf("failed to generate reply: %w", err)
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("responder failed")
		retry := s.retrier.Wrap("generate reply", func(ctx context.Context) error {
			_, err := s.reply(ctx, chatID, nil)
			return err
		})
		notify.Deliver(s.notifier, notify.Failure("generate reply", err, retry), s.log)
		return nil, err
	}

	// The reply must sort after the history even when clocks disagree.
	ts := time.Now().Unix()
	if last := history[len(history)-1].Timestamp; last > ts {
		ts = last
	}
	return s.CreateMessage(ctx, store.NewMessage{
		ChatID:    chatID,
		Role:      store.RoleAssistant,
		Content:   content,
		Timestamp: ts,
	})
}

// Regenerate drops an assistant message, and everything after it, then
// replies again.
func (s *Service) Regenerate(ctx context.Context, messageID int64) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Role != store.RoleAssistant {
		return nil, fmt.Errorf("%w: message %d is not an assistant message", store.ErrInvalidInput, messageID)
	}
	if _, err := s.DeleteMessage(ctx, messageID); err != nil {
		return nil, err
	}
	return s.Reply(ctx, msg.ChatID)
}

// EditAndReply edits a user message, which discards the later turns, and
// asks for a fresh reply.
func (s *Service) EditAndReply(ctx context.Context, messageID int64, content string) (*store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Role != store.RoleUser {
		return nil, fmt.Errorf("%w: message %d is not a user message", store.ErrInvalidInput, messageID)
	}
	edit, err := s.EditMessage(ctx, messageID, store.MessageUpdate{Content: &content})
	if err != nil {
		return nil, err
	}
	return s.Reply(ctx, edit.Message.ChatID)
}

//go:build js && wasm

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall/js"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kittclouds/convstore/internal/config"
	"github.com/kittclouds/convstore/internal/metrics"
	"github.com/kittclouds/convstore/internal/store"
	"github.com/kittclouds/convstore/pkg/agent"
	"github.com/kittclouds/convstore/pkg/chat"
	"github.com/kittclouds/convstore/pkg/notify"
	"github.com/kittclouds/convstore/pkg/parser"
	"github.com/kittclouds/convstore/pkg/querycache"
	"github.com/kittclouds/convstore/pkg/response"
)

// Version info
const Version = "1.0.0"

// Global state
var (
	logger    zerolog.Logger
	sqlStore  *store.SQLiteStore // SQLite persistent store
	cache     *querycache.Cache
	recorder  *notify.Recorder // polled by the UI for toasts
	responder agent.Responder
	chatSvc   *chat.Service
)

func main() {
	logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "convstore-wasm").Logger()
	recorder = notify.NewRecorder(100)

	logger.Info().Str("version", Version).Msg("WASM ready")

	js.Global().Set("ConvStore", js.ValueOf(map[string]interface{}{
		"version": js.FuncOf(getVersion),
		// Lifecycle
		"storeInit":  js.FuncOf(storeInit),
		"storeState": js.FuncOf(storeState),
		"storeReady": js.FuncOf(storeReady),
		"agentInit":  js.FuncOf(agentInit),
		// Chats
		"chatsList":  js.FuncOf(chatsList),
		"chatGet":    js.FuncOf(chatGet),
		"chatCreate": js.FuncOf(chatCreate),
		"chatRename": js.FuncOf(chatRename),
		"chatDelete": js.FuncOf(chatDelete),
		"chatExport": js.FuncOf(chatExport),
		// Messages
		"messagesList":    js.FuncOf(messagesList),
		"messagesListAll": js.FuncOf(messagesListAll),
		"messageGet":      js.FuncOf(messageGet),
		"messageCreate":   js.FuncOf(messageCreate),
		"messageEdit":     js.FuncOf(messageEdit),
		"messageDelete":   js.FuncOf(messageDelete),
		"messagesClear":   js.FuncOf(messagesClear),
		// Attachments
		"attachmentsReplace": js.FuncOf(attachmentsReplace),
		"attachmentAdd":      js.FuncOf(attachmentAdd),
		"attachmentRemove":   js.FuncOf(attachmentRemove),
		"parseFile":          js.FuncOf(parseFile),
		// Agent
		"reply":        js.FuncOf(reply),
		"replyStream":  js.FuncOf(replyStream),
		"regenerate":   js.FuncOf(regenerate),
		"editAndReply": js.FuncOf(editAndReply),
		// Store Export/Import (OPFS sync)
		"storeExport": js.FuncOf(storeExport),
		"storeImport": js.FuncOf(storeImport),
		// Notifications
		"notifications":     js.FuncOf(notifications),
		"notificationRetry": js.FuncOf(notificationRetry),
		// Metrics
		"metrics": js.FuncOf(metricsText),
	}))

	select {}
}

func getVersion(this js.Value, args []js.Value) interface{} {
	return Version
}

// =============================================================================
// Helpers
// =============================================================================

// Helper: Create error result
func errorResult(msg string) interface{} {
	result := map[string]interface{}{
		"error": msg,
	}
	jsonBytes, _ := json.Marshal(result)
	return string(jsonBytes)
}

// Helper: Create success result
func successResult(msg string) interface{} {
	result := map[string]interface{}{
		"success": msg,
	}
	jsonBytes, _ := json.Marshal(result)
	return string(jsonBytes)
}

func makePromise() (promise js.Value, resolve js.Value, reject js.Value) {
	var resolveFn, rejectFn js.Value
	handler := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resolveFn = args[0]
		rejectFn = args[1]
		return nil
	})
	defer handler.Release()

	promise = js.Global().Get("Promise").New(handler)
	return promise, resolveFn, rejectFn
}

// jsError builds a JS Error carrying the error kind so the UI can decide
// between a retry button and a plain message.
func jsError(op string, err error) js.Value {
	e := js.Global().Get("Error").New(fmt.Sprintf("%s: %v", op, err))
	e.Set("kind", notify.Classify(err).String())
	return e
}

// async runs fn off the JS event loop and settles a Promise with its JSON result.
func async(op string, fn func(ctx context.Context) (any, error)) interface{} {
	promise, resolve, reject := makePromise()

	go func() {
		if chatSvc == nil {
			reject.Invoke(js.Global().Get("Error").New(op + ": store not initialized (call storeInit first)"))
			return
		}
		result, err := fn(context.Background())
		if err != nil {
			reject.Invoke(jsError(op, err))
			return
		}
		if raw, ok := result.([]byte); ok {
			resolve.Invoke(string(raw))
			return
		}
		jsonBytes, _ := json.Marshal(result)
		resolve.Invoke(string(jsonBytes))
	}()

	return promise
}

func idArg(args []js.Value, i int) (int64, error) {
	if len(args) <= i || args[i].Type() != js.TypeNumber {
		return 0, fmt.Errorf("argument %d: numeric id required", i+1)
	}
	return int64(args[i].Int()), nil
}

func stringArg(args []js.Value, i int) string {
	if len(args) <= i || args[i].IsUndefined() || args[i].IsNull() {
		return ""
	}
	return args[i].String()
}

// rebuildService wires the chat service to the current store and responder.
// The cache survives so agentInit does not drop warm reads.
func rebuildService() {
	chatSvc = chat.NewService(sqlStore, chat.Options{
		Cache:     cache,
		Notifier:  notify.Multi{recorder, notify.NewLogNotifier(logger)},
		Responder: responder,
		Logger:    &logger,
	})
}

// =============================================================================
// Lifecycle
// =============================================================================

// storeInit starts opening the SQLite store and returns immediately.
// Args: [dsn string] (optional, defaults to in-memory)
func storeInit(this js.Value, args []js.Value) interface{} {
	if sqlStore != nil {
		sqlStore.Close()
	}
	sqlStore = store.Open(context.Background(), store.Options{
		DSN:    stringArg(args, 0),
		Atomic: true,
		Logger: &logger,
	})
	if cache == nil {
		cache = querycache.New(5*time.Minute, 10*time.Minute)
	} else {
		cache.Flush()
	}
	rebuildService()
	return successResult("store loading")
}

// storeState reports loading, ready or failed.
func storeState(this js.Value, args []js.Value) interface{} {
	if sqlStore == nil {
		return "uninitialized"
	}
	return sqlStore.State().String()
}

// storeReady returns a Promise that settles once the store has opened.
func storeReady(this js.Value, args []js.Value) interface{} {
	return async("storeReady", func(ctx context.Context) (any, error) {
		if err := chatSvc.Wait(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"state": chatSvc.State().String()}, nil
	})
}

// agentInit configures the model used for replies.
// Args: configJSON (string) - JSON with apiKey, baseUrl, model, systemPrompt
func agentInit(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("agentInit: config JSON required")
	}
	if sqlStore == nil {
		return errorResult("store not initialized")
	}

	var cfg struct {
		APIKey          string `json:"apiKey"`
		BaseURL         string `json:"baseUrl"`
		Model           string `json:"model"`
		SystemPrompt    string `json:"systemPrompt"`
		AttachmentLimit int    `json:"attachmentLimit"`
	}
	if err := json.Unmarshal([]byte(args[0].String()), &cfg); err != nil {
		return errorResult(fmt.Sprintf("agentInit: invalid config: %v", err))
	}
	if cfg.APIKey == "" {
		return errorResult("agentInit: apiKey required")
	}

	responder = agent.NewOpenAIResponder(config.AgentConfig{
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		Model:           cfg.Model,
		SystemPrompt:    cfg.SystemPrompt,
		AttachmentLimit: cfg.AttachmentLimit,
	})
	rebuildService()
	return successResult("agent initialized")
}

// =============================================================================
// Chats
// =============================================================================

// chatsList lists a user's chats, newest first.
// Args: userID (string)
func chatsList(this js.Value, args []js.Value) interface{} {
	userID := stringArg(args, 0)
	return async("chatsList", func(ctx context.Context) (any, error) {
		chats, err := chatSvc.ListChats(ctx, userID)
		if err != nil {
			return nil, err
		}
		return response.FromChats(chats), nil
	})
}

// Args: id (number)
func chatGet(this js.Value, args []js.Value) interface{} {
	id, argErr := idArg(args, 0)
	return async("chatGet", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		c, err := chatSvc.GetChat(ctx, id)
		if err != nil {
			return nil, err
		}
		return response.FromChat(c), nil
	})
}

// Args: userID (string), title (string, optional)
func chatCreate(this js.Value, args []js.Value) interface{} {
	userID, title := stringArg(args, 0), stringArg(args, 1)
	return async("chatCreate", func(ctx context.Context) (any, error) {
		c, err := chatSvc.CreateChat(ctx, userID, title)
		if err != nil {
			return nil, err
		}
		return response.FromChat(c), nil
	})
}

// Args: id (number), title (string)
func chatRename(this js.Value, args []js.Value) interface{} {
	id, argErr := idArg(args, 0)
	title := stringArg(args, 1)
	return async("chatRename", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		c, err := chatSvc.RenameChat(ctx, id, title)
		if err != nil {
			return nil, err
		}
		return response.FromChat(c), nil
	})
}

// Args: id (number)
func chatDelete(this js.Value, args []js.Value) interface{} {
	id, argErr := idArg(args, 0)
	return async("chatDelete", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		del, err := chatSvc.DeleteChat(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"chat_id": id, "message_ids": del.MessageIDs}, nil
	})
}

// chatExport returns one chat and its messages as a JSON download.
// Args: id (number)
func chatExport(this js.Value, args []js.Value) interface{} {
	id, argErr := idArg(args, 0)
	return async("chatExport", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		return chatSvc.ExportChat(ctx, id)
	})
}

// =============================================================================
// Messages
// =============================================================================

// Args: chatID (number), withData (bool, optional)
func messagesList(this js.Value, args []js.Value) interface{} {
	chatID, argErr := idArg(args, 0)
	withData := len(args) > 1 && args[1].Truthy()
	return async("messagesList", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		msgs, err := chatSvc.ListMessages(ctx, chatID)
		if err != nil {
			return nil, err
		}
		return response.FromMessages(msgs, withData), nil
	})
}

func messagesListAll(this js.Value, args []js.Value) interface{} {
	return async("messagesListAll", func(ctx context.Context) (any, error) {
		msgs, err := chatSvc.ListAllMessages(ctx)
		if err != nil {
			return nil, err
		}
		return response.FromMessages(msgs, false), nil
	})
}

// Args: id (number)
func messageGet(this js.Value, args []js.Value) interface{} {
	id, argErr := idArg(args, 0)
	return async("messageGet", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		m, err := chatSvc.GetMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		return response.FromMessage(m, true), nil
	})
}

// messageCreate appends a message.
// Args: messageJSON (string) - {chat_id, role, content, timestamp?, attachments?}
func messageCreate(this js.Value, args []js.Value) interface{} {
	raw := stringArg(args, 0)
	return async("messageCreate", func(ctx context.Context) (any, error) {
		var in struct {
			ChatID      int64                 `json:"chat_id"`
			Role        store.Role            `json:"role"`
			Content     string                `json:"content"`
			Timestamp   int64                 `json:"timestamp"`
			Attachments []store.NewAttachment `json:"attachments"`
		}
		if err := json.Unmarshal([]byte(raw), &in); err != nil {
			return nil, fmt.Errorf("%w: invalid message json: %v", store.ErrInvalidInput, err)
		}
		if in.Role == "" {
			in.Role = store.RoleUser
		}
		m, err := chatSvc.CreateMessage(ctx, store.NewMessage{
			ChatID:      in.ChatID,
			Role:        in.Role,
			Content:     in.Content,
			Timestamp:   in.Timestamp,
			Attachments: in.Attachments,
		})
		if err != nil {
			return nil, err
		}
		return response.FromMessage(m, false), nil
	})
}

// messageEdit updates a message; later messages in the chat are discarded.
// Args: id (number), updateJSON (string) - {content?, timestamp?, attachments?}
func messageEdit(this js.Value, args []js.Value) interface{} {
	id, argErr := idArg(args, 0)
	raw := stringArg(args, 1)
	return async("messageEdit", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		var upd struct {
			Content     *string                `json:"content"`
			Timestamp   *int64                 `json:"timestamp"`
			Attachments *[]store.NewAttachment `json:"attachments"`
		}
		if err := json.Unmarshal([]byte(raw), &upd); err != nil {
			return nil, fmt.Errorf("%w: invalid update json: %v", store.ErrInvalidInput, err)
		}
		edit, err := chatSvc.EditMessage(ctx, id, store.MessageUpdate{
			Content:     upd.Content,
			Timestamp:   upd.Timestamp,
			Attachments: upd.Attachments,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"message":   response.FromMessage(edit.Message, false),
			"truncated": edit.Truncated,
		}, nil
	})
}

// messageDelete removes a message and everything after it.
// Args: id (number)
func messageDelete(this js.Value, args []js.Value) interface{} {
	id, argErr := idArg(args, 0)
	return async("messageDelete", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		tr, err := chatSvc.DeleteMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"chat_id": tr.ChatID, "removed": tr.Removed}, nil
	})
}

func messagesClear(this js.Value, args []js.Value) interface{} {
	return async("messagesClear", func(ctx context.Context) (any, error) {
		n, err := chatSvc.ClearAllMessages(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"removed": n}, nil
	})
}

// =============================================================================
// Attachments
// =============================================================================

// Args: messageID (number), attachmentsJSON (string) - [{file_name, file_type, data}]
func attachmentsReplace(this js.Value, args []js.Value) interface{} {
	id, argErr := idArg(args, 0)
	raw := stringArg(args, 1)
	return async("attachmentsReplace", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		var atts []store.NewAttachment
		if err := json.Unmarshal([]byte(raw), &atts); err != nil {
			return nil, fmt.Errorf("%w: invalid attachments json: %v", store.ErrInvalidInput, err)
		}
		return chatSvc.ReplaceAttachments(ctx, id, atts)
	})
}

// Args: messageID (number), attachmentJSON (string) - {file_name, file_type, data}
func attachmentAdd(this js.Value, args []js.Value) interface{} {
	id, argErr := idArg(args, 0)
	raw := stringArg(args, 1)
	return async("attachmentAdd", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		var att store.NewAttachment
		if err := json.Unmarshal([]byte(raw), &att); err != nil {
			return nil, fmt.Errorf("%w: invalid attachment json: %v", store.ErrInvalidInput, err)
		}
		return chatSvc.AddAttachment(ctx, id, att)
	})
}

// Args: messageID (number), fileName (string)
func attachmentRemove(this js.Value, args []js.Value) interface{} {
	id, argErr := idArg(args, 0)
	fileName := stringArg(args, 1)
	return async("attachmentRemove", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		n, err := chatSvc.RemoveAttachment(ctx, id, fileName)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"removed": n}, nil
	})
}

// parseFile converts an uploaded file into an attachment ready for
// messageCreate or attachmentAdd.
// Args: fileName (string), content (string or Uint8Array)
func parseFile(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("parseFile requires 2 args: fileName, content")
	}
	name := args[0].String()

	var content []byte
	if args[1].Type() == js.TypeString {
		content = []byte(args[1].String())
	} else {
		content = make([]byte, args[1].Get("length").Int())
		js.CopyBytesToGo(content, args[1])
	}

	parsed, err := parser.ParseReader(name, bytes.NewReader(content))
	if err != nil {
		return errorResult(err.Error())
	}
	jsonBytes, _ := json.Marshal(parsed.Attachment())
	return string(jsonBytes)
}

// =============================================================================
// Agent
// =============================================================================

// Args: chatID (number)
func reply(this js.Value, args []js.Value) interface{} {
	chatID, argErr := idArg(args, 0)
	return async("reply", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		m, err := chatSvc.Reply(ctx, chatID)
		if err != nil {
			return nil, err
		}
		return response.FromMessage(m, false), nil
	})
}

// replyStream calls onDelta with each chunk of the reply as it arrives.
// Args: chatID (number), onDelta (function)
func replyStream(this js.Value, args []js.Value) interface{} {
	chatID, argErr := idArg(args, 0)
	var onDelta js.Value
	if len(args) > 1 && args[1].Type() == js.TypeFunction {
		onDelta = args[1]
	}
	return async("replyStream", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		m, err := chatSvc.ReplyStream(ctx, chatID, func(delta string) {
			if !onDelta.IsUndefined() {
				onDelta.Invoke(delta)
			}
		})
		if err != nil {
			return nil, err
		}
		return response.FromMessage(m, false), nil
	})
}

// Args: messageID (number) of an assistant message
func regenerate(this js.Value, args []js.Value) interface{} {
	id, argErr := idArg(args, 0)
	return async("regenerate", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		m, err := chatSvc.Regenerate(ctx, id)
		if err != nil {
			return nil, err
		}
		return response.FromMessage(m, false), nil
	})
}

// Args: messageID (number) of a user message, content (string)
func editAndReply(this js.Value, args []js.Value) interface{} {
	id, argErr := idArg(args, 0)
	content := stringArg(args, 1)
	return async("editAndReply", func(ctx context.Context) (any, error) {
		if argErr != nil {
			return nil, argErr
		}
		m, err := chatSvc.EditAndReply(ctx, id, content)
		if err != nil {
			return nil, err
		}
		return response.FromMessage(m, false), nil
	})
}

// =============================================================================
// Store Export/Import
// =============================================================================

// storeExport returns the whole store as a JSON snapshot string.
func storeExport(this js.Value, args []js.Value) interface{} {
	return async("storeExport", func(ctx context.Context) (any, error) {
		return chatSvc.Export(ctx)
	})
}

// storeImport replaces the store content with a snapshot.
// Args: [snapshotJSON string]
func storeImport(this js.Value, args []js.Value) interface{} {
	raw := stringArg(args, 0)
	return async("storeImport", func(ctx context.Context) (any, error) {
		if strings.TrimSpace(raw) == "" {
			return map[string]string{"success": "nothing to import"}, nil
		}
		if err := chatSvc.Import(ctx, []byte(raw)); err != nil {
			return nil, err
		}
		return map[string]string{"success": "imported"}, nil
	})
}

// =============================================================================
// Notifications
// =============================================================================

// notifications returns recorded toasts, oldest first.
// Args: [clear bool] (optional) drops them after reading
func notifications(this js.Value, args []js.Value) interface{} {
	items := recorder.All()
	if len(args) > 0 && args[0].Truthy() {
		recorder.Reset()
	}
	jsonBytes, _ := json.Marshal(response.FromNotifications(items))
	return string(jsonBytes)
}

// notificationRetry re-runs the operation behind an error notification.
// Args: id (string)
func notificationRetry(this js.Value, args []js.Value) interface{} {
	raw := stringArg(args, 0)
	return async("notificationRetry", func(ctx context.Context) (any, error) {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid notification id %q", store.ErrInvalidInput, raw)
		}
		n, ok := recorder.Find(id)
		if !ok || !n.Retryable() {
			return nil, fmt.Errorf("notification %s: %w", raw, store.ErrNotFound)
		}
		if err := n.Retry(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"success": n.Operation}, nil
	})
}

// =============================================================================
// Metrics
// =============================================================================

// metricsText returns mutation and cache counters in Prometheus text format.
func metricsText(this js.Value, args []js.Value) interface{} {
	var buf bytes.Buffer
	if err := metrics.Write(&buf, nil); err != nil {
		return errorResult(err.Error())
	}
	return buf.String()
}

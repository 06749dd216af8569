// Package agent turns stored conversation history into LLM requests.
// The store only supplies (role, content, attachment data) and persists the
// text that comes back; everything model-specific lives here.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kittclouds/convstore/internal/config"
	"github.com/kittclouds/convstore/internal/store"
)

// ErrNoChoices is returned when the model responds without a choice.
var ErrNoChoices = errors.New("agent: no response from model")

// Attachment is the part of a stored attachment the model sees.
type Attachment struct {
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	Data     string `json:"data"`
}

// Turn is one message of prompt history.
type Turn struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// HistoryFromMessages converts stored messages, already in position order,
// into prompt turns.
func HistoryFromMessages(msgs []*store.Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		t := Turn{Role: string(m.Role), Content: m.Content}
		for _, a := range m.Attachments {
			t.Attachments = append(t.Attachments, Attachment{
				FileName: a.FileName,
				FileType: string(a.FileType),
				Data:     string(a.Data),
			})
		}
		turns = append(turns, t)
	}
	return turns
}

// Responder produces the assistant reply for a history.
type Responder interface {
	Respond(ctx context.Context, history []Turn) (string, error)
	// Stream calls onDelta with each content fragment and returns the full text.
	Stream(ctx context.Context, history []Turn, onDelta func(string)) (string, error)
}

// Options configures an OpenAIResponder.
type Options struct {
	Model        string
	SystemPrompt string
	// AttachmentLimit caps the bytes of each attachment included in a prompt.
	// Zero means no limit.
	AttachmentLimit int
}

// OpenAIResponder calls an OpenAI-compatible chat completions endpoint.
type OpenAIResponder struct {
	client *openai.Client
	opts   Options
}

// NewOpenAIResponder creates a responder from agent configuration.
func NewOpenAIResponder(cfg config.AgentConfig) *OpenAIResponder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewOpenAIResponderWithClient(openai.NewClientWithConfig(clientCfg), Options{
		Model:           cfg.Model,
		SystemPrompt:    cfg.SystemPrompt,
		AttachmentLimit: cfg.AttachmentLimit,
	})
}

// NewOpenAIResponderWithClient creates a responder around an existing client.
func NewOpenAIResponderWithClient(client *openai.Client, opts Options) *OpenAIResponder {
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	return &OpenAIResponder{client: client, opts: opts}
}

// Respond performs a non-streaming completion.
func (r *OpenAIResponder) Respond(ctx context.Context, history []Turn) (string, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.opts.Model,
		Messages: r.buildMessages(history),
	})
	if err != nil {
		return "", fmt.Errorf("agent: LLM call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream performs a streaming completion.
func (r *OpenAIResponder) Stream(ctx context.Context, history []Turn, onDelta func(string)) (string, error) {
	stream, err := r.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    r.opts.Model,
		Messages: r.buildMessages(history),
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("agent: creating completion stream: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sb.String(), fmt.Errorf("agent: reading completion stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	return sb.String(), nil
}

// buildMessages prepends the system prompt and inlines attachments into
// the content of their turn.
func (r *OpenAIResponder) buildMessages(history []Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if r.opts.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: r.opts.SystemPrompt,
		})
	}
	for _, t := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    t.Role,
			Content: RenderTurn(t, r.opts.AttachmentLimit),
		})
	}
	return msgs
}

// RenderTurn returns the turn content with each attachment appended as a
// fenced block. Data longer than limit bytes is cut on a rune boundary and marked.
func RenderTurn(t Turn, limit int) string {
	if len(t.Attachments) == 0 {
		return t.Content
	}
	var sb strings.Builder
	sb.WriteString(t.Content)
	for _, a := range t.Attachments {
		data := a.Data
		truncated := false
		if limit > 0 && len(data) > limit {
			cut := limit
			for cut > 0 && !utf8.RuneStart(data[cut]) {
				cut--
			}
			data = data[:cut]
			truncated = true
		}
		fmt.Fprintf(&sb, "\n\n[Attachment: %s (%s)]\n```json\n%s\n```", a.FileName, a.FileType, data)
		if truncated {
			fmt.Fprintf(&sb, "\n[truncated to %d bytes]", limit)
		}
	}
	return sb.String()
}

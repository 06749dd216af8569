package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/convstore/pkg/chat"
	"github.com/kittclouds/convstore/pkg/response"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONVSTORE_DB_PATH", filepath.Join(dir, "test.db"))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func runJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	out, err := run(t, append(args, "--json")...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func TestCLIConversationFlow(t *testing.T) {
	dir := setupEnv(t)

	var c response.SlimChat
	runJSON(t, &c, "chats", "create", "Weekly", "plans")
	assert.Equal(t, "Weekly plans", c.Title)
	chatID := strconv.FormatInt(c.ID, 10)

	var sent []response.SlimMessage
	runJSON(t, &sent, "messages", "send", chatID, "Hi")
	require.Len(t, sent, 1)
	hiID := strconv.FormatInt(sent[0].ID, 10)

	runJSON(t, &sent, "messages", "send", chatID, "Hello", "--role", "assistant")
	require.Len(t, sent, 1)
	helloID := sent[0].ID

	var edit struct {
		Message   response.SlimMessage `json:"message"`
		Truncated []int64              `json:"truncated"`
	}
	runJSON(t, &edit, "messages", "edit", hiID, "Hi", "there")
	assert.Equal(t, "Hi there", edit.Message.Content)
	assert.Equal(t, []int64{helloID}, edit.Truncated)

	var listed []response.SlimMessage
	runJSON(t, &listed, "messages", "list", chatID)
	require.Len(t, listed, 1)
	assert.Equal(t, "Hi there", listed[0].Content)

	out, err := run(t, "chats", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Weekly plans")

	snapshot := filepath.Join(dir, "snap.json")
	_, err = run(t, "export", "-o", snapshot)
	require.NoError(t, err)

	_, err = run(t, "chats", "delete", chatID)
	require.NoError(t, err)
	var chats []response.SlimChat
	runJSON(t, &chats, "chats", "list")
	assert.Empty(t, chats)

	_, err = run(t, "import", snapshot)
	require.NoError(t, err)
	runJSON(t, &chats, "chats", "list")
	require.Len(t, chats, 1)
	assert.Equal(t, c.ID, chats[0].ID)
}

func TestCLIAttachFile(t *testing.T) {
	dir := setupEnv(t)

	var c response.SlimChat
	runJSON(t, &c, "chats", "create")
	assert.Equal(t, chat.DefaultTitle, c.Title)

	path := filepath.Join(dir, "data.json")
	require.NoError(t, writeOutput(io.Discard, path, []byte(`{"a":1}`)))

	var sent []response.SlimMessage
	runJSON(t, &sent, "messages", "send", strconv.FormatInt(c.ID, 10), "see", "file", "-f", path)
	require.Len(t, sent, 1)
	require.Len(t, sent[0].Attachments, 1)
	assert.Equal(t, "data.json", sent[0].Attachments[0].FileName)

	var shown response.SlimMessage
	runJSON(t, &shown, "messages", "show", strconv.FormatInt(sent[0].ID, 10))
	assert.JSONEq(t, `{"a":1}`, string(shown.Attachments[0].Data))

	var removed map[string]int64
	runJSON(t, &removed, "attach", "remove", strconv.FormatInt(sent[0].ID, 10), "data.json")
	assert.EqualValues(t, 1, removed["removed"])
}

func TestCLIErrors(t *testing.T) {
	setupEnv(t)

	var c response.SlimChat
	runJSON(t, &c, "chats", "create", "x")
	chatID := strconv.FormatInt(c.ID, 10)
	_, err := run(t, "messages", "send", chatID, "hi")
	require.NoError(t, err)

	_, err = run(t, "reply", chatID)
	assert.ErrorIs(t, err, chat.ErrNoResponder)

	_, err = run(t, "messages", "clear")
	assert.ErrorContains(t, err, "--yes")

	_, err = run(t, "chats", "delete", "abc")
	assert.ErrorContains(t, err, "invalid chat id")

	_, err = run(t, "messages", "list")
	assert.Error(t, err)
}

func TestCLIMetrics(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "chats", "create", "counted")
	require.NoError(t, err)

	out, err := run(t, "metrics")
	require.NoError(t, err)
	assert.Contains(t, out, "# TYPE convstore_mutations_total counter")
	assert.Contains(t, out, `convstore_mutations_total{operation="create_chat",outcome="success"}`)

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"chats", "list", "--metrics"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, stdout.String(), "counted")
	assert.Contains(t, stderr.String(), `convstore_cache_lookups_total{result="miss"}`)
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	catalog "github.com/aleck31/aibox/internal/models"
	"github.com/aleck31/aibox/internal/providers"
	"github.com/aleck31/aibox/pkg/models"
)

func msg(role models.Role, content string) *models.Message {
	return &models.Message{Role: role, Content: content}
}

func TestPrepareHistoryMergesRuns(t *testing.T) {
	msgs := []*models.Message{
		msg(models.RoleUser, "first"),
		msg(models.RoleUser, "second"),
		msg(models.RoleAssistant, "reply"),
		msg(models.RoleSystem, "ignored"),
		msg(models.RoleUser, "third"),
	}

	turns := PrepareHistory(msgs, 0)
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3: %+v", len(turns), turns)
	}
	if turns[0].Text != "first\nsecond" {
		t.Errorf("merged turn = %q", turns[0].Text)
	}
	if turns[1].Role != models.RoleAssistant || turns[2].Text != "third" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestPrepareHistoryWindow(t *testing.T) {
	var msgs []*models.Message
	for i := 0; i < 10; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs = append(msgs, msg(role, strings.Repeat("x", i+1)))
	}

	turns := PrepareHistory(msgs, 4)
	if len(turns) != 4 {
		t.Fatalf("got %d turns, want 4", len(turns))
	}
	if turns[0].Role != models.RoleUser {
		t.Errorf("window should start on a user turn, got %s", turns[0].Role)
	}
}

func TestPrepareHistoryDropsLeadingAssistant(t *testing.T) {
	msgs := []*models.Message{
		msg(models.RoleUser, "q1"),
		msg(models.RoleAssistant, "a1"),
		msg(models.RoleUser, "q2"),
		msg(models.RoleAssistant, "a2"),
	}

	// A window of 3 would start on an assistant turn; it must shrink
	// until a user turn leads.
	turns := PrepareHistory(msgs, 3)
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2: %+v", len(turns), turns)
	}
	if turns[0].Text != "q2" {
		t.Errorf("first turn = %q", turns[0].Text)
	}
}

func TestPrepareHistoryEmpty(t *testing.T) {
	if turns := PrepareHistory(nil, 10); len(turns) != 0 {
		t.Errorf("nil input produced %d turns", len(turns))
	}
	only := []*models.Message{msg(models.RoleAssistant, "orphan")}
	if turns := PrepareHistory(only, 10); len(turns) != 0 {
		t.Errorf("assistant-only input produced %d turns", len(turns))
	}
}

// chatAdapter replays one scripted stream for every call.
type chatAdapter struct {
	chunks   []*providers.StreamChunk
	requests []*providers.Request
}

func (a *chatAdapter) Name() catalog.APIProvider { return catalog.ProviderAnthropic }

func (a *chatAdapter) Generate(ctx context.Context, req *providers.Request) (string, error) {
	ch, err := a.GenerateStream(ctx, req)
	if err != nil {
		return "", err
	}
	return providers.Collect(ch)
}

func (a *chatAdapter) GenerateStream(_ context.Context, req *providers.Request) (<-chan *providers.StreamChunk, error) {
	a.requests = append(a.requests, req)
	out := make(chan *providers.StreamChunk, len(a.chunks))
	for _, c := range a.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func newTestChat(adapter providers.Adapter) *ChatService {
	registry := providers.NewRegistry()
	registry.Register(adapter)
	return NewChatService(newTestBase(), registry)
}

func TestChatStreamPersistsOnce(t *testing.T) {
	ctx := context.Background()
	adapter := &chatAdapter{chunks: []*providers.StreamChunk{
		{Text: "Hello, "},
		{Text: "Alice."},
		{Usage: &providers.Usage{InputTokens: 12, OutputTokens: 4}},
	}}
	chat := newTestChat(adapter)

	sess, err := chat.GetOrCreateSession(ctx, "alice", "chatbot")
	if err != nil {
		t.Fatal(err)
	}

	stream, err := chat.StreamReply(ctx, sess, "hi", nil)
	if err != nil {
		t.Fatalf("StreamReply: %v", err)
	}

	var text strings.Builder
	var meta map[string]any
	for chunk := range stream {
		text.WriteString(chunk.Text)
		if chunk.Metadata != nil {
			meta = chunk.Metadata
		}
	}
	if text.String() != "Hello, Alice." {
		t.Errorf("reply = %q", text.String())
	}
	if meta["model_id"] != "claude-sonnet" || meta["output_tokens"] != 4 {
		t.Errorf("metadata = %v", meta)
	}

	msgs, err := chat.store.GetMessages(ctx, sess.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[1].Content != "Hello, Alice." {
		t.Errorf("assistant message = %q", msgs[1].Content)
	}
}

func TestChatStreamCloudSyncOff(t *testing.T) {
	ctx := context.Background()
	adapter := &chatAdapter{chunks: []*providers.StreamChunk{{Text: "ok"}}}

	registry := providers.NewRegistry()
	registry.Register(adapter)
	openaiAdapter := &chatAdapter{chunks: []*providers.StreamChunk{{Text: "ok"}}}
	registry.Register(fakeOpenAI{openaiAdapter})
	chat := NewChatService(newTestBase(), registry)

	// The agent module has cloud sync disabled.
	sess, err := chat.GetOrCreateSession(ctx, "alice", "agent")
	if err != nil {
		t.Fatal(err)
	}

	stream, err := chat.StreamReply(ctx, sess, "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	for range stream {
	}

	msgs, err := chat.store.GetMessages(ctx, sess.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("cloud sync off, but %d messages persisted", len(msgs))
	}
}

// fakeOpenAI rebrands a chatAdapter under the OpenAI provider name.
type fakeOpenAI struct{ *chatAdapter }

func (fakeOpenAI) Name() catalog.APIProvider { return catalog.ProviderOpenAI }

func TestChatStreamErrorSkipsPersistence(t *testing.T) {
	ctx := context.Background()
	adapter := &chatAdapter{chunks: []*providers.StreamChunk{
		{Text: "partial"},
		{Err: errors.New("upstream exploded")},
	}}
	chat := newTestChat(adapter)

	sess, err := chat.GetOrCreateSession(ctx, "alice", "chatbot")
	if err != nil {
		t.Fatal(err)
	}

	stream, err := chat.StreamReply(ctx, sess, "hi", nil)
	if err != nil {
		t.Fatal(err)
	}

	var last *models.Chunk
	for chunk := range stream {
		last = chunk
	}
	if last == nil || !strings.HasPrefix(last.Text, "Error: ") {
		t.Fatalf("last chunk = %+v", last)
	}
	if _, ok := last.Metadata["error"]; !ok {
		t.Error("error chunk should carry error metadata")
	}

	msgs, err := chat.store.GetMessages(ctx, sess.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("failed turn persisted %d messages", len(msgs))
	}
}

func TestChatStreamSendsHistory(t *testing.T) {
	ctx := context.Background()
	adapter := &chatAdapter{chunks: []*providers.StreamChunk{{Text: "again"}}}
	chat := newTestChat(adapter)

	sess, err := chat.GetOrCreateSession(ctx, "alice", "chatbot")
	if err != nil {
		t.Fatal(err)
	}

	for _, turn := range []string{"first", "second"} {
		stream, err := chat.StreamReply(ctx, sess, turn, nil)
		if err != nil {
			t.Fatal(err)
		}
		for range stream {
		}
	}

	// The second request sees the persisted first exchange plus the new
	// user turn.
	req := adapter.requests[1]
	if len(req.Turns) != 3 {
		t.Fatalf("second request carried %d turns, want 3", len(req.Turns))
	}
	if req.Turns[0].Text != "first" || req.Turns[1].Text != "again" || req.Turns[2].Text != "second" {
		t.Errorf("turns = %+v", req.Turns)
	}
}

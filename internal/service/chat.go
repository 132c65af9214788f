package service

import (
	"context"
	"strings"
	"time"

	"github.com/aleck31/aibox/internal/observability"
	"github.com/aleck31/aibox/internal/providers"
	"github.com/aleck31/aibox/pkg/models"
)

// defaultHistoryWindow bounds how many stored messages feed a chat turn.
const defaultHistoryWindow = 24

// ChatService runs stateless multi-turn chat: history is rebuilt from
// the store on every turn rather than held in a live handle.
type ChatService struct {
	*BaseService
	adapters      *providers.Registry
	historyWindow int
}

// NewChatService wires the chat service.
func NewChatService(base *BaseService, adapters *providers.Registry) *ChatService {
	return &ChatService{
		BaseService:   base,
		adapters:      adapters,
		historyWindow: defaultHistoryWindow,
	}
}

// PrepareHistory shapes stored messages for a provider request:
// consecutive same-role messages merge into one turn, the window keeps
// only the newest entries, and the result always starts with a user
// turn so every provider accepts it.
func PrepareHistory(msgs []*models.Message, window int) []providers.Turn {
	var merged []providers.Turn
	for _, m := range msgs {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].Role == m.Role {
			merged[n-1].Text += "\n" + m.Content
			merged[n-1].Files = append(merged[n-1].Files, m.Files...)
			continue
		}
		merged = append(merged, providers.Turn{Role: m.Role, Text: m.Content, Files: m.Files})
	}

	if window > 0 && len(merged) > window {
		merged = merged[len(merged)-window:]
	}
	// Drop leading assistant turns left over from truncation.
	for len(merged) > 0 && merged[0].Role != models.RoleUser {
		merged = merged[1:]
	}
	return merged
}

// StreamReply runs one chat turn for the session and streams the
// assistant reply. When the session's cloud sync flag is on, the turn
// is persisted exactly once after the stream drains; with the flag off
// nothing is written.
func (s *ChatService) StreamReply(ctx context.Context, sess *models.Session, text string, files []models.FileRef) (<-chan *models.Chunk, error) {
	model, err := s.GetSessionModel(ctx, sess)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters.For(model)
	if err != nil {
		return nil, err
	}

	stored, err := s.LoadHistory(ctx, sess, 0)
	if err != nil {
		return nil, err
	}
	history := PrepareHistory(stored, s.historyWindow)

	stream, err := providers.MultiTurn(ctx, adapter, model, s.systemPrompt(sess), text, files, history, model.MaxTokens)
	if err != nil {
		return nil, err
	}

	out := make(chan *models.Chunk)
	go func() {
		defer close(out)
		start := time.Now()

		var reply strings.Builder
		var usage *providers.Usage
		failed := false

		for chunk := range stream {
			if chunk.Err != nil {
				failed = true
				pe := providers.Classify(string(adapter.Name()), chunk.Err)
				observability.ProviderErrors.WithLabelValues(pe.Provider, string(pe.Reason)).Inc()
				s.logger.Error("chat turn failed", "session_id", sess.ID, "error", chunk.Err)
				out <- &models.Chunk{
					Text:     "Error: " + chunk.Err.Error(),
					Metadata: map[string]any{"error": chunk.Err.Error()},
				}
				break
			}
			if chunk.Text != "" {
				reply.WriteString(chunk.Text)
				observability.CountChunk("text")
				out <- &models.Chunk{Text: chunk.Text}
			}
			if chunk.Thinking != "" {
				observability.CountChunk("thinking")
				out <- &models.Chunk{Thinking: chunk.Thinking}
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
		}

		if !failed {
			meta := map[string]any{"model_id": model.ID}
			if usage != nil {
				meta["input_tokens"] = usage.InputTokens
				meta["output_tokens"] = usage.OutputTokens
			}
			observability.CountChunk("metadata")
			out <- &models.Chunk{Metadata: meta}

			s.saveTurn(ctx, sess, text, files, reply.String(), nil)
		}

		observability.TurnDuration.WithLabelValues(sess.Module, "chat").
			Observe(time.Since(start).Seconds())
	}()
	return out, nil
}

// Reply runs a turn without streaming and returns the full text.
func (s *ChatService) Reply(ctx context.Context, sess *models.Session, text string, files []models.FileRef) (string, error) {
	stream, err := s.StreamReply(ctx, sess, text, files)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range stream {
		sb.WriteString(chunk.Text)
	}
	return sb.String(), nil
}

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aleck31/aibox/internal/models"
	pkgmodels "github.com/aleck31/aibox/pkg/models"
)

// OpenAIAdapter streams completions from the OpenAI chat API.
//
// OpenAI-specific quirks handled here:
//   - the system prompt is the first message, not a separate field
//   - tool calls stream incrementally and are accumulated by index
//   - each tool result becomes its own "tool" role message
type OpenAIAdapter struct {
	client *openai.Client
}

// NewOpenAIAdapter builds the adapter. An empty API key defers the
// error until the first request.
func NewOpenAIAdapter(apiKey string) *OpenAIAdapter {
	if apiKey == "" {
		return &OpenAIAdapter{}
	}
	return &OpenAIAdapter{client: openai.NewClient(apiKey)}
}

func (a *OpenAIAdapter) Name() models.APIProvider { return models.ProviderOpenAI }

func (a *OpenAIAdapter) Generate(ctx context.Context, req *Request) (string, error) {
	ch, err := a.GenerateStream(ctx, req)
	if err != nil {
		return "", err
	}
	return Collect(ch)
}

func (a *OpenAIAdapter) GenerateStream(ctx context.Context, req *Request) (<-chan *StreamChunk, error) {
	if a.client == nil {
		return nil, errors.New("openai: API key not configured")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model.ID,
		Messages: toOpenAIMessages(req),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, Classify("openai", err)
	}

	chunks := make(chan *StreamChunk)
	go a.pump(stream, chunks)
	return chunks, nil
}

func (a *OpenAIAdapter) pump(stream *openai.ChatCompletionStream, chunks chan<- *StreamChunk) {
	defer close(chunks)
	defer stream.Close()

	// Tool call fragments accumulate by choice index until the finish
	// reason says they are complete.
	pending := map[int]*ToolCall{}
	order := []int{}
	var usage *Usage

	flushCalls := func(stop string) {
		final := &StreamChunk{StopReason: stop}
		for _, idx := range order {
			tc := pending[idx]
			if tc.Name == "" {
				continue
			}
			if tc.Arguments == "" {
				tc.Arguments = "{}"
			}
			final.ToolCalls = append(final.ToolCalls, *tc)
		}
		final.Usage = usage
		chunks <- final
		pending = map[int]*ToolCall{}
		order = order[:0]
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(pending) > 0 {
					flushCalls(StopToolUse)
				}
				return
			}
			chunks <- &StreamChunk{Err: Classify("openai", err)}
			return
		}

		if resp.Usage != nil {
			usage = &Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &StreamChunk{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if pending[idx] == nil {
				pending[idx] = &ToolCall{}
				order = append(order, idx)
			}
			if tc.ID != "" {
				pending[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[idx].Name = tc.Function.Name
			}
			pending[idx].Arguments += tc.Function.Arguments
		}

		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			flushCalls(StopToolUse)
		case openai.FinishReasonStop:
			flushCalls(StopEndTurn)
		case openai.FinishReasonLength:
			flushCalls(StopMaxTokens)
		}
	}
}

func toOpenAIMessages(req *Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, t := range req.Turns {
		switch t.Role {
		case pkgmodels.RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: withFileNotes(t),
			})
		case pkgmodels.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: t.Text,
			}
			for _, call := range t.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			out = append(out, msg)
		case pkgmodels.RoleTool:
			for _, res := range t.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    res.Content,
					ToolCallID: res.ID,
				})
			}
		}
	}
	return out
}

func toOpenAITools(specs []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		var params any
		if err := json.Unmarshal(spec.Schema, &params); err != nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

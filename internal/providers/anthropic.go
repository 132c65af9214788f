package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aleck31/aibox/internal/models"
	pkgmodels "github.com/aleck31/aibox/pkg/models"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicAdapter streams completions from the Anthropic Messages API.
// The system prompt is a separate field, thinking arrives as its own
// block type, and tool input streams as partial JSON.
type AnthropicAdapter struct {
	client anthropic.Client
	ready  bool
}

// NewAnthropicAdapter builds the adapter. baseURL may be empty.
func NewAnthropicAdapter(apiKey, baseURL string) *AnthropicAdapter {
	if apiKey == "" {
		return &AnthropicAdapter{}
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicAdapter{client: anthropic.NewClient(opts...), ready: true}
}

func (a *AnthropicAdapter) Name() models.APIProvider { return models.ProviderAnthropic }

func (a *AnthropicAdapter) Generate(ctx context.Context, req *Request) (string, error) {
	ch, err := a.GenerateStream(ctx, req)
	if err != nil {
		return "", err
	}
	return Collect(ch)
}

func (a *AnthropicAdapter) GenerateStream(ctx context.Context, req *Request) (<-chan *StreamChunk, error) {
	if !a.ready {
		return nil, errors.New("anthropic: API key not configured")
	}

	messages, err := toAnthropicMessages(req.Turns)
	if err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = req.Model.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model.ID),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := toAnthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	if req.Model.Has(models.CapThinking) {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(10000)
	}

	stream := a.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan *StreamChunk)
	go func() {
		defer close(chunks)

		var (
			calls     []ToolCall
			current   *ToolCall
			toolInput strings.Builder
			usage     Usage
			stop      = StopEndTurn
		)

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				usage.InputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)

			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					tu := block.AsToolUse()
					current = &ToolCall{ID: tu.ID, Name: tu.Name}
					toolInput.Reset()
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						chunks <- &StreamChunk{Text: delta.Text}
					}
				case "thinking_delta":
					if delta.Thinking != "" {
						chunks <- &StreamChunk{Thinking: delta.Thinking}
					}
				case "input_json_delta":
					toolInput.WriteString(delta.PartialJSON)
				}

			case "content_block_stop":
				if current != nil {
					current.Arguments = toolInput.String()
					if current.Arguments == "" {
						current.Arguments = "{}"
					}
					calls = append(calls, *current)
					current = nil
				}

			case "message_delta":
				md := event.AsMessageDelta()
				if md.Usage.OutputTokens > 0 {
					usage.OutputTokens = int(md.Usage.OutputTokens)
				}
				if md.Delta.StopReason == "tool_use" {
					stop = StopToolUse
				} else if md.Delta.StopReason == "max_tokens" {
					stop = StopMaxTokens
				}

			case "message_stop":
				chunks <- &StreamChunk{
					StopReason: stop,
					ToolCalls:  calls,
					Usage:      &usage,
				}
				return
			}
		}

		if err := stream.Err(); err != nil {
			chunks <- &StreamChunk{Err: Classify("anthropic", err)}
		}
	}()
	return chunks, nil
}

func toAnthropicMessages(turns []Turn) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, t := range turns {
		var content []anthropic.ContentBlockParamUnion

		switch t.Role {
		case pkgmodels.RoleUser:
			content = append(content, anthropic.NewTextBlock(withFileNotes(t)))
			out = append(out, anthropic.NewUserMessage(content...))

		case pkgmodels.RoleAssistant:
			if t.Text != "" {
				content = append(content, anthropic.NewTextBlock(t.Text))
			}
			for _, call := range t.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
					return nil, fmt.Errorf("anthropic: invalid tool input for %s: %w", call.Name, err)
				}
				content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(content...))

		case pkgmodels.RoleTool:
			for _, res := range t.ToolResults {
				content = append(content, anthropic.NewToolResultBlock(res.ID, res.Content, res.IsError))
			}
			// Tool results go back as a user message.
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func toAnthropicTools(specs []ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for tool %s: %w", spec.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: bad tool definition for %s", spec.Name)
		}
		param.OfTool.Description = anthropic.String(spec.Description)
		out = append(out, param)
	}
	return out, nil
}

// Package providers contains the LLM adapters. Each adapter translates
// the shared request shape into one vendor API and streams back a
// uniform chunk channel.
package providers

import (
	"context"
	"encoding/json"

	"github.com/aleck31/aibox/internal/models"
	pkgmodels "github.com/aleck31/aibox/pkg/models"
)

// ToolSpec declares a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage // JSON Schema for the input object
}

// ToolCall is a tool invocation requested by the model. Arguments is
// the raw JSON argument object as streamed by the provider.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolResult feeds a tool outcome back into the conversation.
type ToolResult struct {
	ID      string
	Name    string
	Content string
	IsError bool
}

// Turn is one conversation step in provider-neutral form. A turn
// carries either text, tool calls (assistant), or tool results (tool
// role), matching what each vendor API expects per message.
type Turn struct {
	Role        pkgmodels.Role
	Text        string
	Files       []pkgmodels.FileRef
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Request is the provider-neutral completion request.
type Request struct {
	Model       *models.Model
	System      string
	Turns       []Turn
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float32
}

// Usage reports token consumption for a completed stream.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StreamChunk is one unit from an adapter stream. Text and Thinking
// arrive incrementally; ToolCalls arrive complete on the final chunk of
// an assistant turn that requests tools. A terminal error is delivered
// in Err on the last chunk before close.
type StreamChunk struct {
	Text       string
	Thinking   string
	ToolCalls  []ToolCall
	StopReason string
	Usage      *Usage
	Err        error
}

// Stop reasons normalized across vendors.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Adapter is implemented by each vendor integration.
type Adapter interface {
	// Name identifies the vendor for logs and error classification.
	Name() models.APIProvider

	// Generate runs a non-streaming completion and returns the full
	// assistant text.
	Generate(ctx context.Context, req *Request) (string, error)

	// GenerateStream starts a streaming completion. The channel is
	// closed when the turn ends; a terminal failure arrives as a chunk
	// with Err set.
	GenerateStream(ctx context.Context, req *Request) (<-chan *StreamChunk, error)
}

// MultiTurn builds a Request from the latest user input plus prior
// history and streams the reply.
func MultiTurn(ctx context.Context, a Adapter, model *models.Model, system, text string, files []pkgmodels.FileRef, history []Turn, maxTokens int) (<-chan *StreamChunk, error) {
	turns := make([]Turn, 0, len(history)+1)
	turns = append(turns, history...)
	turns = append(turns, Turn{Role: pkgmodels.RoleUser, Text: text, Files: files})
	return a.GenerateStream(ctx, &Request{
		Model:     model,
		System:    system,
		Turns:     turns,
		MaxTokens: maxTokens,
	})
}

// Collect drains a stream into the final text, for callers that do not
// need incremental output.
func Collect(ch <-chan *StreamChunk) (string, error) {
	var sb []byte
	for chunk := range ch {
		if chunk.Err != nil {
			return string(sb), chunk.Err
		}
		sb = append(sb, chunk.Text...)
	}
	return string(sb), nil
}

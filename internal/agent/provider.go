package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	catalog "github.com/aleck31/aibox/internal/models"
	"github.com/aleck31/aibox/internal/observability"
	"github.com/aleck31/aibox/internal/providers"
	"github.com/aleck31/aibox/internal/tools"
	"github.com/aleck31/aibox/pkg/models"
)

const defaultMaxIterations = 10

// Provider is the local agent: a reasoning loop that streams from a
// provider adapter, executes requested tools, and feeds results back
// until the model stops asking for them.
type Provider struct {
	adapters *providers.Registry
	tools    *tools.Provider
	toolCfg  tools.Config
	system   string
	maxIters int
	logger   *slog.Logger

	mu      sync.Mutex
	model   *catalog.Model
	history []providers.Turn
}

// ProviderOpts configures a local agent.
type ProviderOpts struct {
	Model         *catalog.Model
	Adapters      *providers.Registry
	Tools         *tools.Provider
	ToolConfig    tools.Config
	System        string
	MaxIterations int
	Logger        *slog.Logger

	// Seed preloads conversation history, newest last.
	Seed []*models.Message
}

// NewProvider builds a local agent handle.
func NewProvider(opts ProviderOpts) *Provider {
	if opts.MaxIterations == 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Provider{
		adapters: opts.Adapters,
		tools:    opts.Tools,
		toolCfg:  opts.ToolConfig,
		system:   opts.System,
		maxIters: opts.MaxIterations,
		logger:   opts.Logger.With("component", "agent"),
		model:    opts.Model,
	}
	for _, m := range opts.Seed {
		if m.Role == models.RoleUser || m.Role == models.RoleAssistant {
			p.history = append(p.history, providers.Turn{
				Role: m.Role, Text: m.Content, Files: m.Files,
			})
		}
	}
	return p
}

// UpdateModel swaps the model in place; the next turn uses it.
func (p *Provider) UpdateModel(m *catalog.Model) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = m
}

// ReloadTools refreshes the aggregated tool sources.
func (p *Provider) ReloadTools(ctx context.Context) error {
	if p.tools == nil {
		return nil
	}
	return p.tools.Reload(ctx)
}

// History returns the user and assistant turns accumulated so far.
func (p *Provider) History() []models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Message
	for _, t := range p.history {
		if t.Role != models.RoleUser && t.Role != models.RoleAssistant {
			continue
		}
		if t.Text == "" {
			continue
		}
		out = append(out, models.Message{Role: t.Role, Content: t.Text, Files: t.Files})
	}
	return out
}

// Destroy drops the accumulated history.
func (p *Provider) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
}

// Stream runs one turn of the reasoning loop.
func (p *Provider) Stream(ctx context.Context, in *Input) (<-chan *models.Chunk, error) {
	p.mu.Lock()
	model := p.model
	p.mu.Unlock()
	if model == nil {
		return nil, fmt.Errorf("agent has no model")
	}

	adapter, err := p.adapters.For(model)
	if err != nil {
		return nil, err
	}

	out := make(chan *models.Chunk)
	go func() {
		defer close(out)
		p.run(ctx, adapter, in, out)
	}()
	return out, nil
}

func (p *Provider) run(ctx context.Context, adapter providers.Adapter, in *Input, out chan<- *models.Chunk) {
	p.mu.Lock()
	p.history = append(p.history, providers.Turn{
		Role: models.RoleUser, Text: in.Text, Files: in.Files,
	})
	p.mu.Unlock()

	specs := p.toolSpecs()
	var totalUsage providers.Usage

	for iter := 0; iter < p.maxIters; iter++ {
		p.mu.Lock()
		model := p.model
		turns := append([]providers.Turn(nil), p.history...)
		p.mu.Unlock()

		req := &providers.Request{
			Model:  model,
			System: p.system,
			Turns:  turns,
			Tools:  specs,
		}

		stream, err := adapter.GenerateStream(ctx, req)
		if err != nil {
			p.failProvider(out, adapter, err)
			return
		}

		var (
			text  strings.Builder
			calls []providers.ToolCall
		)
		for chunk := range stream {
			if chunk.Err != nil {
				p.failProvider(out, adapter, chunk.Err)
				return
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				observability.CountChunk("text")
				out <- &models.Chunk{Text: chunk.Text}
			}
			if chunk.Thinking != "" {
				observability.CountChunk("thinking")
				out <- &models.Chunk{Thinking: chunk.Thinking}
			}
			if len(chunk.ToolCalls) > 0 {
				calls = append(calls, chunk.ToolCalls...)
			}
			if chunk.Usage != nil {
				totalUsage.InputTokens += chunk.Usage.InputTokens
				totalUsage.OutputTokens += chunk.Usage.OutputTokens
			}
		}

		p.mu.Lock()
		p.history = append(p.history, providers.Turn{
			Role: models.RoleAssistant, Text: text.String(), ToolCalls: calls,
		})
		p.mu.Unlock()

		if len(calls) == 0 {
			observability.CountChunk("metadata")
			out <- &models.Chunk{Metadata: map[string]any{
				"input_tokens":  totalUsage.InputTokens,
				"output_tokens": totalUsage.OutputTokens,
				"iterations":    iter + 1,
			}}
			return
		}

		results := p.executeCalls(ctx, calls, out)
		p.mu.Lock()
		p.history = append(p.history, providers.Turn{
			Role: models.RoleTool, ToolResults: results,
		})
		p.mu.Unlock()
	}

	p.fail(out, fmt.Errorf("agent exceeded %d iterations", p.maxIters))
}

// executeCalls runs each requested tool, emitting the running and
// terminal tool_use chunks plus any produced files.
func (p *Provider) executeCalls(ctx context.Context, calls []providers.ToolCall, out chan<- *models.Chunk) []providers.ToolResult {
	results := make([]providers.ToolResult, 0, len(calls))
	for _, call := range calls {
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		params := parseToolParams(call.Arguments)

		observability.CountChunk("tool_use")
		out <- &models.Chunk{ToolUse: &models.ToolUse{
			ID:     call.ID,
			Name:   call.Name,
			Params: params,
			Status: models.ToolRunning,
		}}

		result, err := p.tools.Execute(ctx, call.Name, params)
		if err != nil {
			p.logger.Warn("tool execution failed", "tool", call.Name, "error", err)
			observability.ToolCalls.WithLabelValues(call.Name, "failed").Inc()
			out <- &models.Chunk{ToolUse: &models.ToolUse{
				ID:     call.ID,
				Name:   call.Name,
				Params: params,
				Status: models.ToolFailed,
				Result: err.Error(),
			}}
			results = append(results, providers.ToolResult{
				ID: call.ID, Name: call.Name,
				Content: "Error: " + err.Error(), IsError: true,
			})
			continue
		}

		observability.ToolCalls.WithLabelValues(call.Name, "completed").Inc()
		out <- &models.Chunk{ToolUse: &models.ToolUse{
			ID:     call.ID,
			Name:   call.Name,
			Params: params,
			Status: models.ToolCompleted,
			Result: result,
		}}

		if files := extractFiles(result); len(files) > 0 {
			observability.CountChunk("files")
			out <- &models.Chunk{Files: files}
		}

		results = append(results, providers.ToolResult{
			ID: call.ID, Name: call.Name, Content: result,
		})
	}
	return results
}

// toolSpecs resolves the tool declarations for the current model. A
// model without tool support runs toolless.
func (p *Provider) toolSpecs() []providers.ToolSpec {
	p.mu.Lock()
	model := p.model
	p.mu.Unlock()

	if p.tools == nil || model == nil || !model.SupportsTools() {
		return nil
	}
	set := p.tools.ForAgent(p.toolCfg)
	specs := make([]providers.ToolSpec, len(set))
	for i, t := range set {
		specs[i] = providers.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		}
	}
	return specs
}

func (p *Provider) fail(out chan<- *models.Chunk, err error) {
	p.logger.Error("agent turn failed", "error", err)
	observability.CountChunk("metadata")
	out <- errorChunk(err)
}

// failProvider records the classified provider failure before ending
// the turn.
func (p *Provider) failProvider(out chan<- *models.Chunk, adapter providers.Adapter, err error) {
	pe := providers.Classify(string(adapter.Name()), err)
	observability.ProviderErrors.WithLabelValues(pe.Provider, string(pe.Reason)).Inc()
	p.fail(out, err)
}

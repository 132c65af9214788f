package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/aleck31/aibox/internal/models"
	pkgmodels "github.com/aleck31/aibox/pkg/models"
)

// GeminiAdapter streams completions from the Gemini API. Function
// calls arrive whole (not as deltas) and carry no IDs, so IDs are
// generated locally to keep tool plumbing uniform.
type GeminiAdapter struct {
	client *genai.Client
}

// NewGeminiAdapter builds the adapter against the Gemini API backend.
func NewGeminiAdapter(ctx context.Context, apiKey string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return &GeminiAdapter{}, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiAdapter{client: client}, nil
}

func (a *GeminiAdapter) Name() models.APIProvider { return models.ProviderGemini }

func (a *GeminiAdapter) Generate(ctx context.Context, req *Request) (string, error) {
	ch, err := a.GenerateStream(ctx, req)
	if err != nil {
		return "", err
	}
	return Collect(ch)
}

func (a *GeminiAdapter) GenerateStream(ctx context.Context, req *Request) (<-chan *StreamChunk, error) {
	if a.client == nil {
		return nil, errors.New("gemini: API key not configured")
	}

	contents := toGeminiContents(req.Turns)
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		cfg.Temperature = &temp
	}
	if len(req.Tools) > 0 {
		cfg.Tools = toGeminiTools(req.Tools)
	}

	chunks := make(chan *StreamChunk)
	go func() {
		defer close(chunks)

		var calls []ToolCall
		var usage *Usage

		for resp, err := range a.client.Models.GenerateContentStream(ctx, req.Model.ID, contents, cfg) {
			if err != nil {
				chunks <- &StreamChunk{Err: Classify("gemini", err)}
				return
			}
			if resp == nil {
				continue
			}
			if resp.UsageMetadata != nil {
				usage = &Usage{
					InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}
			}
			for _, cand := range resp.Candidates {
				if cand == nil || cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						if part.Thought {
							chunks <- &StreamChunk{Thinking: part.Text}
						} else {
							chunks <- &StreamChunk{Text: part.Text}
						}
					}
					if part.FunctionCall != nil {
						args, err := json.Marshal(part.FunctionCall.Args)
						if err != nil {
							args = []byte("{}")
						}
						calls = append(calls, ToolCall{
							ID:        geminiCallID(part.FunctionCall.Name),
							Name:      part.FunctionCall.Name,
							Arguments: string(args),
						})
					}
				}
			}
		}

		stop := StopEndTurn
		if len(calls) > 0 {
			stop = StopToolUse
		}
		chunks <- &StreamChunk{StopReason: stop, ToolCalls: calls, Usage: usage}
	}()
	return chunks, nil
}

func geminiCallID(name string) string {
	return name + "-" + uuid.NewString()[:8]
}

func toGeminiContents(turns []Turn) []*genai.Content {
	var out []*genai.Content
	for _, t := range turns {
		content := &genai.Content{}
		switch t.Role {
		case pkgmodels.RoleUser:
			content.Role = genai.RoleUser
			content.Parts = append(content.Parts, &genai.Part{Text: withFileNotes(t)})
		case pkgmodels.RoleAssistant:
			content.Role = genai.RoleModel
			if t.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: t.Text})
			}
			for _, call := range t.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: call.Name, Args: args},
				})
			}
		case pkgmodels.RoleTool:
			content.Role = genai.RoleUser
			for _, res := range t.ToolResults {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     res.Name,
						Response: map[string]any{"result": res.Content},
					},
				})
			}
		}
		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}

func toGeminiTools(specs []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		var schemaMap map[string]any
		if err := json.Unmarshal(spec.Schema, &schemaMap); err != nil {
			continue
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  toGeminiSchema(schemaMap),
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = map[string]*genai.Schema{}
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

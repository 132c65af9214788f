// Package tools aggregates every tool source the agent can call:
// legacy function tools, the builtin toolkit, and MCP server tools.
package tools

import (
	"context"
	"encoding/json"
)

// Tool is one callable tool, whatever its origin.
type Tool interface {
	// Name is the fully qualified tool name. MCP tools are namespaced
	// as "server:tool"; local tools use their bare name.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema is the JSON Schema for the argument object.
	Schema() json.RawMessage

	// Execute runs the tool and returns its textual result.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// FuncTool adapts a plain Go function into a Tool.
type FuncTool struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(ctx context.Context, args map[string]any) (string, error)
}

// NewFuncTool wraps fn as a Tool.
func NewFuncTool(name, description string, schema json.RawMessage, fn func(ctx context.Context, args map[string]any) (string, error)) *FuncTool {
	return &FuncTool{name: name, description: description, schema: schema, fn: fn}
}

func (t *FuncTool) Name() string             { return t.name }
func (t *FuncTool) Description() string      { return t.description }
func (t *FuncTool) Schema() json.RawMessage  { return t.schema }
func (t *FuncTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.fn(ctx, args)
}

// objectSchema builds a JSON Schema for an object with the given
// properties and required list.
func objectSchema(props map[string]any, required ...string) json.RawMessage {
	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	raw, _ := json.Marshal(doc)
	return raw
}

// stringArg pulls a string argument with a default.
func stringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// floatArg pulls a numeric argument with a default.
func floatArg(args map[string]any, key string, fallback float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

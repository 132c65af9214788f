package mcp

import (
	"context"
	"encoding/json"
)

// Transport moves JSON-RPC messages to and from one MCP server.
type Transport interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Close tears the connection down.
	Close() error

	// Call sends a request and waits for the matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, method string, params any) error

	// Events yields server-pushed notifications.
	Events() <-chan *Notification

	// Connected reports whether the transport is usable.
	Connected() bool
}

// NewTransport builds the transport a server config calls for.
func NewTransport(cfg *ServerConfig) Transport {
	switch cfg.EffectiveType() {
	case TransportStdio:
		return NewStdioTransport(cfg)
	case TransportSSE:
		return NewSSETransport(cfg)
	default:
		return NewHTTPTransport(cfg)
	}
}

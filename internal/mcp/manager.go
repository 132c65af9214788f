package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Manager owns one client per configured server. A server that fails
// to connect leaves the manager degraded, never broken: its tools are
// simply absent until the next reconnect attempt.
type Manager struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	configs map[string]*ServerConfig
}

// NewManager creates a manager for the given server configs. Disabled
// and invalid entries are skipped with a log line.
func NewManager(configs map[string]*ServerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:  logger.With("component", "mcp"),
		clients: map[string]*Client{},
		configs: map[string]*ServerConfig{},
	}
	for name, cfg := range configs {
		if cfg == nil {
			continue
		}
		if cfg.Name == "" {
			cfg.Name = name
		}
		if cfg.Disabled {
			m.logger.Info("mcp server disabled", "server", cfg.Name)
			continue
		}
		if err := cfg.Validate(); err != nil {
			m.logger.Warn("invalid mcp server config", "server", name, "error", err)
			continue
		}
		m.configs[cfg.Name] = cfg
	}
	return m
}

// ConnectAll connects every configured server in parallel. Individual
// failures are logged and skipped; the returned error is only for a
// canceled context.
func (m *Manager) ConnectAll(ctx context.Context) error {
	m.mu.RLock()
	configs := make([]*ServerConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		configs = append(configs, cfg)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, cfg := range configs {
		cfg := cfg
		g.Go(func() error {
			client := NewClient(cfg, m.logger)
			if err := client.Connect(ctx); err != nil {
				m.logger.Warn("mcp server connect failed",
					"server", cfg.Name, "error", err)
				return nil
			}
			m.mu.Lock()
			m.clients[cfg.Name] = client
			m.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// Reload closes all clients and reconnects from the current configs.
func (m *Manager) Reload(ctx context.Context) error {
	m.CloseAll()
	return m.ConnectAll(ctx)
}

// Client returns the connected client for a server name.
func (m *Manager) Client(name string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[name]
	if !ok {
		return nil, fmt.Errorf("mcp server %q not connected", name)
	}
	return c, nil
}

// Servers lists the names of connected servers.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.clients))
	for name := range m.clients {
		out = append(out, name)
	}
	return out
}

// Tools returns every connected server's tools keyed by server name.
func (m *Manager) Tools() map[string][]*ToolDef {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]*ToolDef, len(m.clients))
	for name, client := range m.clients {
		out[name] = client.Tools()
	}
	return out
}

// CallTool routes a call to the named server.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) (*ToolResult, error) {
	client, err := m.Client(server)
	if err != nil {
		return nil, err
	}
	return client.CallTool(ctx, tool, args)
}

// CloseAll disconnects every client.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Warn("mcp client close failed", "server", name, "error", err)
		}
		delete(m.clients, name)
	}
}

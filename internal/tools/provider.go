package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/aleck31/aibox/internal/mcp"
)

// Namespace separator between an MCP server name and its tool.
const nsSep = ":"

// Config filters which tools a given agent sees.
type Config struct {
	Enabled        bool `json:"enabled"`
	IncludeLegacy  bool `json:"include_legacy"`
	IncludeBuiltin bool `json:"include_builtin"`
	IncludeMCP     bool `json:"include_mcp"`

	// Allow restricts the set to these fully qualified names when
	// non-empty.
	Allow []string `json:"allow,omitempty"`
}

// DefaultConfig enables every source with no name filter.
func DefaultConfig() Config {
	return Config{Enabled: true, IncludeLegacy: true, IncludeBuiltin: true, IncludeMCP: true}
}

// Provider aggregates legacy, builtin, and MCP tools behind one
// lookup and execution surface.
type Provider struct {
	legacy  *LegacyRegistry
	builtin []Tool
	manager *mcp.Manager
	logger  *slog.Logger

	mu          sync.Mutex
	initialized bool
	initErr     error
	initDone    chan struct{}
}

// NewProvider wires the three tool sources together. manager may be
// nil when no MCP servers are configured.
func NewProvider(legacy *LegacyRegistry, manager *mcp.Manager, logger *slog.Logger) *Provider {
	if legacy == nil {
		legacy = NewLegacyRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		legacy:  legacy,
		builtin: BuiltinTools(),
		manager: manager,
		logger:  logger.With("component", "tools"),
	}
}

// Initialize connects the MCP servers. It is idempotent: the first
// caller does the work, concurrent callers block until it finishes,
// and later callers return the recorded result immediately. A broken
// server degrades the provider rather than failing it.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.initialized {
		err := p.initErr
		p.mu.Unlock()
		return err
	}
	if p.initDone != nil {
		done := p.initDone
		p.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.mu.Lock()
		err := p.initErr
		p.mu.Unlock()
		return err
	}
	p.initDone = make(chan struct{})
	done := p.initDone
	p.mu.Unlock()

	var err error
	if p.manager != nil {
		err = p.manager.ConnectAll(ctx)
	}

	p.mu.Lock()
	p.initialized = true
	p.initErr = err
	p.mu.Unlock()
	close(done)
	return err
}

// Reload reconnects the MCP servers and picks up their current tool
// lists.
func (p *Provider) Reload(ctx context.Context) error {
	p.mu.Lock()
	p.initialized = false
	p.initDone = nil
	p.initErr = nil
	p.mu.Unlock()

	if p.manager != nil {
		p.manager.CloseAll()
	}
	return p.Initialize(ctx)
}

// Close disconnects all MCP servers.
func (p *Provider) Close() {
	if p.manager != nil {
		p.manager.CloseAll()
	}
}

// All returns every available tool: legacy and builtin by bare name,
// MCP tools namespaced "server:tool", sorted by name.
func (p *Provider) All() []Tool {
	var out []Tool
	out = append(out, p.legacy.Tools()...)
	out = append(out, p.builtin...)
	if p.manager != nil {
		for server, defs := range p.manager.Tools() {
			for _, def := range defs {
				out = append(out, newMCPTool(p.manager, server, def))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ForAgent applies cfg and returns the tool set an agent should get.
// A disabled config yields nil.
func (p *Provider) ForAgent(cfg Config) []Tool {
	if !cfg.Enabled {
		return nil
	}

	var out []Tool
	if cfg.IncludeLegacy {
		out = append(out, p.legacy.Tools()...)
	}
	if cfg.IncludeBuiltin {
		out = append(out, p.builtin...)
	}
	if cfg.IncludeMCP && p.manager != nil {
		for server, defs := range p.manager.Tools() {
			for _, def := range defs {
				out = append(out, newMCPTool(p.manager, server, def))
			}
		}
	}

	if len(cfg.Allow) > 0 {
		allowed := make(map[string]bool, len(cfg.Allow))
		for _, name := range cfg.Allow {
			allowed[name] = true
		}
		filtered := out[:0]
		for _, t := range out {
			if allowed[t.Name()] {
				filtered = append(filtered, t)
			}
		}
		out = filtered
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Get finds a tool by its fully qualified name.
func (p *Provider) Get(name string) (Tool, error) {
	for _, t := range p.All() {
		if t.Name() == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("unknown tool %q", name)
}

// Execute runs the named tool. MCP tools route to their server by the
// namespace prefix.
func (p *Provider) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, err := p.Get(name)
	if err != nil {
		return "", err
	}
	return t.Execute(ctx, args)
}

// mcpTool adapts one MCP server tool into the Tool interface.
type mcpTool struct {
	manager *mcp.Manager
	server  string
	def     *mcp.ToolDef
}

func newMCPTool(manager *mcp.Manager, server string, def *mcp.ToolDef) *mcpTool {
	return &mcpTool{manager: manager, server: server, def: def}
}

func (t *mcpTool) Name() string { return t.server + nsSep + t.def.Name }

func (t *mcpTool) Description() string { return t.def.Description }

func (t *mcpTool) Schema() json.RawMessage {
	if len(t.def.InputSchema) == 0 {
		return objectSchema(map[string]any{})
	}
	return t.def.InputSchema
}

func (t *mcpTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	result, err := t.manager.CallTool(ctx, t.server, t.def.Name, args)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", fmt.Errorf("%s", strings.TrimSpace(result.Text()))
	}
	return result.Text(), nil
}

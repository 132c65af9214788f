package tools

import (
	"context"
	"sync"
	"testing"

	"github.com/aleck31/aibox/internal/mcp"
)

func echoTool(name string) Tool {
	return NewFuncTool(name, "echoes its input", objectSchema(map[string]any{}),
		func(_ context.Context, args map[string]any) (string, error) {
			return stringArg(args, "text", "echo"), nil
		})
}

func TestProviderAll(t *testing.T) {
	legacy := NewLegacyRegistry()
	legacy.Register(echoTool("legacy_echo"))
	p := NewProvider(legacy, nil, nil)

	names := map[string]bool{}
	for _, tool := range p.All() {
		names[tool.Name()] = true
	}
	for _, want := range []string{"legacy_echo", "calculator", "current_time", "http_request"} {
		if !names[want] {
			t.Errorf("All() missing %q", want)
		}
	}
}

func TestProviderInitializeIdempotent(t *testing.T) {
	p := NewProvider(nil, nil, nil)
	ctx := context.Background()

	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Initialize(ctx)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("concurrent Initialize %d: %v", i, err)
		}
	}
}

func TestProviderForAgent(t *testing.T) {
	legacy := NewLegacyRegistry()
	legacy.Register(echoTool("legacy_echo"))
	p := NewProvider(legacy, nil, nil)

	// Disabled config yields no tools.
	if got := p.ForAgent(Config{}); got != nil {
		t.Errorf("disabled config returned %d tools", len(got))
	}

	// Default config includes every source.
	all := p.ForAgent(DefaultConfig())
	if len(all) != 4 {
		t.Errorf("default config = %d tools, want 4", len(all))
	}

	// Source toggles drop whole groups.
	noLegacy := DefaultConfig()
	noLegacy.IncludeLegacy = false
	for _, tool := range p.ForAgent(noLegacy) {
		if tool.Name() == "legacy_echo" {
			t.Error("legacy tool present with IncludeLegacy off")
		}
	}

	// An allow list restricts to exact names.
	allowed := DefaultConfig()
	allowed.Allow = []string{"calculator", "legacy_echo"}
	got := p.ForAgent(allowed)
	if len(got) != 2 {
		t.Fatalf("allow list = %d tools, want 2", len(got))
	}
	if got[0].Name() != "calculator" || got[1].Name() != "legacy_echo" {
		t.Errorf("allow list order: %s, %s", got[0].Name(), got[1].Name())
	}
}

func TestProviderExecute(t *testing.T) {
	p := NewProvider(NewLegacyRegistry(), nil, nil)

	got, err := p.Execute(context.Background(), "calculator", map[string]any{"expression": "6*7"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "42" {
		t.Errorf("result = %q", got)
	}

	if _, err := p.Execute(context.Background(), "no_such_tool", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestMCPToolNamespacing(t *testing.T) {
	tool := newMCPTool(nil, "github", &mcp.ToolDef{Name: "search_issues", Description: "search"})
	if got := tool.Name(); got != "github:search_issues" {
		t.Errorf("Name() = %q, want github:search_issues", got)
	}
	if len(tool.Schema()) == 0 {
		t.Error("empty input schema should fall back to an object schema")
	}
}

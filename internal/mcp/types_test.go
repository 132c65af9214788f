package mcp

import "testing"

func TestEffectiveType(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want TransportType
	}{
		{"explicit wins", ServerConfig{Type: TransportSSE, Command: "npx"}, TransportSSE},
		{"command implies stdio", ServerConfig{Command: "uvx", Args: []string{"server"}}, TransportStdio},
		{"sse url suffix", ServerConfig{URL: "https://mcp.example.com/sse"}, TransportSSE},
		{"sse url trailing slash", ServerConfig{URL: "https://mcp.example.com/sse/"}, TransportSSE},
		{"plain url is http", ServerConfig{URL: "https://mcp.example.com/rpc"}, TransportHTTP},
		{"empty defaults to http", ServerConfig{}, TransportHTTP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.EffectiveType(); got != tt.want {
				t.Errorf("EffectiveType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"valid stdio", ServerConfig{Name: "fs", Command: "npx"}, false},
		{"valid http", ServerConfig{Name: "api", URL: "https://example.com/mcp"}, false},
		{"missing name", ServerConfig{Command: "npx"}, true},
		{"stdio without command", ServerConfig{Name: "fs", Type: TransportStdio}, true},
		{"http without url", ServerConfig{Name: "api", Type: TransportHTTP}, true},
		{"non-http scheme", ServerConfig{Name: "api", URL: "ftp://example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToolResultText(t *testing.T) {
	r := &ToolResult{Content: []ResultContent{
		{Type: "text", Text: "line one\n"},
		{Type: "image", Data: "ignored"},
		{Type: "text", Text: "line two"},
	}}
	if got := r.Text(); got != "line one\nline two" {
		t.Errorf("Text() = %q", got)
	}
}

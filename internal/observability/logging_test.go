package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSecretRedaction(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if secretKeys[strings.ToLower(a.Key)] {
				a.Value = slog.StringValue("[REDACTED]")
			}
			return a
		},
	})
	logger := slog.New(handler)

	logger.Info("connecting", "api_key", "sk-very-secret", "host", "example.com")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["api_key"] != "[REDACTED]" {
		t.Errorf("api_key = %v", rec["api_key"])
	}
	if rec["host"] != "example.com" {
		t.Errorf("host = %v", rec["host"])
	}
	if strings.Contains(buf.String(), "sk-very-secret") {
		t.Error("secret value leaked into the log line")
	}
}

func TestComponent(t *testing.T) {
	if Component(nil, "gateway") == nil {
		t.Fatal("Component(nil) should fall back to the default logger")
	}
}

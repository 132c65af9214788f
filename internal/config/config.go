// Package config loads the YAML configuration tree. Files may pull in
// other files with a top-level "$include" list, and every scalar value
// goes through environment variable expansion before parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aleck31/aibox/internal/mcp"
	"github.com/aleck31/aibox/internal/models"
)

// Config is the root configuration for the service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	AWS       AWSConfig       `yaml:"aws"`
	Agent     AgentConfig     `yaml:"agent"`
	Storage   StorageConfig   `yaml:"storage"`
	Providers ProvidersConfig `yaml:"providers"`

	Models    []*models.Model              `yaml:"models"`
	Discovery models.DiscoveryConfig       `yaml:"model_discovery"`
	Modules   map[string]ModuleConfig      `yaml:"modules"`
	MCP       map[string]*mcp.ServerConfig `yaml:"mcp_servers"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// AWSConfig holds shared AWS settings.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
}

// AgentConfig selects the agent execution path and its limits.
type AgentConfig struct {
	// RuntimeARN switches execution to the remote runtime when set.
	RuntimeARN string `yaml:"runtime_arn"`
	Qualifier  string `yaml:"qualifier"`

	MaxIterations int           `yaml:"max_iterations"`
	HandleTTL     time.Duration `yaml:"handle_ttl"`
}

// ProvidersConfig carries vendor API credentials. Values are normally
// supplied via ${VAR} expansion from the environment.
type ProvidersConfig struct {
	OpenAIKey        string `yaml:"openai_api_key"`
	GeminiKey        string `yaml:"gemini_api_key"`
	AnthropicKey     string `yaml:"anthropic_api_key"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"`
}

// StorageConfig selects the session store backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "memory" or "sqlite"
	Path   string `yaml:"path"`
}

// ModuleConfig describes one application module (chatbot, coding, ...).
type ModuleConfig struct {
	DefaultModel string   `yaml:"default_model"`
	Persona      string   `yaml:"persona"`
	CloudSync    bool     `yaml:"cloud_sync"`
	Tools        []string `yaml:"tools"`
}

// Load reads, expands, and parses the config file at path.
func Load(path string) (*Config, error) {
	raw, err := loadRaw(path, map[string]bool{})
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.AWS.Region == "" {
		c.AWS.Region = os.Getenv("AWS_REGION")
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.HandleTTL == 0 {
		c.Agent.HandleTTL = 2 * time.Hour
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
}

// loadRaw reads a file, expands ${VAR} references, resolves $include
// directives relative to the including file, and returns the merged
// YAML. Include cycles are rejected.
func loadRaw(path string, seen map[string]bool) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[abs] {
		return nil, fmt.Errorf("config include cycle at %s", abs)
	}
	seen[abs] = true

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", abs, err)
	}

	includes, ok := doc["$include"].([]any)
	if !ok {
		return data, nil
	}
	delete(doc, "$include")

	merged := map[string]any{}
	for _, inc := range includes {
		rel, ok := inc.(string)
		if !ok {
			return nil, fmt.Errorf("config %s: $include entries must be strings", abs)
		}
		sub, err := loadRaw(filepath.Join(filepath.Dir(abs), rel), seen)
		if err != nil {
			return nil, err
		}
		var subDoc map[string]any
		if err := yaml.Unmarshal(sub, &subDoc); err != nil {
			return nil, fmt.Errorf("parse include %s: %w", rel, err)
		}
		for k, v := range subDoc {
			merged[k] = v
		}
	}
	// The including file wins over its includes.
	for k, v := range doc {
		merged[k] = v
	}
	return yaml.Marshal(merged)
}

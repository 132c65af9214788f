package models

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"
)

const (
	defaultRefreshInterval = 1 * time.Hour
	defaultContextWindow   = 32000
	defaultMaxTokens       = 4096
)

// DiscoveryConfig configures automatic Bedrock model discovery.
type DiscoveryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Region          string        `yaml:"region"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// ProviderFilter limits discovery to specific vendors, e.g.
	// ["anthropic", "amazon"]. Empty means all.
	ProviderFilter []string `yaml:"provider_filter"`
}

// BedrockAPI is the subset of the Bedrock control-plane client that
// discovery uses.
type BedrockAPI interface {
	ListFoundationModels(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error)
}

// Discovery periodically lists Bedrock foundation models and merges
// them into a Registry.
type Discovery struct {
	cfg    DiscoveryConfig
	logger *slog.Logger

	mu        sync.Mutex
	client    BedrockAPI
	expiresAt time.Time
}

// NewDiscovery creates a discovery worker. The client may be nil, in
// which case it is built from the default AWS config on first refresh.
func NewDiscovery(cfg DiscoveryConfig, client BedrockAPI, logger *slog.Logger) *Discovery {
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{cfg: cfg, client: client, logger: logger}
}

// Refresh lists foundation models and merges new ones into reg. It is
// a no-op while the previous result is still fresh.
func (d *Discovery) Refresh(ctx context.Context, reg *Registry) error {
	if !d.cfg.Enabled {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Now().Before(d.expiresAt) {
		return nil
	}
	if d.client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(d.cfg.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		d.client = bedrock.NewFromConfig(awsCfg)
	}

	out, err := d.client.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return fmt.Errorf("list foundation models: %w", err)
	}

	discovered := make([]*Model, 0, len(out.ModelSummaries))
	for _, s := range out.ModelSummaries {
		m := d.fromSummary(s)
		if m != nil {
			discovered = append(discovered, m)
		}
	}

	added := reg.Merge(discovered)
	d.expiresAt = time.Now().Add(d.cfg.RefreshInterval)
	d.logger.Info("bedrock model discovery complete",
		"discovered", len(discovered), "added", added)
	return nil
}

func (d *Discovery) fromSummary(s types.FoundationModelSummary) *Model {
	if s.ModelId == nil {
		return nil
	}
	vendor := ""
	if s.ProviderName != nil {
		vendor = strings.ToLower(*s.ProviderName)
	}
	if len(d.cfg.ProviderFilter) > 0 && !containsFold(d.cfg.ProviderFilter, vendor) {
		return nil
	}
	// Only text-out models are routable through the chat adapters.
	textOut := false
	for _, mod := range s.OutputModalities {
		if mod == types.ModelModalityText {
			textOut = true
		}
	}
	if !textOut {
		return nil
	}

	name := *s.ModelId
	if s.ModelName != nil {
		name = *s.ModelName
	}
	caps := []Capability{CapChat}
	if s.ResponseStreamingSupported != nil && *s.ResponseStreamingSupported {
		caps = append(caps, CapTools)
	}
	return &Model{
		ID:            *s.ModelId,
		Name:          name,
		Provider:      ProviderBedrock,
		Capabilities:  caps,
		ContextWindow: defaultContextWindow,
		MaxTokens:     defaultMaxTokens,
	}
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

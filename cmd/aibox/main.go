// Command aibox runs the assistant backend gateway.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aleck31/aibox/internal/agent"
	"github.com/aleck31/aibox/internal/config"
	"github.com/aleck31/aibox/internal/gateway"
	"github.com/aleck31/aibox/internal/mcp"
	catalog "github.com/aleck31/aibox/internal/models"
	"github.com/aleck31/aibox/internal/observability"
	"github.com/aleck31/aibox/internal/providers"
	"github.com/aleck31/aibox/internal/service"
	"github.com/aleck31/aibox/internal/sessions"
	"github.com/aleck31/aibox/internal/tools"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "aibox",
		Short: "AI assistant backend with chat and agent execution",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.AddCommand(serve)

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			for name, server := range cfg.MCP {
				if server == nil {
					continue
				}
				if server.Name == "" {
					server.Name = name
				}
				if err := server.Validate(); err != nil {
					return err
				}
			}
			fmt.Println("config ok")
			return nil
		},
	}
	root.AddCommand(validate)

	return root
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Model registry, with optional Bedrock discovery merged in.
	moduleDefaults := map[string]string{}
	for name, mod := range cfg.Modules {
		moduleDefaults[name] = mod.DefaultModel
	}
	registry := catalog.NewRegistry(cfg.Models, moduleDefaults)
	if cfg.Discovery.Enabled {
		discovery := catalog.NewDiscovery(cfg.Discovery, nil, logger)
		if err := discovery.Refresh(ctx, registry); err != nil {
			logger.Warn("bedrock model discovery failed", "error", err)
		}
	}

	// Provider adapters.
	adapters := providers.NewRegistry()
	bedrock, err := providers.NewBedrockAdapter(ctx, cfg.AWS.Region, logger)
	if err != nil {
		return fmt.Errorf("bedrock adapter: %w", err)
	}
	adapters.Register(bedrock)
	adapters.Register(providers.NewOpenAIAdapter(cfg.Providers.OpenAIKey))
	adapters.Register(providers.NewAnthropicAdapter(cfg.Providers.AnthropicKey, cfg.Providers.AnthropicBaseURL))
	gemini, err := providers.NewGeminiAdapter(ctx, cfg.Providers.GeminiKey)
	if err != nil {
		return fmt.Errorf("gemini adapter: %w", err)
	}
	adapters.Register(gemini)

	// Tool provider over legacy, builtin, and MCP sources.
	manager := mcp.NewManager(cfg.MCP, logger)
	toolProvider := tools.NewProvider(tools.DefaultLegacyRegistry(), manager, logger)
	if err := toolProvider.Initialize(ctx); err != nil {
		logger.Warn("tool provider initialized degraded", "error", err)
	}
	defer toolProvider.Close()

	// Session store.
	var store sessions.Store
	switch cfg.Storage.Driver {
	case "sqlite":
		store, err = sessions.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
	default:
		store = sessions.NewMemoryStore()
	}
	defer store.Close()

	// Services.
	base := service.NewBaseService(store, registry, cfg.Modules, logger)
	if imageModels := registry.List(catalog.CapImageGen); len(imageModels) > 0 {
		imageClient, err := providers.NewImageClient(ctx, cfg.AWS.Region, imageModels[0].ID)
		if err != nil {
			logger.Warn("image client unavailable", "error", err)
		} else {
			base.SetImageClient(imageClient)
		}
	}
	chat := service.NewChatService(base, adapters)
	agents := service.NewAgentService(service.AgentServiceOpts{
		Base:          base,
		Adapters:      adapters,
		Tools:         toolProvider,
		RuntimeARN:    cfg.Agent.RuntimeARN,
		Qualifier:     cfg.Agent.Qualifier,
		MaxIterations: cfg.Agent.MaxIterations,
		HandleTTL:     cfg.Agent.HandleTTL,
	})
	if agents.Mode() == service.ModeRemote {
		if _, err := agent.ParseRuntimeARN(cfg.Agent.RuntimeARN); err != nil {
			return err
		}
	}

	server := gateway.NewServer(cfg.Server.Addr, chat, agents, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

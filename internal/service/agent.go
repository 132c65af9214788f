package service

import (
	"context"
	"strings"
	"time"

	"github.com/aleck31/aibox/internal/agent"
	"github.com/aleck31/aibox/internal/observability"
	"github.com/aleck31/aibox/internal/providers"
	"github.com/aleck31/aibox/internal/tools"
	"github.com/aleck31/aibox/pkg/models"
)

// agentTTL is how long an idle agent handle survives in the cache.
const agentTTL = 2 * time.Hour

// ExecutionMode selects where agent turns run. Fixed at construction.
type ExecutionMode string

const (
	ModeLocal  ExecutionMode = "local"
	ModeRemote ExecutionMode = "remote"
)

type agentEntry struct {
	handle   agent.Handle
	modelID  string
	lastUsed time.Time
}

// AgentService runs agentic turns against per-session cached handles.
type AgentService struct {
	*BaseService
	adapters *providers.Registry
	tools    *tools.Provider

	mode       ExecutionMode
	runtimeARN string
	qualifier  string
	maxIters   int

	handles map[string]*agentEntry // keyed by session ID, guarded by BaseService.mu
	ttl     time.Duration
}

// AgentServiceOpts configures an AgentService.
type AgentServiceOpts struct {
	Base     *BaseService
	Adapters *providers.Registry
	Tools    *tools.Provider

	// RuntimeARN switches execution to the remote runtime when set.
	RuntimeARN string
	Qualifier  string

	MaxIterations int
	HandleTTL     time.Duration
}

// NewAgentService wires the agent service. The execution mode is
// derived from RuntimeARN once, here, and never changes afterwards.
func NewAgentService(opts AgentServiceOpts) *AgentService {
	mode := ModeLocal
	if opts.RuntimeARN != "" {
		mode = ModeRemote
	}
	ttl := opts.HandleTTL
	if ttl == 0 {
		ttl = agentTTL
	}
	return &AgentService{
		BaseService: opts.Base,
		adapters:    opts.Adapters,
		tools:       opts.Tools,
		mode:        mode,
		runtimeARN:  opts.RuntimeARN,
		qualifier:   opts.Qualifier,
		maxIters:    opts.MaxIterations,
		handles:     map[string]*agentEntry{},
		ttl:         ttl,
	}
}

// Mode reports where this service executes agent turns.
func (s *AgentService) Mode() ExecutionMode { return s.mode }

// sweep evicts every expired handle. Callers hold s.mu. Runs on every
// cache access so stale handles never outlive the TTL by much.
func (s *AgentService) sweep(now time.Time) {
	for id, entry := range s.handles {
		if now.Sub(entry.lastUsed) >= s.ttl {
			entry.handle.Destroy()
			delete(s.handles, id)
			observability.ActiveAgents.Dec()
			s.logger.Info("evicted idle agent handle", "session_id", id)
		}
	}
}

// getHandle returns the cached handle for a session, building one when
// missing. A cached handle whose model no longer matches is updated in
// place rather than rebuilt.
func (s *AgentService) getHandle(ctx context.Context, sess *models.Session, seed []*models.Message) (agent.Handle, error) {
	model, err := s.GetSessionModel(ctx, sess)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s.mu.Lock()
	s.sweep(now)
	if entry, ok := s.handles[sess.ID]; ok {
		entry.lastUsed = now
		if entry.modelID != model.ID {
			entry.handle.UpdateModel(model)
			entry.modelID = model.ID
			s.logger.Info("switched agent model in place",
				"session_id", sess.ID, "model_id", model.ID)
		}
		handle := entry.handle
		s.mu.Unlock()
		return handle, nil
	}
	s.mu.Unlock()

	// Seed from explicit history when given, else from the store.
	if seed == nil {
		seed, err = s.LoadHistory(ctx, sess, 0)
		if err != nil {
			return nil, err
		}
	}

	var handle agent.Handle
	if s.mode == ModeRemote {
		toolCfg := s.toolConfig(sess.Module)
		client, err := agent.NewCoreClient(ctx, agent.CoreClientOpts{
			RuntimeARN: s.runtimeARN,
			Qualifier:  s.qualifier,
			SessionID:  sess.ID,
			System:     s.systemPrompt(sess),
			ToolConfig: &toolCfg,
			Seed:       seed,
			Logger:     s.logger,
		})
		if err != nil {
			return nil, err
		}
		client.UpdateModel(model)
		handle = client
	} else {
		handle = agent.NewProvider(agent.ProviderOpts{
			Model:         model,
			Adapters:      s.adapters,
			Tools:         s.tools,
			ToolConfig:    s.toolConfig(sess.Module),
			System:        s.systemPrompt(sess),
			MaxIterations: s.maxIters,
			Logger:        s.logger,
			Seed:          seed,
		})
	}

	s.mu.Lock()
	s.handles[sess.ID] = &agentEntry{handle: handle, modelID: model.ID, lastUsed: now}
	s.mu.Unlock()
	observability.ActiveAgents.Inc()
	return handle, nil
}

// toolConfig derives the tool filter for a module.
func (s *AgentService) toolConfig(module string) tools.Config {
	cfg := tools.DefaultConfig()
	if mod, ok := s.modules[module]; ok && len(mod.Tools) > 0 {
		cfg.Allow = mod.Tools
	}
	return cfg
}

// StreamReply runs an agent turn seeded from stored session history.
func (s *AgentService) StreamReply(ctx context.Context, sess *models.Session, text string, files []models.FileRef) (<-chan *models.Chunk, error) {
	return s.StreamReplyWithHistory(ctx, sess, text, files, nil)
}

// StreamReplyWithHistory runs an agent turn. A non-nil history seeds a
// newly built handle instead of the stored messages; an existing
// cached handle keeps its own accumulated state. Under cloud sync the
// exchange is persisted exactly once after the stream ends.
func (s *AgentService) StreamReplyWithHistory(ctx context.Context, sess *models.Session, text string, files []models.FileRef, history []*models.Message) (<-chan *models.Chunk, error) {
	handle, err := s.getHandle(ctx, sess, history)
	if err != nil {
		return nil, err
	}

	stream, err := handle.Stream(ctx, &agent.Input{Text: text, Files: files})
	if err != nil {
		return nil, err
	}

	out := make(chan *models.Chunk)
	go func() {
		defer close(out)
		start := time.Now()

		var reply strings.Builder
		var produced []models.FileRef
		failed := false

		for chunk := range stream {
			if chunk.Text != "" {
				reply.WriteString(chunk.Text)
			}
			if len(chunk.Files) > 0 {
				produced = append(produced, chunk.Files...)
			}
			if chunk.Metadata != nil {
				if _, ok := chunk.Metadata["error"]; ok {
					failed = true
				}
			}
			out <- chunk
		}

		if !failed && (reply.Len() > 0 || len(produced) > 0) {
			s.saveTurn(ctx, sess, text, files, reply.String(), produced)
		}

		observability.TurnDuration.WithLabelValues(sess.Module, string(s.mode)).
			Observe(time.Since(start).Seconds())
	}()
	return out, nil
}

// ClearHistory destroys the session's agent handle and wipes its
// stored messages.
func (s *AgentService) ClearHistory(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	if entry, ok := s.handles[sess.ID]; ok {
		entry.handle.Destroy()
		delete(s.handles, sess.ID)
		observability.ActiveAgents.Dec()
	}
	s.mu.Unlock()

	return s.store.ClearMessages(ctx, sess.ID)
}

// ReloadTools refreshes tool sources for every live local handle.
func (s *AgentService) ReloadTools(ctx context.Context) error {
	if s.tools == nil {
		return nil
	}
	return s.tools.Reload(ctx)
}

// ActiveHandles reports how many handles are currently cached.
func (s *AgentService) ActiveHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(time.Now())
	return len(s.handles)
}

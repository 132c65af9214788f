// Package service implements the session-scoped orchestration layer:
// BaseService owns session acquisition and model resolution, ChatService
// runs stateless multi-turn chat, and AgentService drives cached agent
// handles.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aleck31/aibox/internal/config"
	catalog "github.com/aleck31/aibox/internal/models"
	"github.com/aleck31/aibox/internal/providers"
	"github.com/aleck31/aibox/internal/sessions"
	"github.com/aleck31/aibox/pkg/models"
)

// sessionTTL is how long an acquired session stays cached per
// (user, module) before the store is consulted again.
const sessionTTL = 600 * time.Second

type sessionEntry struct {
	session   *models.Session
	expiresAt time.Time
}

// BaseService provides the shared session plumbing every module
// service builds on.
type BaseService struct {
	store    sessions.Store
	registry *catalog.Registry
	modules  map[string]config.ModuleConfig
	logger   *slog.Logger
	image    *providers.ImageClient

	mu    sync.Mutex
	cache map[string]*sessionEntry
	ttl   time.Duration
}

// NewBaseService wires the base service.
func NewBaseService(store sessions.Store, registry *catalog.Registry, modules map[string]config.ModuleConfig, logger *slog.Logger) *BaseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BaseService{
		store:    store,
		registry: registry,
		modules:  modules,
		logger:   logger.With("component", "service"),
		cache:    map[string]*sessionEntry{},
		ttl:      sessionTTL,
	}
}

// SetImageClient attaches the creative-module image client.
func (b *BaseService) SetImageClient(c *providers.ImageClient) { b.image = c }

// ImageClient returns the image generation client, or nil when the
// creative module is not configured.
func (b *BaseService) ImageClient() *providers.ImageClient { return b.image }

// Store exposes the underlying session store.
func (b *BaseService) Store() sessions.Store { return b.store }

// Registry exposes the model registry.
func (b *BaseService) Registry() *catalog.Registry { return b.registry }

// GetOrCreateSession returns the session for a user and module.
// Within the TTL, repeated calls return the identical session value;
// on expiry the entry is evicted and the store consulted again. A user
// with no session for the module gets a fresh one.
func (b *BaseService) GetOrCreateSession(ctx context.Context, userID, module string) (*models.Session, error) {
	key := models.CacheKey(userID, module)

	b.mu.Lock()
	if entry, ok := b.cache[key]; ok {
		if time.Now().Before(entry.expiresAt) {
			sess := entry.session
			b.mu.Unlock()
			return sess, nil
		}
		delete(b.cache, key)
	}
	b.mu.Unlock()

	sess, err := b.store.LatestSession(ctx, userID, module)
	if errors.Is(err, sessions.ErrNotFound) {
		sess = models.NewSession(userID, module)
		if mod, ok := b.modules[module]; ok {
			sess.CloudSync = mod.CloudSync
			if mod.Persona != "" {
				sess.Metadata[models.MetaPersona] = mod.Persona
			}
		}
		if err := b.store.CreateSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		b.logger.Info("created session", "session_id", sess.ID, "user_id", userID, "module", module)
	} else if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	b.mu.Lock()
	b.cache[key] = &sessionEntry{session: sess, expiresAt: time.Now().Add(b.ttl)}
	b.mu.Unlock()
	return sess, nil
}

// GetSessionModel resolves the model for a session, memoized in this
// order: the in-memory field, the session metadata, then the module
// default. The result is written back to both the field and the
// metadata so later lookups short-circuit.
func (b *BaseService) GetSessionModel(ctx context.Context, sess *models.Session) (*catalog.Model, error) {
	if sess.ModelID != "" {
		return b.registry.Get(sess.ModelID)
	}

	if raw, ok := sess.Metadata[models.MetaModelID]; ok {
		if id, ok := raw.(string); ok && id != "" {
			m, err := b.registry.Get(id)
			if err == nil {
				sess.ModelID = id
				return m, nil
			}
			b.logger.Warn("session references unknown model, falling back to default",
				"session_id", sess.ID, "model_id", id)
		}
	}

	m, err := b.registry.DefaultFor(sess.Module)
	if err != nil {
		return nil, err
	}
	sess.ModelID = m.ID
	if sess.Metadata == nil {
		sess.Metadata = map[string]any{}
	}
	sess.Metadata[models.MetaModelID] = m.ID
	return m, nil
}

// UpdateSessionModel switches the session's model and persists it.
func (b *BaseService) UpdateSessionModel(ctx context.Context, sess *models.Session, modelID string) error {
	if _, err := b.registry.Get(modelID); err != nil {
		return err
	}
	sess.ModelID = modelID
	if sess.Metadata == nil {
		sess.Metadata = map[string]any{}
	}
	sess.Metadata[models.MetaModelID] = modelID
	if err := b.store.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("persist session model: %w", err)
	}
	return nil
}

// LoadHistory returns the session's stored messages, oldest first.
func (b *BaseService) LoadHistory(ctx context.Context, sess *models.Session, limit int) ([]*models.Message, error) {
	return b.store.GetMessages(ctx, sess.ID, limit)
}

// saveTurn persists one user/assistant exchange when the session has
// cloud sync enabled. With sync disabled nothing is written.
func (b *BaseService) saveTurn(ctx context.Context, sess *models.Session, userText string, userFiles []models.FileRef, assistantText string, assistantFiles []models.FileRef) {
	if !sess.CloudSync {
		return
	}
	user := models.NewMessage(sess.ID, models.RoleUser, userText)
	user.Files = userFiles
	if err := b.store.AddMessage(ctx, user); err != nil {
		b.logger.Error("persist user message failed", "session_id", sess.ID, "error", err)
		return
	}
	assistant := models.NewMessage(sess.ID, models.RoleAssistant, assistantText)
	assistant.Files = assistantFiles
	if err := b.store.AddMessage(ctx, assistant); err != nil {
		b.logger.Error("persist assistant message failed", "session_id", sess.ID, "error", err)
	}
}

// systemPrompt builds the system prompt for a session from its persona
// metadata, falling back to a neutral assistant prompt.
func (b *BaseService) systemPrompt(sess *models.Session) string {
	persona := ""
	if raw, ok := sess.Metadata[models.MetaPersona]; ok {
		persona, _ = raw.(string)
	}
	if persona == "" {
		return "You are a helpful assistant."
	}
	return fmt.Sprintf("You are %s. Stay in character and answer accordingly.", persona)
}

// Package models defines the shared types exchanged between services,
// provider adapters, and the gateway.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation history.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Files     []FileRef      `json:"files,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewMessage creates a message with a generated ID and current timestamp.
func NewMessage(sessionID string, role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Session is a per-user, per-module conversation scope. Model selection
// and the cloud-sync flag live here so they survive across turns.
type Session struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Module    string         `json:"module"`
	ModelID   string         `json:"model_id,omitempty"`
	CloudSync bool           `json:"cloud_sync"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// MetaModelID is the session metadata key holding the selected model.
const MetaModelID = "model_id"

// MetaPersona is the session metadata key holding the persona name used
// to build the system prompt.
const MetaPersona = "persona"

// NewSession creates a session for the given user and module.
func NewSession(userID, module string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Module:    module,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CacheKey is the session cache key for a user and module pair.
func CacheKey(userID, module string) string {
	return userID + ":" + module
}

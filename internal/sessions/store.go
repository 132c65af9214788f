// Package sessions persists conversation sessions and their messages.
package sessions

import (
	"context"
	"errors"

	"github.com/aleck31/aibox/pkg/models"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Store is the persistence contract for sessions and their messages.
type Store interface {
	// CreateSession persists a new session.
	CreateSession(ctx context.Context, s *models.Session) error

	// GetSession loads a session by ID.
	GetSession(ctx context.Context, id string) (*models.Session, error)

	// LatestSession finds the most recently updated session for a user
	// and module, or ErrNotFound.
	LatestSession(ctx context.Context, userID, module string) (*models.Session, error)

	// UpdateSession persists changes to an existing session.
	UpdateSession(ctx context.Context, s *models.Session) error

	// DeleteSession removes a session and its messages.
	DeleteSession(ctx context.Context, id string) error

	// AddMessage appends a message to a session's history.
	AddMessage(ctx context.Context, m *models.Message) error

	// GetMessages returns a session's history in chronological order.
	// limit <= 0 means no limit.
	GetMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// ClearMessages removes all messages for a session.
	ClearMessages(ctx context.Context, sessionID string) error

	// Close releases the store's resources.
	Close() error
}

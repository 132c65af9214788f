package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aleck31/aibox/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	module TEXT NOT NULL,
	model_id TEXT NOT NULL DEFAULT '',
	cloud_sync INTEGER NOT NULL DEFAULT 0,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_module ON sessions(user_id, module, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	files TEXT NOT NULL DEFAULT '[]',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
`

// SQLiteStore persists sessions in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, module, model_id, cloud_sync, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Module, sess.ModelID,
		boolToInt(sess.CloudSync), string(meta), sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, module, model_id, cloud_sync, metadata, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *SQLiteStore) LatestSession(ctx context.Context, userID, module string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, module, model_id, cloud_sync, metadata, created_at, updated_at
		FROM sessions WHERE user_id = ? AND module = ?
		ORDER BY updated_at DESC LIMIT 1`, userID, module)
	return scanSession(row)
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET model_id = ?, cloud_sync = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		sess.ModelID, boolToInt(sess.CloudSync), string(meta), time.Now().UTC(), sess.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) AddMessage(ctx context.Context, m *models.Message) error {
	files, err := json.Marshal(m.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, files, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, string(m.Role), m.Content, string(files), string(meta), m.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), m.SessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, session_id, role, content, files, metadata, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at ASC`
	args := []any{sessionID}
	if limit > 0 {
		// Take the newest N but keep chronological order.
		query = `
			SELECT id, session_id, role, content, files, metadata, created_at FROM (
				SELECT id, session_id, role, content, files, metadata, created_at
				FROM messages WHERE session_id = ? ORDER BY created_at DESC LIMIT ?
			) ORDER BY created_at ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var (
			m           models.Message
			role        string
			files, meta string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &files, &meta, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		if err := json.Unmarshal([]byte(files), &m.Files); err != nil {
			m.Files = nil
		}
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			m.Metadata = nil
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClearMessages(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		sess      models.Session
		cloudSync int
		meta      string
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Module, &sess.ModelID,
		&cloudSync, &meta, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.CloudSync = cloudSync != 0
	if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
		sess.Metadata = map[string]any{}
	}
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"kgchat/backend/internal/state"
	apperrors "kgchat/backend/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id  TEXT PRIMARY KEY,
	model       TEXT NOT NULL,
	state       TEXT NOT NULL,
	entities    INTEGER NOT NULL DEFAULT 0,
	relations   INTEGER NOT NULL DEFAULT 0,
	updated_at  INTEGER NOT NULL
);`

// SQLiteStore keeps each session as a JSON document in a single SQLite table.
// The entity and relation counts are denormalized for ad-hoc inspection.
type SQLiteStore struct {
	conn *sql.DB
	Path string
}

// OpenSQLite opens (or creates) a SQLite database with WAL mode and ensures the schema
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.NewStoreConnectionFailed("sqlite", path, err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, apperrors.NewStoreConnectionFailed("sqlite", path, fmt.Errorf("setting WAL mode: %w", err))
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, apperrors.NewStoreConnectionFailed("sqlite", path, fmt.Errorf("setting busy timeout: %w", err))
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, apperrors.NewStoreConnectionFailed("sqlite", path, fmt.Errorf("creating schema: %w", err))
	}

	return &SQLiteStore{conn: conn, Path: path}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (state.ChatState, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx,
		"SELECT state FROM sessions WHERE session_id = ?", sessionID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return state.ChatState{}, apperrors.NewSessionNotFound(sessionID)
	}
	if err != nil {
		return state.ChatState{}, failed(s.Backend(), "load", err)
	}

	st, err := decodeState([]byte(raw))
	if err != nil {
		return state.ChatState{}, failed(s.Backend(), "load", err)
	}
	return st, nil
}

func (s *SQLiteStore) Save(ctx context.Context, st state.ChatState) error {
	data, err := encodeState(st)
	if err != nil {
		return failed(s.Backend(), "save", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO sessions (session_id, model, state, entities, relations, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			model = excluded.model,
			state = excluded.state,
			entities = excluded.entities,
			relations = excluded.relations,
			updated_at = excluded.updated_at`,
		st.SessionID, st.Model, string(data),
		len(st.KG.Entities), len(st.KG.Relations), time.Now().UnixMilli(),
	)
	if err != nil {
		return failed(s.Backend(), "save", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return failed(s.Backend(), "delete", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT session_id FROM sessions ORDER BY session_id")
	if err != nil {
		return nil, failed(s.Backend(), "list", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, failed(s.Backend(), "list", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, failed(s.Backend(), "list", err)
	}
	return ids, nil
}

func (s *SQLiteStore) Backend() string { return "sqlite" }

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

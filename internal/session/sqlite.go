package session

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"kestrel/internal/models"
)

// SQLiteStore keeps session rows in a SQLite database. Useful when the
// embedder wants to inspect live sessions out of process; the engine still
// recreates every entry at accept time, so this is not a durability layer.
type SQLiteStore struct {
	db *sql.DB
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	state INTEGER NOT NULL,
	user TEXT NOT NULL DEFAULT '',
	selected_mailbox TEXT NOT NULL DEFAULT '',
	secure INTEGER NOT NULL DEFAULT 0
);
`

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	// A single writer keeps per-key updates atomic without busy retries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (models.SessionState, bool, error) {
	var state models.SessionState
	var stateInt int
	var secure int

	row := s.db.QueryRowContext(ctx,
		`SELECT state, user, selected_mailbox, secure FROM sessions WHERE id = ?`, id)
	err := row.Scan(&stateInt, &state.User, &state.SelectedMailbox, &secure)
	if err == sql.ErrNoRows {
		return models.SessionState{}, false, nil
	}
	if err != nil {
		return models.SessionState{}, false, fmt.Errorf("get session %s: %w", id, err)
	}

	state.State = models.State(stateInt)
	state.Secure = secure != 0
	return state, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, id string, state models.SessionState) error {
	secure := 0
	if state.Secure {
		secure = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, state, user, selected_mailbox, secure)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state = excluded.state,
		   user = excluded.user,
		   selected_mailbox = excluded.selected_mailbox,
		   secure = excluded.secure`,
		id, int(state.State), state.User, state.SelectedMailbox, secure)
	if err != nil {
		return fmt.Errorf("set session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Destroy(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("destroy session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) (map[string]models.SessionState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, state, user, selected_mailbox, secure FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.SessionState)
	for rows.Next() {
		var id string
		var state models.SessionState
		var stateInt, secure int
		if err := rows.Scan(&id, &stateInt, &state.User, &state.SelectedMailbox, &secure); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		state.State = models.State(stateInt)
		state.Secure = secure != 0
		out[id] = state
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

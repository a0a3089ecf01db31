package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
)

const (
	pgSelectSession = `SELECT state, data FROM bot_sessions WHERE user_id = $1`
	pgLockSession   = `SELECT state, data FROM bot_sessions WHERE user_id = $1 FOR UPDATE`
	pgEnsureSession = `INSERT INTO bot_sessions (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
	pgSaveSession   = `UPDATE bot_sessions SET state = $2, data = $3, updated_at = now() WHERE user_id = $1`
	pgDeleteSession = `DELETE FROM bot_sessions WHERE user_id = $1`
)

type sessionRow struct {
	State string `db:"state"`
	Data  []byte `db:"data"`
}

// PostgresStore keeps sessions in the bot_sessions table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open database handle. The schema is created by migrations.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get selects the user's row, returning an idle session when none exists.
func (s *PostgresStore) Get(ctx context.Context, userID int64) (*Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, pgSelectSession, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return NewSession(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: select session: %w", err)
	}
	return row.session()
}

// Update locks the user's row for the duration of fn.
func (s *PostgresStore) Update(ctx context.Context, userID int64, fn func(*Session) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, pgEnsureSession, userID); err != nil {
		return fmt.Errorf("state: ensure session: %w", err)
	}
	var row sessionRow
	if err := tx.GetContext(ctx, &row, pgLockSession, userID); err != nil {
		return fmt.Errorf("state: lock session: %w", err)
	}
	sess, err := row.session()
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	data, err := json.Marshal(sess.Data)
	if err != nil {
		return fmt.Errorf("state: encode session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, pgSaveSession, userID, string(sess.State), data); err != nil {
		return fmt.Errorf("state: save session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Reset deletes the user's row.
func (s *PostgresStore) Reset(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, pgDeleteSession, userID); err != nil {
		return fmt.Errorf("state: delete session: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (r sessionRow) session() (*Session, error) {
	sess := NewSession()
	if r.State != "" {
		sess.State = State(r.State)
	}
	if len(r.Data) == 0 {
		return sess, nil
	}
	if err := json.Unmarshal(r.Data, &sess.Data); err != nil {
		return nil, fmt.Errorf("state: decode session data: %w", err)
	}
	if sess.Data == nil {
		sess.Data = make(map[string]json.RawMessage)
	}
	return sess, nil
}

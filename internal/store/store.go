// Package store persists users, sessions, and messages in SQLite.
//
// It is the single source of truth named in spec.md's data model;
// in-memory session status elsewhere in previewd is reconciled through it.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/jxucoder/previewd/internal/model"
)

// Store manages user, session, and message persistence in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL REFERENCES users(id),
			sandbox_id    TEXT NOT NULL DEFAULT '',
			preview_url   TEXT NOT NULL DEFAULT '',
			title         TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'pending',
			created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
			last_activity DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			steps      TEXT,
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Users ---

// CreateUser inserts a new user. Returns an error if the email is taken.
func (s *Store) CreateUser(u *model.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt,
	)
	return err
}

// GetUserByEmail looks up a user by email.
func (s *Store) GetUserByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email,
	)
	return scanUser(row)
}

// GetUser looks up a user by ID.
func (s *Store) GetUser(id string) (*model.User, error) {
	row := s.db.QueryRow(
		`SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*model.User, error) {
	u := &model.User{}
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

// --- Sessions ---

// CreateSession inserts sess as a new row, keeping the status it carries.
func (s *Store) CreateSession(sess *model.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, user_id, sandbox_id, preview_url, title, status, created_at, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.SandboxID, sess.PreviewURL, sess.Title,
		sess.Status, sess.CreatedAt, sess.LastActivity,
	)
	return err
}

// GetSession retrieves a session by ID regardless of owner.
func (s *Store) GetSession(id string) (*model.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, sandbox_id, preview_url, title, status, created_at, last_activity
		 FROM sessions WHERE id = ?`, id,
	)
	return scanSession(row)
}

// GetOwnedSession retrieves a session by ID, scoped to userID. Returns
// sql.ErrNoRows if the session doesn't exist or belongs to another user --
// the two cases are deliberately indistinguishable (spec.md's AuthorizationError).
func (s *Store) GetOwnedSession(id, userID string) (*model.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, sandbox_id, preview_url, title, status, created_at, last_activity
		 FROM sessions WHERE id = ? AND user_id = ?`, id, userID,
	)
	return scanSession(row)
}

// ListSessions returns all sessions owned by userID, newest first.
func (s *Store) ListSessions(userID string) ([]*model.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, sandbox_id, preview_url, title, status, created_at, last_activity
		 FROM sessions WHERE user_id = ? ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSession persists mutable fields of a session.
func (s *Store) UpdateSession(sess *model.Session) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET sandbox_id = ?, preview_url = ?, title = ?, status = ?, last_activity = ?
		 WHERE id = ?`,
		sess.SandboxID, sess.PreviewURL, sess.Title, sess.Status, sess.LastActivity, sess.ID,
	)
	return err
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(id string) error {
	if _, err := s.db.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func scanSession(row *sql.Row) (*model.Session, error) {
	sess := &model.Session{}
	err := row.Scan(&sess.ID, &sess.UserID, &sess.SandboxID, &sess.PreviewURL,
		&sess.Title, &sess.Status, &sess.CreatedAt, &sess.LastActivity)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func scanSessionRows(rows *sql.Rows) (*model.Session, error) {
	sess := &model.Session{}
	err := rows.Scan(&sess.ID, &sess.UserID, &sess.SandboxID, &sess.PreviewURL,
		&sess.Title, &sess.Status, &sess.CreatedAt, &sess.LastActivity)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// --- Messages ---

// AddMessage inserts a message (with its step traces, if any) and sets its ID.
func (s *Store) AddMessage(msg *model.Message) error {
	var stepsJSON sql.NullString
	if len(msg.Steps) > 0 {
		b, err := json.Marshal(msg.Steps)
		if err != nil {
			return fmt.Errorf("marshaling steps: %w", err)
		}
		stepsJSON = sql.NullString{String: string(b), Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO messages (session_id, role, content, steps, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Role, msg.Content, stepsJSON, msg.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id
	return nil
}

// GetMessages returns all messages for a session, oldest first.
func (s *Store) GetMessages(sessionID string) ([]*model.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, steps, created_at
		 FROM messages WHERE session_id = ? ORDER BY id ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// LastMessages returns the most recent n messages for a session, oldest first.
func (s *Store) LastMessages(sessionID string, n int) ([]*model.Message, error) {
	all, err := s.GetMessages(sessionID)
	if err != nil {
		return nil, err
	}
	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}

func scanMessage(rows *sql.Rows) (*model.Message, error) {
	msg := &model.Message{}
	var stepsJSON sql.NullString
	if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &stepsJSON, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if stepsJSON.Valid && stepsJSON.String != "" {
		if err := json.Unmarshal([]byte(stepsJSON.String), &msg.Steps); err != nil {
			return nil, fmt.Errorf("unmarshaling steps: %w", err)
		}
	}
	return msg, nil
}

// PersistTurn appends the assistant message and updates the session's
// status/last_activity/preview_url in a single transaction — the
// atomic turn-completion write the session orchestrator depends on.
func (s *Store) PersistTurn(msg *model.Message, sess *model.Session) error {
	var stepsJSON sql.NullString
	if len(msg.Steps) > 0 {
		b, err := json.Marshal(msg.Steps)
		if err != nil {
			return fmt.Errorf("marshaling steps: %w", err)
		}
		stepsJSON = sql.NullString{String: string(b), Valid: true}
	}

	return s.WithTx(func(tx *sql.Tx) error {
		result, err := tx.Exec(
			`INSERT INTO messages (session_id, role, content, steps, created_at) VALUES (?, ?, ?, ?, ?)`,
			msg.SessionID, msg.Role, msg.Content, stepsJSON, msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		msg.ID = id

		_, err = tx.Exec(
			`UPDATE sessions SET sandbox_id = ?, preview_url = ?, title = ?, status = ?, last_activity = ?
			 WHERE id = ?`,
			sess.SandboxID, sess.PreviewURL, sess.Title, sess.Status, sess.LastActivity, sess.ID,
		)
		if err != nil {
			return fmt.Errorf("updating session: %w", err)
		}
		return nil
	})
}

// WithTx runs fn inside a transaction, committing on success.
func (s *Store) WithTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	SessionRunning  = "running"
	SessionFinished = "finished"
	SessionFailed   = "failed"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type Session struct {
	ID        string    `json:"id"`
	AgentA    string    `json:"agent_a"`
	AgentB    string    `json:"agent_b"`
	Status    string    `json:"status"`
	LastSeq   int64     `json:"last_seq"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) CreateSession(ctx context.Context, id, agentA, agentB string) (Session, error) {
	if id == "" {
		return Session{}, fmt.Errorf("session id is required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (id, agent_a, agent_b, status, last_seq, created_at, updated_at) VALUES (?, ?, ?, ?, 0, ?, ?)`,
		id, agentA, agentB, SessionRunning, formatTime(now), formatTime(now))
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return Session{ID: id, AgentA: agentA, AgentB: agentB, Status: SessionRunning, CreatedAt: now, UpdatedAt: now}, nil
}

// FinishSession records the outcome of a run. A non-nil runErr marks the
// session failed.
func (s *Store) FinishSession(ctx context.Context, id string, lastSeq int64, runErr error) error {
	status, errText := SessionFinished, ""
	if runErr != nil {
		status, errText = SessionFailed, runErr.Error()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ?, last_seq = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, lastSeq, nullString(errText), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, agent_a, agent_b, status, last_seq, error, created_at, updated_at FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return session, err
}

func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, agent_a, agent_b, status, last_seq, error, created_at, updated_at FROM sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var session Session
	var errText sql.NullString
	var createdAtStr, updatedAtStr string
	if err := row.Scan(&session.ID, &session.AgentA, &session.AgentB, &session.Status, &session.LastSeq, &errText, &createdAtStr, &updatedAtStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.Error = errText.String
	session.CreatedAt = parseTime(createdAtStr)
	session.UpdatedAt = parseTime(updatedAtStr)
	return session, nil
}

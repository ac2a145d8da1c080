package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// SQLite is a Repository backed by a local database file, used for
// development and tests.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens dsn (a file path or ":memory:") and applies migrations.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A second connection to :memory: would see an empty database.
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db, goose.DialectSQLite3); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) GetAgent(ctx context.Context, id string) (Agent, error) {
	var a Agent
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, system_prompt, voice_id, model_id, greeting, updated_at FROM agents WHERE id = ?`, id,
	).Scan(&a.ID, &a.UserID, &a.SystemPrompt, &a.VoiceID, &a.ModelID, &a.Greeting, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *SQLite) PutAgent(ctx context.Context, a Agent) error {
	if err := validateAgent(a); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, user_id, system_prompt, voice_id, model_id, greeting, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			system_prompt = excluded.system_prompt,
			voice_id = excluded.voice_id,
			model_id = excluded.model_id,
			greeting = excluded.greeting,
			updated_at = excluded.updated_at`,
		a.ID, a.UserID, a.SystemPrompt, a.VoiceID, a.ModelID, a.Greeting, a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("put agent: %w", err)
	}
	return nil
}

func (s *SQLite) GetCall(ctx context.Context, id string) (Call, error) {
	var c Call
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, user_id, created_at FROM calls WHERE id = ?`, id,
	).Scan(&c.ID, &c.AgentID, &c.UserID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, fmt.Errorf("call %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Call{}, fmt.Errorf("get call: %w", err)
	}
	return c, nil
}

func (s *SQLite) PutCall(ctx context.Context, c Call) error {
	if err := validateCall(c); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (id, agent_id, user_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET agent_id = excluded.agent_id, user_id = excluded.user_id`,
		c.ID, c.AgentID, c.UserID, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("put call: %w", err)
	}
	return nil
}

func (s *SQLite) AppendUtterance(ctx context.Context, u Utterance) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_utterances (id, call_id, role, text, confidence, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.CallID, u.Role, u.Text, u.Confidence, u.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append utterance: %w", err)
	}
	return nil
}

func (s *SQLite) ListUtterances(ctx context.Context, callID string) ([]Utterance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, call_id, role, text, confidence, created_at FROM call_utterances WHERE call_id = ? ORDER BY created_at, id`, callID)
	if err != nil {
		return nil, fmt.Errorf("list utterances: %w", err)
	}
	defer rows.Close()

	var out []Utterance
	for rows.Next() {
		var u Utterance
		if err := rows.Scan(&u.ID, &u.CallID, &u.Role, &u.Text, &u.Confidence, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan utterance: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Postgres is the production Repository.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and applies migrations.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = Migrate(ctx, db, goose.DialectPostgres)
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) GetAgent(ctx context.Context, id string) (Agent, error) {
	var a Agent
	err := p.pool.QueryRow(ctx,
		`SELECT id, user_id, system_prompt, voice_id, model_id, greeting, updated_at FROM agents WHERE id = $1`, id,
	).Scan(&a.ID, &a.UserID, &a.SystemPrompt, &a.VoiceID, &a.ModelID, &a.Greeting, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (p *Postgres) PutAgent(ctx context.Context, a Agent) error {
	if err := validateAgent(a); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO agents (id, user_id, system_prompt, voice_id, model_id, greeting, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			system_prompt = EXCLUDED.system_prompt,
			voice_id = EXCLUDED.voice_id,
			model_id = EXCLUDED.model_id,
			greeting = EXCLUDED.greeting,
			updated_at = EXCLUDED.updated_at`,
		a.ID, a.UserID, a.SystemPrompt, a.VoiceID, a.ModelID, a.Greeting, a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("put agent: %w", err)
	}
	return nil
}

func (p *Postgres) GetCall(ctx context.Context, id string) (Call, error) {
	var c Call
	err := p.pool.QueryRow(ctx,
		`SELECT id, agent_id, user_id, created_at FROM calls WHERE id = $1`, id,
	).Scan(&c.ID, &c.AgentID, &c.UserID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, fmt.Errorf("call %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Call{}, fmt.Errorf("get call: %w", err)
	}
	return c, nil
}

func (p *Postgres) PutCall(ctx context.Context, c Call) error {
	if err := validateCall(c); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO calls (id, agent_id, user_id, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET agent_id = EXCLUDED.agent_id, user_id = EXCLUDED.user_id`,
		c.ID, c.AgentID, c.UserID, c.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("put call: %w", err)
	}
	return nil
}

func (p *Postgres) AppendUtterance(ctx context.Context, u Utterance) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO call_utterances (id, call_id, role, text, confidence, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.CallID, u.Role, u.Text, u.Confidence, u.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append utterance: %w", err)
	}
	return nil
}

func (p *Postgres) ListUtterances(ctx context.Context, callID string) ([]Utterance, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, call_id, role, text, confidence, created_at FROM call_utterances WHERE call_id = $1 ORDER BY created_at, id`, callID)
	if err != nil {
		return nil, fmt.Errorf("list utterances: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Utterance, error) {
		var u Utterance
		err := row.Scan(&u.ID, &u.CallID, &u.Role, &u.Text, &u.Confidence, &u.CreatedAt)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("list utterances: %w", err)
	}
	return out, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

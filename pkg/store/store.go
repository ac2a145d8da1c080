// Package store persists agents, calls and call transcripts.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vango-go/vai-calls/pkg/gateway/live/session"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Agent is the per-agent configuration a call is answered with.
type Agent struct {
	ID           string
	UserID       string
	SystemPrompt string
	VoiceID      string
	ModelID      string
	Greeting     string
	UpdatedAt    time.Time
}

// Call links a telephony call to its agent and owner.
type Call struct {
	ID        string
	AgentID   string
	UserID    string
	CreatedAt time.Time
}

const (
	RoleCaller = "caller"
	RoleAgent  = "agent"
)

// Utterance is one line of a call transcript.
type Utterance struct {
	ID         string
	CallID     string
	Role       string
	Text       string
	Confidence float64
	CreatedAt  time.Time
}

// Repository is the persistence contract the gateway depends on.
type Repository interface {
	GetAgent(ctx context.Context, id string) (Agent, error)
	PutAgent(ctx context.Context, agent Agent) error
	GetCall(ctx context.Context, id string) (Call, error)
	PutCall(ctx context.Context, call Call) error
	AppendUtterance(ctx context.Context, u Utterance) error
	ListUtterances(ctx context.Context, callID string) ([]Utterance, error)
	Ping(ctx context.Context) error
	Close() error
}

// Recorder appends completed turns to a call transcript.
type Recorder struct {
	repo  Repository
	newID func() string
	now   func() time.Time
}

func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, newID: uuid.NewString, now: time.Now}
}

// RecordTurn stores the caller utterance (when present) followed by the
// agent reply.
func (r *Recorder) RecordTurn(ctx context.Context, turn session.Turn) error {
	if r == nil || r.repo == nil {
		return nil
	}
	at := turn.At
	if at.IsZero() {
		at = r.now()
	}
	if strings.TrimSpace(turn.CallerText) != "" {
		if err := r.repo.AppendUtterance(ctx, Utterance{
			ID:         r.newID(),
			CallID:     turn.CallID,
			Role:       RoleCaller,
			Text:       turn.CallerText,
			Confidence: turn.Confidence,
			CreatedAt:  at,
		}); err != nil {
			return fmt.Errorf("append caller utterance: %w", err)
		}
	}
	if err := r.repo.AppendUtterance(ctx, Utterance{
		ID:        r.newID(),
		CallID:    turn.CallID,
		Role:      RoleAgent,
		Text:      turn.AgentText,
		CreatedAt: at.Add(time.Microsecond),
	}); err != nil {
		return fmt.Errorf("append agent utterance: %w", err)
	}
	return nil
}

func validateAgent(a Agent) error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("agent id is required")
	}
	if strings.TrimSpace(a.UserID) == "" {
		return fmt.Errorf("agent user id is required")
	}
	return nil
}

func validateCall(c Call) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("call id is required")
	}
	if strings.TrimSpace(c.AgentID) == "" {
		return fmt.Errorf("call agent id is required")
	}
	return nil
}

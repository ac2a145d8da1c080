package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/vango-go/vai-calls/pkg/gateway/live/session"
	"github.com/vango-go/vai-calls/pkg/store"
)

// ErrUnresolved means no session can be built for the origin.
var ErrUnresolved = errors.New("call could not be resolved")

type AgentSource interface {
	GetAgent(ctx context.Context, id string) (store.Agent, error)
}

type CallSource interface {
	GetCall(ctx context.Context, id string) (store.Call, error)
}

// BrowserDefaults configures browser chat sessions, which have no agent
// record.
type BrowserDefaults struct {
	SystemPrompt string
	ModelID      string
	Greeting     string
}

type Resolver struct {
	agents  AgentSource
	calls   CallSource
	browser BrowserDefaults
	newID   func() string
	logger  *slog.Logger
}

func NewResolver(agents AgentSource, calls CallSource, browser BrowserDefaults, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		agents:  agents,
		calls:   calls,
		browser: browser,
		newID:   uuid.NewString,
		logger:  logger,
	}
}

// Resolve loads everything a session needs for o. Failures wrap
// ErrUnresolved.
func (r *Resolver) Resolve(ctx context.Context, o Origin) (session.Profile, error) {
	switch o := o.(type) {
	case PhoneCall:
		return r.resolvePhoneCall(ctx, o)
	case BrowserChat:
		return r.resolveBrowserChat(o)
	default:
		return session.Profile{}, fmt.Errorf("%w: unsupported origin %T", ErrUnresolved, o)
	}
}

func (r *Resolver) resolvePhoneCall(ctx context.Context, o PhoneCall) (session.Profile, error) {
	if r.calls == nil || r.agents == nil {
		return session.Profile{}, fmt.Errorf("%w: no call repository configured", ErrUnresolved)
	}
	call, err := r.calls.GetCall(ctx, o.CallID)
	if err != nil {
		return session.Profile{}, fmt.Errorf("%w: load call: %w", ErrUnresolved, err)
	}
	if call.AgentID != "" && call.AgentID != o.AgentID {
		return session.Profile{}, fmt.Errorf("%w: call %q belongs to a different agent", ErrUnresolved, o.CallID)
	}
	agent, err := r.agents.GetAgent(ctx, o.AgentID)
	if err != nil {
		return session.Profile{}, fmt.Errorf("%w: load agent: %w", ErrUnresolved, err)
	}

	var missing []string
	if strings.TrimSpace(agent.SystemPrompt) == "" {
		missing = append(missing, "system prompt")
	}
	if strings.TrimSpace(agent.VoiceID) == "" {
		missing = append(missing, "voice")
	}
	if strings.TrimSpace(agent.ModelID) == "" {
		missing = append(missing, "model")
	}
	if len(missing) > 0 {
		return session.Profile{}, fmt.Errorf("%w: agent %q has no %s", ErrUnresolved, o.AgentID, strings.Join(missing, ", "))
	}

	r.logger.Debug("resolved phone call", "call_id", o.CallID, "agent_id", o.AgentID)
	return session.Profile{
		CallID:       o.CallID,
		AgentID:      agent.ID,
		UserID:       call.UserID,
		Origin:       KindPhoneCall,
		SystemPrompt: agent.SystemPrompt,
		VoiceID:      agent.VoiceID,
		ModelID:      agent.ModelID,
		Greeting:     agent.Greeting,
	}, nil
}

func (r *Resolver) resolveBrowserChat(o BrowserChat) (session.Profile, error) {
	if strings.TrimSpace(r.browser.SystemPrompt) == "" || strings.TrimSpace(r.browser.ModelID) == "" {
		return session.Profile{}, fmt.Errorf("%w: browser chat is not configured", ErrUnresolved)
	}
	return session.Profile{
		CallID:       "chat_" + r.newID(),
		UserID:       o.Identity,
		Origin:       KindBrowserChat,
		SystemPrompt: r.browser.SystemPrompt,
		VoiceID:      o.VoiceID,
		ModelID:      r.browser.ModelID,
		Greeting:     r.browser.Greeting,
	}, nil
}

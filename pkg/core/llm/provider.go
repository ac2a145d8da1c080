// Package llm generates spoken agent replies from a conversation history.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

// Message is one turn of a call conversation.
type Message struct {
	Role Role
	Text string
}

// Request is a single reply generation request.
type Request struct {
	System   string
	Messages []Message
	Model    string
}

// Generator produces the next agent reply for a conversation.
type Generator interface {
	// Name returns the provider identifier.
	Name() string

	// Generate returns reply text. Implementations must be safe for
	// concurrent use across sessions.
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrEmptyReply is returned when a provider answered without text.
var ErrEmptyReply = errors.New("llm returned an empty reply")

// ErrNoGenerator is returned when no provider serves the requested model.
var ErrNoGenerator = errors.New("no generator for model")

// stripProviderPrefix removes a routing prefix such as "google/" or
// "openai/" from a model id.
func stripProviderPrefix(model string) string {
	model = strings.TrimSpace(model)
	if _, rest, ok := strings.Cut(model, "/"); ok {
		return rest
	}
	return model
}

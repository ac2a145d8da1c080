package llm

import (
	"context"
	"log/slog"
)

// FallbackReply is spoken whenever generation fails.
const FallbackReply = "I'm sorry, I'm having trouble processing that right now. Could you say that again?"

// Reply is the outcome of one generation attempt.
type Reply struct {
	Text     string
	Fallback bool
}

// Responder wraps a Generator so that a turn always has something to say.
type Responder struct {
	gen    Generator
	logger *slog.Logger
}

// NewResponder creates a Responder around gen.
func NewResponder(gen Generator, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{gen: gen, logger: logger}
}

// Respond generates the agent reply to history, which already ends with the
// caller's newest turn. It never fails; errors degrade to FallbackReply.
func (r *Responder) Respond(ctx context.Context, system string, history []Message, model string) Reply {
	if r == nil || r.gen == nil {
		return Reply{Text: FallbackReply, Fallback: true}
	}
	msgs := make([]Message, len(history))
	copy(msgs, history)

	text, err := r.gen.Generate(ctx, Request{System: system, Messages: msgs, Model: model})
	if err != nil {
		r.logger.Warn("llm generation failed; using fallback", "provider", r.gen.Name(), "model", model, "error", err)
		return Reply{Text: FallbackReply, Fallback: true}
	}
	if text == "" {
		return Reply{Text: FallbackReply, Fallback: true}
	}
	return Reply{Text: text}
}

package session

import "github.com/vango-go/vai-calls/pkg/core/llm"

// history is the append-only conversation of one call.
type history struct {
	turns []llm.Message
}

func newHistory() *history {
	return &history{turns: make([]llm.Message, 0, 16)}
}

func (h *history) appendCaller(text string) int {
	h.turns = append(h.turns, llm.Message{Role: llm.RoleCaller, Text: text})
	return len(h.turns) - 1
}

func (h *history) appendAgent(text string) int {
	h.turns = append(h.turns, llm.Message{Role: llm.RoleAgent, Text: text})
	return len(h.turns) - 1
}

func (h *history) len() int {
	return len(h.turns)
}

// snapshot returns a copy safe to hand to another goroutine.
func (h *history) snapshot() []llm.Message {
	out := make([]llm.Message, len(h.turns))
	copy(out, h.turns)
	return out
}

package llm

import (
	"context"
	"fmt"
	"strings"
)

// Router dispatches requests to a Generator by model id prefix.
type Router struct {
	routes   map[string]Generator
	fallback Generator
}

// NewRouter creates an empty router. fallback serves models no prefix
// matches; it may be nil.
func NewRouter(fallback Generator) *Router {
	return &Router{routes: make(map[string]Generator), fallback: fallback}
}

// Handle registers g for models starting with prefix ("gemini", "gpt").
func (r *Router) Handle(prefix string, g Generator) {
	r.routes[strings.ToLower(strings.TrimSpace(prefix))] = g
}

// Name returns the provider identifier.
func (r *Router) Name() string {
	return "router"
}

// Generate forwards req to the generator registered for its model.
func (r *Router) Generate(ctx context.Context, req Request) (string, error) {
	g := r.lookup(req.Model)
	if g == nil {
		return "", fmt.Errorf("%w %q", ErrNoGenerator, req.Model)
	}
	return g.Generate(ctx, req)
}

func (r *Router) lookup(model string) Generator {
	model = strings.ToLower(strings.TrimSpace(model))
	if provider, _, ok := strings.Cut(model, "/"); ok {
		if g, found := r.routes[provider]; found {
			return g
		}
	}
	var (
		best    Generator
		bestLen int
	)
	for prefix, g := range r.routes {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = g, len(prefix)
		}
	}
	if best != nil {
		return best
	}
	return r.fallback
}

package llm

import (
	"context"
	"errors"
	"testing"
)

type fakeGenerator struct {
	name  string
	reply string
	err   error
	reqs  []Request
}

func (f *fakeGenerator) Name() string { return f.name }

func (f *fakeGenerator) Generate(_ context.Context, req Request) (string, error) {
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

func TestRouter_PicksByPrefix(t *testing.T) {
	gemini := &fakeGenerator{name: "gemini", reply: "g"}
	openai := &fakeGenerator{name: "openai", reply: "o"}
	r := NewRouter(nil)
	r.Handle("gemini", gemini)
	r.Handle("gpt", openai)
	r.Handle("openai", openai)

	cases := map[string]string{
		"gemini-2.0-flash":   "g",
		"gpt-4o-mini":        "o",
		"openai/gpt-4o-mini": "o",
		"GEMINI-1.5-pro":     "g",
	}
	for model, want := range cases {
		got, err := r.Generate(context.Background(), Request{Model: model})
		if err != nil {
			t.Fatalf("Generate(%q) error: %v", model, err)
		}
		if got != want {
			t.Fatalf("Generate(%q)=%q, want %q", model, got, want)
		}
	}
}

func TestRouter_UnknownModel(t *testing.T) {
	r := NewRouter(nil)
	if _, err := r.Generate(context.Background(), Request{Model: "claude"}); !errors.Is(err, ErrNoGenerator) {
		t.Fatalf("err=%v, want ErrNoGenerator", err)
	}

	fallback := &fakeGenerator{name: "default", reply: "d"}
	r = NewRouter(fallback)
	got, err := r.Generate(context.Background(), Request{Model: "claude"})
	if err != nil || got != "d" {
		t.Fatalf("Generate()=%q, %v; want fallback generator", got, err)
	}
}

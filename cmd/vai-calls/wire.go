package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/vango-go/vai-calls/pkg/core/llm"
	"github.com/vango-go/vai-calls/pkg/core/voice/stt"
	"github.com/vango-go/vai-calls/pkg/core/voice/tts"
	"github.com/vango-go/vai-calls/pkg/gateway/config"
	"github.com/vango-go/vai-calls/pkg/gateway/handlers"
	"github.com/vango-go/vai-calls/pkg/gateway/live/bootstrap"
	"github.com/vango-go/vai-calls/pkg/gateway/metrics"
	gatewayserver "github.com/vango-go/vai-calls/pkg/gateway/server"
	"github.com/vango-go/vai-calls/pkg/gateway/usage"
	"github.com/vango-go/vai-calls/pkg/store"
)

// buildGateway opens the persistence layer and constructs every provider
// the call sessions share. The returned func releases them.
func buildGateway(ctx context.Context, cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, func(), error) {
	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){func() { _ = repo.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	readyChecks := map[string]handlers.ReadyCheck{"store": repo.Ping}

	var agents bootstrap.AgentSource = repo
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		closers = append(closers, func() { _ = rdb.Close() })
		agents = store.NewCachedAgents(repo, rdb, cfg.AgentCacheTTL, logger)
		readyChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	meter, err := newMeter(cfg, rdb)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	transcriber, err := newTranscriber(cfg)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	synthesizer, err := newSynthesizer(cfg)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	generator, err := newGenerator(ctx, cfg)
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	if !cfg.BrowserChatEnabled() {
		logger.Info("browser chat disabled; set VAI_CALLS_BROWSER_SYSTEM_PROMPT and VAI_CALLS_BROWSER_MODEL to enable")
	}
	resolver := bootstrap.NewResolver(agents, repo, bootstrap.BrowserDefaults{
		SystemPrompt: cfg.BrowserSystemPrompt,
		ModelID:      cfg.BrowserModel,
		Greeting:     cfg.BrowserGreeting,
	}, logger)

	gw := gatewayserver.New(cfg, logger, gatewayserver.Dependencies{
		Resolver:    resolver,
		STT:         transcriber,
		Responder:   llm.NewResponder(generator, logger),
		TTS:         synthesizer,
		Recorder:    store.NewRecorder(repo),
		Meter:       meter,
		Metrics:     metrics.New(""),
		ReadyChecks: readyChecks,
	})
	return gw, closeAll, nil
}

func openRepository(ctx context.Context, cfg config.Config) (store.Repository, error) {
	if cfg.DatabaseURL != "" {
		repo, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return repo, nil
	}
	repo, err := store.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return repo, nil
}

func newMeter(cfg config.Config, rdb redis.Cmdable) (usage.Meter, error) {
	var meters usage.Multi
	if rdb != nil {
		meters = append(meters, usage.NewRedisCounter(rdb))
	}
	if cfg.StripeAPIKey != "" {
		sm, err := usage.NewStripeMeter(usage.StripeConfig{
			APIKey: cfg.StripeAPIKey,
			Events: map[usage.Kind]string{usage.KindCallSeconds: cfg.StripeMeterEvent},
		})
		if err != nil {
			return nil, fmt.Errorf("stripe meter: %w", err)
		}
		meters = append(meters, sm)
	}
	if len(meters) == 0 {
		return usage.Nop{}, nil
	}
	return meters, nil
}

func newTranscriber(cfg config.Config) (stt.Transcriber, error) {
	switch cfg.STTProvider {
	case config.STTCartesia:
		return stt.NewCartesia(cfg.CartesiaAPIKey), nil
	case config.STTDeepgram:
		return stt.NewDeepgram(cfg.DeepgramAPIKey), nil
	default:
		return nil, fmt.Errorf("unsupported stt provider %q", cfg.STTProvider)
	}
}

func newSynthesizer(cfg config.Config) (tts.Synthesizer, error) {
	switch cfg.TTSProvider {
	case config.TTSElevenLabs:
		return tts.NewElevenLabs(cfg.ElevenLabsAPIKey), nil
	case config.TTSCartesia:
		return tts.NewCartesia(cfg.CartesiaAPIKey), nil
	default:
		return nil, fmt.Errorf("unsupported tts provider %q", cfg.TTSProvider)
	}
}

// newGenerator routes gemini models to Gemini and gpt models to OpenAI.
// Unprefixed models go to whichever provider is configured, Gemini first.
func newGenerator(ctx context.Context, cfg config.Config) (*llm.Router, error) {
	var gemini, openai llm.Generator
	if cfg.GeminiAPIKey != "" {
		g, err := llm.NewGemini(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		gemini = g
	}
	if cfg.OpenAIAPIKey != "" {
		openai = llm.NewOpenAI(cfg.OpenAIAPIKey, llm.WithOpenAIBaseURL(cfg.OpenAIBaseURL))
	}

	fallback := gemini
	if fallback == nil {
		fallback = openai
	}
	if fallback == nil {
		return nil, fmt.Errorf("no llm provider configured")
	}
	router := llm.NewRouter(fallback)
	if gemini != nil {
		router.Handle("gemini", gemini)
		router.Handle("google", gemini)
	}
	if openai != nil {
		router.Handle("gpt", openai)
		router.Handle("openai", openai)
	}
	return router, nil
}

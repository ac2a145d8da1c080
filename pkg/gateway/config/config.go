package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	STTCartesia = "cartesia"
	STTDeepgram = "deepgram"

	TTSElevenLabs = "elevenlabs"
	TTSCartesia   = "cartesia"

	TriggerSilence = "silence"
	TriggerCount   = "count"
)

type Config struct {
	Addr      string
	LogLevel  string
	LogFormat string

	// Persistence. DatabaseURL selects Postgres; otherwise SQLitePath is used.
	DatabaseURL   string
	SQLitePath    string
	RedisURL      string
	AgentCacheTTL time.Duration

	// Speech and language providers.
	STTProvider      string
	TTSProvider      string
	CartesiaAPIKey   string
	DeepgramAPIKey   string
	ElevenLabsAPIKey string
	GeminiAPIKey     string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	STTLanguage      string

	// Utterance trigger.
	Trigger               string
	TriggerChunks         int
	SilenceThreshold      float64
	SilenceHangoverFrames int
	MinSpeechFrames       int
	MaxUtteranceFrames    int

	// Call sessions.
	TurnTimeout            time.Duration
	WSPingInterval         time.Duration
	WSWriteTimeout         time.Duration
	WSReadTimeout          time.Duration
	MaxSessionDuration     time.Duration
	MaxJSONMessageBytes    int64
	OutboundQueueSize      int
	MaxAudioFPS            int
	MaxAudioBytesPerSecond int64
	InboundBurstSeconds    int
	PersistTimeout         time.Duration

	// Browser chat sessions have no agent record.
	BrowserSystemPrompt string
	BrowserModel        string
	BrowserGreeting     string

	StripeAPIKey     string
	StripeMeterEvent string

	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	TrustProxyHeaders bool

	ReadHeaderTimeout   time.Duration
	HandshakeTimeout    time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("VAI_CALLS_ADDR", ":8080"),
		LogLevel:               strings.ToLower(envOr("VAI_CALLS_LOG_LEVEL", "info")),
		LogFormat:              strings.ToLower(envOr("VAI_CALLS_LOG_FORMAT", "text")),
		DatabaseURL:            envOr("VAI_CALLS_DATABASE_URL", ""),
		SQLitePath:             envOr("VAI_CALLS_SQLITE_PATH", "vai-calls.db"),
		RedisURL:               envOr("VAI_CALLS_REDIS_URL", ""),
		AgentCacheTTL:          envDurationOr("VAI_CALLS_AGENT_CACHE_TTL", 5*time.Minute),
		STTProvider:            strings.ToLower(envOr("VAI_CALLS_STT_PROVIDER", STTCartesia)),
		TTSProvider:            strings.ToLower(envOr("VAI_CALLS_TTS_PROVIDER", TTSElevenLabs)),
		CartesiaAPIKey:         envOr("VAI_CALLS_CARTESIA_API_KEY", ""),
		DeepgramAPIKey:         envOr("VAI_CALLS_DEEPGRAM_API_KEY", ""),
		ElevenLabsAPIKey:       envOr("VAI_CALLS_ELEVENLABS_API_KEY", ""),
		GeminiAPIKey:           envOr("VAI_CALLS_GEMINI_API_KEY", ""),
		OpenAIAPIKey:           envOr("VAI_CALLS_OPENAI_API_KEY", ""),
		OpenAIBaseURL:          envOr("VAI_CALLS_OPENAI_BASE_URL", "https://api.openai.com/v1"),
		STTLanguage:            envOr("VAI_CALLS_STT_LANGUAGE", "en"),
		Trigger:                strings.ToLower(envOr("VAI_CALLS_TRIGGER", TriggerSilence)),
		TriggerChunks:          envIntOr("VAI_CALLS_TRIGGER_CHUNKS", 10),
		SilenceThreshold:       envFloat64Or("VAI_CALLS_SILENCE_THRESHOLD", 500),
		SilenceHangoverFrames:  envIntOr("VAI_CALLS_SILENCE_HANGOVER_FRAMES", 25),
		MinSpeechFrames:        envIntOr("VAI_CALLS_MIN_SPEECH_FRAMES", 5),
		MaxUtteranceFrames:     envIntOr("VAI_CALLS_MAX_UTTERANCE_FRAMES", 750),
		TurnTimeout:            envDurationOr("VAI_CALLS_TURN_TIMEOUT", 30*time.Second),
		WSPingInterval:         envDurationOr("VAI_CALLS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:         envDurationOr("VAI_CALLS_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:          envDurationOr("VAI_CALLS_WS_READ_TIMEOUT", 0),
		MaxSessionDuration:     envDurationOr("VAI_CALLS_MAX_SESSION_DURATION", 2*time.Hour),
		MaxJSONMessageBytes:    envInt64Or("VAI_CALLS_MAX_JSON_MESSAGE_BYTES", 64*1024),
		OutboundQueueSize:      envIntOr("VAI_CALLS_OUTBOUND_QUEUE_SIZE", 256),
		MaxAudioFPS:            envIntOr("VAI_CALLS_MAX_AUDIO_FPS", 120),
		MaxAudioBytesPerSecond: envInt64Or("VAI_CALLS_MAX_AUDIO_BPS", 64*1024),
		InboundBurstSeconds:    envIntOr("VAI_CALLS_INBOUND_BURST_SECONDS", 2),
		PersistTimeout:         envDurationOr("VAI_CALLS_PERSIST_TIMEOUT", 5*time.Second),
		BrowserSystemPrompt:    envOr("VAI_CALLS_BROWSER_SYSTEM_PROMPT", ""),
		BrowserModel:           envOr("VAI_CALLS_BROWSER_MODEL", ""),
		BrowserGreeting:        envOr("VAI_CALLS_BROWSER_GREETING", ""),
		StripeAPIKey:           envOr("VAI_CALLS_STRIPE_API_KEY", ""),
		StripeMeterEvent:       envOr("VAI_CALLS_STRIPE_METER_EVENT", "call_seconds"),
		CORSAllowedOrigins:     make(map[string]struct{}),
		TrustProxyHeaders:      envBoolOr("VAI_CALLS_TRUST_PROXY_HEADERS", false),
		ReadHeaderTimeout:      envDurationOr("VAI_CALLS_READ_HEADER_TIMEOUT", 10*time.Second),
		HandshakeTimeout:       envDurationOr("VAI_CALLS_HANDSHAKE_TIMEOUT", 5*time.Second),
		ShutdownGracePeriod:    envDurationOr("VAI_CALLS_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("VAI_CALLS_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("VAI_CALLS_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("VAI_CALLS_LOG_FORMAT must be one of text|json")
	}

	switch cfg.STTProvider {
	case STTCartesia:
		if cfg.CartesiaAPIKey == "" {
			return Config{}, fmt.Errorf("VAI_CALLS_CARTESIA_API_KEY must be set when VAI_CALLS_STT_PROVIDER=cartesia")
		}
	case STTDeepgram:
		if cfg.DeepgramAPIKey == "" {
			return Config{}, fmt.Errorf("VAI_CALLS_DEEPGRAM_API_KEY must be set when VAI_CALLS_STT_PROVIDER=deepgram")
		}
	default:
		return Config{}, fmt.Errorf("VAI_CALLS_STT_PROVIDER must be one of cartesia|deepgram")
	}
	switch cfg.TTSProvider {
	case TTSElevenLabs:
		if cfg.ElevenLabsAPIKey == "" {
			return Config{}, fmt.Errorf("VAI_CALLS_ELEVENLABS_API_KEY must be set when VAI_CALLS_TTS_PROVIDER=elevenlabs")
		}
	case TTSCartesia:
		if cfg.CartesiaAPIKey == "" {
			return Config{}, fmt.Errorf("VAI_CALLS_CARTESIA_API_KEY must be set when VAI_CALLS_TTS_PROVIDER=cartesia")
		}
	default:
		return Config{}, fmt.Errorf("VAI_CALLS_TTS_PROVIDER must be one of elevenlabs|cartesia")
	}
	if cfg.GeminiAPIKey == "" && cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("one of VAI_CALLS_GEMINI_API_KEY or VAI_CALLS_OPENAI_API_KEY must be set")
	}
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return Config{}, fmt.Errorf("one of VAI_CALLS_DATABASE_URL or VAI_CALLS_SQLITE_PATH must be set")
	}

	switch cfg.Trigger {
	case TriggerSilence, TriggerCount:
	default:
		return Config{}, fmt.Errorf("VAI_CALLS_TRIGGER must be one of silence|count")
	}
	if cfg.TriggerChunks <= 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_TRIGGER_CHUNKS must be > 0")
	}
	if cfg.SilenceThreshold <= 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_SILENCE_THRESHOLD must be > 0")
	}
	if cfg.SilenceHangoverFrames <= 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_SILENCE_HANGOVER_FRAMES must be > 0")
	}
	if cfg.MinSpeechFrames <= 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_MIN_SPEECH_FRAMES must be > 0")
	}
	if cfg.MaxUtteranceFrames < cfg.MinSpeechFrames {
		return Config{}, fmt.Errorf("VAI_CALLS_MAX_UTTERANCE_FRAMES must be >= VAI_CALLS_MIN_SPEECH_FRAMES")
	}

	if cfg.TurnTimeout < 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_TURN_TIMEOUT must be >= 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.MaxSessionDuration < 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_MAX_SESSION_DURATION must be >= 0")
	}
	if cfg.MaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.MaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.MaxAudioBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_MAX_AUDIO_BPS must be >= 0")
	}
	if (cfg.MaxAudioFPS > 0 || cfg.MaxAudioBytesPerSecond > 0) && cfg.InboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("VAI_CALLS_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.PersistTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_PERSIST_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VAI_CALLS_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// BrowserChatEnabled reports whether browser chat sessions can be resolved.
func (c Config) BrowserChatEnabled() bool {
	return c.BrowserSystemPrompt != "" && c.BrowserModel != ""
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const elevenLabsDefaultWSBase = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"

// ElevenLabsProvider implements Synthesizer over the stream-input websocket.
type ElevenLabsProvider struct {
	apiKey    string
	wsBaseURL string
	dialer    *websocket.Dialer
}

func NewElevenLabs(apiKey string) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		apiKey:    strings.TrimSpace(apiKey),
		wsBaseURL: elevenLabsDefaultWSBase,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (e *ElevenLabsProvider) WithWSBaseURL(base string) *ElevenLabsProvider {
	if e == nil {
		return e
	}
	base = strings.TrimSpace(base)
	if base != "" {
		e.wsBaseURL = base
	}
	return e
}

func (e *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

// Synthesize streams text in and concatenates audio until the provider
// reports isFinal. A stream that breaks earlier is a failure.
func (e *ElevenLabsProvider) Synthesize(ctx context.Context, text string, opts Options) ([]byte, error) {
	sc, err := e.NewStreamingContext(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	if err := sc.SendText(text, false); err != nil {
		return nil, fmt.Errorf("send text: %w", err)
	}
	if err := sc.Flush(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}

	var out []byte
	for chunk := range sc.Audio() {
		out = append(out, chunk...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !sc.Final() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, ErrIncomplete
	}
	return out, nil
}

// NewStreamingContext dials the stream-input endpoint for opts.Voice.
func (e *ElevenLabsProvider) NewStreamingContext(ctx context.Context, opts Options) (*StreamingContext, error) {
	if e == nil || e.apiKey == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	opts = opts.withDefaults()
	if opts.Voice == "" {
		return nil, fmt.Errorf("voice id is required")
	}
	wsURL, err := buildElevenLabsProviderWSURL(e.wsBaseURL, opts)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("xi-api-key", e.apiKey)
	conn, resp, err := e.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("elevenlabs connect (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("elevenlabs connect: %w", err)
	}

	sc := NewStreamingContext()
	connDone := make(chan struct{})
	var closeOnce sync.Once
	closeConn := func() error {
		var closeErr error
		closeOnce.Do(func() {
			close(connDone)
			closeErr = conn.Close()
		})
		return closeErr
	}

	// The opening message must carry a single space.
	if err := conn.WriteJSON(map[string]any{"text": " "}); err != nil {
		_ = closeConn()
		return nil, fmt.Errorf("send init: %w", err)
	}

	var writeMu sync.Mutex
	sc.SendFunc = func(text string, isFinal bool) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

		text = strings.TrimSpace(text)
		if text != "" {
			payload := map[string]any{"text": text + " "}
			if isFinal {
				payload["flush"] = true
			}
			if err := conn.WriteJSON(payload); err != nil {
				return err
			}
		}
		if isFinal {
			// Empty text closes the input side; the provider answers with isFinal.
			return conn.WriteJSON(map[string]any{"text": ""})
		}
		return nil
	}
	sc.CloseFunc = closeConn

	go func() {
		select {
		case <-ctx.Done():
			sc.SetError(ctx.Err())
			_ = closeConn()
		case <-connDone:
		}
	}()

	go func() {
		defer sc.FinishAudio()
		defer sc.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				sc.SetError(fmt.Errorf("elevenlabs read: %w", err))
				return
			}
			var msg map[string]json.RawMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if errText := decodeStringRaw(msg["error"]); errText != "" {
				if detail := decodeStringRaw(msg["message"]); detail != "" {
					errText += ": " + detail
				}
				sc.SetError(fmt.Errorf("elevenlabs: %s", errText))
				return
			}
			if audioB64 := decodeStringRaw(msg["audio"]); audioB64 != "" {
				audio, err := base64.StdEncoding.DecodeString(audioB64)
				if err != nil {
					sc.SetError(fmt.Errorf("decode audio: %w", err))
					return
				}
				if len(audio) > 0 && !sc.PushAudio(audio) {
					return
				}
			}
			if decodeBoolRaw(msg["isFinal"]) || decodeBoolRaw(msg["is_final"]) {
				sc.MarkFinal()
				return
			}
		}
	}()

	return sc, nil
}

func buildElevenLabsProviderWSURL(base string, opts Options) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = elevenLabsDefaultWSBase
	}
	base = strings.ReplaceAll(base, "{voice_id}", url.PathEscape(opts.Voice))
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/text-to-speech/" + url.PathEscape(opts.Voice) + "/stream-input"
	}
	q := u.Query()
	if q.Get("model_id") == "" {
		model := opts.Model
		if model == "" {
			model = "eleven_flash_v2_5"
		}
		q.Set("model_id", model)
	}
	if q.Get("output_format") == "" {
		q.Set("output_format", "pcm_"+strconv.Itoa(opts.SampleRate))
	}
	if opts.Language != "" && q.Get("language_code") == "" {
		q.Set("language_code", opts.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func decodeStringRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func decodeBoolRaw(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var out bool
	if err := json.Unmarshal(raw, &out); err != nil {
		return false
	}
	return out
}

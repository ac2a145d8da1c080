package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion = "2025-04-16"

	// 200ms of 8kHz PCM16 per websocket message.
	cartesiaChunkBytes = 3200
)

// CartesiaProvider implements Transcriber over Cartesia's streaming websocket.
type CartesiaProvider struct {
	apiKey string
	wsURL  string
	dialer *websocket.Dialer
}

// NewCartesia creates a new Cartesia STT provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return &CartesiaProvider{
		apiKey: strings.TrimSpace(apiKey),
		wsURL:  cartesiaWSURL,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// WithWSURL overrides the websocket endpoint.
func (c *CartesiaProvider) WithWSURL(raw string) *CartesiaProvider {
	if raw = strings.TrimSpace(raw); raw != "" {
		c.wsURL = raw
	}
	return c
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

// Transcribe streams one utterance and waits for the engine to flush it.
// Cartesia does not report confidence, so non-empty text scores 1.
func (c *CartesiaProvider) Transcribe(ctx context.Context, pcm []byte, opts Options) (Transcript, error) {
	stream, err := c.NewStreamingSTT(ctx, opts)
	if err != nil {
		return Transcript{}, err
	}
	defer stream.Close()

	for start := 0; start < len(pcm); start += cartesiaChunkBytes {
		end := min(start+cartesiaChunkBytes, len(pcm))
		if err := stream.SendAudio(pcm[start:end]); err != nil {
			return Transcript{}, fmt.Errorf("send audio: %w", err)
		}
	}
	if err := stream.Finalize(); err != nil {
		return Transcript{}, fmt.Errorf("finalize: %w", err)
	}

	var parts []string
	for {
		select {
		case <-ctx.Done():
			return Transcript{}, ctx.Err()
		case delta, ok := <-stream.Transcripts():
			if !ok {
				if err := ctx.Err(); err != nil {
					return Transcript{}, err
				}
				if err := stream.Err(); err != nil {
					return Transcript{}, err
				}
				return Transcript{}, ErrStreamClosed
			}
			if delta.FlushDone {
				text := strings.Join(parts, " ")
				t := Transcript{Text: text}
				if !t.Empty() {
					t.Confidence = 1
				}
				return t, nil
			}
			if delta.IsFinal {
				if text := strings.TrimSpace(delta.Text); text != "" {
					parts = append(parts, text)
				}
			}
		}
	}
}

// StreamingSTT represents a real-time streaming transcription session.
type StreamingSTT struct {
	conn        *websocket.Conn
	transcripts chan TranscriptDelta
	done        chan struct{}
	closed      atomic.Bool
	writeMu     sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc

	errMu sync.Mutex
	err   error
}

// NewStreamingSTT opens a Cartesia websocket session. Audio is sent with
// SendAudio and transcripts are received on Transcripts.
func (c *CartesiaProvider) NewStreamingSTT(ctx context.Context, opts Options) (*StreamingSTT, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("cartesia api key is required")
	}
	opts = opts.withDefaults()

	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	model := opts.Model
	if model == "" {
		model = "ink-whisper"
	}
	q.Set("model", model)
	q.Set("language", opts.Language)
	q.Set("encoding", opts.Encoding)
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("min_volume", "0.01")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &StreamingSTT{
		conn:        conn,
		transcripts: make(chan TranscriptDelta, 100),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	go s.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *StreamingSTT) readLoop() {
	defer func() {
		close(s.transcripts)
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.setErr(fmt.Errorf("cartesia stt read: %w", err))
			}
			return
		}

		var msg cartesiaSTTResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		var delta TranscriptDelta
		switch msg.Type {
		case "transcript":
			delta = TranscriptDelta{Text: msg.Text, IsFinal: msg.IsFinal, Timestamp: msg.Duration}
		case "flush_done":
			delta = TranscriptDelta{FlushDone: true}
		case "done":
			return
		case "error":
			s.setErr(fmt.Errorf("cartesia stt: %s", strings.TrimSpace(msg.Error)))
			return
		default:
			continue
		}
		select {
		case s.transcripts <- delta:
		case <-s.ctx.Done():
			return
		}
	}
}

type cartesiaSTTResponse struct {
	Type     string  `json:"type"`
	Text     string  `json:"text"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Language string  `json:"language"`
	Error    string  `json:"error"`
}

// SendAudio sends raw audio in the format negotiated at connect time.
func (s *StreamingSTT) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Finalize asks the engine to flush transcripts for all audio sent so far.
func (s *StreamingSTT) Finalize() error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

// Transcripts returns the channel of transcript deltas. It is closed when
// the session ends.
func (s *StreamingSTT) Transcripts() <-chan TranscriptDelta {
	return s.transcripts
}

// Err returns the error that ended the session, if any.
func (s *StreamingSTT) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *StreamingSTT) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Close closes the streaming session. It is safe to call more than once.
func (s *StreamingSTT) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = s.conn.SetWriteDeadline(deadline)
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.writeMu.Unlock()

	return s.conn.Close()
}

package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const deepgramBaseURL = "https://api.deepgram.com"

// DeepgramProvider implements Transcriber with Deepgram's pre-recorded API.
type DeepgramProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewDeepgram creates a new Deepgram STT provider.
func NewDeepgram(apiKey string) *DeepgramProvider {
	return NewDeepgramWithClient(apiKey, nil)
}

// NewDeepgramWithClient creates a new Deepgram STT provider with a custom HTTP client.
func NewDeepgramWithClient(apiKey string, client *http.Client) *DeepgramProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &DeepgramProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    deepgramBaseURL,
		httpClient: client,
	}
}

// WithBaseURL overrides the API base URL.
func (d *DeepgramProvider) WithBaseURL(base string) *DeepgramProvider {
	if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
		d.baseURL = base
	}
	return d
}

// Name returns the provider identifier.
func (d *DeepgramProvider) Name() string {
	return "deepgram"
}

// Transcribe posts one utterance of linear PCM and returns the top alternative.
func (d *DeepgramProvider) Transcribe(ctx context.Context, pcm []byte, opts Options) (Transcript, error) {
	if d.apiKey == "" {
		return Transcript{}, fmt.Errorf("deepgram api key is required")
	}
	opts = opts.withDefaults()

	u, err := url.Parse(d.baseURL + "/v1/listen")
	if err != nil {
		return Transcript{}, fmt.Errorf("parse url: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = "nova-2-phonecall"
	}
	q := u.Query()
	q.Set("model", model)
	q.Set("language", opts.Language)
	q.Set("encoding", deepgramEncoding(opts.Encoding))
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("channels", "1")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(pcm))
	if err != nil {
		return Transcript{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Transcript{}, fmt.Errorf("deepgram error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out deepgramListenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Transcript{}, fmt.Errorf("parse response: %w", err)
	}
	if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
		return Transcript{}, nil
	}
	alt := out.Results.Channels[0].Alternatives[0]
	return Transcript{Text: strings.TrimSpace(alt.Transcript), Confidence: alt.Confidence}, nil
}

type deepgramListenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func deepgramEncoding(encoding string) string {
	switch encoding {
	case "pcm_mulaw":
		return "mulaw"
	case "pcm_alaw":
		return "alaw"
	default:
		return "linear16"
	}
}

// Package protocol defines the JSON events exchanged with a media-stream
// transport (Twilio Media Streams and the browser chat client).
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// MarkAudioComplete names the mark sent after the last frame of a reply.
const MarkAudioComplete = "audio_complete"

const (
	EventConnected     = "connected"
	EventStart         = "start"
	EventMedia         = "media"
	EventMark          = "mark"
	EventStop          = "stop"
	EventPing          = "ping"
	EventPong          = "pong"
	EventTranscript    = "transcript"
	EventAgentResponse = "agent-response"
	EventError         = "error"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// MediaFormat describes the inbound audio negotiated by the transport.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type Connected struct {
	Protocol string
	Version  string
}

type Start struct {
	StreamSID        string
	CallSID          string
	MediaFormat      MediaFormat
	CustomParameters map[string]string
}

// Media carries one inbound chunk of transport-encoded (mu-law) audio.
type Media struct {
	StreamSID string
	Track     string
	Audio     []byte
}

type Mark struct {
	StreamSID string
	Name      string
}

type Stop struct {
	StreamSID string
}

type Ping struct{}

// Unknown is returned for well-formed events this server does not handle.
type Unknown struct {
	Event string
}

type inboundEnvelope struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	Version   string `json:"version,omitempty"`
	Start     *struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		MediaFormat      MediaFormat       `json:"mediaFormat"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Track   string `json:"track"`
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

// DecodeInbound parses one inbound text frame into a typed event.
func DecodeInbound(data []byte) (any, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	event := strings.TrimSpace(env.Event)
	if event == "" {
		return nil, badRequest("missing event", "event")
	}

	switch event {
	case EventConnected:
		return Connected{Protocol: env.Protocol, Version: env.Version}, nil
	case EventStart:
		msg := Start{StreamSID: env.StreamSID}
		if env.Start != nil {
			if msg.StreamSID == "" {
				msg.StreamSID = env.Start.StreamSID
			}
			msg.CallSID = env.Start.CallSID
			msg.MediaFormat = env.Start.MediaFormat
			msg.CustomParameters = env.Start.CustomParameters
		}
		return msg, nil
	case EventMedia:
		if env.Media == nil || strings.TrimSpace(env.Media.Payload) == "" {
			return nil, badRequest("media.payload is required", "media.payload")
		}
		audio, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return nil, badRequest("media.payload must be base64", "media.payload")
		}
		return Media{StreamSID: env.StreamSID, Track: env.Media.Track, Audio: audio}, nil
	case EventMark:
		msg := Mark{StreamSID: env.StreamSID}
		if env.Mark != nil {
			msg.Name = env.Mark.Name
		}
		return msg, nil
	case EventStop:
		return Stop{StreamSID: env.StreamSID}, nil
	case EventPing:
		return Ping{}, nil
	default:
		return Unknown{Event: event}, nil
	}
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

// OutboundMedia is one frame of reply audio.
type OutboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Media     mediaPayload `json:"media"`
}

// OutboundMark follows the last frame of a reply.
type OutboundMark struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid,omitempty"`
	Mark      markPayload `json:"mark"`
}

type OutboundTranscript struct {
	Event      string  `json:"event"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type OutboundAgentResponse struct {
	Event string `json:"event"`
	Text  string `json:"text"`
}

type OutboundError struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

type OutboundPong struct {
	Event string `json:"event"`
}

func NewMedia(streamSID string, mulaw []byte) OutboundMedia {
	return OutboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
}

func NewMark(streamSID, name string) OutboundMark {
	return OutboundMark{Event: EventMark, StreamSID: streamSID, Mark: markPayload{Name: name}}
}

func NewTranscript(text string, confidence float64) OutboundTranscript {
	return OutboundTranscript{Event: EventTranscript, Text: text, Confidence: confidence}
}

func NewAgentResponse(text string) OutboundAgentResponse {
	return OutboundAgentResponse{Event: EventAgentResponse, Text: text}
}

func NewError(message string) OutboundError {
	return OutboundError{Event: EventError, Message: message}
}

func NewPong() OutboundPong {
	return OutboundPong{Event: EventPong}
}

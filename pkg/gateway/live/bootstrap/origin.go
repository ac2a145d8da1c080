// Package bootstrap turns an incoming stream request into the configuration
// snapshot a call session runs with.
package bootstrap

import (
	"fmt"
	"net/http"
	"strings"
)

const (
	KindPhoneCall   = "phone_call"
	KindBrowserChat = "browser_chat"
)

// Origin says where a stream came from. It is implemented only by PhoneCall
// and BrowserChat.
type Origin interface {
	Kind() string
	origin()
}

// PhoneCall is a telephony media stream for an existing call record.
type PhoneCall struct {
	CallID  string
	AgentID string
}

func (PhoneCall) Kind() string { return KindPhoneCall }
func (PhoneCall) origin()      {}

// BrowserChat is an ad-hoc browser voice session with no call record.
type BrowserChat struct {
	VoiceID  string
	Identity string
}

func (BrowserChat) Kind() string { return KindBrowserChat }
func (BrowserChat) origin()      {}

// PhoneCallFromRequest reads callId and agentId from the query string.
func PhoneCallFromRequest(r *http.Request) (PhoneCall, error) {
	q := r.URL.Query()
	o := PhoneCall{
		CallID:  strings.TrimSpace(q.Get("callId")),
		AgentID: strings.TrimSpace(q.Get("agentId")),
	}
	if o.CallID == "" {
		return PhoneCall{}, fmt.Errorf("callId is required")
	}
	if o.AgentID == "" {
		return PhoneCall{}, fmt.Errorf("agentId is required")
	}
	return o, nil
}

// BrowserChatFromRequest reads voiceId and identity from the query string.
func BrowserChatFromRequest(r *http.Request) (BrowserChat, error) {
	q := r.URL.Query()
	o := BrowserChat{
		VoiceID:  strings.TrimSpace(q.Get("voiceId")),
		Identity: strings.TrimSpace(q.Get("identity")),
	}
	if o.VoiceID == "" {
		return BrowserChat{}, fmt.Errorf("voiceId is required")
	}
	if o.Identity == "" {
		return BrowserChat{}, fmt.Errorf("identity is required")
	}
	return o, nil
}

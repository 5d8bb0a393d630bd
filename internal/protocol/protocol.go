// Package protocol defines the JSON messages exchanged over the relay
// websocket. Audio travels separately as binary frames of raw PCM.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// client -> server
const (
	TypeStartSession      = "start_session"
	TypeEndSession        = "end_session"
	TypeUpdateCredentials = "update_credentials"
	TypeSynthesize        = "synthesize"
)

// server -> client
const (
	TypeSessionStarted     = "session_started"
	TypeTranscript         = "transcript"
	TypeSessionStopped     = "session_stopped"
	TypeTimeRemaining      = "time_remaining"
	TypeError              = "error"
	TypeCredentialsUpdated = "credentials_updated"
	TypeAudioResult        = "audio_result"
	TypeSynthesisError     = "synthesis_error"
)

// Error codes carried by Error messages
const (
	CodeBackendUnavailable = "backend_unavailable"
	CodeProviderError      = "provider_error"
	CodeFatalAuth          = "fatal_auth"
	CodeCaptureError       = "capture_error"
	CodeBadRequest         = "bad_request"
	CodeBackpressure       = "backpressure"
	CodeNoSession          = "no_active_session"
	CodeInternal           = "internal"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
	ErrInvalid     = errors.New("invalid message")
)

// Message is any value that can be sent over the socket.
type Message interface {
	MessageType() string
}

type StartSession struct {
	// LanguageHint is a BCP 47 tag, "auto" or empty for auto-detect
	LanguageHint string `json:"languageHint,omitempty"`
}

type EndSession struct{}

type UpdateCredentials struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey,omitempty"`
	// CredentialsJSON is a service account document, either inline or as a
	// JSON string.
	CredentialsJSON json.RawMessage `json:"credentialsJSON,omitempty"`
}

// Credentials returns the service account document, unquoting it if it was
// sent as a string.
func (m *UpdateCredentials) Credentials() []byte {
	raw := m.CredentialsJSON
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}

type Synthesize struct {
	RequestID      string `json:"requestId,omitempty"`
	Text           string `json:"text"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
	VoiceID        string `json:"voiceId,omitempty"`
}

type SessionStarted struct {
	SessionID string `json:"sessionId"`
	Language  string `json:"language,omitempty"`
}

// Transcript carries one recognition result. Stale marks results from a
// sub-stream that has stopped taking audio; generations can interleave, so
// Generation orders them. Stale finals must be kept: the final of an
// utterance ended by silence always arrives stale. A stale interim can be
// ignored.
type Transcript struct {
	SessionID        string `json:"sessionId"`
	Text             string `json:"text"`
	IsFinal          bool   `json:"isFinal"`
	DetectedLanguage string `json:"detectedLanguage,omitempty"`
	Generation       uint64 `json:"generation"`
	Stale            bool   `json:"stale,omitempty"`
}

type SessionStopped struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type TimeRemaining struct {
	SessionID   string `json:"sessionId"`
	MinutesLeft int    `json:"minutesLeft"`
}

type Error struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type CredentialsUpdated struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AudioResult carries synthesized audio; encoding/json base64-encodes Audio.
type AudioResult struct {
	RequestID string `json:"requestId,omitempty"`
	Audio     []byte `json:"audio"`
	Format    string `json:"format"`
}

type SynthesisError struct {
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message"`
}

func (*StartSession) MessageType() string       { return TypeStartSession }
func (*EndSession) MessageType() string         { return TypeEndSession }
func (*UpdateCredentials) MessageType() string  { return TypeUpdateCredentials }
func (*Synthesize) MessageType() string         { return TypeSynthesize }
func (*SessionStarted) MessageType() string     { return TypeSessionStarted }
func (*Transcript) MessageType() string         { return TypeTranscript }
func (*SessionStopped) MessageType() string     { return TypeSessionStopped }
func (*TimeRemaining) MessageType() string      { return TypeTimeRemaining }
func (*Error) MessageType() string              { return TypeError }
func (*CredentialsUpdated) MessageType() string { return TypeCredentialsUpdated }
func (*AudioResult) MessageType() string        { return TypeAudioResult }
func (*SynthesisError) MessageType() string     { return TypeSynthesisError }

func (m *UpdateCredentials) validate() error {
	if m.Provider == "" {
		return fmt.Errorf("%w: provider is required", ErrInvalid)
	}
	if m.APIKey == "" && len(m.Credentials()) == 0 {
		return fmt.Errorf("%w: apiKey or credentialsJSON is required", ErrInvalid)
	}
	return nil
}

func (m *Synthesize) validate() error {
	if m.Text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalid)
	}
	return nil
}

var registry = map[string]func() Message{
	TypeStartSession:       func() Message { return &StartSession{} },
	TypeEndSession:         func() Message { return &EndSession{} },
	TypeUpdateCredentials:  func() Message { return &UpdateCredentials{} },
	TypeSynthesize:         func() Message { return &Synthesize{} },
	TypeSessionStarted:     func() Message { return &SessionStarted{} },
	TypeTranscript:         func() Message { return &Transcript{} },
	TypeSessionStopped:     func() Message { return &SessionStopped{} },
	TypeTimeRemaining:      func() Message { return &TimeRemaining{} },
	TypeError:              func() Message { return &Error{} },
	TypeCredentialsUpdated: func() Message { return &CredentialsUpdated{} },
	TypeAudioResult:        func() Message { return &AudioResult{} },
	TypeSynthesisError:     func() Message { return &SynthesisError{} },
}

// Decode parses one text frame into its typed message.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	newMsg, ok := registry[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	m := newMsg()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	if v, ok := m.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Encode renders m as a JSON object with its "type" field set.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	fields["type"] = json.RawMessage(strconv.Quote(m.MessageType()))
	return json.Marshal(fields)
}

// Terminal reports whether a message must reach the client even when the
// outbound queue is congested: lifecycle events and replies to requests.
func Terminal(m Message) bool {
	switch m.(type) {
	case *SessionStopped, *Error, *SessionStarted, *CredentialsUpdated, *AudioResult, *SynthesisError:
		return true
	}
	return false
}

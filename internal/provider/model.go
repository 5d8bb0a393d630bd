package provider

import "time"

// ModelType represents the capability a model serves
type ModelType int

const (
	Recognition ModelType = iota
	Synthesis
)

func (t ModelType) String() string {
	switch t {
	case Recognition:
		return "recognition"
	case Synthesis:
		return "synthesis"
	default:
		return "unknown"
	}
}

// Model represents a model with the metadata the relay needs
type Model struct {
	ID          string          // unique identifier (e.g., "nova-3", "tts-1")
	Name        string          // display name
	Description string          // short description
	Type        ModelType       // recognition or synthesis
	Endpoint    *EndpointConfig // nil when the SDK owns the endpoint

	// StreamLimit is the provider's hard cap on one streaming recognition
	// call. Zero means the provider does not enforce one.
	StreamLimit time.Duration
}

// EndpointConfig holds HTTP/WebSocket endpoint configuration
type EndpointConfig struct {
	BaseURL string // e.g., "wss://api.deepgram.com"
	Path    string // e.g., "/v1/listen"
}

// URL joins base and path
func (e *EndpointConfig) URL() string {
	if e == nil {
		return ""
	}
	return e.BaseURL + e.Path
}

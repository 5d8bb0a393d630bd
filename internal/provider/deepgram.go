package provider

import "time"

// DeepgramProvider implements Provider for Deepgram live transcription
type DeepgramProvider struct{}

func (p *DeepgramProvider) Name() string {
	return ProviderDeepgram
}

func (p *DeepgramProvider) CredentialKind() string {
	return CredentialAPIKey
}

func (p *DeepgramProvider) ValidateAPIKey(key string) bool {
	// Deepgram API keys are alphanumeric, just check non-empty
	return len(key) > 0
}

func (p *DeepgramProvider) Models() []Model {
	endpoint := &EndpointConfig{BaseURL: "wss://api.deepgram.com", Path: "/v1/listen"}
	// live sockets are closed after long periods; restart well before that
	limit := 60 * time.Minute

	return []Model{
		{
			ID:          "nova-3",
			Name:        "Nova-3",
			Description: "Best accuracy, 40+ languages, real-time",
			Type:        Recognition,
			Endpoint:    endpoint,
			StreamLimit: limit,
		},
		{
			ID:          "nova-2",
			Name:        "Nova-2",
			Description: "Previous generation, broad language coverage",
			Type:        Recognition,
			Endpoint:    endpoint,
			StreamLimit: limit,
		},
	}
}

func (p *DeepgramProvider) DefaultModel(t ModelType) string {
	if t == Recognition {
		return "nova-3"
	}
	return ""
}

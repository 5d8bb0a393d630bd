package provider

// ElevenLabsProvider implements Provider for ElevenLabs text-to-speech
type ElevenLabsProvider struct{}

func (p *ElevenLabsProvider) Name() string {
	return ProviderElevenLabs
}

func (p *ElevenLabsProvider) CredentialKind() string {
	return CredentialAPIKey
}

func (p *ElevenLabsProvider) ValidateAPIKey(key string) bool {
	// ElevenLabs API keys don't have a consistent prefix, just check non-empty
	return len(key) > 0
}

func (p *ElevenLabsProvider) Models() []Model {
	endpoint := &EndpointConfig{BaseURL: "https://api.elevenlabs.io", Path: "/v1/text-to-speech"}
	return []Model{
		{
			ID:          "eleven_turbo_v2_5",
			Name:        "Turbo v2.5",
			Description: "Low latency, 32 languages",
			Type:        Synthesis,
			Endpoint:    endpoint,
		},
		{
			ID:          "eleven_multilingual_v2",
			Name:        "Multilingual v2",
			Description: "Most natural voices, 29 languages",
			Type:        Synthesis,
			Endpoint:    endpoint,
		},
	}
}

func (p *ElevenLabsProvider) DefaultModel(t ModelType) string {
	if t == Synthesis {
		return "eleven_turbo_v2_5"
	}
	return ""
}

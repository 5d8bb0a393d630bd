package provider

import "strings"

// OpenAIProvider implements Provider for OpenAI text-to-speech
type OpenAIProvider struct{}

func (p *OpenAIProvider) Name() string {
	return ProviderOpenAI
}

func (p *OpenAIProvider) CredentialKind() string {
	return CredentialAPIKey
}

func (p *OpenAIProvider) ValidateAPIKey(key string) bool {
	return strings.HasPrefix(key, "sk-")
}

func (p *OpenAIProvider) Models() []Model {
	endpoint := &EndpointConfig{BaseURL: "https://api.openai.com", Path: "/v1/audio/speech"}
	return []Model{
		{
			ID:          "tts-1",
			Name:        "TTS 1",
			Description: "Low latency speech synthesis",
			Type:        Synthesis,
			Endpoint:    endpoint,
		},
		{
			ID:          "tts-1-hd",
			Name:        "TTS 1 HD",
			Description: "Higher quality speech synthesis",
			Type:        Synthesis,
			Endpoint:    endpoint,
		},
		{
			ID:          "gpt-4o-mini-tts",
			Name:        "GPT-4o Mini TTS",
			Description: "Steerable voices",
			Type:        Synthesis,
			Endpoint:    endpoint,
		},
	}
}

func (p *OpenAIProvider) DefaultModel(t ModelType) string {
	if t == Synthesis {
		return "tts-1"
	}
	return ""
}

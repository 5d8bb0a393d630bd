package provider

import "time"

// GoogleProvider implements Provider for Google Cloud Speech-to-Text and
// Text-to-Speech. Both share one service account.
type GoogleProvider struct{}

func (p *GoogleProvider) Name() string {
	return ProviderGoogle
}

func (p *GoogleProvider) CredentialKind() string {
	return CredentialServiceAccount
}

func (p *GoogleProvider) ValidateAPIKey(key string) bool {
	// service-account JSON or a path to one; both are non-empty
	return len(key) > 0
}

func (p *GoogleProvider) Models() []Model {
	// streaming recognize calls are cut off by the service after ~305s
	limit := 305 * time.Second
	return []Model{
		{
			ID:          "latest_long",
			Name:        "Latest Long",
			Description: "Long-form dictation, streaming",
			Type:        Recognition,
			StreamLimit: limit,
		},
		{
			ID:          "latest_short",
			Name:        "Latest Short",
			Description: "Short commands and queries, streaming",
			Type:        Recognition,
			StreamLimit: limit,
		},
		{
			ID:          "default",
			Name:        "Default",
			Description: "Standard model",
			Type:        Recognition,
			StreamLimit: limit,
		},
		{
			ID:          "neural2",
			Name:        "Neural2 voices",
			Description: "Cloud Text-to-Speech neural voices",
			Type:        Synthesis,
		},
	}
}

func (p *GoogleProvider) DefaultModel(t ModelType) string {
	switch t {
	case Recognition:
		return "latest_long"
	case Synthesis:
		return "neural2"
	}
	return ""
}

package provider

// Provider name constants for config and registry
const (
	ProviderGoogle     = "google"
	ProviderDeepgram   = "deepgram"
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
)

// Environment variable names for credentials
const (
	EnvGoogleCredentials = "GOOGLE_APPLICATION_CREDENTIALS"
	EnvDeepgramKey       = "DEEPGRAM_API_KEY"
	EnvOpenAIKey         = "OPENAI_API_KEY"
	EnvElevenLabsKey     = "ELEVENLABS_API_KEY"
)

// EnvVarForProvider returns the environment variable holding a provider's credentials
func EnvVarForProvider(provider string) string {
	switch provider {
	case ProviderGoogle:
		return EnvGoogleCredentials
	case ProviderDeepgram:
		return EnvDeepgramKey
	case ProviderOpenAI:
		return EnvOpenAIKey
	case ProviderElevenLabs:
		return EnvElevenLabsKey
	default:
		return ""
	}
}

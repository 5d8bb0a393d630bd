package provider

import "sort"

// Provider describes a speech service the relay can bind credentials to
type Provider interface {
	Name() string
	// CredentialKind is "api_key" or "service_account"
	CredentialKind() string
	ValidateAPIKey(key string) bool
	Models() []Model
	DefaultModel(t ModelType) string
}

const (
	CredentialAPIKey         = "api_key"
	CredentialServiceAccount = "service_account"
)

var registry = make(map[string]Provider)

func init() {
	Register(&GoogleProvider{})
	Register(&DeepgramProvider{})
	Register(&OpenAIProvider{})
	Register(&ElevenLabsProvider{})
}

// Register adds a provider to the registry
func Register(p Provider) {
	registry[p.Name()] = p
}

// GetProvider returns a provider by name, or nil if not found
func GetProvider(name string) Provider {
	return registry[name]
}

// ListProviders returns all registered provider names, sorted
func ListProviders() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModelsOfType filters a provider's models by capability
func ModelsOfType(p Provider, t ModelType) []Model {
	var out []Model
	for _, m := range p.Models() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// Supports reports whether the provider offers any model of the given type
func Supports(p Provider, t ModelType) bool {
	return len(ModelsOfType(p, t)) > 0
}

// ListProvidersWith returns sorted provider names offering the capability
func ListProvidersWith(t ModelType) []string {
	var names []string
	for name, p := range registry {
		if Supports(p, t) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FindModel returns the model with the given ID and type, or nil
func FindModel(p Provider, t ModelType, id string) *Model {
	for _, m := range ModelsOfType(p, t) {
		if m.ID == id {
			return &m
		}
	}
	return nil
}

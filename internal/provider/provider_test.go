package provider

import (
	"slices"
	"testing"
)

func TestProviderInterface(t *testing.T) {
	providers := []struct {
		name              string
		credentialKind    string
		hasRecognition    bool
		hasSynthesis      bool
		defaultRecModel   string
		defaultSynthModel string
	}{
		{"google", CredentialServiceAccount, true, true, "latest_long", "neural2"},
		{"deepgram", CredentialAPIKey, true, false, "nova-3", ""},
		{"openai", CredentialAPIKey, false, true, "", "tts-1"},
		{"elevenlabs", CredentialAPIKey, false, true, "", "eleven_turbo_v2_5"},
	}

	for _, tc := range providers {
		t.Run(tc.name, func(t *testing.T) {
			p := GetProvider(tc.name)
			if p == nil {
				t.Fatalf("GetProvider(%q) returned nil", tc.name)
			}

			if p.Name() != tc.name {
				t.Errorf("Name() = %q, want %q", p.Name(), tc.name)
			}
			if p.CredentialKind() != tc.credentialKind {
				t.Errorf("CredentialKind() = %q, want %q", p.CredentialKind(), tc.credentialKind)
			}
			if got := Supports(p, Recognition); got != tc.hasRecognition {
				t.Errorf("Supports(Recognition) = %v, want %v", got, tc.hasRecognition)
			}
			if got := Supports(p, Synthesis); got != tc.hasSynthesis {
				t.Errorf("Supports(Synthesis) = %v, want %v", got, tc.hasSynthesis)
			}
			if got := p.DefaultModel(Recognition); got != tc.defaultRecModel {
				t.Errorf("DefaultModel(Recognition) = %q, want %q", got, tc.defaultRecModel)
			}
			if got := p.DefaultModel(Synthesis); got != tc.defaultSynthModel {
				t.Errorf("DefaultModel(Synthesis) = %q, want %q", got, tc.defaultSynthModel)
			}
		})
	}
}

func TestGetProviderUnknown(t *testing.T) {
	if p := GetProvider("nonexistent"); p != nil {
		t.Errorf("GetProvider(nonexistent) = %v, want nil", p)
	}
}

func TestListProvidersWith(t *testing.T) {
	rec := ListProvidersWith(Recognition)
	if !slices.Equal(rec, []string{"deepgram", "google"}) {
		t.Errorf("ListProvidersWith(Recognition) = %v", rec)
	}

	synth := ListProvidersWith(Synthesis)
	if !slices.Equal(synth, []string{"elevenlabs", "google", "openai"}) {
		t.Errorf("ListProvidersWith(Synthesis) = %v", synth)
	}
}

func TestRecognitionModelsHaveStreamLimits(t *testing.T) {
	for _, name := range ListProvidersWith(Recognition) {
		for _, m := range ModelsOfType(GetProvider(name), Recognition) {
			if m.StreamLimit <= 0 {
				t.Errorf("%s/%s: StreamLimit = %v, want > 0", name, m.ID, m.StreamLimit)
			}
		}
	}
}

func TestFindModel(t *testing.T) {
	p := GetProvider(ProviderDeepgram)
	m := FindModel(p, Recognition, "nova-2")
	if m == nil {
		t.Fatal("FindModel(nova-2) returned nil")
	}
	if m.Endpoint.URL() != "wss://api.deepgram.com/v1/listen" {
		t.Errorf("Endpoint.URL() = %q", m.Endpoint.URL())
	}
	if FindModel(p, Synthesis, "nova-2") != nil {
		t.Error("FindModel should not match a recognition model as synthesis")
	}
}

func TestValidateAPIKey(t *testing.T) {
	openai := GetProvider(ProviderOpenAI)
	if openai.ValidateAPIKey("abc") {
		t.Error("openai key without sk- prefix should be invalid")
	}
	if !openai.ValidateAPIKey("sk-test") {
		t.Error("openai key with sk- prefix should be valid")
	}
	if GetProvider(ProviderDeepgram).ValidateAPIKey("") {
		t.Error("empty deepgram key should be invalid")
	}
}

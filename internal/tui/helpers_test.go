package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/leonardotrapani/speechrelay/internal/config"
	"github.com/leonardotrapani/speechrelay/internal/provider"
)

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "***"},
		{"short", "***"},
		{"12345678", "***"},
		{"sk-abcdefghijklmnop", "sk-abcd...mnop"},
	}
	for _, tt := range tests {
		if got := maskAPIKey(tt.key); got != tt.want {
			t.Errorf("maskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{" , ,", nil},
		{"en-US", []string{"en-US"}},
		{"en-US, es-ES ,fr-FR", []string{"en-US", "es-ES", "fr-FR"}},
	}
	for _, tt := range tests {
		got := splitList(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("splitList(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInputValidators(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(string) error
		in      string
		wantErr bool
	}{
		{"listen host port", validateListen, "127.0.0.1:8750", false},
		{"listen port only", validateListen, ":8080", false},
		{"listen missing port", validateListen, "localhost", true},
		{"relay ws", validateRelayURL, "ws://localhost:8080/ws", false},
		{"relay wss", validateRelayURL, "wss://relay.example.com/ws", false},
		{"relay http", validateRelayURL, "http://localhost:8080/ws", true},
		{"relay no host", validateRelayURL, "ws:///ws", true},
		{"languages ok", validateLanguages, "en-US, es-ES", false},
		{"languages empty", validateLanguages, "", false},
		{"languages auto", validateLanguages, "en-US, auto", true},
		{"languages unknown", validateLanguages, "xx-YY", true},
		{"duration", func(s string) error { _, err := parseDurationInput(s); return err }, "90s", false},
		{"duration zero", func(s string) error { _, err := parseDurationInput(s); return err }, "0s", true},
		{"duration garbage", func(s string) error { _, err := parseDurationInput(s); return err }, "soon", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationInput(t *testing.T) {
	d, err := parseDurationInput(" 5m ")
	if err != nil || d != 5*time.Minute {
		t.Errorf("parseDurationInput() = %v, %v", d, err)
	}
}

func TestFormatProviderOption(t *testing.T) {
	t.Setenv(provider.EnvDeepgramKey, "")
	t.Setenv(provider.EnvElevenLabsKey, "from-env")

	cfg := config.DefaultConfig()
	cfg.Providers[provider.ProviderGoogle] = config.ProviderConfig{CredentialsFile: "/tmp/sa.json"}

	tests := []struct {
		name string
		want string
	}{
		{provider.ProviderGoogle, "Google Cloud - recognition + synthesis (configured)"},
		{provider.ProviderDeepgram, "Deepgram - recognition (not configured)"},
		{provider.ProviderElevenLabs, "ElevenLabs - synthesis (from $ELEVENLABS_API_KEY)"},
	}
	for _, tt := range tests {
		if got := formatProviderOption(cfg, tt.name); got != tt.want {
			t.Errorf("formatProviderOption(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestModelOptions(t *testing.T) {
	google := provider.GetProvider(provider.ProviderGoogle)
	opts := modelOptions(provider.ProviderGoogle, provider.Recognition)
	if len(opts) != len(provider.ModelsOfType(google, provider.Recognition)) {
		t.Fatalf("got %d options", len(opts))
	}
	for _, o := range opts {
		if !strings.Contains(o.Key, "per stream]") {
			t.Errorf("option %q does not show the stream limit", o.Key)
		}
	}
	if opts := modelOptions("nope", provider.Recognition); opts != nil {
		t.Errorf("unknown provider gave %d options", len(opts))
	}
}

func TestSummaryLinesMaskCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Recognition.Provider = provider.ProviderDeepgram
	cfg.Providers[provider.ProviderDeepgram] = config.ProviderConfig{APIKey: "dg-0123456789abcdef"}
	cfg.Synthesis.Provider = ""

	joined := strings.Join(summaryLines(cfg), "\n")
	for _, want := range []string{"Recognition:\tdeepgram (nova-3)", "Synthesis:\tdisabled", "Deepgram:\tdg-0123...cdef"} {
		if !strings.Contains(joined, want) {
			t.Errorf("summary missing %q:\n%s", want, joined)
		}
	}
	if strings.Contains(joined, "0123456789abcdef") {
		t.Error("summary leaks the API key")
	}
}

func TestCloneConfigIsolated(t *testing.T) {
	orig := config.DefaultConfig()
	cp := cloneConfig(orig)
	cp.Providers["openai"] = config.ProviderConfig{APIKey: "sk-x"}
	cp.Recognition.AutoLanguages[0] = "pt-BR"

	if _, ok := orig.Providers["openai"]; ok {
		t.Error("provider map shared with original")
	}
	if orig.Recognition.AutoLanguages[0] != "en-US" {
		t.Error("auto languages shared with original")
	}
	if cloneConfig(nil) == nil {
		t.Error("cloneConfig(nil) = nil")
	}
}

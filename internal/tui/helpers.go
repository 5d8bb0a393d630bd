package tui

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/leonardotrapani/speechrelay/internal/config"
	"github.com/leonardotrapani/speechrelay/internal/language"
	"github.com/leonardotrapani/speechrelay/internal/provider"
)

var providerDisplayNames = map[string]string{
	provider.ProviderGoogle:     "Google Cloud",
	provider.ProviderDeepgram:   "Deepgram",
	provider.ProviderOpenAI:     "OpenAI",
	provider.ProviderElevenLabs: "ElevenLabs",
}

func providerDisplayName(name string) string {
	if n, ok := providerDisplayNames[name]; ok {
		return n
	}
	return name
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func cloneConfig(cfg *config.Config) *config.Config {
	if cfg == nil {
		return config.DefaultConfig()
	}
	return cfg.Clone()
}

// configuredProviders lists providers with credentials in the file, sorted
func configuredProviders(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		if !pc.IsZero() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func describeCredentials(pc config.ProviderConfig) string {
	switch {
	case pc.CredentialsFile != "":
		return "service account " + pc.CredentialsFile
	case pc.CredentialsJSON != "":
		return "inline service account"
	case pc.APIKey != "":
		return maskAPIKey(pc.APIKey)
	}
	return "not configured"
}

// modelOptionLabel formats a model for a select list
func modelOptionLabel(m provider.Model) string {
	label := m.Name
	if m.Description != "" {
		label += " - " + m.Description
	}
	if m.StreamLimit > 0 {
		label += fmt.Sprintf(" [%s per stream]", m.StreamLimit)
	}
	return label
}

func parseDurationInput(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a duration (try 90s or 5m)")
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

func validateListen(s string) error {
	if _, _, err := net.SplitHostPort(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("use host:port, e.g. 127.0.0.1:8750")
	}
	return nil
}

func validateRelayURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("use ws://host:port/ws or wss://...")
	}
	return nil
}

// splitList parses a comma separated list, dropping blanks
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateLanguages(s string) error {
	for _, code := range splitList(s) {
		if strings.EqualFold(code, language.AutoHint) {
			return fmt.Errorf("list concrete languages, not %q", code)
		}
		if _, err := language.ParseHint(code); err != nil {
			return fmt.Errorf("%q: %v", code, err)
		}
	}
	return nil
}

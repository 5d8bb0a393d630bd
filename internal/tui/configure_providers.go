package tui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/leonardotrapani/speechrelay/internal/config"
	"github.com/leonardotrapani/speechrelay/internal/provider"
)

// editProviders loops over the provider submenu until the user is done
func editProviders(cfg *config.Config) error {
	for {
		var options []huh.Option[string]
		for _, name := range provider.ListProviders() {
			options = append(options, huh.NewOption(formatProviderOption(cfg, name), name))
		}
		options = append(options, huh.NewOption("Done", "back"))

		var selected string
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Provider Credentials").
					Description("Select a provider to set its credentials").
					Options(options...).
					Value(&selected),
			),
		).WithTheme(getTheme())

		if err := form.Run(); err != nil {
			return err
		}
		if selected == "back" {
			return nil
		}

		pc, err := configureSingleProvider(cfg, selected)
		if err != nil || pc.IsZero() {
			continue
		}
		if cfg.Providers == nil {
			cfg.Providers = make(map[string]config.ProviderConfig)
		}
		cfg.Providers[selected] = pc
	}
}

func formatProviderOption(cfg *config.Config, name string) string {
	status := "(not configured)"
	if pc, ok := cfg.Providers[name]; ok && !pc.IsZero() {
		status = "(configured)"
	} else if env := provider.EnvVarForProvider(name); env != "" && os.Getenv(env) != "" {
		status = "(from $" + env + ")"
	}

	var caps []string
	if p := provider.GetProvider(name); p != nil {
		if provider.Supports(p, provider.Recognition) {
			caps = append(caps, "recognition")
		}
		if provider.Supports(p, provider.Synthesis) {
			caps = append(caps, "synthesis")
		}
	}
	return fmt.Sprintf("%s - %s %s", providerDisplayName(name), strings.Join(caps, " + "), status)
}

// configureSingleProvider asks for a new credential. A zero result means the
// current one is kept.
func configureSingleProvider(cfg *config.Config, name string) (config.ProviderConfig, error) {
	p := provider.GetProvider(name)
	if p == nil {
		return config.ProviderConfig{}, fmt.Errorf("unknown provider %q", name)
	}

	if existing, ok := cfg.Providers[name]; ok && !existing.IsZero() {
		replace := false
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(providerDisplayName(name) + " is configured").
					Description("Current: " + describeCredentials(existing)).
					Affirmative("Replace").
					Negative("Keep").
					Value(&replace),
			),
		).WithTheme(getTheme())
		if err := form.Run(); err != nil || !replace {
			return config.ProviderConfig{}, err
		}
	}

	if p.CredentialKind() == provider.CredentialServiceAccount {
		return askServiceAccount(name)
	}

	var key string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(providerDisplayName(name) + " API key").
				EchoMode(huh.EchoModePassword).
				Value(&key).
				Validate(func(s string) error {
					if !p.ValidateAPIKey(strings.TrimSpace(s)) {
						return fmt.Errorf("that does not look like a %s key", providerDisplayName(name))
					}
					return nil
				}),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return config.ProviderConfig{}, err
	}
	return config.ProviderConfig{APIKey: strings.TrimSpace(key)}, nil
}

func askServiceAccount(name string) (config.ProviderConfig, error) {
	var path string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(providerDisplayName(name) + " service account file").
				Description("Path to the JSON key downloaded from the cloud console").
				Value(&path).
				Validate(validateCredentialsFile),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return config.ProviderConfig{}, err
	}
	return config.ProviderConfig{CredentialsFile: strings.TrimSpace(path)}, nil
}

func validateCredentialsFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot read %s", path)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

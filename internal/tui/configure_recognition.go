package tui

import (
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/leonardotrapani/speechrelay/internal/config"
	"github.com/leonardotrapani/speechrelay/internal/provider"
)

func modelOptions(providerName string, t provider.ModelType) []huh.Option[string] {
	p := provider.GetProvider(providerName)
	if p == nil {
		return nil
	}
	var options []huh.Option[string]
	for _, m := range provider.ModelsOfType(p, t) {
		options = append(options, huh.NewOption(modelOptionLabel(m), m.ID))
	}
	return options
}

func providerOptions(t provider.ModelType) []huh.Option[string] {
	var options []huh.Option[string]
	for _, name := range provider.ListProvidersWith(t) {
		options = append(options, huh.NewOption(providerDisplayName(name), name))
	}
	return options
}

func editRecognition(cfg *config.Config) error {
	providerName := cfg.Recognition.Provider
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Recognition Provider").
				Description("Streaming speech-to-text backend").
				Options(providerOptions(provider.Recognition)...).
				Value(&providerName),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return err
	}

	model := cfg.Recognition.Model
	if providerName != cfg.Recognition.Provider || model == "" {
		model = provider.GetProvider(providerName).DefaultModel(provider.Recognition)
	}
	languages := strings.Join(cfg.Recognition.AutoLanguages, ", ")
	interim := cfg.Recognition.InterimResults

	form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model").
				Options(modelOptions(providerName, provider.Recognition)...).
				Value(&model),
			huh.NewInput().
				Title("Auto-detect languages").
				Description("Comma separated BCP 47 tags tried when a client asks for auto-detect, e.g. en-US, es-ES").
				Value(&languages).
				Validate(validateLanguages),
			huh.NewConfirm().
				Title("Send interim results?").
				Value(&interim),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Recognition.Provider = providerName
	cfg.Recognition.Model = model
	cfg.Recognition.AutoLanguages = splitList(languages)
	cfg.Recognition.InterimResults = interim
	return nil
}

func editSynthesis(cfg *config.Config) error {
	providerName := cfg.Synthesis.Provider
	options := append([]huh.Option[string]{huh.NewOption("Disabled", "")}, providerOptions(provider.Synthesis)...)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Synthesis Provider").
				Description("Text-to-speech backend for synthesize requests").
				Options(options...).
				Value(&providerName),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return err
	}
	if providerName == "" {
		cfg.Synthesis.Provider = ""
		cfg.Synthesis.Model = ""
		return nil
	}

	model := cfg.Synthesis.Model
	voice := cfg.Synthesis.DefaultVoice
	if providerName != cfg.Synthesis.Provider || model == "" {
		model = provider.GetProvider(providerName).DefaultModel(provider.Synthesis)
		voice = ""
	}
	timeout := cfg.Synthesis.Timeout.String()

	form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model").
				Options(modelOptions(providerName, provider.Synthesis)...).
				Value(&model),
			huh.NewInput().
				Title("Default voice").
				Description("Used when a request names no voice; empty picks the provider default").
				Value(&voice),
			huh.NewInput().
				Title("Timeout").
				Value(&timeout).
				Validate(func(s string) error {
					_, err := parseDurationInput(s)
					return err
				}),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Synthesis.Provider = providerName
	cfg.Synthesis.Model = model
	cfg.Synthesis.DefaultVoice = strings.TrimSpace(voice)
	cfg.Synthesis.Timeout, _ = parseDurationInput(timeout)
	return nil
}

// Package tui is the interactive configuration editor behind
// "speechrelay configure".
package tui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/leonardotrapani/speechrelay/internal/config"
	"github.com/muesli/termenv"
)

// ConfigureResult holds the configuration result from the TUI
type ConfigureResult struct {
	Config    *config.Config
	Cancelled bool
}

type ConfigSection string

const (
	SectionProviders   ConfigSection = "providers"
	SectionRecognition ConfigSection = "recognition"
	SectionSynthesis   ConfigSection = "synthesis"
	SectionServer      ConfigSection = "server"
	SectionSession     ConfigSection = "session"
	SectionCapture     ConfigSection = "capture"
	SectionSaveExit    ConfigSection = "save_exit"
	SectionDiscardExit ConfigSection = "discard_exit"
)

// Run edits a copy of cfg section by section until the user saves or
// discards.
func Run(existing *config.Config) (*ConfigureResult, error) {
	cfg := cloneConfig(existing)

	for {
		clearScreen()
		fmt.Println(Logo())
		fmt.Println()

		section, err := selectSection(cfg)
		if err != nil {
			return &ConfigureResult{Cancelled: true}, nil
		}

		switch section {
		case SectionSaveExit:
			if err := cfg.Validate(); err != nil {
				fmt.Println(StyleWarning.Render("Configuration is not valid yet: " + err.Error()))
				if !confirm("Go back and fix it?", "Back", "Discard") {
					return &ConfigureResult{Cancelled: true}, nil
				}
				continue
			}
			confirmed, err := showSummary(cfg)
			if err != nil {
				return &ConfigureResult{Cancelled: true}, nil
			}
			if confirmed {
				return &ConfigureResult{Config: cfg}, nil
			}

		case SectionDiscardExit:
			return &ConfigureResult{Cancelled: true}, nil

		case SectionProviders:
			_ = editProviders(cfg)
		case SectionRecognition:
			_ = editRecognition(cfg)
		case SectionSynthesis:
			_ = editSynthesis(cfg)
		case SectionServer:
			_ = editServer(cfg)
		case SectionSession:
			_ = editSession(cfg)
		case SectionCapture:
			_ = editCapture(cfg)
		}
	}
}

func selectSection(cfg *config.Config) (ConfigSection, error) {
	options := []huh.Option[ConfigSection]{
		huh.NewOption(fmt.Sprintf("Providers (%d configured)", len(configuredProviders(cfg))), SectionProviders),
		huh.NewOption(fmt.Sprintf("Recognition (%s, %s)", cfg.Recognition.Provider, cfg.RecognitionModel()), SectionRecognition),
		huh.NewOption(fmt.Sprintf("Synthesis (%s)", orNone(cfg.Synthesis.Provider)), SectionSynthesis),
		huh.NewOption(fmt.Sprintf("Server (%s)", cfg.Server.Listen), SectionServer),
		huh.NewOption("Session timing", SectionSession),
		huh.NewOption(fmt.Sprintf("Capture client (%s)", cfg.Capture.ServerURL), SectionCapture),
		huh.NewOption("Save & Exit", SectionSaveExit),
		huh.NewOption("Discard & Exit", SectionDiscardExit),
	}

	var selected ConfigSection
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[ConfigSection]().
				Title("Configuration Menu").
				Description("↑/↓ navigate • enter select • esc cancel").
				Options(options...).
				Value(&selected),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return "", err
	}
	return selected, nil
}

func showSummary(cfg *config.Config) (bool, error) {
	fmt.Println()
	fmt.Println(StyleHeader.Render("Configuration Summary"))
	for _, line := range summaryLines(cfg) {
		label, value, _ := strings.Cut(line, "\t")
		if value == "none" {
			value = StyleMuted.Render(value)
		}
		fmt.Printf("  %s %s\n", StyleLabel.Render(label), value)
	}
	fmt.Println()
	fmt.Println(StyleSuccess.Render("Configuration is valid."))
	fmt.Println()

	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save this configuration?").
				Affirmative("Save").
				Negative("Cancel").
				Value(&confirmed),
		),
	).WithTheme(getTheme())

	if err := form.Run(); err != nil {
		return false, err
	}
	return confirmed, nil
}

// summaryLines renders "label\tvalue" pairs; credentials are masked.
func summaryLines(cfg *config.Config) []string {
	lines := []string{
		"Listen:\t" + cfg.Server.Listen,
		fmt.Sprintf("Recognition:\t%s (%s)", cfg.Recognition.Provider, cfg.RecognitionModel()),
	}
	if len(cfg.Recognition.AutoLanguages) > 0 {
		lines = append(lines, "Auto-detect:\t"+strings.Join(cfg.Recognition.AutoLanguages, ", "))
	}
	if cfg.Synthesis.Provider != "" {
		lines = append(lines, fmt.Sprintf("Synthesis:\t%s (%s)", cfg.Synthesis.Provider, cfg.SynthesisModel()))
	} else {
		lines = append(lines, "Synthesis:\tdisabled")
	}
	for _, name := range configuredProviders(cfg) {
		lines = append(lines, fmt.Sprintf("%s:\t%s", providerDisplayName(name), describeCredentials(cfg.Providers[name])))
	}
	lines = append(lines,
		fmt.Sprintf("Sessions:\tmax %s, silence %s", cfg.Session.MaxDuration, cfg.Session.SilenceWindow),
		fmt.Sprintf("Capture:\t%s (notify: %s)", cfg.Capture.ServerURL, cfg.Capture.Notify),
	)
	return lines
}

func confirm(title, yes, no string) bool {
	ok := true
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().Title(title).Affirmative(yes).Negative(no).Value(&ok),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return false
	}
	return ok
}

func clearScreen() {
	output := termenv.NewOutput(os.Stdout)
	output.ClearScreen()
}

package tui

import (
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/leonardotrapani/speechrelay/internal/config"
)

func durationField(title, description string, value *string) *huh.Input {
	return huh.NewInput().
		Title(title).
		Description(description).
		Value(value).
		Validate(func(s string) error {
			_, err := parseDurationInput(s)
			return err
		})
}

func editServer(cfg *config.Config) error {
	listen := cfg.Server.Listen
	origins := strings.Join(cfg.Server.AllowedOrigins, ", ")

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Description("Serves /ws, /healthz and /metrics").
				Value(&listen).
				Validate(validateListen),
			huh.NewInput().
				Title("Allowed browser origins").
				Description("Comma separated; * allows any, empty allows the same host only").
				Value(&origins),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Server.Listen = strings.TrimSpace(listen)
	cfg.Server.AllowedOrigins = splitList(origins)
	return nil
}

func editSession(cfg *config.Config) error {
	maxDuration := cfg.Session.MaxDuration.String()
	warnBefore := cfg.Session.WarnBefore.String()
	silence := cfg.Session.SilenceWindow.String()

	form := huh.NewForm(
		huh.NewGroup(
			durationField("Maximum session length", "Sessions stop with a duration limit reason after this", &maxDuration),
			durationField("Warn before limit", "Clients get time_remaining updates inside this window", &warnBefore),
			durationField("Silence window", "A sub-stream with no new final for this long is finalized", &silence),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Session.MaxDuration, _ = parseDurationInput(maxDuration)
	cfg.Session.WarnBefore, _ = parseDurationInput(warnBefore)
	cfg.Session.SilenceWindow, _ = parseDurationInput(silence)
	return nil
}

func editCapture(cfg *config.Config) error {
	serverURL := cfg.Capture.ServerURL
	notifyKind := cfg.Capture.Notify
	recordWAV := cfg.Capture.RecordWAV

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Relay URL").
				Description("Where \"speechrelay listen\" connects").
				Value(&serverURL).
				Validate(validateRelayURL),
			huh.NewSelect[string]().
				Title("Notifications").
				Options(
					huh.NewOption("Desktop notifications (notify-send)", "desktop"),
					huh.NewOption("Log to console only", "log"),
					huh.NewOption("None (silent)", "none"),
				).
				Value(&notifyKind),
			huh.NewInput().
				Title("Keep a WAV copy").
				Description("Path for a copy of the audio sent; empty disables it").
				Value(&recordWAV),
		),
	).WithTheme(getTheme())
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Capture.ServerURL = strings.TrimSpace(serverURL)
	cfg.Capture.Notify = notifyKind
	cfg.Capture.RecordWAV = strings.TrimSpace(recordWAV)
	return nil
}

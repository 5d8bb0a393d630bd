package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	StyleLabel = lipgloss.NewStyle().
			Foreground(ColorText).
			Bold(true)

	StyleSuccess = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	StyleWarning = lipgloss.NewStyle().
			Foreground(ColorWarning)

	StyleMuted = lipgloss.NewStyle().
			Foreground(ColorMuted)
)

const logoASCII = `
                           _                _
 ___ _ __   ___  ___  ___| |__  _ __ ___| | __ _ _   _
/ __| '_ \ / _ \/ _ \/ __| '_ \| '__/ _ \ |/ _' | | | |
\__ \ |_) |  __/  __/ (__| | | | | |  __/ | (_| | |_| |
|___/ .__/ \___|\___|\___|_| |_|_|  \___|_|\__,_|\__, |
    |_|                                           |___/`

// Logo returns the speechrelay banner
func Logo() string {
	return StyleHeader.Render(strings.Trim(logoASCII, "\n"))
}

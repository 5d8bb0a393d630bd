// Package notify tells the user about session lifecycle changes outside the
// terminal.
package notify

import (
	"fmt"
	"os/exec"

	"github.com/charmbracelet/log"
)

const appName = "speechrelay"

type Notifier interface {
	SessionStarted(sessionID, language string)
	SessionStopped(reason string)
	TimeRemaining(minutes int)
	Error(msg string)
}

// New returns the notifier for a config value: "desktop", "log" or "none".
func New(kind string, logger *log.Logger) Notifier {
	switch kind {
	case "desktop":
		return Desktop{}
	case "log":
		if logger == nil {
			logger = log.Default()
		}
		return Log{Logger: logger}
	default:
		return Nop{}
	}
}

// Desktop sends notifications through notify-send
type Desktop struct{}

func (d Desktop) SessionStarted(sessionID, language string) {
	if language == "" {
		language = "auto-detect"
	}
	d.send("normal", "Listening", "Language: "+language)
}

func (d Desktop) SessionStopped(reason string) {
	d.send("normal", "Stopped", reason)
}

func (d Desktop) TimeRemaining(minutes int) {
	d.send("normal", "Session ending soon", fmt.Sprintf("%d minute(s) left", minutes))
}

func (d Desktop) Error(msg string) {
	d.send("critical", "Error", msg)
}

func (Desktop) send(urgency, title, body string) {
	cmd := exec.Command("notify-send", "-a", appName, "-u", urgency, appName+": "+title, body)
	if err := cmd.Run(); err != nil {
		log.Debug("notification failed", "err", err)
	}
}

// Log writes notifications to a logger, for headless use
type Log struct {
	Logger *log.Logger
}

func (l Log) SessionStarted(sessionID, language string) {
	l.Logger.Info("session started", "session_id", sessionID, "language", language)
}

func (l Log) SessionStopped(reason string) {
	l.Logger.Info("session stopped", "reason", reason)
}

func (l Log) TimeRemaining(minutes int) {
	l.Logger.Warn("session ending soon", "minutes_left", minutes)
}

func (l Log) Error(msg string) {
	l.Logger.Error(appName+" error", "msg", msg)
}

// Nop is a Notifier that does absolutely nothing.
// Useful in unit tests or headless builds.
type Nop struct{}

func (Nop) SessionStarted(string, string) {}
func (Nop) SessionStopped(string)         {}
func (Nop) TimeRemaining(int)             {}
func (Nop) Error(string)                  {}

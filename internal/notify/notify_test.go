package notify

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := Log{Logger: log.New(&buf)}

	tests := []struct {
		name string
		call func()
		want []string
	}{
		{"SessionStarted", func() { n.SessionStarted("abc", "en-US") }, []string{"session started", "abc", "en-US"}},
		{"SessionStopped", func() { n.SessionStopped("duration limit reached") }, []string{"session stopped", "duration limit reached"}},
		{"TimeRemaining", func() { n.TimeRemaining(5) }, []string{"ending soon", "5"}},
		{"Error", func() { n.Error("device gone") }, []string{"speechrelay error", "device gone"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.call()
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output %q missing %q", out, w)
				}
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		kind string
		want string
	}{
		{"desktop", "notify.Desktop"},
		{"log", "notify.Log"},
		{"none", "notify.Nop"},
		{"", "notify.Nop"},
	}
	for _, tt := range tests {
		got := New(tt.kind, nil)
		if name := typeName(got); name != tt.want {
			t.Errorf("New(%q) = %s, want %s", tt.kind, name, tt.want)
		}
	}
}

func typeName(n Notifier) string {
	switch n.(type) {
	case Desktop:
		return "notify.Desktop"
	case Log:
		return "notify.Log"
	case Nop:
		return "notify.Nop"
	}
	return "unknown"
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = Nop{}
	n.SessionStarted("id", "")
	n.SessionStopped("manually stopped")
	n.TimeRemaining(1)
	n.Error("ignored")
}

package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
		wantErr   bool
	}{
		{"", false, true, false},
		{"debug", true, true, false},
		{"INFO", false, true, false},
		{"warn", false, false, false},
		{"error", false, false, false},
		{"loud", false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(tt.level, &buf)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			logger.Debug("debug line")
			logger.Info("info line", "k", "v")

			out := buf.String()
			if got := strings.Contains(out, "debug line"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v (%q)", got, tt.wantDebug, out)
			}
			if got := strings.Contains(out, "info line"); got != tt.wantInfo {
				t.Errorf("info logged = %v, want %v (%q)", got, tt.wantInfo, out)
			}
			if tt.wantInfo && !strings.Contains(out, "k=v") {
				t.Errorf("key/value pair missing: %q", out)
			}
		})
	}
}

package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// CreateTempConfigFile creates a temporary config file for testing
func CreateTempConfigFile(t *testing.T, configContent string) string {
	t.Helper()

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.toml")

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}

	return configPath
}

// TestContext returns a context with timeout for testing
func TestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// WaitForCondition waits for a condition to be true or times out
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("Condition not met within %v", timeout)
		default:
			if condition() {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// PCMFrame returns a frame of n bytes whose first four bytes carry seq, so
// tests can check ordering and duplication across stream switches.
func PCMFrame(seq uint32, n int) []byte {
	if n < 4 {
		n = 4
	}
	frame := make([]byte, n)
	frame[0] = byte(seq)
	frame[1] = byte(seq >> 8)
	frame[2] = byte(seq >> 16)
	frame[3] = byte(seq >> 24)
	return frame
}

// FrameSeq reads back the sequence number written by PCMFrame
func FrameSeq(frame []byte) uint32 {
	if len(frame) < 4 {
		return 0
	}
	return uint32(frame[0]) | uint32(frame[1])<<8 | uint32(frame[2])<<16 | uint32(frame[3])<<24
}

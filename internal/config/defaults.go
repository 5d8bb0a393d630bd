package config

import "time"

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:         ":8080",
			ReadLimit:      64 * 1024,
			OutboundBuffer: 256,
			PingInterval:   20 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Session: SessionConfig{
			StreamLimit:    0,
			SilenceWindow:  1500 * time.Millisecond,
			MaxDuration:    2 * time.Hour,
			WarnBefore:     10 * time.Minute,
			TickInterval:   time.Minute,
			OpenTimeout:    10 * time.Second,
			CloseTimeout:   3 * time.Second,
			RetryBackoff:   250 * time.Millisecond,
			InboxSize:      256,
			HandoverFrames: 64,
			MaxRetries:     3,
		},
		Recognition: RecognitionConfig{
			Provider:       "google",
			SampleRate:     16000,
			InterimResults: true,
			AutoLanguages:  []string{"en-US", "es-ES", "fr-FR", "de-DE"},
			SendQueue:      64,
		},
		Synthesis: SynthesisConfig{
			Provider: "google",
			Timeout:  30 * time.Second,
		},
		Capture: CaptureConfig{
			ServerURL:     "ws://localhost:8080/ws",
			SampleRate:    16000,
			Channels:      1,
			FrameDuration: 100 * time.Millisecond,
			Notify:        "desktop",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Providers: make(map[string]ProviderConfig),
	}
}

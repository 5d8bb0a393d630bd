package config

import (
	"os"
	"strings"
	"time"

	"github.com/leonardotrapani/speechrelay/internal/backend"
	"github.com/leonardotrapani/speechrelay/internal/capture"
	"github.com/leonardotrapani/speechrelay/internal/provider"
	"github.com/leonardotrapani/speechrelay/internal/recording"
	"github.com/leonardotrapani/speechrelay/internal/session"
	"github.com/leonardotrapani/speechrelay/internal/transport"
)

type Config struct {
	Server      ServerConfig              `toml:"server"`
	Session     SessionConfig             `toml:"session"`
	Recognition RecognitionConfig         `toml:"recognition"`
	Synthesis   SynthesisConfig           `toml:"synthesis"`
	Capture     CaptureConfig             `toml:"capture"`
	Logging     LoggingConfig             `toml:"logging"`
	Providers   map[string]ProviderConfig `toml:"providers"`
}

// ProviderConfig holds the credentials for one provider. Google takes a
// service-account file or inline JSON, the others an API key.
type ProviderConfig struct {
	APIKey          string `toml:"api_key"`
	CredentialsFile string `toml:"credentials_file"`
	CredentialsJSON string `toml:"credentials_json"`
}

// IsZero reports whether no credential is set
func (p ProviderConfig) IsZero() bool {
	return p.APIKey == "" && p.CredentialsFile == "" && p.CredentialsJSON == ""
}

type ServerConfig struct {
	Listen         string        `toml:"listen"`
	ReadLimit      int64         `toml:"read_limit"`      // max bytes per websocket message
	OutboundBuffer int           `toml:"outbound_buffer"` // queued server->client events per connection
	PingInterval   time.Duration `toml:"ping_interval"`
	WriteTimeout   time.Duration `toml:"write_timeout"`
	AllowedOrigins []string      `toml:"allowed_origins"` // empty = same host only
}

type SessionConfig struct {
	StreamLimit    time.Duration `toml:"stream_limit"` // 0 = provider limit minus safety margin
	SilenceWindow  time.Duration `toml:"silence_window"`
	MaxDuration    time.Duration `toml:"max_duration"`
	WarnBefore     time.Duration `toml:"warn_before"`
	TickInterval   time.Duration `toml:"tick_interval"`
	OpenTimeout    time.Duration `toml:"open_timeout"`
	CloseTimeout   time.Duration `toml:"close_timeout"`
	RetryBackoff   time.Duration `toml:"retry_backoff"` // doubled per failed open, capped at 5s
	InboxSize      int           `toml:"inbox_size"`
	HandoverFrames int           `toml:"handover_frames"`
	MaxRetries     int           `toml:"max_retries"`
}

type RecognitionConfig struct {
	Provider       string   `toml:"provider"`
	Model          string   `toml:"model"`
	SampleRate     int      `toml:"sample_rate"`
	InterimResults bool     `toml:"interim_results"`
	AutoLanguages  []string `toml:"auto_languages"` // candidates when the client asks for auto-detect
	SendQueue      int      `toml:"send_queue"`     // frames buffered towards the provider
}

type SynthesisConfig struct {
	Provider     string        `toml:"provider"`
	Model        string        `toml:"model"`
	DefaultVoice string        `toml:"default_voice"`
	Timeout      time.Duration `toml:"timeout"`
}

type CaptureConfig struct {
	ServerURL     string        `toml:"server_url"`
	Device        string        `toml:"device"`
	SampleRate    int           `toml:"sample_rate"` // rate requested from the device
	Channels      int           `toml:"channels"`
	FrameDuration time.Duration `toml:"frame_duration"`
	RecordWAV     string        `toml:"record_wav"` // optional path to keep a copy of sent audio
	Notify        string        `toml:"notify"`     // desktop, log or none
}

type LoggingConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	cp := *c
	cp.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for k, v := range c.Providers {
		cp.Providers[k] = v
	}
	cp.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	cp.Recognition.AutoLanguages = append([]string(nil), c.Recognition.AutoLanguages...)
	return &cp
}

// Credentials returns the configured credentials for a provider, falling back
// to the provider's environment variable.
func (c *Config) Credentials(name string) ProviderConfig {
	creds := c.Providers[name]
	if !creds.IsZero() {
		return creds
	}

	env := os.Getenv(provider.EnvVarForProvider(name))
	if env == "" {
		return creds
	}
	if name == provider.ProviderGoogle {
		if strings.HasPrefix(strings.TrimSpace(env), "{") {
			return ProviderConfig{CredentialsJSON: env}
		}
		return ProviderConfig{CredentialsFile: env}
	}
	return ProviderConfig{APIKey: env}
}

// RecognitionModel returns the configured recognition model, or the provider default
func (c *Config) RecognitionModel() string {
	if c.Recognition.Model != "" {
		return c.Recognition.Model
	}
	if p := provider.GetProvider(c.Recognition.Provider); p != nil {
		return p.DefaultModel(provider.Recognition)
	}
	return ""
}

// SynthesisModel returns the configured synthesis model, or the provider default
func (c *Config) SynthesisModel() string {
	if c.Synthesis.Model != "" {
		return c.Synthesis.Model
	}
	if p := provider.GetProvider(c.Synthesis.Provider); p != nil {
		return p.DefaultModel(provider.Synthesis)
	}
	return ""
}

// streamLimitMargin keeps preemptive restarts clear of the provider cutoff
const streamLimitMargin = 15 * time.Second

// EffectiveStreamLimit is the sub-stream max duration the coordinator uses:
// the explicit setting, or the provider's hard limit minus a margin.
func (c *Config) EffectiveStreamLimit() time.Duration {
	if c.Session.StreamLimit > 0 {
		return c.Session.StreamLimit
	}
	if p := provider.GetProvider(c.Recognition.Provider); p != nil {
		if m := provider.FindModel(p, provider.Recognition, c.RecognitionModel()); m != nil && m.StreamLimit > streamLimitMargin {
			return m.StreamLimit - streamLimitMargin
		}
	}
	return 290 * time.Second
}

func (c *Config) ToSessionConfig() session.Config {
	return session.Config{
		StreamLimit:    c.EffectiveStreamLimit(),
		SilenceWindow:  c.Session.SilenceWindow,
		MaxDuration:    c.Session.MaxDuration,
		WarnBefore:     c.Session.WarnBefore,
		TickInterval:   c.Session.TickInterval,
		OpenTimeout:    c.Session.OpenTimeout,
		CloseTimeout:   c.Session.CloseTimeout,
		RetryBackoff:   c.Session.RetryBackoff,
		MaxRetries:     c.Session.MaxRetries,
		InboxSize:      c.Session.InboxSize,
		HandoverFrames: c.Session.HandoverFrames,
		SendQueue:      c.Recognition.SendQueue,
		SampleRate:     c.Recognition.SampleRate,
		InterimResults: c.Recognition.InterimResults,
		AutoLanguages:  append([]string(nil), c.Recognition.AutoLanguages...),
	}
}

func (c *Config) ToTransportConfig() transport.Config {
	return transport.Config{
		ReadLimit:        c.Server.ReadLimit,
		OutboxSize:       c.Server.OutboundBuffer,
		PingInterval:     c.Server.PingInterval,
		WriteWait:        c.Server.WriteTimeout,
		SynthesisTimeout: c.Synthesis.Timeout,
		AllowedOrigins:   append([]string(nil), c.Server.AllowedOrigins...),
	}
}

func (c *Config) ToBackendOptions() backend.Options {
	return backend.Options{
		RecognitionProvider: c.Recognition.Provider,
		RecognitionModel:    c.RecognitionModel(),
		SynthesisProvider:   c.Synthesis.Provider,
		SynthesisModel:      c.SynthesisModel(),
		DefaultVoice:        c.Synthesis.DefaultVoice,
		SynthesisTimeout:    c.Synthesis.Timeout,
	}
}

// BackendCredentials collects the credentials of every provider the backend
// store may need, environment fallbacks included.
func (c *Config) BackendCredentials() map[string]backend.Credentials {
	creds := make(map[string]backend.Credentials)
	for _, name := range provider.ListProviders() {
		pc := c.Credentials(name)
		if pc.IsZero() {
			continue
		}
		creds[name] = backend.Credentials{
			APIKey:          pc.APIKey,
			CredentialsJSON: pc.CredentialsJSON,
			CredentialsFile: pc.CredentialsFile,
		}
	}
	return creds
}

func (c *Config) ToRecordingConfig() recording.Config {
	return recording.Config{
		SampleRate:        c.Capture.SampleRate,
		Channels:          c.Capture.Channels,
		Format:            "s16",
		BufferSize:        c.Capture.frameBytes(),
		Device:            c.Capture.Device,
		ChannelBufferSize: 30,
	}
}

func (c *Config) ToCaptureConfig() capture.Config {
	return capture.Config{
		SourceRate:     c.Capture.SampleRate,
		SourceChannels: c.Capture.Channels,
		TargetRate:     c.Recognition.SampleRate,
		FrameDuration:  c.Capture.FrameDuration,
		RecordWAV:      c.Capture.RecordWAV,
	}
}

// frameBytes is the size of one device read of FrameDuration at the capture format
func (c CaptureConfig) frameBytes() int {
	samples := int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
	return samples * c.Channels * 2
}

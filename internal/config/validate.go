package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/leonardotrapani/speechrelay/internal/language"
	"github.com/leonardotrapani/speechrelay/internal/provider"
)

func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateRecognition(); err != nil {
		return err
	}
	if err := c.validateSynthesis(); err != nil {
		return err
	}
	if err := c.validateCapture(); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q (must be debug, info, warn, or error)", c.Logging.Level)
	}

	for name := range c.Providers {
		if provider.GetProvider(name) == nil {
			return fmt.Errorf("unknown provider in [providers.%s]", name)
		}
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("invalid server.listen: empty")
	}
	if c.Server.ReadLimit <= 0 {
		return fmt.Errorf("invalid server.read_limit: %d", c.Server.ReadLimit)
	}
	if c.Server.OutboundBuffer <= 0 {
		return fmt.Errorf("invalid server.outbound_buffer: %d", c.Server.OutboundBuffer)
	}
	if c.Server.PingInterval <= 0 {
		return fmt.Errorf("invalid server.ping_interval: %v", c.Server.PingInterval)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("invalid server.write_timeout: %v", c.Server.WriteTimeout)
	}
	return nil
}

func (c *Config) validateSession() error {
	s := c.Session
	if s.StreamLimit < 0 {
		return fmt.Errorf("invalid session.stream_limit: %v", s.StreamLimit)
	}
	if s.SilenceWindow <= 0 {
		return fmt.Errorf("invalid session.silence_window: %v", s.SilenceWindow)
	}
	if limit := c.EffectiveStreamLimit(); s.SilenceWindow >= limit {
		return fmt.Errorf("invalid session.silence_window: %v must be shorter than the stream limit %v", s.SilenceWindow, limit)
	}
	if s.MaxDuration <= 0 {
		return fmt.Errorf("invalid session.max_duration: %v", s.MaxDuration)
	}
	if s.WarnBefore < 0 || s.WarnBefore >= s.MaxDuration {
		return fmt.Errorf("invalid session.warn_before: %v (must be between 0 and max_duration)", s.WarnBefore)
	}
	if s.TickInterval <= 0 {
		return fmt.Errorf("invalid session.tick_interval: %v", s.TickInterval)
	}
	if s.OpenTimeout <= 0 {
		return fmt.Errorf("invalid session.open_timeout: %v", s.OpenTimeout)
	}
	if s.CloseTimeout <= 0 {
		return fmt.Errorf("invalid session.close_timeout: %v", s.CloseTimeout)
	}
	if s.RetryBackoff <= 0 {
		return fmt.Errorf("invalid session.retry_backoff: %v", s.RetryBackoff)
	}
	if s.InboxSize <= 0 {
		return fmt.Errorf("invalid session.inbox_size: %d", s.InboxSize)
	}
	if s.HandoverFrames <= 0 {
		return fmt.Errorf("invalid session.handover_frames: %d", s.HandoverFrames)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("invalid session.max_retries: %d", s.MaxRetries)
	}
	return nil
}

func (c *Config) validateRecognition() error {
	r := c.Recognition
	p := provider.GetProvider(r.Provider)
	if p == nil || !provider.Supports(p, provider.Recognition) {
		return fmt.Errorf("invalid recognition.provider: %q (must be one of %s)",
			r.Provider, strings.Join(provider.ListProvidersWith(provider.Recognition), ", "))
	}
	if r.Model != "" && provider.FindModel(p, provider.Recognition, r.Model) == nil {
		return fmt.Errorf("invalid recognition.model: %q is not a %s recognition model", r.Model, r.Provider)
	}
	if r.SampleRate != 16000 {
		return fmt.Errorf("invalid recognition.sample_rate: %d (only 16000 is supported)", r.SampleRate)
	}
	if r.SendQueue <= 0 {
		return fmt.Errorf("invalid recognition.send_queue: %d", r.SendQueue)
	}
	for _, code := range r.AutoLanguages {
		if _, err := language.ParseHint(code); err != nil || code == "" || strings.EqualFold(code, language.AutoHint) {
			return fmt.Errorf("invalid recognition.auto_languages entry: %q", code)
		}
	}
	return nil
}

func (c *Config) validateSynthesis() error {
	s := c.Synthesis
	if s.Provider == "" {
		// synthesis disabled
		return nil
	}
	p := provider.GetProvider(s.Provider)
	if p == nil || !provider.Supports(p, provider.Synthesis) {
		return fmt.Errorf("invalid synthesis.provider: %q (must be one of %s)",
			s.Provider, strings.Join(provider.ListProvidersWith(provider.Synthesis), ", "))
	}
	if s.Model != "" && provider.FindModel(p, provider.Synthesis, s.Model) == nil {
		return fmt.Errorf("invalid synthesis.model: %q is not a %s synthesis model", s.Model, s.Provider)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("invalid synthesis.timeout: %v", s.Timeout)
	}
	return nil
}

func (c *Config) validateCapture() error {
	cp := c.Capture
	if cp.SampleRate <= 0 {
		return fmt.Errorf("invalid capture.sample_rate: %d", cp.SampleRate)
	}
	if cp.Channels <= 0 || cp.Channels > 2 {
		return fmt.Errorf("invalid capture.channels: %d (must be 1 or 2)", cp.Channels)
	}
	if cp.FrameDuration < 10*time.Millisecond || cp.FrameDuration > time.Second {
		return fmt.Errorf("invalid capture.frame_duration: %v (must be between 10ms and 1s)", cp.FrameDuration)
	}
	if cp.ServerURL == "" {
		return fmt.Errorf("invalid capture.server_url: empty")
	}
	switch cp.Notify {
	case "desktop", "log", "none":
	default:
		return fmt.Errorf("invalid capture.notify: %q (must be desktop, log, or none)", cp.Notify)
	}
	return nil
}

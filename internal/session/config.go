package session

import "time"

type Config struct {
	// StreamLimit is how long a sub-stream lives before it is replaced. It
	// must sit below the provider's own hard limit.
	StreamLimit time.Duration
	// SilenceWindow after the last interim fragment forces a finalize.
	SilenceWindow time.Duration
	// MaxDuration ends the whole session.
	MaxDuration time.Duration
	// WarnBefore is when time_remaining notices start, checked every TickInterval.
	WarnBefore   time.Duration
	TickInterval time.Duration

	OpenTimeout  time.Duration
	CloseTimeout time.Duration
	RetryBackoff time.Duration
	MaxRetries   int

	InboxSize      int
	HandoverFrames int
	SendQueue      int

	SampleRate     int
	InterimResults bool
	AutoLanguages  []string
}

func DefaultConfig() Config {
	return Config{
		StreamLimit:    290 * time.Second,
		SilenceWindow:  1500 * time.Millisecond,
		MaxDuration:    2 * time.Hour,
		WarnBefore:     10 * time.Minute,
		TickInterval:   time.Minute,
		OpenTimeout:    10 * time.Second,
		CloseTimeout:   3 * time.Second,
		RetryBackoff:   250 * time.Millisecond,
		MaxRetries:     3,
		InboxSize:      256,
		HandoverFrames: 64,
		SendQueue:      64,
		SampleRate:     16000,
		InterimResults: true,
	}
}

// withDefaults fills zero fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StreamLimit <= 0 {
		c.StreamLimit = d.StreamLimit
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = d.SilenceWindow
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.WarnBefore <= 0 {
		c.WarnBefore = d.WarnBefore
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InboxSize <= 0 {
		c.InboxSize = d.InboxSize
	}
	if c.HandoverFrames <= 0 {
		c.HandoverFrames = d.HandoverFrames
	}
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	return c
}

const maxRetryBackoff = 5 * time.Second

func (c Config) backoff(attempt int) time.Duration {
	d := c.RetryBackoff
	for i := 1; i < attempt && d < maxRetryBackoff; i++ {
		d *= 2
	}
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	return d
}

// Package synth turns text into speech audio for the synthesize request.
package synth

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrEmptyText   = errors.New("text is empty")
	ErrUnsupported = errors.New("provider does not support speech synthesis")
)

const maxTextLength = 4096

type Request struct {
	Text           string
	TargetLanguage string
	VoiceID        string
}

// Audio is an encoded clip; Format is the container/codec name sent to the
// client (mp3 for every backend here).
type Audio struct {
	Data   []byte
	Format string
}

type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (Audio, error)
	Close() error
}

type Options struct {
	Model        string
	DefaultVoice string
	Timeout      time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 30 * time.Second
	}
	return o.Timeout
}

func (o Options) voice(req Request, fallback string) string {
	switch {
	case req.VoiceID != "":
		return req.VoiceID
	case o.DefaultVoice != "":
		return o.DefaultVoice
	default:
		return fallback
	}
}

func validate(req Request) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return ErrEmptyText
	}
	if len(text) > maxTextLength {
		return errors.New("text exceeds 4096 characters")
	}
	return nil
}

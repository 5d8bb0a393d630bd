package synth

import (
	"bytes"
	"context"
	"fmt"

	"github.com/haguro/elevenlabs-go"
	"github.com/leonardotrapani/speechrelay/internal/provider"
)

// Rachel, one of the premade voices every account has.
const elevenLabsDefaultVoice = "21m00Tcm4TlvDq8gzLKz"

type ElevenLabs struct {
	apiKey string
	opts   Options
}

func NewElevenLabs(apiKey string, opts Options) *ElevenLabs {
	if opts.Model == "" {
		opts.Model = "eleven_turbo_v2_5"
	}
	return &ElevenLabs{apiKey: apiKey, opts: opts}
}

func (e *ElevenLabs) Name() string { return provider.ProviderElevenLabs }

func (e *ElevenLabs) Close() error { return nil }

func (e *ElevenLabs) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if err := validate(req); err != nil {
		return Audio{}, err
	}

	client := elevenlabs.NewClient(ctx, e.apiKey, e.opts.timeout())
	ttsReq := elevenlabs.TextToSpeechRequest{
		Text:    req.Text,
		ModelID: e.opts.Model,
	}

	var buf bytes.Buffer
	if err := client.TextToSpeechStream(&buf, e.opts.voice(req, elevenLabsDefaultVoice), ttsReq); err != nil {
		return Audio{}, fmt.Errorf("elevenlabs speech: %w", err)
	}
	return Audio{Data: buf.Bytes(), Format: "mp3"}, nil
}

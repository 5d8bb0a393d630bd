package synth

import (
	"context"
	"fmt"
	"io"

	"github.com/leonardotrapani/speechrelay/internal/provider"
	"github.com/sashabaranov/go-openai"
)

type OpenAI struct {
	client *openai.Client
	opts   Options
}

func NewOpenAI(apiKey string, opts Options) *OpenAI {
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), opts)
}

// NewOpenAIWithConfig allows overriding the base URL.
func NewOpenAIWithConfig(cfg openai.ClientConfig, opts Options) *OpenAI {
	if opts.Model == "" {
		opts.Model = string(openai.TTSModel1)
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), opts: opts}
}

func (o *OpenAI) Name() string { return provider.ProviderOpenAI }

func (o *OpenAI) Close() error { return nil }

// Synthesize ignores TargetLanguage; OpenAI voices speak whatever language
// the text is in.
func (o *OpenAI) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if err := validate(req); err != nil {
		return Audio{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.timeout())
	defer cancel()

	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.opts.Model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(o.opts.voice(req, string(openai.VoiceAlloy))),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return Audio{}, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return Audio{}, fmt.Errorf("read openai speech: %w", err)
	}
	return Audio{Data: data, Format: "mp3"}, nil
}

package synth

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/leonardotrapani/speechrelay/internal/language"
	"github.com/leonardotrapani/speechrelay/internal/provider"
	"google.golang.org/api/option"
)

type GoogleOptions struct {
	Options
	CredentialsJSON []byte
	CredentialsFile string
	ClientOptions   []option.ClientOption
}

type Google struct {
	client *texttospeech.Client
	opts   Options
}

func NewGoogle(ctx context.Context, opts GoogleOptions) (*Google, error) {
	var clientOpts []option.ClientOption
	switch {
	case len(opts.CredentialsJSON) > 0:
		clientOpts = append(clientOpts, option.WithCredentialsJSON(opts.CredentialsJSON))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	client, err := texttospeech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create text-to-speech client: %w", err)
	}
	return &Google{client: client, opts: opts.Options}, nil
}

func (g *Google) Name() string { return provider.ProviderGoogle }

func (g *Google) Close() error { return g.client.Close() }

// Synthesize picks a voice by name when one is given, otherwise lets Google
// choose one for the target language.
func (g *Google) Synthesize(ctx context.Context, req Request) (Audio, error) {
	if err := validate(req); err != nil {
		return Audio{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.timeout())
	defer cancel()

	lang := language.ToProviderFormat(req.TargetLanguage, provider.ProviderGoogle)
	if lang == "" {
		lang = "en-US"
	}

	resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: req.Text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: lang,
			Name:         g.opts.voice(req, ""),
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	})
	if err != nil {
		return Audio{}, fmt.Errorf("google text-to-speech: %w", err)
	}
	return Audio{Data: resp.AudioContent, Format: "mp3"}, nil
}

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/leonardotrapani/speechrelay/internal/provider"
	"github.com/leonardotrapani/speechrelay/internal/synth"
	"github.com/leonardotrapani/speechrelay/internal/transcriber"
)

// ProviderFactory builds the real provider clients.
type ProviderFactory struct {
	logger *log.Logger
}

func NewProviderFactory(logger *log.Logger) *ProviderFactory {
	if logger == nil {
		logger = log.Default()
	}
	return &ProviderFactory{logger: logger}
}

func (f *ProviderFactory) NewRecognizer(ctx context.Context, providerName, model string, creds Credentials) (transcriber.Client, error) {
	p := provider.GetProvider(providerName)
	if p == nil {
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}
	if !provider.Supports(p, provider.Recognition) {
		return nil, fmt.Errorf("provider %s does not support streaming recognition", providerName)
	}
	if model == "" {
		model = p.DefaultModel(provider.Recognition)
	}

	switch providerName {
	case provider.ProviderGoogle:
		opts := transcriber.GoogleOptions{Model: model, CredentialsFile: creds.CredentialsFile}
		if creds.CredentialsJSON != "" {
			if !json.Valid([]byte(creds.CredentialsJSON)) {
				return nil, errors.New("credentials json is not valid json")
			}
			opts.CredentialsJSON = []byte(creds.CredentialsJSON)
		}
		return transcriber.NewGoogleClient(ctx, opts, f.logger)

	case provider.ProviderDeepgram:
		m := provider.FindModel(p, provider.Recognition, model)
		if m == nil || m.Endpoint == nil {
			return nil, fmt.Errorf("deepgram model %q has no streaming endpoint", model)
		}
		return transcriber.NewDeepgramClient(m.Endpoint, creds.APIKey, model, f.logger), nil
	}

	return nil, fmt.Errorf("no recognizer for provider %q", providerName)
}

func (f *ProviderFactory) NewSynthesizer(ctx context.Context, providerName string, opts synth.Options, creds Credentials) (synth.Synthesizer, error) {
	p := provider.GetProvider(providerName)
	if p == nil {
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}
	if !provider.Supports(p, provider.Synthesis) {
		return nil, fmt.Errorf("%w: %s", synth.ErrUnsupported, providerName)
	}
	if opts.Model == "" {
		opts.Model = p.DefaultModel(provider.Synthesis)
	}

	switch providerName {
	case provider.ProviderOpenAI:
		return synth.NewOpenAI(creds.APIKey, opts), nil
	case provider.ProviderElevenLabs:
		return synth.NewElevenLabs(creds.APIKey, opts), nil
	case provider.ProviderGoogle:
		gopts := synth.GoogleOptions{Options: opts, CredentialsFile: creds.CredentialsFile}
		if creds.CredentialsJSON != "" {
			gopts.CredentialsJSON = []byte(creds.CredentialsJSON)
		}
		return synth.NewGoogle(ctx, gopts)
	}

	return nil, fmt.Errorf("no synthesizer for provider %q", providerName)
}

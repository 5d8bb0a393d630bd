package testutil

import (
	"context"
	"sync"

	"github.com/leonardotrapani/speechrelay/internal/backend"
	"github.com/leonardotrapani/speechrelay/internal/synth"
	"github.com/leonardotrapani/speechrelay/internal/transcriber"
)

// FakeSynthesizer echoes the request text back as audio bytes.
type FakeSynthesizer struct {
	NameValue string
	Tag       string
	Err       error

	mu       sync.Mutex
	requests []synth.Request
	closed   bool
}

func (s *FakeSynthesizer) Name() string { return s.NameValue }

func (s *FakeSynthesizer) Synthesize(ctx context.Context, req synth.Request) (synth.Audio, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.Err != nil {
		return synth.Audio{}, s.Err
	}
	return synth.Audio{Data: []byte(req.Text), Format: "mp3"}, nil
}

func (s *FakeSynthesizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FakeSynthesizer) Requests() []synth.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]synth.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// FakeFactory implements backend.Factory with fakes tagged by the API key
// they were built from.
type FakeFactory struct {
	// Configure, when set, adjusts each new client before it is returned
	Configure      func(*FakeClient)
	RecognizerErr  error
	SynthesizerErr error

	mu           sync.Mutex
	recognizers  []*FakeClient
	synthesizers []*FakeSynthesizer
}

func (f *FakeFactory) NewRecognizer(ctx context.Context, providerName, model string, creds backend.Credentials) (transcriber.Client, error) {
	if f.RecognizerErr != nil {
		return nil, f.RecognizerErr
	}
	c := &FakeClient{NameValue: providerName, Tag: creds.APIKey + creds.CredentialsJSON + creds.CredentialsFile}
	if f.Configure != nil {
		f.Configure(c)
	}
	f.mu.Lock()
	f.recognizers = append(f.recognizers, c)
	f.mu.Unlock()
	return c, nil
}

func (f *FakeFactory) NewSynthesizer(ctx context.Context, providerName string, opts synth.Options, creds backend.Credentials) (synth.Synthesizer, error) {
	if f.SynthesizerErr != nil {
		return nil, f.SynthesizerErr
	}
	s := &FakeSynthesizer{NameValue: providerName, Tag: creds.APIKey}
	f.mu.Lock()
	f.synthesizers = append(f.synthesizers, s)
	f.mu.Unlock()
	return s, nil
}

func (f *FakeFactory) Recognizers() []*FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeClient, len(f.recognizers))
	copy(out, f.recognizers)
	return out
}

// LastRecognizer returns the most recently built client, or nil
func (f *FakeFactory) LastRecognizer() *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.recognizers) == 0 {
		return nil
	}
	return f.recognizers[len(f.recognizers)-1]
}

func (f *FakeFactory) LastSynthesizer() *FakeSynthesizer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.synthesizers) == 0 {
		return nil
	}
	return f.synthesizers[len(f.synthesizers)-1]
}

// NewFakeStore returns a store whose recognizer is a fake deepgram client
// built from apiKey, plus an openai fake synthesizer.
func NewFakeStore(ctx context.Context, f *FakeFactory, apiKey string) (*backend.Store, error) {
	s := backend.NewStore(f, nil, nil)
	err := s.Load(ctx, backend.Options{
		RecognitionProvider: "deepgram",
		SynthesisProvider:   "openai",
	}, map[string]backend.Credentials{
		"deepgram": {APIKey: apiKey},
		"openai":   {APIKey: "sk-" + apiKey},
	})
	return s, err
}

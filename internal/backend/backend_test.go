package backend_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leonardotrapani/speechrelay/internal/backend"
	"github.com/leonardotrapani/speechrelay/internal/metrics"
	"github.com/leonardotrapani/speechrelay/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAcquireWithoutCredentials(t *testing.T) {
	s := backend.NewStore(&testutil.FakeFactory{}, nil, nil)

	if _, err := s.Acquire(); !errors.Is(err, backend.ErrBackendUnavailable) {
		t.Fatalf("Acquire() on empty store error = %v, want ErrBackendUnavailable", err)
	}

	err := s.Load(context.Background(), backend.Options{RecognitionProvider: "deepgram"}, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := s.Acquire(); !errors.Is(err, backend.ErrBackendUnavailable) {
		t.Errorf("Acquire() without credentials error = %v, want ErrBackendUnavailable", err)
	}
	if _, err := s.AcquireSynthesizer(); !errors.Is(err, backend.ErrSynthesisUnavailable) {
		t.Errorf("AcquireSynthesizer() error = %v, want ErrSynthesisUnavailable", err)
	}
}

func TestUpdateIsCopyOnWrite(t *testing.T) {
	f := &testutil.FakeFactory{}
	m := metrics.New()
	s := backend.NewStore(f, m, nil)
	ctx := context.Background()

	if err := s.Load(ctx, backend.Options{RecognitionProvider: "deepgram"}, map[string]backend.Credentials{
		"deepgram": {APIKey: "old-key"},
	}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	held, err := s.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	oldClient := held.Recognizer().(*testutil.FakeClient)
	if oldClient.Tag != "old-key" {
		t.Fatalf("initial recognizer tag = %q, want old-key", oldClient.Tag)
	}

	if err := s.Update(ctx, "deepgram", backend.Credentials{APIKey: "new-key"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// the held handle is untouched
	if held.Closed() || oldClient.Closed() {
		t.Error("held handle was closed by Update")
	}
	if held.Recognizer().(*testutil.FakeClient).Tag != "old-key" {
		t.Error("held handle changed recognizer")
	}

	next, err := s.Acquire()
	if err != nil {
		t.Fatalf("Acquire() after update error = %v", err)
	}
	if next.Generation() <= held.Generation() {
		t.Errorf("generation %d not newer than %d", next.Generation(), held.Generation())
	}
	if next.Recognizer().(*testutil.FakeClient).Tag != "new-key" {
		t.Error("new handle does not use new credentials")
	}

	held.Release()
	if !held.Closed() || !oldClient.Closed() {
		t.Error("old handle should close once its last holder releases it")
	}
	if next.Closed() {
		t.Error("current handle must stay open")
	}
	next.Release()
	if next.Closed() {
		t.Error("store reference keeps the current handle open")
	}

	if got := promtest.ToFloat64(m.CredentialSwaps); got != 1 {
		t.Errorf("CredentialSwaps = %v, want 1", got)
	}
}

func TestUpdateFailureKeepsCurrent(t *testing.T) {
	f := &testutil.FakeFactory{}
	s := backend.NewStore(f, nil, nil)
	ctx := context.Background()

	if err := s.Load(ctx, backend.Options{RecognitionProvider: "deepgram"}, map[string]backend.Credentials{
		"deepgram": {APIKey: "good"},
	}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	gen := s.Status().Generation

	tests := []struct {
		name     string
		provider string
		creds    backend.Credentials
		setup    func()
		wantErr  string
	}{
		{"unknown provider", "nope", backend.Credentials{APIKey: "x"}, nil, "unknown provider"},
		{"empty credentials", "deepgram", backend.Credentials{}, nil, "no credentials"},
		{"bad openai key", "openai", backend.Credentials{APIKey: "not-sk"}, nil, "invalid api key"},
		{"build failure", "deepgram", backend.Credentials{APIKey: "other"}, func() { f.RecognizerErr = errors.New("boom") }, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			err := s.Update(ctx, tt.provider, tt.creds)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Update() error = %v, want containing %q", err, tt.wantErr)
			}
			if s.Status().Generation != gen {
				t.Errorf("generation changed to %d after failed update", s.Status().Generation)
			}
		})
	}
}

func TestLoadFailureKeepsCurrent(t *testing.T) {
	f := &testutil.FakeFactory{}
	s := backend.NewStore(f, nil, nil)
	ctx := context.Background()
	opts := backend.Options{RecognitionProvider: "deepgram", SynthesisProvider: "openai"}

	f.SynthesizerErr = errors.New("tts down")
	err := s.Load(ctx, opts, map[string]backend.Credentials{
		"deepgram": {APIKey: "good"},
		"openai":   {APIKey: "sk-good"},
	})
	if err == nil {
		t.Fatal("first Load() succeeded with a failing synthesizer")
	}
	// first load installs what could be built
	if st := s.Status(); st.Generation != 1 || st.Recognizer != "deepgram" || st.Synthesizer != "" {
		t.Fatalf("Status() after partial load = %+v", st)
	}

	f.SynthesizerErr = nil
	if err := s.Update(ctx, "deepgram", backend.Credentials{APIKey: "pushed"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	gen := s.Status().Generation

	f.RecognizerErr = errors.New("boom")
	err = s.Load(ctx, opts, map[string]backend.Credentials{
		"deepgram": {APIKey: "rotated"},
		"openai":   {APIKey: "sk-good"},
	})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Load() error = %v, want boom", err)
	}
	if got := s.Status().Generation; got != gen {
		t.Errorf("generation = %d after failed reload, want %d", got, gen)
	}

	h, err := s.Acquire()
	if err != nil {
		t.Fatalf("Acquire() after failed reload error = %v", err)
	}
	defer h.Release()
	if tag := h.Recognizer().(*testutil.FakeClient).Tag; tag != "pushed" {
		t.Errorf("recognizer tag = %q, want pushed", tag)
	}

	// a reload that builds replaces client-pushed credentials
	f.RecognizerErr = nil
	if err := s.Load(ctx, opts, map[string]backend.Credentials{
		"deepgram": {APIKey: "rotated"},
		"openai":   {APIKey: "sk-good"},
	}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	h2, err := s.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer h2.Release()
	if tag := h2.Recognizer().(*testutil.FakeClient).Tag; tag != "rotated" {
		t.Errorf("recognizer tag = %q, want rotated", tag)
	}
}

func TestSynthesizerSharesCredentialUpdate(t *testing.T) {
	f := &testutil.FakeFactory{}
	ctx := context.Background()
	s, err := testutil.NewFakeStore(ctx, f, "k1")
	if err != nil {
		t.Fatalf("NewFakeStore() error = %v", err)
	}

	h, err := s.AcquireSynthesizer()
	if err != nil {
		t.Fatalf("AcquireSynthesizer() error = %v", err)
	}
	if h.Synthesizer().Name() != "openai" {
		t.Errorf("synthesizer = %q, want openai", h.Synthesizer().Name())
	}
	h.Release()

	if err := s.Update(ctx, "openai", backend.Credentials{APIKey: "sk-k2"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := f.LastSynthesizer().Tag; got != "sk-k2" {
		t.Errorf("synthesizer tag = %q, want sk-k2", got)
	}

	st := s.Status()
	if st.Recognizer != "deepgram" || st.Synthesizer != "openai" || st.Generation != 2 {
		t.Errorf("Status() = %+v", st)
	}
}

func TestCloseReleasesStoreReference(t *testing.T) {
	f := &testutil.FakeFactory{}
	s, err := testutil.NewFakeStore(context.Background(), f, "k")
	if err != nil {
		t.Fatalf("NewFakeStore() error = %v", err)
	}

	h, _ := s.Acquire()
	s.Close()
	s.Close()

	if h.Closed() {
		t.Error("held handle closed by store Close")
	}
	if _, err := s.Acquire(); !errors.Is(err, backend.ErrStoreClosed) {
		t.Errorf("Acquire() after Close error = %v, want ErrStoreClosed", err)
	}
	h.Release()
	if !h.Closed() {
		t.Error("handle should close after last release")
	}
}

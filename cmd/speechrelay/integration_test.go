//go:build integration

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-audio/wav"
	"github.com/leonardotrapani/speechrelay/internal/backend"
	"github.com/leonardotrapani/speechrelay/internal/client"
	"github.com/leonardotrapani/speechrelay/internal/config"
	"github.com/leonardotrapani/speechrelay/internal/pcm"
	"github.com/leonardotrapani/speechrelay/internal/protocol"
	"github.com/leonardotrapani/speechrelay/internal/provider"
	"github.com/leonardotrapani/speechrelay/internal/transport"
)

const (
	testSampleRate = 16000
	testChunkBytes = 3200
	testTimeout    = 60 * time.Second
)

// TestRecognitionProviders streams testdata/sample.wav through a local relay
// for every recognition model whose provider has credentials.
func TestRecognitionProviders(t *testing.T) {
	audio := loadTestAudio(t)
	cfg := loadTestConfig(t)

	for _, name := range provider.ListProvidersWith(provider.Recognition) {
		p := provider.GetProvider(name)
		for _, model := range provider.ModelsOfType(p, provider.Recognition) {
			for _, lang := range []string{"en-US", "auto"} {
				name, model, lang := name, model, lang
				t.Run(fmt.Sprintf("%s/%s/lang=%s", name, model.ID, lang), func(t *testing.T) {
					t.Parallel()
					creds := cfg.BackendCredentials()
					if _, ok := creds[name]; !ok {
						t.Skipf("no credentials for %s", name)
					}

					c := startTestRelay(t, backend.Options{RecognitionProvider: name, RecognitionModel: model.ID}, creds)
					text, err := transcribe(t, c, lang, audio)
					if err != nil {
						t.Fatalf("transcribe: %v", err)
					}
					if strings.TrimSpace(text) == "" {
						t.Fatal("empty transcript")
					}
					t.Logf("transcript: %s", truncateTestString(text, 120))
				})
			}
		}
	}
}

func TestSynthesisProviders(t *testing.T) {
	cfg := loadTestConfig(t)

	for _, name := range provider.ListProvidersWith(provider.Synthesis) {
		p := provider.GetProvider(name)
		for _, model := range provider.ModelsOfType(p, provider.Synthesis) {
			name, model := name, model
			t.Run(name+"/"+model.ID, func(t *testing.T) {
				t.Parallel()
				creds := cfg.BackendCredentials()
				if _, ok := creds[name]; !ok {
					t.Skipf("no credentials for %s", name)
				}
				recognizer := cfg.Recognition.Provider
				if _, ok := creds[recognizer]; !ok {
					t.Skipf("no credentials for recognizer %s", recognizer)
				}

				c := startTestRelay(t, backend.Options{
					RecognitionProvider: recognizer,
					SynthesisProvider:   name,
					SynthesisModel:      model.ID,
				}, creds)

				ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
				defer cancel()
				audio, format, err := c.Synthesize(ctx, "The relay is working.", "en-US", "")
				if err != nil {
					t.Fatalf("Synthesize: %v", err)
				}
				if len(audio) < 512 {
					t.Errorf("got %d bytes of %s", len(audio), format)
				}
			})
		}
	}
}

func startTestRelay(t *testing.T, opts backend.Options, creds map[string]backend.Credentials) *client.Client {
	t.Helper()
	cfg := config.DefaultConfig()
	logger := log.New(os.Stderr)
	logger.SetLevel(log.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	store := backend.NewStore(backend.NewProviderFactory(logger), nil, logger)
	if err := store.Load(ctx, opts, creds); err != nil {
		t.Fatalf("load backends: %v", err)
	}
	relay := transport.NewHandler(cfg.ToTransportConfig(), cfg.ToSessionConfig(), store, nil, logger)
	srv := httptest.NewServer(relay)
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = relay.Shutdown(sctx)
		srv.Close()
		store.Close()
	})

	c, err := client.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/", logger)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// transcribe streams audio in real time and collects finals until the relay
// reports the session stopped.
func transcribe(t *testing.T, c *client.Client, lang string, audio []byte) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	if err := c.StartSession(ctx, lang); err != nil {
		return "", err
	}

	chunker := pcm.NewChunker(testChunkBytes)
	frameDuration := time.Duration(testChunkBytes/2) * time.Second / testSampleRate
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	frames := chunker.Write(audio)
	if tail := chunker.Flush(); tail != nil {
		frames = append(frames, tail)
	}
	for _, f := range frames {
		if err := c.SendFrame(f); err != nil {
			return "", err
		}
		<-ticker.C
	}
	if err := c.EndSession(); err != nil {
		return "", err
	}

	var finals []string
	for {
		select {
		case m, ok := <-c.Events():
			if !ok {
				return "", errors.New("relay closed the connection")
			}
			switch m := m.(type) {
			case *protocol.Transcript:
				if m.IsFinal {
					finals = append(finals, m.Text)
				}
			case *protocol.Error:
				return "", &client.RemoteError{Code: m.Code, Message: m.Message}
			case *protocol.SessionStopped:
				return strings.Join(finals, " "), nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// loadTestAudio reads testdata/sample.wav (or $SPEECHRELAY_TEST_AUDIO) as
// 16 kHz mono PCM.
func loadTestAudio(t *testing.T) []byte {
	t.Helper()
	path := os.Getenv("SPEECHRELAY_TEST_AUDIO")
	if path == "" {
		_, currentFile, _, ok := runtime.Caller(0)
		if !ok {
			t.Fatal("could not determine current file path")
		}
		path = filepath.Join(filepath.Dir(filepath.Dir(filepath.Dir(currentFile))), "testdata", "sample.wav")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Skipf("no sample audio: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatalf("%s is not a wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	if dec.BitDepth != 16 {
		t.Fatalf("%s: %d-bit audio, want 16", path, dec.BitDepth)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	channels := int(dec.NumChans)
	samples = pcm.Downmix(samples, channels)
	rs := pcm.NewResampler(int(dec.SampleRate), testSampleRate)
	return pcm.Bytes(rs.Process(samples))
}

func loadTestConfig(t *testing.T) *config.Config {
	cfg, err := config.Load("")
	if err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			t.Logf("warning: could not load config: %v", err)
		}
		return config.DefaultConfig()
	}
	return cfg
}

func truncateTestString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

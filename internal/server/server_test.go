package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/leonardotrapani/speechrelay/internal/metrics"
)

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	opts.Logger = log.New(io.Discard)
	ts := httptest.NewServer(New(opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     HealthFunc
		wantStatus int
		wantField  string
	}{
		{
			name:       "no health func",
			wantStatus: http.StatusOK,
		},
		{
			name: "details merged",
			health: func() (map[string]any, error) {
				return map[string]any{"sessions": 2}, nil
			},
			wantStatus: http.StatusOK,
			wantField:  "sessions",
		},
		{
			name: "unhealthy",
			health: func() (map[string]any, error) {
				return nil, errors.New("no recognizer")
			},
			wantStatus: http.StatusServiceUnavailable,
			wantField:  "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, Options{Health: tt.health})
			code, body := getJSON(t, ts.URL+"/healthz")
			if code != tt.wantStatus {
				t.Errorf("status = %d, want %d", code, tt.wantStatus)
			}
			if tt.wantField != "" {
				if _, ok := body[tt.wantField]; !ok {
					t.Errorf("body missing %q: %v", tt.wantField, body)
				}
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Connections.Inc()

	ts := newTestServer(t, Options{Metrics: m.Handler()})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(data), "speechrelay_connections 1") {
		t.Errorf("connections gauge missing from output:\n%s", data)
	}
}

func TestRelayMounted(t *testing.T) {
	relay := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	ts := newTestServer(t, Options{Relay: relay})

	resp, err := http.Get(ts.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want relay handler", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("metrics without handler: status = %d, want 404", resp.StatusCode)
	}
}

func TestStartAndShutdown(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:0", Logger: log.New(io.Discard)})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("no bound address")
	}

	code, _ := getJSON(t, "http://"+addr+"/healthz")
	if code != http.StatusOK {
		t.Errorf("status = %d", code)
	}

	if err := s.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/healthz"); err == nil {
		t.Error("server still answering after shutdown")
	}
}

package transcriber

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leonardotrapani/speechrelay/internal/provider"
)

func TestDeepgramClient_ImplementsClient(t *testing.T) {
	var _ Client = (*DeepgramClient)(nil)
	var _ Stream = (*deepgramStream)(nil)
}

func TestDeepgramClient_BuildURL(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		cfg      StreamConfig
		wantURL  []string // URL must contain all these substrings
		dontWant []string
	}{
		{
			name:    "english",
			model:   "nova-3",
			cfg:     StreamConfig{Language: "en", SampleRate: 16000, InterimResults: true},
			wantURL: []string{"model=nova-3", "language=en-US", "encoding=linear16", "sample_rate=16000", "interim_results=true"},
		},
		{
			name:    "spanish",
			model:   "nova-2",
			cfg:     StreamConfig{Language: "es"},
			wantURL: []string{"model=nova-2", "language=es", "sample_rate=16000", "interim_results=false"},
		},
		{
			name:    "auto-detect nova-3",
			model:   "nova-3",
			cfg:     StreamConfig{},
			wantURL: []string{"model=nova-3", "language=multi"},
		},
		{
			name:     "auto-detect nova-2",
			model:    "nova-2",
			cfg:      StreamConfig{},
			wantURL:  []string{"model=nova-2"},
			dontWant: []string{"language="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoint := &provider.EndpointConfig{
				BaseURL: "wss://api.deepgram.com",
				Path:    "/v1/listen",
			}
			client := NewDeepgramClient(endpoint, "test-key", tt.model, nil)

			url, err := client.buildURL(tt.cfg)
			if err != nil {
				t.Fatalf("buildURL() error = %v", err)
			}
			if !strings.HasPrefix(url, "wss://api.deepgram.com/v1/listen?") {
				t.Errorf("buildURL() = %q, want deepgram listen endpoint", url)
			}
			for _, want := range tt.wantURL {
				if !strings.Contains(url, want) {
					t.Errorf("buildURL() = %q, want to contain %q", url, want)
				}
			}
			for _, bad := range tt.dontWant {
				if strings.Contains(url, bad) {
					t.Errorf("buildURL() = %q, should not contain %q", url, bad)
				}
			}
		})
	}
}

// mockDeepgramServer creates a mock WebSocket server for testing
func mockDeepgramServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth != "Token test-api-key" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		handler(conn)
	}))
	return server
}

func newTestDeepgramClient(server *httptest.Server, apiKey string) *DeepgramClient {
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	endpoint := &provider.EndpointConfig{BaseURL: wsURL, Path: ""}
	return NewDeepgramClient(endpoint, apiKey, "nova-3", nil)
}

func collectResults(t *testing.T, s Stream, timeout time.Duration) []Result {
	t.Helper()
	var results []Result
	deadline := time.After(timeout)
	for {
		select {
		case r, ok := <-s.Results():
			if !ok {
				return results
			}
			results = append(results, r)
		case <-deadline:
			t.Fatal("timeout waiting for results channel to close")
			return nil
		}
	}
}

func TestDeepgramStream_ReceivesResults(t *testing.T) {
	server := mockDeepgramServer(t, func(conn *websocket.Conn) {
		metadata := deepgramWSResponse{Type: "Metadata", Metadata: &deepgramMetadata{RequestID: "test-123"}}
		_ = conn.WriteJSON(metadata)

		interim := deepgramWSResponse{
			Type:    "Results",
			IsFinal: false,
			Channel: &deepgramChannel{
				Alternatives: []deepgramAlternative{{Transcript: "hello", Confidence: 0.95}},
			},
		}
		_ = conn.WriteJSON(interim)

		// empty transcripts are skipped
		_ = conn.WriteJSON(deepgramWSResponse{
			Type:    "Results",
			Channel: &deepgramChannel{Alternatives: []deepgramAlternative{{Transcript: ""}}},
		})

		final := deepgramWSResponse{
			Type:    "Results",
			IsFinal: true,
			Channel: &deepgramChannel{
				Alternatives: []deepgramAlternative{{Transcript: "hello world", Confidence: 0.98, Languages: []string{"en"}}},
			},
		}
		_ = conn.WriteJSON(final)

		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(50 * time.Millisecond)
	})
	defer server.Close()

	client := newTestDeepgramClient(server, "test-api-key")
	s, err := client.Open(context.Background(), StreamConfig{InterimResults: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	results := collectResults(t, s, 2*time.Second)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}
	if results[0].Text != "hello" || results[0].IsFinal {
		t.Errorf("interim result = %+v, want Text='hello', IsFinal=false", results[0])
	}
	if results[1].Text != "hello world" || !results[1].IsFinal || results[1].Language != "en" {
		t.Errorf("final result = %+v, want Text='hello world', IsFinal=true, Language=en", results[1])
	}
}

func TestDeepgramStream_SendAndCloseSend(t *testing.T) {
	received := make(chan []byte, 10)
	gotClose := make(chan struct{})

	server := mockDeepgramServer(t, func(conn *websocket.Conn) {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				received <- data
				continue
			}

			var ctrl deepgramControl
			if err := json.Unmarshal(data, &ctrl); err != nil {
				t.Errorf("unexpected text message %q", data)
				return
			}
			if ctrl.Type != "CloseStream" {
				continue
			}
			close(gotClose)

			_ = conn.WriteJSON(deepgramWSResponse{
				Type:    "Results",
				IsFinal: true,
				Channel: &deepgramChannel{Alternatives: []deepgramAlternative{{Transcript: "done"}}},
			})
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			time.Sleep(50 * time.Millisecond)
			return
		}
	})
	defer server.Close()

	client := newTestDeepgramClient(server, "test-api-key")
	s, err := client.Open(context.Background(), StreamConfig{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	frames := [][]byte{{0x01, 0x02}, {0x03, 0x04}, {0x05, 0x06}}
	for _, f := range frames {
		if err := s.Send(f); err != nil {
			t.Errorf("Send() error = %v", err)
		}
	}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("CloseSend() error = %v", err)
	}

	for i, want := range frames {
		select {
		case got := <-received:
			if string(got) != string(want) {
				t.Errorf("frame %d = %v, want %v", i, got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}

	select {
	case <-gotClose:
	case <-time.After(time.Second):
		t.Fatal("CloseStream was not sent after the queued audio")
	}

	results := collectResults(t, s, 2*time.Second)
	if len(results) != 1 || results[0].Text != "done" || !results[0].IsFinal {
		t.Errorf("results after CloseSend = %+v, want one final 'done'", results)
	}

	if err := s.Send([]byte{0x07}); err != ErrStreamClosed {
		t.Errorf("Send() after CloseSend error = %v, want ErrStreamClosed", err)
	}
}

func TestDeepgramClient_Unauthorized(t *testing.T) {
	server := mockDeepgramServer(t, func(conn *websocket.Conn) {})
	defer server.Close()

	client := newTestDeepgramClient(server, "wrong-key")
	_, err := client.Open(context.Background(), StreamConfig{})
	if err == nil {
		t.Fatal("Open() should fail with bad credentials")
	}
	if Classify(err) != ClassFatalAuth {
		t.Errorf("Classify(%v) = %v, want fatal_auth", err, Classify(err))
	}
}

func TestDeepgramStream_ErrorClasses(t *testing.T) {
	tests := []struct {
		name    string
		handler func(*websocket.Conn)
		want    ErrorClass
		wantMsg string
	}{
		{
			name: "timeout close code",
			handler: func(conn *websocket.Conn) {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(1011, "NET-0001 no audio received"))
				time.Sleep(50 * time.Millisecond)
			},
			want: ClassRecoverableTimeout,
		},
		{
			name: "timeout error message",
			handler: func(conn *websocket.Conn) {
				_ = conn.WriteJSON(deepgramWSResponse{Type: "Error", Variant: "NET-0001", Description: "timeout"})
				time.Sleep(50 * time.Millisecond)
			},
			want: ClassRecoverableTimeout,
		},
		{
			name: "provider error",
			handler: func(conn *websocket.Conn) {
				_ = conn.WriteJSON(deepgramWSResponse{Type: "Error", Description: "bad audio format"})
				time.Sleep(50 * time.Millisecond)
			},
			want:    ClassProvider,
			wantMsg: "bad audio format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := mockDeepgramServer(t, tt.handler)
			defer server.Close()

			client := newTestDeepgramClient(server, "test-api-key")
			s, err := client.Open(context.Background(), StreamConfig{})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer s.Close()

			select {
			case r, ok := <-s.Results():
				if !ok || r.Err == nil {
					t.Fatalf("expected error result, got %+v (open=%v)", r, ok)
				}
				if got := Classify(r.Err); got != tt.want {
					t.Errorf("Classify(%v) = %v, want %v", r.Err, got, tt.want)
				}
				if tt.wantMsg != "" && !strings.Contains(r.Err.Error(), tt.wantMsg) {
					t.Errorf("error = %v, want to contain %q", r.Err, tt.wantMsg)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("timeout waiting for error")
			}
		})
	}
}

func TestDeepgramStream_CloseIsIdempotent(t *testing.T) {
	server := mockDeepgramServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := newTestDeepgramClient(server, "test-api-key")
	s, err := client.Open(context.Background(), StreamConfig{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	select {
	case _, ok := <-s.Results():
		if ok {
			for range s.Results() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for results channel to close")
	}
}

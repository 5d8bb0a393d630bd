package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/leonardotrapani/speechrelay/internal/language"
	"github.com/leonardotrapani/speechrelay/internal/pcm"
	"github.com/leonardotrapani/speechrelay/internal/provider"
)

const (
	deepgramWriteTimeout     = 10 * time.Second
	deepgramKeepAliveEvery   = 5 * time.Second
	deepgramCloseTimeoutCode = 1011
)

// DeepgramClient opens live transcription websockets. Each Open dials a new
// connection; the client itself holds no network state.
type DeepgramClient struct {
	endpoint *provider.EndpointConfig
	apiKey   string
	model    string
	dialer   *websocket.Dialer
	logger   *log.Logger
}

// deepgram control messages (outgoing)
type deepgramControl struct {
	Type string `json:"type"`
}

// Deepgram WebSocket response types (incoming)
type deepgramWSResponse struct {
	Type        string            `json:"type"`
	Channel     *deepgramChannel  `json:"channel,omitempty"`
	Metadata    *deepgramMetadata `json:"metadata,omitempty"`
	Description string            `json:"description,omitempty"`
	Message     string            `json:"message,omitempty"`
	Variant     string            `json:"variant,omitempty"`
	IsFinal     bool              `json:"is_final,omitempty"`
	SpeechFinal bool              `json:"speech_final,omitempty"`
}

type deepgramChannel struct {
	Alternatives []deepgramAlternative `json:"alternatives,omitempty"`
}

type deepgramAlternative struct {
	Transcript string   `json:"transcript"`
	Confidence float64  `json:"confidence"`
	Languages  []string `json:"languages,omitempty"`
}

type deepgramMetadata struct {
	RequestID string `json:"request_id"`
	ModelInfo struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"model_info"`
}

// NewDeepgramClient creates a client for Deepgram live transcription
// endpoint: the WebSocket endpoint config (e.g., wss://api.deepgram.com, /v1/listen)
// model: model ID (e.g., "nova-3")
func NewDeepgramClient(endpoint *provider.EndpointConfig, apiKey, model string, logger *log.Logger) *DeepgramClient {
	if logger == nil {
		logger = log.Default()
	}
	return &DeepgramClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		dialer:   websocket.DefaultDialer,
		logger:   logger.With("component", "deepgram"),
	}
}

func (c *DeepgramClient) Name() string { return provider.ProviderDeepgram }

func (c *DeepgramClient) Close() error { return nil }

// Open dials a new live transcription call.
func (c *DeepgramClient) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	wsURL, err := c.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("build websocket url: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+c.apiKey)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			c.logger.Debug("dial failed", "status", resp.StatusCode)
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, NewFatalTranscriptionError(fmt.Errorf("deepgram: %w (status %d)", ErrUnauthorized, resp.StatusCode))
			}
		}
		return nil, fmt.Errorf("deepgram: websocket dial: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &deepgramStream{
		conn:    conn,
		queue:   pcm.NewQueue(queueSize),
		results: make(chan Result, 100),
		ctx:     streamCtx,
		cancel:  cancel,
		logger:  c.logger,
	}

	s.wg.Add(2)
	go s.writeLoop()
	go s.readLoop()

	c.logger.Debug("connected", "model", c.model, "language", cfg.Language)
	return s, nil
}

// buildURL constructs the WebSocket URL with query parameters
func (c *DeepgramClient) buildURL(cfg StreamConfig) (string, error) {
	u, err := url.Parse(c.endpoint.URL())
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	rate := cfg.SampleRate
	if rate == 0 {
		rate = pcm.TargetRate
	}

	q := u.Query()
	q.Set("model", c.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(rate))
	q.Set("channels", "1")
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")

	switch {
	case cfg.Language != "":
		q.Set("language", language.ToProviderFormat(cfg.Language, provider.ProviderDeepgram))
	case strings.HasPrefix(c.model, "nova-3"):
		// nova-3 does code switching across languages in one stream
		q.Set("language", "multi")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	queue   *pcm.Queue
	results chan Result

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	writeErr atomic.Value
	logger   *log.Logger
}

func (s *deepgramStream) Send(frame []byte) error {
	dropped, err := s.queue.Push(frame)
	if err != nil {
		return ErrStreamClosed
	}
	if dropped {
		return ErrQueueFull
	}
	return nil
}

func (s *deepgramStream) Results() <-chan Result { return s.results }

// CloseSend lets the writer drain the queue and then send CloseStream;
// Deepgram answers with the remaining finals and closes the socket.
func (s *deepgramStream) CloseSend() error {
	s.queue.Close()
	return nil
}

func (s *deepgramStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.queue.Close()

		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()

		s.conn.Close()
	})
	s.wg.Wait()
	return nil
}

func (s *deepgramStream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout))
	return s.conn.WriteMessage(messageType, data)
}

// writeLoop sends queued audio as raw binary frames. Deepgram closes idle
// connections after ~10s, so a KeepAlive goes out when nothing was sent.
func (s *deepgramStream) writeLoop() {
	defer s.wg.Done()

	keepAlive := time.NewTicker(deepgramKeepAliveEvery)
	defer keepAlive.Stop()

	keepAliveMsg, _ := json.Marshal(deepgramControl{Type: "KeepAlive"})
	lastWrite := time.Now()

	for {
		frame, ok := s.queue.TryPop()
		if ok {
			if err := s.write(websocket.BinaryMessage, frame); err != nil {
				s.fail(fmt.Errorf("deepgram: websocket write: %w", err))
				return
			}
			lastWrite = time.Now()
			continue
		}

		if s.queueDrained() {
			closeMsg, _ := json.Marshal(deepgramControl{Type: "CloseStream"})
			if err := s.write(websocket.TextMessage, closeMsg); err != nil {
				s.logger.Debug("close stream write failed", "err", err)
			}
			return
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.queue.Ready():
		case <-keepAlive.C:
			if time.Since(lastWrite) >= deepgramKeepAliveEvery {
				if err := s.write(websocket.TextMessage, keepAliveMsg); err != nil {
					s.fail(fmt.Errorf("deepgram: keepalive write: %w", err))
					return
				}
				lastWrite = time.Now()
			}
		}
	}
}

// queueDrained reports whether CloseSend was called and nothing is left.
func (s *deepgramStream) queueDrained() bool {
	return s.queue.Closed() && s.queue.Len() == 0
}

// readLoop reads messages from the WebSocket and sends results to the channel
func (s *deepgramStream) readLoop() {
	defer s.wg.Done()
	defer close(s.results)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if werr, _ := s.writeErr.Load().(error); werr != nil {
				s.emit(Result{Err: werr})
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			if websocket.IsCloseError(err, deepgramCloseTimeoutCode) {
				s.emit(Result{Err: NewRecoverableTimeoutError(fmt.Errorf("deepgram: %w", err))})
				return
			}
			s.emit(Result{Err: fmt.Errorf("deepgram: websocket read: %w", err)})
			return
		}

		var resp deepgramWSResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			s.logger.Warn("parse error", "err", err)
			continue
		}

		switch resp.Type {
		case "Metadata":
			if resp.Metadata != nil {
				s.logger.Debug("session started", "request_id", resp.Metadata.RequestID, "model", resp.Metadata.ModelInfo.Name)
			}

		case "Results":
			if resp.Channel == nil || len(resp.Channel.Alternatives) == 0 {
				continue
			}
			alt := resp.Channel.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			r := Result{Text: alt.Transcript, IsFinal: resp.IsFinal || resp.SpeechFinal}
			if len(alt.Languages) > 0 {
				r.Language = alt.Languages[0]
			}
			if !s.emit(r) {
				return
			}

		case "Error":
			msg := resp.Description
			if msg == "" {
				msg = resp.Message
			}
			err := fmt.Errorf("deepgram: %s", msg)
			if strings.Contains(resp.Variant, "NET-0001") || strings.Contains(msg, "NET-0001") {
				err = NewRecoverableTimeoutError(err)
			}
			if !s.emit(Result{Err: err}) {
				return
			}

		case "UtteranceEnd", "SpeechStarted":
			s.logger.Debug("event", "type", resp.Type)

		default:
			s.logger.Debug("unknown message type", "type", resp.Type)
		}
	}
}

func (s *deepgramStream) emit(r Result) bool {
	select {
	case s.results <- r:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// fail records a write-side error and unblocks the reader, which reports it.
func (s *deepgramStream) fail(err error) {
	if s.ctx.Err() != nil {
		return
	}
	s.logger.Debug("stream failed", "err", err)
	s.writeErr.Store(err)
	s.conn.Close()
}

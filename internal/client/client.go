// Package client speaks the relay protocol from the capturing side.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/leonardotrapani/speechrelay/internal/protocol"
)

const writeTimeout = 10 * time.Second

var ErrClosed = errors.New("connection closed")

// RemoteError is an error event sent by the relay.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// startFailure reports whether an error event answers a pending start
func startFailure(code string) bool {
	switch code {
	case protocol.CodeBackendUnavailable, protocol.CodeBadRequest, protocol.CodeFatalAuth,
		protocol.CodeProviderError, protocol.CodeInternal:
		return true
	}
	return false
}

// Client is one websocket connection to the relay. Replies to requests are
// matched here; everything else is delivered on Events.
type Client struct {
	ws     *websocket.Conn
	logger *log.Logger

	writeMu sync.Mutex
	events  chan protocol.Message
	done    chan struct{}

	mu          sync.Mutex
	err         error
	sessionID   string
	startWait   chan protocol.Message
	credsWait   chan *protocol.CredentialsUpdated
	synthWaits  map[string]chan protocol.Message
	closeCalled bool
}

func Dial(ctx context.Context, url string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		ws:         ws,
		logger:     logger.With("component", "client"),
		events:     make(chan protocol.Message, 256),
		done:       make(chan struct{}),
		synthWaits: make(map[string]chan protocol.Message),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers transcripts and lifecycle events; closed when the
// connection ends.
func (c *Client) Events() <-chan protocol.Message { return c.events }

// Done is closed when the connection is gone
func (c *Client) Done() <-chan struct{} { return c.done }

// Err is the reason the connection ended, nil after Close
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SessionID of the last started session
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// StartSession asks for a recognition session and waits for the relay's
// answer.
func (c *Client) StartSession(ctx context.Context, languageHint string) error {
	wait := make(chan protocol.Message, 1)
	c.mu.Lock()
	c.startWait = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.startWait == wait {
			c.startWait = nil
		}
		c.mu.Unlock()
	}()

	if err := c.send(&protocol.StartSession{LanguageHint: languageHint}); err != nil {
		return err
	}

	select {
	case m := <-wait:
		switch m := m.(type) {
		case *protocol.SessionStarted:
			c.mu.Lock()
			c.sessionID = m.SessionID
			c.mu.Unlock()
			c.logger.Debug("session started", "session_id", m.SessionID, "language", m.Language)
			return nil
		case *protocol.Error:
			return &RemoteError{Code: m.Code, Message: m.Message}
		}
		return fmt.Errorf("unexpected reply %s", m.MessageType())
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) SendFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

func (c *Client) EndSession() error {
	return c.send(&protocol.EndSession{})
}

// UpdateCredentials pushes new provider credentials to the relay. Sessions
// already streaming switch over at their next sub-stream.
func (c *Client) UpdateCredentials(ctx context.Context, providerName, apiKey string, credentialsJSON []byte) error {
	wait := make(chan *protocol.CredentialsUpdated, 1)
	c.mu.Lock()
	c.credsWait = wait
	c.mu.Unlock()

	msg := &protocol.UpdateCredentials{Provider: providerName, APIKey: apiKey}
	if len(credentialsJSON) > 0 {
		msg.CredentialsJSON = credentialsJSON
	}
	if err := c.send(msg); err != nil {
		return err
	}

	select {
	case m := <-wait:
		if !m.Success {
			return fmt.Errorf("credentials rejected: %s", m.Error)
		}
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Synthesize requests speech for text and returns the audio and its format.
func (c *Client) Synthesize(ctx context.Context, text, targetLanguage, voiceID string) ([]byte, string, error) {
	id := uuid.NewString()
	wait := make(chan protocol.Message, 1)
	c.mu.Lock()
	c.synthWaits[id] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.synthWaits, id)
		c.mu.Unlock()
	}()

	err := c.send(&protocol.Synthesize{RequestID: id, Text: text, TargetLanguage: targetLanguage, VoiceID: voiceID})
	if err != nil {
		return nil, "", err
	}

	select {
	case m := <-wait:
		switch m := m.(type) {
		case *protocol.AudioResult:
			return m.Audio, m.Format, nil
		case *protocol.SynthesisError:
			return nil, "", fmt.Errorf("synthesis failed: %s", m.Message)
		case *protocol.Error:
			return nil, "", &RemoteError{Code: m.Code, Message: m.Message}
		}
		return nil, "", fmt.Errorf("unexpected reply %s", m.MessageType())
	case <-c.done:
		return nil, "", c.closedErr()
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

// Close sends a close frame and waits briefly for the relay to finish.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closeCalled = true
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
	}
	c.ws.Close()
	return err
}

func (c *Client) send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", m.MessageType(), err)
	}
	return nil
}

func (c *Client) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (c *Client) readLoop() {
	defer func() {
		close(c.done)
		close(c.events)
	}()

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closeCalled && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.err = fmt.Errorf("%w: %v", ErrClosed, err)
			}
			c.mu.Unlock()
			c.logger.Debug("read ended", "err", err)
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		m, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("bad message from relay", "err", err)
			continue
		}
		if c.route(m) {
			continue
		}
		c.events <- m
	}
}

// route hands replies to their waiting request; it reports whether m was
// consumed.
func (c *Client) route(m protocol.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := m.(type) {
	case *protocol.SessionStarted:
		if c.startWait != nil {
			c.startWait <- m
			c.startWait = nil
		}
		return false
	case *protocol.Error:
		if c.startWait != nil && startFailure(m.Code) {
			c.startWait <- m
			c.startWait = nil
			return true
		}
	case *protocol.CredentialsUpdated:
		if c.credsWait != nil {
			c.credsWait <- m
			c.credsWait = nil
			return true
		}
	case *protocol.AudioResult:
		if w, ok := c.synthWaits[m.RequestID]; ok {
			w <- m
			delete(c.synthWaits, m.RequestID)
			return true
		}
	case *protocol.SynthesisError:
		if w, ok := c.synthWaits[m.RequestID]; ok {
			w <- m
			delete(c.synthWaits, m.RequestID)
			return true
		}
	}
	return false
}

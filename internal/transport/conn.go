package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/leonardotrapani/speechrelay/internal/backend"
	"github.com/leonardotrapani/speechrelay/internal/emitter"
	"github.com/leonardotrapani/speechrelay/internal/protocol"
	"github.com/leonardotrapani/speechrelay/internal/session"
	"github.com/leonardotrapani/speechrelay/internal/synth"
)

// Conn is one client connection. The read pump owns the coordinator calls;
// credential updates and synthesis run on worker goroutines so audio keeps
// flowing while they wait on a provider.
type Conn struct {
	id     string
	h      *Handler
	ws     *websocket.Conn
	out    *outbox
	emit   *emitter.Emitter
	coord  *session.Coordinator
	logger *log.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	writerDone  chan struct{}
	interrupted atomic.Bool
	// set after a no_active_session error until the next start, so a client
	// streaming without a session gets one error instead of one per frame
	noSessionReported bool
}

func newConn(h *Handler, ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:         uuid.NewString(),
		h:          h,
		ws:         ws,
		out:        newOutbox(h.cfg.OutboxSize),
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
	}
	c.logger = h.logger.With("conn", c.id[:8], "remote", ws.RemoteAddr().String())
	c.emit = emitter.New(c.out, h.metrics, c.logger)

	opts := append([]session.Option{session.WithLogger(c.logger), session.WithMetrics(h.metrics)}, h.sessionOpts...)
	c.coord = session.NewCoordinator(h.sessionCfg, h.backends, c.emit, opts...)
	return c
}

func (c *Conn) serve() {
	c.logger.Info("client connected")

	go c.writePump()
	c.readPump()

	// the coordinator reports session_stopped through the outbox before the
	// writer is told to finish
	c.coord.Close()
	c.cancel()
	c.workers.Wait()
	<-c.writerDone
	c.out.close()

	c.logger.Info("client disconnected")
}

// interrupt unblocks the read pump, which then tears the connection down.
func (c *Conn) interrupt() {
	c.interrupted.Store(true)
	_ = c.ws.NetConn().SetReadDeadline(time.Now())
}

func (c *Conn) readPump() {
	cfg := c.h.cfg
	c.ws.SetReadLimit(cfg.ReadLimit)
	_ = c.extendDeadline()
	c.ws.SetPongHandler(func(string) error {
		return c.extendDeadline()
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Warn("read failed", "err", err)
			} else {
				c.logger.Debug("read ended", "err", err)
			}
			return
		}
		if c.interrupted.Load() {
			return
		}
		_ = c.extendDeadline()

		switch mt {
		case websocket.BinaryMessage:
			c.handleFrame(data)
		case websocket.TextMessage:
			c.handleText(data)
		}
	}
}

// extendDeadline pushes the read deadline out by PongWait. The flag is
// checked after the write so an interrupt racing with it still wins.
func (c *Conn) extendDeadline() error {
	if err := c.ws.SetReadDeadline(time.Now().Add(c.h.cfg.PongWait)); err != nil {
		return err
	}
	if c.interrupted.Load() {
		return c.ws.SetReadDeadline(time.Now())
	}
	return nil
}

func (c *Conn) handleFrame(frame []byte) {
	err := c.coord.PushFrame(frame)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNoActiveSession):
		if !c.noSessionReported {
			c.noSessionReported = true
			c.emit.SendError(err)
		}
	default:
		c.emit.SendError(err)
	}
}

func (c *Conn) handleText(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.logger.Debug("bad message", "err", err)
		c.emit.SendError(err)
		return
	}

	switch m := msg.(type) {
	case *protocol.StartSession:
		c.noSessionReported = false
		if _, err := c.coord.Start(c.ctx, m.LanguageHint); err != nil {
			c.emit.SendError(err)
		}

	case *protocol.EndSession:
		c.coord.Stop(session.ReasonManual)

	case *protocol.UpdateCredentials:
		c.goWork(func() { c.updateCredentials(m) })

	case *protocol.Synthesize:
		c.goWork(func() { c.synthesize(m) })

	default:
		c.emit.SendError(fmt.Errorf("%w: %s is not accepted from clients", protocol.ErrInvalid, msg.MessageType()))
	}
}

func (c *Conn) goWork(fn func()) {
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		fn()
	}()
}

func (c *Conn) updateCredentials(m *protocol.UpdateCredentials) {
	ctx, cancel := context.WithTimeout(c.ctx, c.h.cfg.CredentialsTimeout)
	defer cancel()

	creds := backend.Credentials{APIKey: m.APIKey, CredentialsJSON: string(m.Credentials())}
	if err := c.h.backends.Update(ctx, m.Provider, creds); err != nil {
		c.logger.Warn("credential update rejected", "provider", m.Provider, "err", err)
		c.emit.Send(&protocol.CredentialsUpdated{Success: false, Error: err.Error()})
		return
	}
	c.logger.Info("credentials updated", "provider", m.Provider)
	c.emit.Send(&protocol.CredentialsUpdated{Success: true})
}

func (c *Conn) synthesize(m *protocol.Synthesize) {
	fail := func(err error) {
		c.h.metrics.SynthesisRequests.WithLabelValues("error").Inc()
		c.logger.Warn("synthesis failed", "err", err)
		c.emit.Send(&protocol.SynthesisError{RequestID: m.RequestID, Message: err.Error()})
	}

	handle, err := c.h.backends.AcquireSynthesizer()
	if err != nil {
		fail(err)
		return
	}
	defer handle.Release()

	ctx, cancel := context.WithTimeout(c.ctx, c.h.cfg.SynthesisTimeout)
	defer cancel()

	audio, err := handle.Synthesizer().Synthesize(ctx, synth.Request{
		Text:           m.Text,
		TargetLanguage: m.TargetLanguage,
		VoiceID:        m.VoiceID,
	})
	if err != nil {
		fail(err)
		return
	}

	c.h.metrics.SynthesisRequests.WithLabelValues("ok").Inc()
	c.emit.Send(&protocol.AudioResult{RequestID: m.RequestID, Audio: audio.Data, Format: audio.Format})
}

func (c *Conn) writePump() {
	defer close(c.writerDone)

	ticker := time.NewTicker(c.h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.out.ready:
			if err := c.flush(); err != nil {
				c.logger.Debug("write failed", "err", err)
				c.ws.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.h.cfg.WriteWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", "err", err)
				c.ws.Close()
				return
			}

		case <-c.ctx.Done():
			_ = c.flush()
			deadline := time.Now().Add(c.h.cfg.WriteWait)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			c.ws.Close()
			return
		}
	}
}

func (c *Conn) flush() error {
	for _, m := range c.out.take() {
		data, err := protocol.Encode(m)
		if err != nil {
			c.logger.Error("encode failed", "type", m.MessageType(), "err", err)
			continue
		}
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.cfg.WriteWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

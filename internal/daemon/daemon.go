// Package daemon runs the relay server: the HTTP/websocket listener, the
// provider backends and the local control socket.
package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/leonardotrapani/speechrelay/internal/backend"
	"github.com/leonardotrapani/speechrelay/internal/bus"
	"github.com/leonardotrapani/speechrelay/internal/config"
	"github.com/leonardotrapani/speechrelay/internal/metrics"
	"github.com/leonardotrapani/speechrelay/internal/server"
	"github.com/leonardotrapani/speechrelay/internal/session"
	"github.com/leonardotrapani/speechrelay/internal/transport"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	Paths   bus.Paths
	Factory backend.Factory // nil builds real provider clients
	Version string
	Logger  *log.Logger
	// SessionOptions are passed to every connection's coordinator
	SessionOptions []session.Option
}

type Daemon struct {
	cfg     *config.Manager
	paths   bus.Paths
	version string
	logger  *log.Logger

	metrics *metrics.Metrics
	store   *backend.Store
	relay   *transport.Handler
	server  *server.Server

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	loadErr error
}

func New(mgr *config.Manager, opts Options) *Daemon {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	factory := opts.Factory
	if factory == nil {
		factory = backend.NewProviderFactory(logger)
	}

	cfg := mgr.GetConfig()
	m := metrics.New()
	m.RegisterRuntime()

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		cfg:     mgr,
		paths:   opts.Paths,
		version: opts.Version,
		logger:  logger.With("component", "daemon"),
		metrics: m,
		store:   backend.NewStore(factory, m, logger),
		ctx:     ctx,
		cancel:  cancel,
	}
	d.relay = transport.NewHandler(cfg.ToTransportConfig(), cfg.ToSessionConfig(), d.store, m, logger, opts.SessionOptions...)
	d.server = server.New(server.Options{
		Addr:    cfg.Server.Listen,
		Relay:   d.relay,
		Metrics: m.Handler(),
		Health:  d.health,
		Logger:  logger,
	})
	return d
}

// Addr is the HTTP address once Run has started listening
func (d *Daemon) Addr() string {
	return d.server.Addr()
}

func (d *Daemon) Run() error {
	if err := d.paths.CheckExistingDaemon(); err != nil {
		return err
	}

	ln, err := d.paths.Listen()
	if err != nil {
		return err
	}
	defer ln.Close()

	if err := d.paths.CreatePidFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer d.paths.RemovePidFile()

	d.loadBackends(d.cfg.GetConfig())
	defer d.store.Close()

	d.cfg.OnChange(func(_, next *config.Config) { d.loadBackends(next) })
	if err := d.cfg.StartWatching(d.ctx); err != nil {
		d.logger.Warn("config watch disabled", "err", err)
	}
	defer d.cfg.Stop()

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	defer d.shutdown()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	go func() {
		for {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					if err := d.reload(); err != nil {
						d.logger.Error("reload failed", "err", err)
					}
					continue
				}
				d.logger.Info("received signal, shutting down", "signal", sig)
				d.cancel()
				return
			case <-d.ctx.Done():
				return
			}
		}
	}()

	// Close the listener when context is done
	go func() {
		<-d.ctx.Done()
		ln.Close()
	}()

	d.logger.Info("daemon started", "version", d.version)

	for {
		c, err := ln.Accept()
		if err != nil {
			if d.ctx.Err() != nil {
				d.logger.Info("shutdown requested")
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		go d.handle(c)
	}
}

// Stop asks Run to return
func (d *Daemon) Stop() {
	d.cancel()
}

func (d *Daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// connections first, so clients get session_stopped before the listener goes
	if err := d.relay.Shutdown(ctx); err != nil {
		d.logger.Warn("connections still open at shutdown", "err", err)
	}
	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.Warn("http shutdown", "err", err)
	}
}

func (d *Daemon) loadBackends(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	err := d.store.Load(ctx, cfg.ToBackendOptions(), cfg.BackendCredentials())
	if err != nil {
		d.logger.Error("backend load incomplete", "err", err)
	}
	d.mu.Lock()
	d.loadErr = err
	d.mu.Unlock()
}

// reload re-reads the config file; a successful read reloads the backends
// through the change callback.
func (d *Daemon) reload() error {
	if err := d.cfg.Reload(); err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			return err
		}
		// no file: environment credentials may still have changed
		d.loadBackends(d.cfg.GetConfig())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadErr
}

func (d *Daemon) health() (map[string]any, error) {
	stats := d.relay.Stats()
	st := d.store.Status()
	details := map[string]any{
		"connections": stats.Connections,
		"sessions":    stats.Sessions,
		"generation":  st.Generation,
		"recognizer":  st.Recognizer,
		"synthesizer": st.Synthesizer,
	}
	if st.Recognizer == "" {
		return details, backend.ErrBackendUnavailable
	}
	return details, nil
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func (d *Daemon) handle(c net.Conn) {
	defer c.Close()

	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		d.logger.Warn("control read error", "err", err)
		fmt.Fprintf(c, "ERR read_error: %v\n", err)
		return
	}
	if len(line) == 0 {
		fmt.Fprint(c, "ERR empty\n")
		return
	}
	cmd := line[0]

	switch cmd {
	case bus.CmdStatus:
		stats := d.relay.Stats()
		st := d.store.Status()
		fmt.Fprintf(c, "STATUS connections=%d sessions=%d generation=%d recognizer=%s synthesizer=%s listen=%s\n",
			stats.Connections, stats.Sessions, st.Generation, orNone(st.Recognizer), orNone(st.Synthesizer), d.Addr())
	case bus.CmdReload:
		if err := d.reload(); err != nil {
			fmt.Fprintf(c, "ERR reload: %s\n", strings.ReplaceAll(err.Error(), "\n", "; "))
			return
		}
		fmt.Fprintf(c, "OK reloaded generation=%d\n", d.store.Status().Generation)
	case bus.CmdStopSessions:
		n := d.relay.StopSessions(session.ReasonManual)
		fmt.Fprintf(c, "OK stopped=%d\n", n)
	case bus.CmdVersion:
		fmt.Fprintf(c, "STATUS proto=%s version=%s\n", bus.ProtoVer, d.version)
	case bus.CmdQuit:
		fmt.Fprint(c, "OK quitting\n")
		d.cancel()
	default:
		d.logger.Warn("unknown control command", "cmd", string(cmd))
		fmt.Fprintf(c, "ERR unknown=%q\n", cmd)
	}
}

// Package server accepts WebSocket connections, tracks every live one in
// a registry, runs a session handler per connection and coordinates a
// graceful, drain-waiting shutdown.
//
// Lifecycle (one-directional):
//
//	Idle ──Start──▶ Listening ──Stop──▶ Draining ──drained──▶ Stopped
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	ncerr "wsproxy/internal/errors"
	"wsproxy/internal/metrics"
	"wsproxy/internal/registry"
	"wsproxy/internal/session"
	"wsproxy/util"
)

// State is the server's position in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options tunes the transport.  Zero values fall back to the defaults
// noted on each field.
type Options struct {
	// CloseTimeout bounds each connection's close handshake (default 1s).
	CloseTimeout time.Duration
	// HandshakeTimeout bounds the HTTP upgrade (default 10s).
	HandshakeTimeout time.Duration
	// ReadLimit caps incoming message size in bytes (0 = unlimited).
	ReadLimit int64
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
	// LogStats dumps the metrics snapshot when the server stops.
	LogStats bool
	// Metrics receives connection statistics; nil disables them.
	Metrics *metrics.Collector
}

// Server owns the listener, the accept loop and the shutdown protocol.
type Server struct {
	handler  session.Handler
	opts     Options
	logger   *util.Logger
	metrics  *metrics.Collector
	conns    *registry.Registry[*session.Conn]
	upgrader websocket.Upgrader
	origins  atomic.Pointer[[]string]

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex // serialises lifecycle transitions
	state   atomic.Int32
	started chan struct{}
	ln    net.Listener
	http  *http.Server
}

// New returns an idle server that dispatches every connection to handler.
func New(handler session.Handler, opts Options, logger *util.Logger) *Server {
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		handler: handler,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		conns:   registry.New[*session.Conn](),
		baseCtx: ctx,
		cancel:  cancel,
		started: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: opts.HandshakeTimeout,
		CheckOrigin:      s.checkOrigin,
	}
	s.SetAllowedOrigins(opts.AllowedOrigins)
	return s
}

// SetAllowedOrigins replaces the origin allow-list.  It is safe to call
// while serving; upgrades already past the origin check are unaffected.
func (s *Server) SetAllowedOrigins(origins []string) {
	list := append([]string(nil), origins...)
	s.origins.Store(&list)
}

// ── accessors ────────────────────────────────────────────────────────

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// Connections returns the number of registered connections.
func (s *Server) Connections() int { return s.conns.Len() }

// Started is closed once the server has a listener, after which Stop
// takes effect.
func (s *Server) Started() <-chan struct{} { return s.started }

// Drained is closed once shutdown has begun and every connection is gone.
func (s *Server) Drained() <-chan struct{} { return s.conns.Drained() }

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ── lifecycle ────────────────────────────────────────────────────────

// Start binds host:port and serves until Stop has been called and every
// connection has drained.  A bind failure is returned immediately and
// leaves the server idle.
func (s *Server) Start(host string, port int) error {
	addr := util.FormatAddr(host, port)

	s.mu.Lock()
	if s.State() != StateIdle {
		s.mu.Unlock()
		return ncerr.ErrAlreadyStarted
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return ncerr.Wrap("listen", addr, err)
	}
	s.listenLocked(ln)
	s.mu.Unlock()

	return s.serve(ln, addr)
}

// Serve is Start over a caller-supplied listener.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.State() != StateIdle {
		s.mu.Unlock()
		return ncerr.ErrAlreadyStarted
	}
	s.listenLocked(ln)
	s.mu.Unlock()

	return s.serve(ln, ln.Addr().String())
}

func (s *Server) listenLocked(ln net.Listener) {
	s.ln = ln
	s.http = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: s.opts.HandshakeTimeout,
		ErrorLog:          log.New(logWriter{s.logger}, "", 0),
	}
	s.state.Store(int32(StateListening))
	close(s.started)
}

func (s *Server) serve(ln net.Listener, addr string) error {
	s.logger.Info("server listening on %s", addr)

	err := s.http.Serve(ln)
	if err == http.ErrServerClosed {
		err = nil
	} else {
		err = ncerr.Wrap("accept", addr, err)
		s.logger.Error("%v", err)
		s.Stop()
	}

	<-s.conns.Drained()

	s.mu.Lock()
	s.state.Store(int32(StateStopped))
	s.ln = nil
	s.mu.Unlock()
	s.cancel()

	s.logger.Info("server stopped")
	if s.opts.LogStats {
		s.logger.Info("stats: %s", s.metrics.JSON())
	}
	return err
}

// Stop closes the listener and asks every registered connection to
// close, without waiting for them.  It is a no-op before Start; repeated
// calls only report how many connections are still open.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.State() == StateIdle {
		s.mu.Unlock()
		return
	}

	var open int
	if s.State() == StateListening {
		s.state.Store(int32(StateDraining))

		// http.Server.Close drops connections still in the handshake;
		// upgraded ones are hijacked and are ours to close.
		s.http.Close() //nolint:errcheck
		s.ln.Close()   //nolint:errcheck

		snapshot, _ := s.conns.Shutdown()
		open = len(snapshot)
		for _, c := range snapshot {
			go s.closeConn(c, websocket.CloseGoingAway)
		}
	} else {
		open = s.conns.Len()
	}
	s.mu.Unlock()

	s.logger.Info("waiting for %d connections to close", open)
}

func (s *Server) closeConn(c *session.Conn, code int) {
	if err := c.Close(code, s.opts.CloseTimeout); err != nil {
		s.logger.Debug("conn#%d: close: %v", c.ID(), err)
	}
}

// ── per-connection dispatch ──────────────────────────────────────────

// ServeHTTP upgrades the request and runs the session on the calling
// goroutine, which net/http dedicates to this connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.conns.ShuttingDown() {
		s.metrics.ConnectionRejected()
		http.Error(w, ncerr.ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		s.logger.Verbose("upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	if s.opts.ReadLimit > 0 {
		ws.SetReadLimit(s.opts.ReadLimit)
	}

	conn := session.New(ws, r.URL.Path, session.Options{
		CloseTimeout: s.opts.CloseTimeout,
		OnForced:     s.metrics.ForcedClose,
	})
	if !s.conns.Add(conn) {
		s.metrics.ConnectionRejected()
		conn.Detach()
		s.closeConn(conn, websocket.CloseGoingAway)
		return
	}
	s.serveConn(conn)
}

// serveConn runs the handler for a registered connection, then closes
// and unregisters it whatever the handler's outcome.
func (s *Server) serveConn(conn *session.Conn) {
	clog := s.logger.Named(fmt.Sprintf("conn#%d", conn.ID()))
	s.metrics.ConnectionOpened()

	defer func() {
		conn.Detach()
		s.closeConn(conn, websocket.CloseNormalClosure)
		s.conns.Remove(conn)
		s.metrics.ConnectionClosed()
		clog.Verbose("closed, %d still open", s.conns.Len())
	}()

	clog.Verbose("connected from %s on %s", conn.RemoteAddr(), conn.Path())

	if err := s.dispatch(conn); err != nil {
		s.metrics.SessionFailed()
		s.metrics.RecordError(err.Error())
		clog.Warn("%v", err)
	}
}

// dispatch invokes the handler exactly once, turning a panic into a
// *errors.SessionError.
func (s *Server) dispatch(conn *session.Conn) (err error) {
	ctx, cancel := conn.Context(s.baseCtx)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = &ncerr.SessionError{
				ConnID:   conn.ID(),
				Path:     conn.Path(),
				Err:      fmt.Errorf("%v", p),
				Panicked: true,
			}
		}
	}()

	if herr := s.handler.Handle(ctx, conn, conn.Path()); herr != nil && !util.IsHarmless(herr) {
		return &ncerr.SessionError{ConnID: conn.ID(), Path: conn.Path(), Err: herr}
	}
	return nil
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and, when AllowedOrigins is set, only the listed origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	allowed := *s.origins.Load()
	if origin == "" || len(allowed) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
			return true
		}
	}
	return false
}

// logWriter routes net/http's internal error log to the debug level.
type logWriter struct{ l *util.Logger }

func (w logWriter) Write(p []byte) (int, error) {
	w.l.Debug("http: %s", strings.TrimSpace(string(p)))
	return len(p), nil
}

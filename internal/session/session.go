// Package session represents one accepted WebSocket connection and the
// handler boundary the server dispatches it through.
//
// A Conn is owned by the goroutine running its handler.  Other
// goroutines (the server during shutdown) may only call Close, Closing
// and the accessors.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Handler runs the application protocol for a single connection.  It is
// invoked exactly once per accepted connection and should return when
// the peer goes away or ctx is cancelled.
type Handler interface {
	Handle(ctx context.Context, conn *Conn, path string) error
}

// HandlerFunc adapts a plain function to [Handler].
type HandlerFunc func(ctx context.Context, conn *Conn, path string) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, conn *Conn, path string) error {
	return f(ctx, conn, path)
}

var nextID atomic.Uint64

// Options configures a Conn.
type Options struct {
	// CloseTimeout bounds the handshake started by CloseRead (default 1s).
	CloseTimeout time.Duration
	// OnForced, if set, is called when a close had to be forced because
	// the peer did not answer.
	OnForced func()
}

// Conn is a live WebSocket connection handle.
type Conn struct {
	ws   *websocket.Conn
	id   uint64
	path string

	closing     chan struct{} // closed once either side starts the close handshake
	closingOnce sync.Once
	peerClosed  chan struct{} // closed when the peer's close frame arrives
	peerOnce    sync.Once
	detached    chan struct{} // closed once the handler has returned
	detachOnce  sync.Once

	sendOnce sync.Once
	sendErr  error

	closeOnce    sync.Once
	closed       chan struct{}
	closeErr     error
	forced       bool
	closeTimeout time.Duration
	onForced     func()

	reader io.Reader // current message reader for Read
}

// New wraps an upgraded connection.
func New(ws *websocket.Conn, path string, opts Options) *Conn {
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = time.Second
	}
	c := &Conn{
		ws:           ws,
		id:           nextID.Add(1),
		path:         path,
		closing:      make(chan struct{}),
		peerClosed:   make(chan struct{}),
		detached:     make(chan struct{}),
		closed:       make(chan struct{}),
		closeTimeout: opts.CloseTimeout,
		onForced:     opts.OnForced,
	}
	ws.SetCloseHandler(c.handlePeerClose)
	return c
}

// ID returns a process-unique identifier.
func (c *Conn) ID() uint64 { return c.id }

// Path returns the request path the connection was opened on.
func (c *Conn) Path() string { return c.path }

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

// Closing is closed as soon as either side starts closing.
func (c *Conn) Closing() <-chan struct{} { return c.closing }

// Forced reports whether Close had to tear the socket down without a
// completed handshake.
func (c *Conn) Forced() bool {
	select {
	case <-c.closed:
		return c.forced
	default:
		return false
	}
}

// Closed is closed once Close has finished tearing the socket down.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

// Context returns a child of parent that is cancelled when the
// connection starts closing.
func (c *Conn) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// ── message I/O ──────────────────────────────────────────────────────

// ReadMessage reads the next whole message.  A normal close from the
// peer is reported as io.EOF.
func (c *Conn) ReadMessage() (int, []byte, error) {
	mt, p, err := c.ws.ReadMessage()
	return mt, p, mapReadErr(err)
}

// WriteMessage writes one message of the given type.
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	return mapWriteErr(c.ws.WriteMessage(messageType, data))
}

// Read implements io.Reader over the stream of incoming data messages.
// Message boundaries are not preserved.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, mapReadErr(err)
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, mapReadErr(err)
	}
}

// Write implements io.Writer; every call is sent as one binary message.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ── close handshake ──────────────────────────────────────────────────

// Close starts the closing handshake with code and waits up to timeout
// for the peer to answer before force-closing the socket.  Concurrent
// and repeated calls wait for the first one and return its result.
func (c *Conn) Close(code int, timeout time.Duration) error {
	c.closeOnce.Do(func() {
		defer close(c.closed)

		deadline := time.Now().Add(timeout)
		err := c.sendClose(code, deadline)

		switch {
		case err == nil:
			c.forced = !c.awaitReply(deadline)
		case !isPeerGone(err):
			c.forced = true
		}

		if cerr := c.ws.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			c.closeErr = cerr
		}
		if c.forced && c.onForced != nil {
			c.onForced()
		}
	})
	return c.closeErr
}

// CloseRead starts a normal-closure handshake without waiting for it
// and bounds pending reads by the close timeout.  A reader blocked in
// Read then returns io.EOF once the peer answers.
func (c *Conn) CloseRead() error {
	deadline := time.Now().Add(c.closeTimeout)
	err := c.sendClose(websocket.CloseNormalClosure, deadline)
	c.ws.SetReadDeadline(deadline) //nolint:errcheck
	return err
}

// sendClose writes our close frame at most once.
func (c *Conn) sendClose(code int, deadline time.Time) error {
	c.sendOnce.Do(func() {
		c.markClosing()
		msg := websocket.FormatCloseMessage(code, "")
		c.sendErr = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	})
	return c.sendErr
}

// Detach marks the handler as finished.  From then on Close reads the
// socket itself so the peer's close reply can be observed.
func (c *Conn) Detach() {
	c.detachOnce.Do(func() { close(c.detached) })
}

// awaitReply waits for the peer's close frame until deadline.  While
// the handler still runs it is the only reader; once it has detached,
// a drain goroutine takes over reading.
func (c *Conn) awaitReply(deadline time.Time) bool {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	detached := c.detached
	for {
		select {
		case <-c.peerClosed:
			return true
		case <-detached:
			detached = nil
			go c.drain(deadline)
		case <-timer.C:
			return false
		}
	}
}

func (c *Conn) markClosing() {
	c.closingOnce.Do(func() { close(c.closing) })
}

// handlePeerClose answers a close frame initiated by the peer, or
// acknowledges the reply to ours.
func (c *Conn) handlePeerClose(code int, text string) error {
	c.peerOnce.Do(func() { close(c.peerClosed) })

	select {
	case <-c.closing:
		return nil // we started it; this is the reply
	default:
	}
	c.markClosing()

	msg := websocket.FormatCloseMessage(code, "")
	err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if err != nil && !isPeerGone(err) {
		return err
	}
	return nil
}

// drain consumes frames until the peer's close reply arrives.
func (c *Conn) drain(deadline time.Time) {
	c.ws.SetReadDeadline(deadline) //nolint:errcheck
	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			return
		}
	}
}

// ── error mapping ────────────────────────────────────────────────────

func mapReadErr(err error) error {
	if err == nil {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure,
		websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	return err
}

func mapWriteErr(err error) error {
	if errors.Is(err, websocket.ErrCloseSent) {
		return net.ErrClosed
	}
	return err
}

func isPeerGone(err error) bool {
	return errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed)
}

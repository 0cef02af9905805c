package capability

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	ncerr "wsproxy/internal/errors"
	"wsproxy/internal/metrics"
	"wsproxy/internal/retry"
	"wsproxy/internal/session"
	"wsproxy/internal/transport"
	"wsproxy/util"
)

// Relay pipes a WebSocket session into an upstream TCP stream and back.
// Binary and text messages from the client are written to the upstream
// as raw bytes; upstream bytes go back as binary messages.
type Relay struct {
	Dialer transport.Dialer
	// Upstream is the fixed "host:port" target.  With PathTarget set it
	// is only the fallback for requests to "/".
	Upstream string
	// PathTarget takes the target from the request path, "/host/port".
	PathTarget bool

	DialTimeout time.Duration
	Backoff     *retry.Backoff        // nil dials once
	Breaker     *retry.CircuitBreaker // nil disables fast failing
	Metrics     *metrics.Collector
	Logger      *util.Logger
}

// Handle dials the target for path and copies in both directions until
// either side finishes or ctx is cancelled.
func (r *Relay) Handle(ctx context.Context, conn *session.Conn, path string) error {
	target, err := r.Target(path)
	if err != nil {
		return err
	}

	up, err := r.dial(ctx, target)
	if err != nil {
		return err
	}
	defer up.Close()

	r.Logger.Verbose("conn#%d: relaying to %s", conn.ID(), target)

	tr, err := util.BidirectionalCopy(ctx, up, conn, conn)
	r.Metrics.BytesReceived(tr.Sent)
	r.Metrics.BytesSent(tr.Received)
	r.Logger.Verbose("conn#%d: %s done, %d bytes up, %d bytes down",
		conn.ID(), target, tr.Sent, tr.Received)
	return err
}

// Target resolves the upstream address for a request path.
func (r *Relay) Target(path string) (string, error) {
	trimmed := strings.Trim(path, "/")
	if !r.PathTarget || trimmed == "" {
		if r.Upstream == "" {
			return "", fmt.Errorf("%w: no upstream for %q", ncerr.ErrBadTarget, path)
		}
		return r.Upstream, nil
	}
	return ParsePathTarget(path)
}

// ParsePathTarget turns "/host/port" into "host:port".
func ParsePathTarget(path string) (string, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", fmt.Errorf("%w: %q is not /host/port", ncerr.ErrBadTarget, path)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return "", fmt.Errorf("%w: bad port in %q", ncerr.ErrBadTarget, path)
	}
	return net.JoinHostPort(parts[0], parts[1]), nil
}

// dial connects to target through the breaker, retrying retryable
// failures with the configured backoff.
func (r *Relay) dial(ctx context.Context, target string) (net.Conn, error) {
	var conn net.Conn
	attempt := func(int) error {
		dctx, cancel := ctx, context.CancelFunc(func() {})
		if r.DialTimeout > 0 {
			dctx, cancel = context.WithTimeout(ctx, r.DialTimeout)
		}
		defer cancel()

		c, err := r.Dialer.Dial(dctx, "tcp", target)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if r.Breaker != nil {
		inner := attempt
		attempt = func(n int) error {
			return r.Breaker.Execute(func() error { return inner(n) })
		}
	}

	if r.Backoff == nil {
		err := attempt(1)
		return conn, err
	}

	b := *r.Backoff
	b.Retryable = func(err error) bool {
		return !ncerr.Is(err, ncerr.ErrCircuitOpen) && ncerr.IsRetryable(err)
	}
	b.OnRetry = func(n int, err error, wait time.Duration) {
		r.Metrics.DialRetry()
		r.Logger.Debug("dial %s attempt %d failed: %v, retrying in %v", target, n, err, wait)
	}
	err := b.Do(ctx, attempt)
	return conn, err
}

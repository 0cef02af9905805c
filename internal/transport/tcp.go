package transport

import (
	"context"
	"net"
	"time"

	ncerr "wsproxy/internal/errors"
)

// TCPDialer connects straight to the upstream.
type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration // 0 uses the net package default
}

// Dial connects to address.  Failures come back as *errors.NetworkError
// so callers can ask errors.IsRetryable.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, ncerr.Wrap("dial", address, err)
	}
	return conn, nil
}

// Close is a no-op.
func (d *TCPDialer) Close() error { return nil }

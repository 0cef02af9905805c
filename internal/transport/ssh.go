package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"wsproxy/tunnel"
	"wsproxy/util"
)

// SSHDialer reaches upstreams through an SSH gateway.  The tunnel is
// opened by the first Dial and reopened by any later Dial that finds it
// dead, so a gateway restart costs the sessions in flight but not the
// server.
type SSHDialer struct {
	tunnel tunnel.Tunnel
	config *tunnel.SSHConfig
	logger *util.Logger

	mu     sync.Mutex
	up     bool
	closed bool
}

// NewSSHDialer returns a dialer for cfg.  Nothing is dialed yet.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	return &SSHDialer{
		tunnel: tunnel.NewSSHTunnel(cfg, logger),
		config: cfg,
		logger: logger,
	}
}

// ensure opens the tunnel unless a live one exists.  Concurrent callers
// serialise here, so a dead tunnel is replaced once.
func (d *SSHDialer) ensure(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return net.ErrClosed
	}
	if d.up {
		if d.tunnel.IsAlive() {
			return nil
		}
		d.logger.Warn("SSH tunnel to %s is down, reconnecting", d.gateway())
		d.tunnel.Close() //nolint:errcheck
		d.up = false
	}

	d.logger.Verbose("opening SSH tunnel to %s@%s", d.config.User, d.gateway())
	if err := d.tunnel.Connect(ctx); err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}
	d.up = true
	d.logger.Verbose("SSH tunnel established")
	return nil
}

func (d *SSHDialer) gateway() string {
	return util.FormatAddr(d.config.Host, d.config.Port)
}

// Dial connects to address from the gateway's side of the tunnel.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.ensure(ctx); err != nil {
		return nil, err
	}
	return d.tunnel.Dial(ctx, network, address)
}

// Close tears the tunnel down; later Dials fail with net.ErrClosed.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	if !d.up {
		return nil
	}
	d.up = false
	return d.tunnel.Close()
}

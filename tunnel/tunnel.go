// Package tunnel carries upstream connections through an SSH gateway
// using golang.org/x/crypto/ssh.
package tunnel

import (
	"context"
	"net"
)

// Tunnel is an encrypted channel that TCP connections can be opened
// through.
type Tunnel interface {
	// Connect dials the gateway and authenticates.
	Connect(ctx context.Context) error

	// Dial opens a connection to address from the gateway's side.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears the tunnel down.
	Close() error

	// IsAlive reports whether the gateway connection is still up.
	IsAlive() bool
}

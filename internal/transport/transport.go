// Package transport opens the upstream connections that relay sessions
// pipe their WebSocket traffic into.  A Dialer knows how to reach a
// target; what flows over the connection is the session handler's job.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound connections to upstream targets.
type Dialer interface {
	// Dial connects to address ("host:port") on network.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases long-lived state such as an SSH session.
	// Stateless dialers return nil.
	Close() error
}

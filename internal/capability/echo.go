package capability

import (
	"context"

	"wsproxy/internal/metrics"
	"wsproxy/internal/session"
)

// Echo sends every message back unchanged, keeping its type.  It is the
// handler behind --echo and a convenient health probe.
type Echo struct {
	Metrics *metrics.Collector
}

// Handle echoes until the peer closes or ctx is cancelled.
func (e *Echo) Handle(ctx context.Context, conn *session.Conn, _ string) error {
	for ctx.Err() == nil {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		e.Metrics.BytesReceived(int64(len(p)))

		if err := conn.WriteMessage(mt, p); err != nil {
			return err
		}
		e.Metrics.BytesSent(int64(len(p)))
	}
	return nil
}

// Package capability holds the session handlers the server can run for
// an accepted WebSocket connection: relaying it to an upstream TCP
// service, echoing it back, or binding it to a child process.  Each
// implements session.Handler and sees only the *session.Conn, so it
// stays testable without a listening server.
package capability

import (
	"wsproxy/internal/session"
)

var (
	_ session.Handler = (*Relay)(nil)
	_ session.Handler = (*Echo)(nil)
	_ session.Handler = (*Exec)(nil)
)

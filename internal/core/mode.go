// Package core is the orchestration layer.  It composes a dialer, a
// session handler and the WebSocket server into one runnable mode and
// provides the builder that assembles it from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  capability  →  session  →  server  →  core  →  cmd (CLI)
package core

import (
	"context"
	"net"

	"wsproxy/config"
	"wsproxy/internal/server"
	"wsproxy/internal/transport"
	"wsproxy/util"
)

// Mode is a complete, runnable wsproxy instance.  Run blocks until ctx
// is cancelled and every connection has drained, or the listener fails.
type Mode interface {
	Run(ctx context.Context) error
}

// ProxyMode serves WebSocket sessions until its context is cancelled,
// then stops the server and waits for the drain.
type ProxyMode struct {
	Server *server.Server
	Host   string
	Port   int
	// Listener, when set, is served instead of binding Host:Port.
	Listener net.Listener
	// Dialer is the relay's upstream dialer, closed once the server has
	// stopped.  Nil for echo and exec.
	Dialer transport.Dialer
	// WatchPath, when set, reloads the origin allow-list from that
	// config file whenever it changes.
	WatchPath string
	// Summary describes the handler for log lines and --dry-run.
	Summary string
	Logger  *util.Logger
}

// Run starts the server and blocks until it has stopped.
func (m *ProxyMode) Run(ctx context.Context) error {
	if m.Dialer != nil {
		defer m.Dialer.Close() //nolint:errcheck
	}

	if m.WatchPath != "" {
		w, err := config.NewWatcher(m.WatchPath, m.Logger, func(c *config.Config) {
			m.Server.SetAllowedOrigins(c.AllowedOrigins)
			m.Logger.Verbose("allowed origins now %q", c.AllowedOrigins)
		})
		if err != nil {
			return err
		}
		defer w.Close() //nolint:errcheck
	}

	m.Logger.Verbose("session handler: %s", m.Summary)

	done := make(chan error, 1)
	go func() {
		if m.Listener != nil {
			done <- m.Server.Serve(m.Listener)
			return
		}
		done <- m.Server.Start(m.Host, m.Port)
	}()

	select {
	case err := <-done:
		// Bind or accept failure; Start has already cleaned up.
		return err
	case <-ctx.Done():
	}

	// Stop is a no-op until Start has bound, so wait for that first.
	select {
	case err := <-done:
		return err
	case <-m.Server.Started():
	}
	m.Server.Stop()
	return <-done
}

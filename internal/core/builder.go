package core

import (
	"fmt"

	"wsproxy/config"
	"wsproxy/internal/capability"
	"wsproxy/internal/metrics"
	"wsproxy/internal/retry"
	"wsproxy/internal/server"
	"wsproxy/internal/session"
	"wsproxy/internal/transport"
	"wsproxy/tunnel"
	"wsproxy/util"
)

// Build constructs the ProxyMode described by a validated cfg.
func Build(cfg *config.Config, logger *util.Logger) (*ProxyMode, error) {
	stats := metrics.New()

	var (
		handler session.Handler
		dialer  transport.Dialer
		summary string
	)
	switch cfg.Mode() {
	case config.ModeEcho:
		handler = &capability.Echo{Metrics: stats}
		summary = "echo"

	case config.ModeExec:
		handler = &capability.Exec{
			Program: cfg.Execute,
			Command: cfg.Command,
			Logger:  logger.Named("exec"),
		}
		summary = "exec " + cfg.Execute + cfg.Command

	case config.ModeRelay:
		if cfg.Upstream == "" && !cfg.PathTarget {
			return nil, fmt.Errorf("relay needs an upstream or --path-target")
		}
		dialer = buildDialer(cfg, logger)
		handler = buildRelay(cfg, dialer, stats, logger)
		summary = relaySummary(cfg)

	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode())
	}

	srv := server.New(handler, server.Options{
		CloseTimeout:     cfg.CloseTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadLimit:        cfg.ReadLimit,
		AllowedOrigins:   cfg.AllowedOrigins,
		LogStats:         cfg.Stats,
		Metrics:          stats,
	}, logger)

	m := &ProxyMode{
		Server:  srv,
		Host:    cfg.Host,
		Port:    cfg.Port,
		Dialer:  dialer,
		Summary: summary,
		Logger:  logger,
	}
	if cfg.Watch && cfg.ConfigFile != "" {
		m.WatchPath = cfg.ConfigFile
	}
	return m, nil
}

// ── component builders ───────────────────────────────────────────────

// buildDialer picks a direct TCP dialer or one that goes through the
// SSH gateway named by -T.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   cfg.DialTimeout,
			KeepAlive:     cfg.SSHKeepAlive,
		}, logger.Named("ssh"))
	}
	return &transport.TCPDialer{Timeout: cfg.DialTimeout}
}

func buildRelay(cfg *config.Config, d transport.Dialer, stats *metrics.Collector, logger *util.Logger) *capability.Relay {
	rl := logger.Named("relay")

	backoff := retry.DefaultBackoff()
	backoff.MaxAttempts = cfg.DialAttempts

	return &capability.Relay{
		Dialer:      d,
		Upstream:    cfg.Upstream,
		PathTarget:  cfg.PathTarget,
		DialTimeout: cfg.DialTimeout,
		Backoff:     backoff,
		Breaker: retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
			OnStateChange: func(from, to retry.State) {
				rl.Warn("upstream circuit %s → %s", from, to)
			},
		}),
		Metrics: stats,
		Logger:  rl,
	}
}

func relaySummary(cfg *config.Config) string {
	s := "relay to " + cfg.Upstream
	switch {
	case cfg.PathTarget && cfg.Upstream != "":
		s = "relay to /host/port, default " + cfg.Upstream
	case cfg.PathTarget:
		s = "relay to /host/port"
	}
	if cfg.TunnelEnabled {
		via := util.FormatAddr(cfg.TunnelHost, cfg.TunnelPort)
		if cfg.TunnelUser != "" {
			via = cfg.TunnelUser + "@" + via
		}
		s += " via ssh " + via
	}
	return s
}

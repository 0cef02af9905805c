package core

import (
	"testing"
	"time"

	"wsproxy/config"
	"wsproxy/internal/transport"
	"wsproxy/util"
)

func validated(t *testing.T, mut func(*config.Config)) *config.Config {
	t.Helper()
	cfg := config.Default()
	mut(cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

// TestBuild_Relay verifies a fixed upstream gets a direct TCP dialer.
func TestBuild_Relay(t *testing.T) {
	cfg := validated(t, func(c *config.Config) {
		c.Upstream = "db.internal:5432"
		c.DialTimeout = 2 * time.Second
	})

	m, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	d, ok := m.Dialer.(*transport.TCPDialer)
	if !ok {
		t.Fatalf("expected *TCPDialer, got %T", m.Dialer)
	}
	if d.Timeout != 2*time.Second {
		t.Errorf("dial timeout = %v", d.Timeout)
	}
	if m.Summary != "relay to db.internal:5432" {
		t.Errorf("summary = %q", m.Summary)
	}
	if m.Host != config.DefaultHost || m.Port != config.DefaultPort {
		t.Errorf("listen = %s:%d", m.Host, m.Port)
	}
}

// TestBuild_RelayTunnel verifies -T routes upstream dials through SSH.
func TestBuild_RelayTunnel(t *testing.T) {
	cfg := validated(t, func(c *config.Config) {
		c.PathTarget = true
		c.TunnelSpec = "relay@bastion:2222"
	})

	m, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Dialer.(*transport.SSHDialer); !ok {
		t.Fatalf("expected *SSHDialer, got %T", m.Dialer)
	}
	if want := "relay to /host/port via ssh relay@bastion:2222"; m.Summary != want {
		t.Errorf("summary = %q, want %q", m.Summary, want)
	}
}

func TestBuild_RelayHandler(t *testing.T) {
	cfg := validated(t, func(c *config.Config) {
		c.Upstream = "cache:6379"
		c.DialAttempts = 5
	})
	r := buildRelay(cfg, &transport.TCPDialer{}, nil, util.NewLogger(0))

	if r.Backoff == nil || r.Backoff.MaxAttempts != 5 {
		t.Errorf("backoff = %+v, want 5 attempts", r.Backoff)
	}
	if r.Breaker == nil {
		t.Error("relay has no circuit breaker")
	}
	if r.Upstream != "cache:6379" || r.PathTarget {
		t.Errorf("target = %q / %v", r.Upstream, r.PathTarget)
	}
}

func TestBuild_Echo(t *testing.T) {
	m, err := Build(validated(t, func(c *config.Config) { c.Echo = true }), util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	if m.Dialer != nil {
		t.Errorf("echo should not dial, got %T", m.Dialer)
	}
	if m.Summary != "echo" {
		t.Errorf("summary = %q", m.Summary)
	}
}

func TestBuild_Exec(t *testing.T) {
	m, err := Build(validated(t, func(c *config.Config) { c.Command = "uptime" }), util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	if m.Summary != "exec uptime" {
		t.Errorf("summary = %q", m.Summary)
	}
}

// TestBuild_Watch verifies --watch only takes effect with a config file.
func TestBuild_Watch(t *testing.T) {
	cfg := validated(t, func(c *config.Config) { c.Echo, c.Watch = true, true })
	m, err := Build(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	if m.WatchPath != "" {
		t.Errorf("WatchPath = %q without a config file", m.WatchPath)
	}

	cfg.ConfigFile = "/etc/wsproxy.yaml"
	if m, _ = Build(cfg, util.NewLogger(0)); m.WatchPath != "/etc/wsproxy.yaml" {
		t.Errorf("WatchPath = %q", m.WatchPath)
	}
}

func TestBuild_NoHandler(t *testing.T) {
	if _, err := Build(config.Default(), util.NewLogger(0)); err == nil {
		t.Fatal("expected error for relay without a target")
	}
}


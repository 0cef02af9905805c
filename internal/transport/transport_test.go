package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	ncerr "wsproxy/internal/errors"
	"wsproxy/tunnel"
	"wsproxy/util"
)

// TestTCPDialer_Connect verifies TCPDialer reaches a local upstream.
func TestTCPDialer_Connect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("upstream ready\n")) //nolint:errcheck
	}()

	d := &TCPDialer{Timeout: 2 * time.Second}
	conn, err := d.Dial(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "upstream ready\n" {
		t.Errorf("got %q", got)
	}
}

// TestTCPDialer_RefusedIsRetryable verifies refused dials are wrapped
// as retryable network errors.
func TestTCPDialer_RefusedIsRetryable(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}

	d := &TCPDialer{Timeout: time.Second}
	_, err = d.Dial(context.Background(), "tcp", util.FormatAddr("127.0.0.1", port))
	if err == nil {
		t.Fatal("expected refused dial")
	}

	var ne *ncerr.NetworkError
	if !errors.As(err, &ne) || ne.Op != "dial" {
		t.Fatalf("err = %v, want dial NetworkError", err)
	}
	if !ncerr.IsRetryable(err) {
		t.Error("refused dial should be retryable")
	}
}

func TestTCPDialer_ContextCancel(t *testing.T) {
	d := &TCPDialer{Timeout: 5 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Dial(ctx, "tcp", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestTCPDialer_Close(t *testing.T) {
	if err := (&TCPDialer{}).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// ── SSHDialer ────────────────────────────────────────────────────────

// fakeTunnel stands in for an SSH gateway.
type fakeTunnel struct {
	connects atomic.Int32
	closes   atomic.Int32
	alive    atomic.Bool
	failNext atomic.Bool
}

func (f *fakeTunnel) Connect(context.Context) error {
	if f.failNext.Swap(false) {
		return ncerr.ErrAuthFailed
	}
	f.connects.Add(1)
	f.alive.Store(true)
	return nil
}

func (f *fakeTunnel) Dial(_ context.Context, _, _ string) (net.Conn, error) {
	if !f.alive.Load() {
		return nil, ncerr.ErrNotConnected
	}
	a, b := net.Pipe()
	b.Close()
	return a, nil
}

func (f *fakeTunnel) Close() error {
	f.closes.Add(1)
	f.alive.Store(false)
	return nil
}

func (f *fakeTunnel) IsAlive() bool { return f.alive.Load() }

func newFakeSSHDialer(ft *fakeTunnel) *SSHDialer {
	return &SSHDialer{
		tunnel: ft,
		config: &tunnel.SSHConfig{User: "relay", Host: "bastion.internal", Port: 22},
		logger: util.NewLogger(0),
	}
}

// TestSSHDialer_LazyConnect verifies the tunnel opens on first use and
// is reused afterwards.
func TestSSHDialer_LazyConnect(t *testing.T) {
	ft := &fakeTunnel{}
	d := newFakeSSHDialer(ft)

	if ft.connects.Load() != 0 {
		t.Fatal("tunnel opened before Dial")
	}
	for i := 0; i < 3; i++ {
		conn, err := d.Dial(context.Background(), "tcp", "db:5432")
		if err != nil {
			t.Fatalf("Dial %d: %v", i, err)
		}
		conn.Close()
	}
	if n := ft.connects.Load(); n != 1 {
		t.Errorf("connects = %d, want 1", n)
	}
}

// TestSSHDialer_ReconnectsDeadTunnel verifies a dropped gateway is
// replaced on the next Dial.
func TestSSHDialer_ReconnectsDeadTunnel(t *testing.T) {
	ft := &fakeTunnel{}
	d := newFakeSSHDialer(ft)

	if _, err := d.Dial(context.Background(), "tcp", "db:5432"); err != nil {
		t.Fatal(err)
	}
	ft.alive.Store(false) // gateway went away

	conn, err := d.Dial(context.Background(), "tcp", "db:5432")
	if err != nil {
		t.Fatalf("Dial after drop: %v", err)
	}
	conn.Close()

	if n := ft.connects.Load(); n != 2 {
		t.Errorf("connects = %d, want 2", n)
	}
	if n := ft.closes.Load(); n != 1 {
		t.Errorf("stale tunnel closed %d times, want 1", n)
	}
}

func TestSSHDialer_ConnectFailure(t *testing.T) {
	ft := &fakeTunnel{}
	ft.failNext.Store(true)
	d := newFakeSSHDialer(ft)

	_, err := d.Dial(context.Background(), "tcp", "db:5432")
	if !errors.Is(err, ncerr.ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}

	// The next Dial tries again.
	if _, err := d.Dial(context.Background(), "tcp", "db:5432"); err != nil {
		t.Fatalf("retry Dial: %v", err)
	}
}

func TestSSHDialer_Close(t *testing.T) {
	ft := &fakeTunnel{}
	d := newFakeSSHDialer(ft)

	// Close before any Dial leaves the gateway untouched.
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if ft.closes.Load() != 0 {
		t.Error("idle dialer closed the tunnel")
	}
	if _, err := d.Dial(context.Background(), "tcp", "db:5432"); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Dial after Close: %v, want net.ErrClosed", err)
	}

	d2 := newFakeSSHDialer(ft)
	if _, err := d2.Dial(context.Background(), "tcp", "db:5432"); err != nil {
		t.Fatal(err)
	}
	if err := d2.Close(); err != nil {
		t.Fatal(err)
	}
	if ft.closes.Load() != 1 {
		t.Errorf("closes = %d, want 1", ft.closes.Load())
	}
}

func TestNewSSHDialer_Defaults(t *testing.T) {
	cfg := &tunnel.SSHConfig{User: "relay", Host: "bastion.internal"}
	d := NewSSHDialer(cfg, util.NewLogger(0))
	if cfg.Port != 22 {
		t.Errorf("port = %d, want 22", cfg.Port)
	}
	if d.gateway() != "bastion.internal:22" {
		t.Errorf("gateway = %q", d.gateway())
	}
}

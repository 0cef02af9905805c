package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "wsproxy/internal/errors"
	"wsproxy/util"
)

// SSHConfig describes the gateway and how to authenticate to it.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
	// KeepAlive is the interval between keepalive requests; a failed
	// request marks the tunnel dead.  Zero disables them.
	KeepAlive time.Duration
}

// SSHTunnel implements [Tunnel] over a single ssh.Client.
type SSHTunnel struct {
	config *SSHConfig
	logger *util.Logger

	mu     sync.RWMutex
	client *ssh.Client
	alive  bool
	stop   chan struct{}
}

// NewSSHTunnel fills in defaults (port 22, 30s connect timeout) and
// returns a tunnel ready to [SSHTunnel.Connect].
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &SSHTunnel{config: cfg, logger: logger}
}

// Connect dials the gateway and completes the SSH handshake.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	auth, err := BuildAuthMethods(t.config)
	if err != nil {
		return ncerr.WrapSSH("auth", t.config.Host, t.config.Port, err)
	}
	hostKeys, err := hostKeyCallback(t.config)
	if err != nil {
		return ncerr.WrapSSH("hostkey", t.config.Host, t.config.Port, err)
	}

	addr := util.FormatAddr(t.config.Host, t.config.Port)
	t.logger.Debug("ssh: dialing %s as %s", addr, t.config.User)

	dialer := net.Dialer{Timeout: t.config.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ncerr.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, &ssh.ClientConfig{
		User:            t.config.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         t.config.ConnTimeout,
	})
	if err != nil {
		tcpConn.Close()
		return ncerr.WrapSSH("handshake", t.config.Host, t.config.Port, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	stop := make(chan struct{})

	t.mu.Lock()
	t.client, t.alive, t.stop = client, true, stop
	t.mu.Unlock()

	go t.watch(client)
	if t.config.KeepAlive > 0 {
		go t.keepAlive(client, stop)
	}
	return nil
}

// Dial opens address through the gateway.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	t.mu.RLock()
	client, alive := t.client, t.alive
	t.mu.RUnlock()

	if !alive || client == nil {
		return nil, ncerr.ErrNotConnected
	}

	t.logger.Debug("ssh: forwarding to %s", address)
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, ncerr.Wrap("dial", address, err)
	}
	return conn, nil
}

// Close shuts the SSH connection down.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alive = false
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

// IsAlive reports whether the gateway connection is up.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

// watch marks the tunnel dead once client's connection ends.
func (t *SSHTunnel) watch(client *ssh.Client) {
	err := client.Wait()
	t.markDead(client)
	if err != nil {
		t.logger.Debug("ssh: tunnel closed: %v", err)
	} else {
		t.logger.Debug("ssh: tunnel closed")
	}
}

// keepAlive probes the gateway every interval.  An unanswered probe
// closes the client, which lets watch mark the tunnel dead.
func (t *SSHTunnel) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	tick := time.NewTicker(t.config.KeepAlive)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			if err := probe(client, t.config.KeepAlive); err != nil {
				t.logger.Warn("ssh: keepalive to %s failed: %v", t.config.Host, err)
				t.markDead(client)
				client.Close() //nolint:errcheck
				return
			}
		}
	}
}

// probe sends one keepalive request and waits at most timeout for the
// reply.
func probe(client *ssh.Client, timeout time.Duration) error {
	reply := make(chan error, 1)
	go func() {
		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		reply <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-reply:
		return err
	case <-timer.C:
		return ncerr.ErrTimeout
	}
}

func (t *SSHTunnel) markDead(client *ssh.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == client {
		t.alive = false
	}
}

// String identifies the gateway in logs.
func (t *SSHTunnel) String() string {
	return fmt.Sprintf("%s@%s", t.config.User, util.FormatAddr(t.config.Host, t.config.Port))
}

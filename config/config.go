// Package config defines the runtime configuration for wsproxy and the
// parsers for the addresses it accepts on the command line.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	ncerr "wsproxy/internal/errors"
	"wsproxy/util"
)

// Mode selects the session handler run for every accepted connection.
type Mode string

const (
	ModeRelay Mode = "relay"
	ModeEcho  Mode = "echo"
	ModeExec  Mode = "exec"
)

// Config holds every tuneable of a wsproxy server.  The yaml tags name
// the keys of the --config file.
type Config struct {
	// ── Listener ─────────────────────────────────────────────────────
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	CloseTimeout     time.Duration `yaml:"close_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`

	// ── Session handler ──────────────────────────────────────────────
	Upstream     string        `yaml:"upstream"`    // relay: fixed host:port
	PathTarget   bool          `yaml:"path_target"` // relay: /host/port from the request
	Echo         bool          `yaml:"echo"`
	Execute      string        `yaml:"exec"`    // -e: program path
	Command      string        `yaml:"command"` // -c: shell command
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	DialAttempts int           `yaml:"dial_attempts"`

	// ── SSH tunnel for upstream dials ────────────────────────────────
	TunnelSpec     string        `yaml:"tunnel"` // raw [user@]host[:port] from -T
	TunnelEnabled  bool          `yaml:"-"`
	TunnelUser     string        `yaml:"-"`
	TunnelHost     string        `yaml:"-"`
	TunnelPort     int           `yaml:"-"`
	SSHKeyPath     string        `yaml:"ssh_key"`
	SSHPassword    bool          `yaml:"ssh_password"` // true → prompt interactively
	UseSSHAgent    bool          `yaml:"ssh_agent"`
	StrictHostKey  bool          `yaml:"strict_hostkey"`
	KnownHostsPath string        `yaml:"known_hosts"`
	SSHKeepAlive   time.Duration `yaml:"ssh_keepalive"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int    `yaml:"verbose"`
	Stats      bool   `yaml:"stats"`
	ConfigFile string `yaml:"-"`
	Watch      bool   `yaml:"watch"` // reload allowed_origins when the file changes
}

// Mode reports which handler the configuration selects.
func (c *Config) Mode() Mode {
	switch {
	case c.Echo:
		return ModeEcho
	case c.Execute != "" || c.Command != "":
		return ModeExec
	default:
		return ModeRelay
	}
}

// Addr is the listen address.
func (c *Config) Addr() string { return util.FormatAddr(c.Host, c.Port) }

// ── Address parsers ──────────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec splits "admin@bastion.example.com:2222" into its
// parts.  The port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q, expected [user@]host[:port]", spec)
	}
	user, host, port = m[1], m[2], DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ParseTarget validates an upstream "host:port" and returns it in
// canonical form.
func ParseTarget(target string) (string, error) {
	host, port, err := util.SplitAddr(target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ncerr.ErrBadTarget, err)
	}
	if host == "" {
		return "", fmt.Errorf("%w: %q has no host", ncerr.ErrBadTarget, target)
	}
	return util.FormatAddr(host, port), nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks the configuration is complete and consistent, and
// fills in the fields derived from TunnelSpec and Upstream.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &ncerr.ConfigError{
			Field: "port", Value: c.Port,
			Message: "must be between 1 and 65535",
			Hint:    fmt.Sprintf("the default is %d", DefaultPort),
		}
	}
	if c.CloseTimeout <= 0 {
		return &ncerr.ConfigError{
			Field: "close-timeout", Value: c.CloseTimeout,
			Message: "must be positive",
			Hint:    "it bounds how long each connection may take to close on shutdown",
		}
	}
	if c.HandshakeTimeout <= 0 {
		return &ncerr.ConfigError{Field: "handshake-timeout", Value: c.HandshakeTimeout, Message: "must be positive"}
	}
	if c.ReadLimit < 0 {
		return &ncerr.ConfigError{Field: "read-limit", Value: c.ReadLimit, Message: "must not be negative", Hint: "use 0 for no limit"}
	}

	if err := c.validateMode(); err != nil {
		return err
	}

	if c.TunnelSpec != "" {
		if c.Mode() != ModeRelay {
			return &ncerr.ConfigError{
				Field: "tunnel", Value: c.TunnelSpec,
				Message: "only relay sessions dial upstreams",
				Hint:    "drop -T, or use --upstream / --path-target",
			}
		}
		user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
		if err != nil {
			return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error()}
		}
		c.TunnelEnabled = true
		c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	}
	return nil
}

func (c *Config) validateMode() error {
	handlers := 0
	for _, set := range []bool{c.Echo, c.Execute != "" || c.Command != "", c.Upstream != "" || c.PathTarget} {
		if set {
			handlers++
		}
	}
	if handlers > 1 {
		return &ncerr.ConfigError{
			Field:   "echo",
			Message: "--echo, --exec/--command and --upstream/--path-target are mutually exclusive",
		}
	}
	if c.Execute != "" && c.Command != "" {
		return &ncerr.ConfigError{Field: "exec", Value: c.Execute, Message: "-e and -c are mutually exclusive"}
	}

	if c.Mode() != ModeRelay {
		return nil
	}
	if c.Upstream == "" && !c.PathTarget {
		return &ncerr.ConfigError{
			Field:   "upstream",
			Message: "no session handler selected",
			Hint:    "use --upstream host:port, --path-target, --echo, or --exec",
		}
	}
	if c.Upstream != "" {
		target, err := ParseTarget(c.Upstream)
		if err != nil {
			return &ncerr.ConfigError{Field: "upstream", Value: c.Upstream, Message: err.Error(), Hint: "expected host:port"}
		}
		c.Upstream = target
	}
	if c.DialAttempts < 1 {
		return &ncerr.ConfigError{Field: "dial-attempts", Value: c.DialAttempts, Message: "must be at least 1"}
	}
	if c.DialTimeout <= 0 {
		return &ncerr.ConfigError{Field: "dial-timeout", Value: c.DialTimeout, Message: "must be positive"}
	}
	return nil
}

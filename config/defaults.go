package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// Shared by the CLI flags, the config file and the environment loader.

const (
	// DefaultHost and DefaultPort are the listen address.
	DefaultHost = "localhost"
	DefaultPort = 8667

	// DefaultCloseTimeout bounds each connection's close handshake.
	DefaultCloseTimeout = time.Second

	// DefaultHandshakeTimeout bounds the HTTP upgrade.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultReadLimit caps a single incoming message (1 MiB).
	DefaultReadLimit = 1 << 20

	// DefaultDialTimeout bounds one upstream dial attempt.
	DefaultDialTimeout = 10 * time.Second

	// DefaultDialAttempts is the number of tries per upstream dial.
	DefaultDialAttempts = 3

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultSSHKeepAlive is the interval between SSH keepalives.
	DefaultSSHKeepAlive = 30 * time.Second
)

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		CloseTimeout:     DefaultCloseTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		ReadLimit:        DefaultReadLimit,
		DialTimeout:      DefaultDialTimeout,
		DialAttempts:     DefaultDialAttempts,
		SSHKeepAlive:     DefaultSSHKeepAlive,
		Verbose:          1,
	}
}

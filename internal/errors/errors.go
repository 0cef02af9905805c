// Package errors holds the error values shared across wsproxy: sentinels
// for lifecycle and upstream conditions, and structured types that keep
// the operation, address or connection a failure belongs to.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinels ────────────────────────────────────────────────────────

var (
	// Server lifecycle.
	ErrAlreadyStarted = errors.New("server already started")
	ErrShuttingDown   = errors.New("shutting down; no new connections are being accepted")

	// Upstream dialing.
	ErrBadTarget    = errors.New("invalid upstream target")
	ErrCircuitOpen  = errors.New("upstream circuit breaker is open")
	ErrNotConnected = errors.New("not connected")
	ErrTimeout      = errors.New("operation timed out")

	// SSH gateway.
	ErrAuthFailed      = errors.New("authentication failed")
	ErrHostKeyMismatch = errors.New("host key mismatch")
)

// ── NetworkError ─────────────────────────────────────────────────────

// NetworkError is a failed socket operation: "listen" and "accept" on the
// server side, "dial" towards an upstream.  Retryable is decided once, by
// [Wrap], from the underlying error.
type NetworkError struct {
	Op        string
	Addr      string
	Err       error
	Retryable bool
}

func (e *NetworkError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("%s %s: %v (retryable)", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Wrap builds a NetworkError and classifies it.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{Op: op, Addr: addr, Err: err, Retryable: transient(err)}
}

// IsRetryable reports whether another attempt at the failed operation
// may succeed.  A NetworkError anywhere in the chain decides; otherwise
// the standard library error types are inspected.
func IsRetryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return transient(err)
}

// transient treats every failed dial as worth retrying (refused and
// unreachable upstreams usually come back) and trusts Temporary for the
// rest.
func transient(err error) bool {
	var op *net.OpError
	if errors.As(err, &op) {
		return op.Op == "dial" || op.Temporary() //nolint:staticcheck
	}
	var dns *net.DNSError
	if errors.As(err, &dns) {
		return dns.Temporary() //nolint:staticcheck
	}
	return false
}

// ── SessionError ─────────────────────────────────────────────────────

// SessionError is a handler that returned an error or panicked.
type SessionError struct {
	ConnID   uint64
	Path     string
	Err      error
	Panicked bool
}

func (e *SessionError) Error() string {
	outcome := "failed"
	if e.Panicked {
		outcome = "panicked"
	}
	return fmt.Sprintf("session #%d %s %s: %v", e.ConnID, e.Path, outcome, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// IsPanic reports whether err records a recovered handler panic.
func IsPanic(err error) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Panicked
}

// ── SSHError ─────────────────────────────────────────────────────────

// SSHError is a failure talking to the SSH gateway.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "dial"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// WrapSSH builds an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── ConfigError ──────────────────────────────────────────────────────

// ConfigError names the flag that holds a bad value.  Its message reads
// like the command line the user typed, with an optional hint below.
type ConfigError struct {
	Field   string
	Value   interface{} // nil when the setting is missing
	Message string
	Hint    string
}

func (e *ConfigError) Error() string {
	flag := "--" + e.Field
	if e.Value != nil {
		flag += fmt.Sprintf("=%v", e.Value)
	}
	msg := fmt.Sprintf("config: %s: %s", flag, e.Message)
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── stdlib shims ─────────────────────────────────────────────────────

// Is is [errors.Is], so callers need only one errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

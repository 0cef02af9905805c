// Package metrics counts what a wsproxy server did over its lifetime:
// connections, failed and force-closed sessions, relayed bytes and
// upstream dial retries.
//
// All methods are safe for concurrent use, and a nil *Collector accepts
// every call and reports zeros, so components can take one optionally.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

type counter int

const (
	connActive counter = iota
	connTotal
	connRejected
	sessionFailures
	forcedCloses
	bytesIn
	bytesOut
	dialRetries
	errorsTotal

	numCounters
)

// Collector holds the counters of one server.
type Collector struct {
	counters [numCounters]atomic.Int64
	started  time.Time

	mu      sync.Mutex
	lastErr string
	lastAt  time.Time
}

// New returns a Collector whose uptime starts now.
func New() *Collector {
	return &Collector{started: time.Now()}
}

func (c *Collector) add(k counter, n int64) {
	if c != nil {
		c.counters[k].Add(n)
	}
}

func (c *Collector) get(k counter) int64 {
	if c == nil {
		return 0
	}
	return c.counters[k].Load()
}

// ── connections ──────────────────────────────────────────────────────

// ConnectionOpened counts a registered connection.
func (c *Collector) ConnectionOpened() {
	c.add(connActive, 1)
	c.add(connTotal, 1)
}

// ConnectionClosed counts a connection leaving the registry.
func (c *Collector) ConnectionClosed() { c.add(connActive, -1) }

// ConnectionRejected counts an upgrade turned away during shutdown.
func (c *Collector) ConnectionRejected() { c.add(connRejected, 1) }

func (c *Collector) ActiveConnections() int64 { return c.get(connActive) }
func (c *Collector) TotalConnections() int64 { return c.get(connTotal) }
func (c *Collector) RejectedConnections() int64 { return c.get(connRejected) }

// ── sessions ─────────────────────────────────────────────────────────

// SessionFailed counts a handler that returned an error or panicked.
func (c *Collector) SessionFailed() { c.add(sessionFailures, 1) }
func (c *Collector) SessionFailures() int64 { return c.get(sessionFailures) }

// ForcedClose counts a close handshake the peer did not finish within
// the grace period.
func (c *Collector) ForcedClose() { c.add(forcedCloses, 1) }
func (c *Collector) ForcedCloses() int64 { return c.get(forcedCloses) }

// ── traffic ──────────────────────────────────────────────────────────

// BytesReceived adds n bytes read from clients.
func (c *Collector) BytesReceived(n int64) { c.add(bytesIn, n) }

// BytesSent adds n bytes written to clients.
func (c *Collector) BytesSent(n int64) { c.add(bytesOut, n) }

func (c *Collector) TotalBytesIn() int64 { return c.get(bytesIn) }
func (c *Collector) TotalBytesOut() int64 { return c.get(bytesOut) }

// DialRetry counts an upstream dial that is about to be retried.
func (c *Collector) DialRetry() { c.add(dialRetries, 1) }
func (c *Collector) DialRetries() int64 { return c.get(dialRetries) }

// ── errors ───────────────────────────────────────────────────────────

// RecordError counts an error and keeps its message as the latest one.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.add(errorsTotal, 1)
	c.mu.Lock()
	c.lastErr, c.lastAt = msg, time.Now()
	c.mu.Unlock()
}

func (c *Collector) ErrorCount() int64 { return c.get(errorsTotal) }

// ── snapshot ─────────────────────────────────────────────────────────

// Snapshot is the JSON shape logged by --stats.
type Snapshot struct {
	Uptime              string `json:"uptime"`
	ConnectionsActive   int64  `json:"connections_active"`
	ConnectionsTotal    int64  `json:"connections_total"`
	ConnectionsRejected int64  `json:"connections_rejected"`
	SessionFailures     int64  `json:"session_failures"`
	ForcedCloses        int64  `json:"forced_closes"`
	BytesIn             int64  `json:"bytes_in"`
	BytesOut            int64  `json:"bytes_out"`
	DialRetries         int64  `json:"dial_retries"`
	ErrorsTotal         int64  `json:"errors_total"`
	LastError           string `json:"last_error,omitempty"`
	LastErrorMessage    string `json:"last_error_message,omitempty"`
}

// Snapshot reads every counter.  Counters are read one by one, so a
// snapshot taken under load is not a single instant.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	s := Snapshot{
		Uptime:              time.Since(c.started).Truncate(time.Second).String(),
		ConnectionsActive:   c.get(connActive),
		ConnectionsTotal:    c.get(connTotal),
		ConnectionsRejected: c.get(connRejected),
		SessionFailures:     c.get(sessionFailures),
		ForcedCloses:        c.get(forcedCloses),
		BytesIn:             c.get(bytesIn),
		BytesOut:            c.get(bytesOut),
		DialRetries:         c.get(dialRetries),
		ErrorsTotal:         c.get(errorsTotal),
	}
	c.mu.Lock()
	if !c.lastAt.IsZero() {
		s.LastError = c.lastAt.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErr
	}
	c.mu.Unlock()
	return s
}

// JSON renders the snapshot, indented.
func (c *Collector) JSON() string {
	data, _ := json.MarshalIndent(c.Snapshot(), "", "  ")
	return string(data)
}

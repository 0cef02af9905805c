package retry

import (
	"fmt"
	"sync"
	"time"

	ncerr "wsproxy/internal/errors"
)

// State is where a CircuitBreaker stands.
type State int

const (
	StateClosed   State = iota // dials go through
	StateOpen                  // dials fail fast until the cool-down ends
	StateHalfOpen              // dials go through as probes
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig tunes a CircuitBreaker.  Zero fields take the
// defaults of [DefaultCircuitBreakerConfig].
type CircuitBreakerConfig struct {
	MaxFailures  int           // consecutive failures that open the circuit
	ResetTimeout time.Duration // cool-down before probing again
	HalfOpenMax  int           // probe successes needed to close
	// OnStateChange is called with the breaker locked, so it must not
	// call back into it.
	OnStateChange func(from, to State)
}

// DefaultCircuitBreakerConfig opens after 5 failures, cools down for
// 30s and closes again after 2 good probes.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second, HalfOpenMax: 2}
}

// CircuitBreaker guards one upstream.  The relay shares a single breaker
// between all of its sessions: once the upstream has failed often enough
// new sessions are refused at once instead of each sitting through its
// own dial backoff.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int // consecutive
	probes    int // successes while half-open
	openUntil time.Time
}

// NewCircuitBreaker returns a closed breaker; cfg may be nil.
func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	cb := &CircuitBreaker{cfg: *def}
	if cfg != nil {
		cb.cfg.OnStateChange = cfg.OnStateChange
		if cfg.MaxFailures > 0 {
			cb.cfg.MaxFailures = cfg.MaxFailures
		}
		if cfg.ResetTimeout > 0 {
			cb.cfg.ResetTimeout = cfg.ResetTimeout
		}
		if cfg.HalfOpenMax > 0 {
			cb.cfg.HalfOpenMax = cfg.HalfOpenMax
		}
	}
	return cb
}

// Execute runs fn and records its outcome.  While the circuit is open fn
// is skipped and the error wraps [errors.ErrCircuitOpen].
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.done(err)
	return err
}

// CurrentState returns the current state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the number of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forgets all failures and closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.probes = 0, 0
	cb.setState(StateClosed)
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if left := time.Until(cb.openUntil); left > 0 {
		return fmt.Errorf("%w after %d failures, retry in %v",
			ncerr.ErrCircuitOpen, cb.failures, left.Truncate(time.Millisecond))
	}
	cb.probes = 0
	cb.setState(StateHalfOpen)
	return nil
}

func (cb *CircuitBreaker) done(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == StateHalfOpen {
			cb.probes++
			if cb.probes < cb.cfg.HalfOpenMax {
				return
			}
		}
		cb.failures = 0
		cb.setState(StateClosed)
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
		cb.openUntil = time.Now().Add(cb.cfg.ResetTimeout)
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(to State) {
	if from := cb.state; from != to {
		cb.state = to
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(from, to)
		}
	}
}

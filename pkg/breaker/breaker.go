// ABOUTME: Circuit breaker guarding index queries with a sliding failure window
// ABOUTME: Open circuits recover through a half-open probe phase

// Package breaker implements a three-state circuit breaker. Failures are
// counted over a sliding window; when the threshold trips, calls are
// rejected until a reset timeout elapses, after which a limited number of
// probe calls decide between closing again and re-opening.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/nainya/addressd/internal/logger"
)

// State is the breaker's position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// OpenError is returned for calls rejected by an open circuit. RetryAfter
// is the remaining time until the breaker will probe again.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("breaker: circuit %s open, retry after %s", e.Name, e.RetryAfter.Round(time.Second))
}

// Config tunes one breaker. Zero values take the defaults.
type Config struct {
	// FailureThreshold is the number of windowed failures that trips the
	// circuit. Default 5.
	FailureThreshold int
	// Window is how long a failure counts against the threshold.
	// Default 60s.
	Window time.Duration
	// ResetTimeout is how long an open circuit rejects before probing.
	// Default 30s.
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive probe successes that
	// close the circuit. Default 3.
	SuccessThreshold int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 5
	}
	if out.Window <= 0 {
		out.Window = 60 * time.Second
	}
	if out.ResetTimeout <= 0 {
		out.ResetTimeout = 30 * time.Second
	}
	if out.SuccessThreshold <= 0 {
		out.SuccessThreshold = 3
	}
	return out
}

// Operation is one recorded call outcome inside the sliding window.
type Operation struct {
	At       time.Time
	Success  bool
	Duration time.Duration
	Err      error
}

// Breaker is safe for concurrent use. State transitions happen lazily on
// CanExecute, so an idle open circuit costs nothing.
type Breaker struct {
	name string
	cfg  Config
	log  *logger.Logger
	now  func() time.Time

	mu        sync.Mutex
	state     State
	history   []Operation // call outcomes inside the sliding window
	openedAt  time.Time
	successes int // consecutive probe successes while half-open
	onChange  func(name string, from, to State)
}

// New creates a named breaker. The name appears in rejections and logs.
func New(name string, cfg Config, log *logger.Logger) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		log:   log.Component("breaker"),
		now:   time.Now,
		state: Closed,
	}
}

// SetClock replaces the time source, for tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// OnStateChange registers a transition hook, invoked outside the lock.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Execute runs fn under the breaker, timing it for the history.
// Rejections return *OpenError; fn's own error is recorded and returned
// unchanged.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.CanExecute(); err != nil {
		return err
	}
	start := b.clock()
	err := fn()
	b.record(err == nil, b.clock().Sub(start), err)
	return err
}

func (b *Breaker) clock() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now()
}

// CanExecute reports whether a call may proceed right now. An open
// circuit past its reset timeout transitions to half-open here.
func (b *Breaker) CanExecute() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cfg.ResetTimeout {
			return &OpenError{Name: b.name, RetryAfter: b.cfg.ResetTimeout - elapsed}
		}
		b.transition(HalfOpen)
	}
	return nil
}

// RecordSuccess feeds one successful call back into the breaker.
func (b *Breaker) RecordSuccess() {
	b.record(true, 0, nil)
}

// RecordFailure feeds one failed call back into the breaker.
func (b *Breaker) RecordFailure() {
	b.record(false, 0, nil)
}

// record appends one outcome to the windowed history and applies the
// state rules: probe calls settle the half-open circuit, windowed
// failures trip the closed one.
func (b *Breaker) record(success bool, d time.Duration, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.history = append(b.pruned(now), Operation{At: now, Success: success, Duration: d, Err: err})

	if success {
		if b.state != HalfOpen {
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.history = nil
			b.transition(Closed)
		}
		return
	}

	switch b.state {
	case HalfOpen:
		// One probe failure re-opens immediately.
		b.openedAt = now
		b.transition(Open)
	case Closed:
		if b.windowedFailures() >= b.cfg.FailureThreshold {
			b.openedAt = now
			b.transition(Open)
		}
	}
}

// pruned drops operations that have aged out of the window.
func (b *Breaker) pruned(now time.Time) []Operation {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.history[:0]
	for _, op := range b.history {
		if op.At.After(cutoff) {
			kept = append(kept, op)
		}
	}
	return kept
}

// windowedFailures counts failed operations in the already-pruned
// history. Caller holds the lock.
func (b *Breaker) windowedFailures() int {
	n := 0
	for _, op := range b.history {
		if !op.Success {
			n++
		}
	}
	return n
}

// History returns a copy of the operations still inside the window.
func (b *Breaker) History() []Operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = b.pruned(b.now())
	out := make([]Operation, len(b.history))
	copy(out, b.history)
	return out
}

// State reports the current position without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed and clears all history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
	b.successes = 0
	if b.state != Closed {
		b.transition(Closed)
	}
}

// transition moves to a new state. Caller holds the lock.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.successes = 0

	b.log.Warn().
		Str("breaker", b.name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("circuit state change")

	if b.onChange != nil {
		fn := b.onChange
		go fn(b.name, from, to)
	}
}

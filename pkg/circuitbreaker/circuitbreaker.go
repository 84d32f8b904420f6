// Package circuitbreaker stops sending requests to an origin that keeps
// failing, so strategies fall back to the cache without waiting on the
// network.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the state of the circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Outcome is the result of a guarded request
type Outcome int

const (
	Success Outcome = iota
	Failure
	// Ignored releases the reservation without counting it, for requests
	// the caller abandoned.
	Ignored
)

// ErrOpen is returned while the circuit is open or its probes are taken
var ErrOpen = errors.New("circuit breaker is open")

// Config represents circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold uint32

	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration

	// HalfOpenRequests is the number of probes let through while half-open.
	// All of them must succeed to close the circuit.
	HalfOpenRequests uint32

	// OnStateChange is called whenever the state of a breaker changes
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a default configuration for the circuit breaker
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = d.HalfOpenRequests
	}
	return c
}

// Breaker guards one origin
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu        sync.Mutex
	state     State
	failures  uint32
	openUntil time.Time
	probes    uint32
	successes uint32
}

// New creates a closed breaker
func New(name string, config Config) *Breaker {
	return &Breaker{name: name, config: config.withDefaults(), now: time.Now}
}

// Name returns the breaker name
func (b *Breaker) Name() string { return b.name }

// State returns the current state. An open breaker whose timeout passed
// reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// advance moves an expired open breaker to half-open. Callers hold mu.
func (b *Breaker) advance() {
	if b.state == StateOpen && !b.now().Before(b.openUntil) {
		b.setState(StateHalfOpen)
		b.probes = 0
		b.successes = 0
	}
}

// Allow reserves a request. done must be called with its outcome.
func (b *Breaker) Allow() (done func(Outcome), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case StateOpen:
		return nil, ErrOpen
	case StateHalfOpen:
		if b.probes >= b.config.HalfOpenRequests {
			return nil, ErrOpen
		}
		b.probes++
	}
	state := b.state
	return func(o Outcome) { b.record(state, o) }, nil
}

func (b *Breaker) record(from State, o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Outcomes of requests started in an earlier state are stale.
	if from != b.state {
		return
	}
	if o == Ignored {
		if b.state == StateHalfOpen {
			b.probes--
		}
		return
	}
	success := o == Success
	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		if !success {
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.config.HalfOpenRequests {
			b.failures = 0
			b.setState(StateClosed)
		}
	}
}

func (b *Breaker) trip() {
	b.openUntil = b.now().Add(b.config.OpenTimeout)
	b.setState(StateOpen)
}

func (b *Breaker) setState(state State) {
	prev := b.state
	b.state = state
	if b.config.OnStateChange != nil && prev != state {
		b.config.OnStateChange(b.name, prev, state)
	}
}

// Call runs fn if the breaker allows it and records its error
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	if err != nil {
		done(Failure)
	} else {
		done(Success)
	}
	return err
}

// Set keeps one breaker per name, created on first use
type Set struct {
	config Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet creates an empty set whose breakers share config
func NewSet(config Config) *Set {
	return &Set{config: config, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name
func (s *Set) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = New(name, s.config)
		s.breakers[name] = b
	}
	return b
}

// States reports the state of every known breaker
func (s *Set) States() map[string]State {
	s.mu.Lock()
	breakers := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		breakers = append(breakers, b)
	}
	s.mu.Unlock()

	out := make(map[string]State, len(breakers))
	for _, b := range breakers {
		out[b.name] = b.State()
	}
	return out
}

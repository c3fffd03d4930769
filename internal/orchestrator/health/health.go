// Package health tracks per-provider call outcomes with circuit-breaker
// style states. The tracker is observational: provider selection stays a
// strict deterministic priority chain, but operators see which providers
// are degraded via the status endpoint and metrics.
package health

import (
	"sync"
	"time"

	"github.com/nyuchitech/payments-core/internal/payment"
)

// State is the rolled-up health of one provider.
type State int

const (
	Closed State = iota // healthy
	Open                // failing, cooling down
	HalfOpen            // cooling down elapsed, probing
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

const (
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
	defaultProbeSuccesses   = 2
)

type providerState struct {
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openUntil            time.Time
}

// Tracker records successes and failures per provider and derives a state.
type Tracker struct {
	mu               sync.Mutex
	providers        map[payment.Provider]*providerState
	failureThreshold int
	openTimeout      time.Duration
	probeSuccesses   int
	now              func() time.Time
}

// NewTracker creates a Tracker with default thresholds.
func NewTracker() *Tracker {
	return &Tracker{
		providers:        make(map[payment.Provider]*providerState),
		failureThreshold: defaultFailureThreshold,
		openTimeout:      defaultOpenTimeout,
		probeSuccesses:   defaultProbeSuccesses,
		now:              time.Now,
	}
}

func (t *Tracker) get(p payment.Provider) *providerState {
	ps, ok := t.providers[p]
	if !ok {
		ps = &providerState{state: Closed}
		t.providers[p] = ps
	}
	return ps
}

// RecordSuccess notes a successful provider call.
func (t *Tracker) RecordSuccess(p payment.Provider) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps := t.get(p)
	switch ps.state {
	case Closed:
		ps.consecutiveFailures = 0
	case HalfOpen:
		ps.consecutiveSuccesses++
		if ps.consecutiveSuccesses >= t.probeSuccesses {
			ps.state = Closed
			ps.consecutiveFailures = 0
			ps.consecutiveSuccesses = 0
		}
	case Open:
		// Selection is not gated on health, so calls can succeed while
		// the circuit is open. Treat it as a probe result.
		ps.state = HalfOpen
		ps.consecutiveSuccesses = 1
	}
}

// RecordFailure notes a failed provider call.
func (t *Tracker) RecordFailure(p payment.Provider) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps := t.get(p)
	switch ps.state {
	case Closed:
		ps.consecutiveFailures++
		if ps.consecutiveFailures >= t.failureThreshold {
			ps.state = Open
			ps.openUntil = t.now().Add(t.openTimeout)
		}
	case HalfOpen:
		ps.state = Open
		ps.openUntil = t.now().Add(t.openTimeout)
		ps.consecutiveSuccesses = 0
	case Open:
		ps.openUntil = t.now().Add(t.openTimeout)
	}
}

// StateOf reports the provider's current state, promoting Open to HalfOpen
// once the cool-down has elapsed.
func (t *Tracker) StateOf(p payment.Provider) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.providers[p]
	if !ok {
		return Closed
	}
	if ps.state == Open && t.now().After(ps.openUntil) {
		ps.state = HalfOpen
		ps.consecutiveSuccesses = 0
	}
	return ps.state
}

// Healthy reports whether the provider is not currently Open.
func (t *Tracker) Healthy(p payment.Provider) bool {
	return t.StateOf(p) != Open
}

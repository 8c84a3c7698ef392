package gateway

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Allow while the circuit rejects calls.
var ErrBreakerOpen = errors.New("circuit breaker open")

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerSettings configures a Breaker.
type BreakerSettings struct {
	// FailureThreshold consecutive failures within FailureWindow open the circuit.
	FailureThreshold int
	FailureWindow    time.Duration
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// HalfOpenProbes concurrent probes are admitted; that many successes close it.
	HalfOpenProbes int
}

// Breaker is a Closed/Open/HalfOpen circuit breaker. Timed transitions are
// evaluated against the injected clock whenever the breaker is consulted.
type Breaker struct {
	mu       sync.Mutex
	settings BreakerSettings
	now      func() time.Time
	onChange func(from, to State)

	state          State
	consecutive    int
	firstFailureAt time.Time
	openedAt       time.Time
	probesInFlight int
	probeSuccesses int
}

// NewBreaker creates a closed breaker. now may be nil (time.Now).
func NewBreaker(settings BreakerSettings, now func() time.Time, onChange func(from, to State)) *Breaker {
	if settings.FailureThreshold < 1 {
		settings.FailureThreshold = 1
	}
	if settings.HalfOpenProbes < 1 {
		settings.HalfOpenProbes = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{settings: settings, now: now, onChange: onChange}
}

// State returns the current state after applying any due cooldown transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.now())
	return b.state
}

// Allow admits a call. probe is true when the call is a half-open probe and
// must be reported with probe=true.
func (b *Breaker) Allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.now())
	switch b.state {
	case StateClosed:
		return false, nil
	case StateHalfOpen:
		if b.probesInFlight < b.settings.HalfOpenProbes {
			b.probesInFlight++
			return true, nil
		}
	}
	return false, ErrBreakerOpen
}

// Record reports the outcome of an admitted call. failed=false with
// counted=false releases a probe slot without judging the provider.
func (b *Breaker) Record(probe, counted, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if probe {
		if b.probesInFlight > 0 {
			b.probesInFlight--
		}
		if b.state != StateHalfOpen || !counted {
			return
		}
		if failed {
			b.trip(now)
			return
		}
		b.probeSuccesses++
		if b.probeSuccesses >= b.settings.HalfOpenProbes {
			b.transition(StateClosed)
			b.consecutive = 0
		}
		return
	}

	// Calls admitted while closed that finish after a trip are ignored.
	if b.state != StateClosed || !counted {
		return
	}
	if !failed {
		b.consecutive = 0
		return
	}
	if b.consecutive == 0 || (b.settings.FailureWindow > 0 && now.Sub(b.firstFailureAt) > b.settings.FailureWindow) {
		b.consecutive = 1
		b.firstFailureAt = now
	} else {
		b.consecutive++
	}
	if b.consecutive >= b.settings.FailureThreshold {
		b.trip(now)
	}
}

func (b *Breaker) advance(now time.Time) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.settings.Cooldown {
		b.transition(StateHalfOpen)
		b.probesInFlight = 0
		b.probeSuccesses = 0
	}
}

func (b *Breaker) trip(now time.Time) {
	b.openedAt = now
	b.consecutive = 0
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}

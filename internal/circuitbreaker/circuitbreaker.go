// Package circuitbreaker implements the per-upstream failure breaker the
// HTTP dispatcher consults before opening an upstream exchange. The
// gateway's dispatch model is strictly single-resolve/single-dispatch per
// request (spec.md §2's dispatcher row: "open an upstream exchange",
// singular), so a breaker's state is read exactly once per Dispatch call and
// updated exactly once per settlement — there is no batching or fan-out
// across upstreams to coordinate, unlike a load-balanced or aggregating
// gateway's breaker pool.
//
// Breakers are not addressed by a static per-service config object (the
// teacher's UpstreamConfig carried its own breaker); this gateway's resolver
// produces a dynamic base-URL string per request, so Registry keys breakers
// by that resolved string, creating them lazily and evicting ones that have
// gone idle — a resolver backed by service discovery (§4.1's extension
// point, e.g. a future EurekaResolver) can rotate the set of live upstreams
// under a gateway that never restarts, and an unbounded map would leak.
package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker gates calls to a single resolved upstream base URL.
type CircuitBreaker struct {
	upstream string
	log      *zap.Logger

	mu            sync.Mutex
	state         State
	failures      int
	lastFailureAt time.Time
	lastActivity  time.Time
	halfOpenTrial bool

	threshold    int
	resetTimeout time.Duration
}

// New builds a breaker guarding calls to upstream. log may be nil, in which
// case state transitions are not logged.
func New(upstream string, threshold int, resetTimeout time.Duration, log *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		upstream:     upstream,
		log:          log,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		lastActivity: time.Now(),
	}
}

// Allow reports whether the dispatcher may attempt a call to this breaker's
// upstream right now.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastActivity = time.Now()

	switch b.state {
	case Open:
		if time.Since(b.lastFailureAt) >= b.resetTimeout {
			b.transitionLocked(HalfOpen)
			b.halfOpenTrial = true // this call is the single half-open trial

			return true
		}

		return false
	case HalfOpen:
		if !b.halfOpenTrial {
			b.halfOpenTrial = true

			return true
		}

		return false
	default:
		return true
	}
}

// OnFailure records a failed upstream call.
func (b *CircuitBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = time.Now()
	b.lastActivity = b.lastFailureAt

	switch b.state {
	case HalfOpen:
		b.transitionLocked(Open)
		b.failures = b.threshold
	case Closed:
		b.failures++

		if b.failures >= b.threshold {
			b.transitionLocked(Open)
		}
	}
}

// OnSuccess records a successful upstream call.
func (b *CircuitBreaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastActivity = time.Now()

	switch b.state {
	case HalfOpen:
		b.transitionLocked(Closed)
		b.failures = 0
	case Closed:
		b.failures = 0
	}
}

func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// transitionLocked moves the breaker to newState and logs the change against
// the upstream it guards. Callers must hold b.mu.
func (b *CircuitBreaker) transitionLocked(newState State) {
	if b.state == newState {
		return
	}

	old := b.state
	b.state = newState

	if b.log != nil {
		b.log.Info("circuit breaker state changed",
			zap.String("upstream", b.upstream),
			zap.String("from", old.String()),
			zap.String("to", newState.String()),
		)
	}
}

func (b *CircuitBreaker) idleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lastActivity
}

// Registry hands out one CircuitBreaker per resolved upstream base URL,
// lazily created on first use, and evicts breakers that have seen no
// activity for idleTTL. It is the shared, concurrency-safe resource the
// dispatcher consults before calling an upstream (spec.md §5 "shared
// resources").
type Registry struct {
	threshold    int
	resetTimeout time.Duration
	idleTTL      time.Duration
	log          *zap.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker

	stop chan struct{}
	once sync.Once
}

// NewRegistry builds a registry. If idleTTL is positive, a background sweep
// evicts breakers idle for at least that long; idleTTL <= 0 disables the
// sweep and breakers live for the registry's lifetime.
func NewRegistry(threshold int, resetTimeout, idleTTL time.Duration, log *zap.Logger) *Registry {
	r := &Registry{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		idleTTL:      idleTTL,
		log:          log,
		breakers:     make(map[string]*CircuitBreaker),
		stop:         make(chan struct{}),
	}

	if idleTTL > 0 {
		go r.sweepLoop()
	}

	return r
}

// For returns the breaker for key (a resolved upstream base URL), creating
// one if this is the first request to reach that upstream.
func (r *Registry) For(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[key]
	if !ok {
		cb = New(key, r.threshold, r.resetTimeout, r.log)
		r.breakers[key] = cb
	}

	return cb
}

// Close stops the idle-eviction sweep. Safe to call multiple times, and
// safe to call on a registry whose sweep was never started.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.stop) })
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, cb := range r.breakers {
		if time.Since(cb.idleSince()) >= r.idleTTL {
			delete(r.breakers, key)

			if r.log != nil {
				r.log.Debug("evicted idle circuit breaker", zap.String("upstream", key))
			}
		}
	}
}

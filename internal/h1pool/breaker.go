package h1pool

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned by Pool.Dial when an origin's breaker is
	// open and new connection attempts are being held back.
	ErrCircuitOpen = errors.New("h1pool: circuit open for origin")
	// ErrConnectionBusy is returned by Transport.OpenStream when the
	// connection's single exchange slot is already in use.
	ErrConnectionBusy = errors.New("h1pool: connection busy")
	// ErrConnectionClosed is returned by Transport.OpenStream after Close.
	ErrConnectionClosed = errors.New("h1pool: connection closed")
)

// circuitState is one origin's breaker state, modeled after
// TokenBucketRateLimiter's per-key bucket but counting consecutive
// failures instead of draining a token budget.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// BreakerConfig tunes the consecutive-5xx circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive 5xx responses (or
	// dial failures) before the circuit opens.
	FailureThreshold int
	// OpenDuration is how long the circuit stays open before allowing
	// one half-open probe attempt.
	OpenDuration time.Duration
	// MaxOpenDuration caps the exponential backoff applied across
	// repeated trips.
	MaxOpenDuration time.Duration
	// CleanupInterval controls how often stale per-origin entries are
	// swept, mirroring TokenBucketRateLimiter's cleanup cadence.
	CleanupInterval time.Duration
}

// DefaultBreakerConfig mirrors the defaults used by the rate limiter's
// token bucket: small thresholds, bounded backoff, periodic cleanup.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		OpenDuration:     1 * time.Second,
		MaxOpenDuration:  2 * time.Minute,
		CleanupInterval:  10 * time.Minute,
	}
}

type originBreaker struct {
	state      circuitState
	failures   int
	trips      int
	openUntil  time.Time
	lastUpdate time.Time
}

// Breaker is a per-origin consecutive-failure circuit breaker guarding
// HTTP/1.1 connection attempts. It tracks state the same way
// TokenBucketRateLimiter tracks per-key buckets (a map guarded by one
// mutex, lazily swept), but the signal is consecutive 5xx/dial failures
// opening the circuit rather than a request-rate budget closing it.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	origins     map[string]*originBreaker
	lastCleanup time.Time
}

// NewBreaker returns a Breaker using cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = time.Second
	}
	if cfg.MaxOpenDuration <= 0 {
		cfg.MaxOpenDuration = 2 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	return &Breaker{cfg: cfg, origins: map[string]*originBreaker{}, lastCleanup: time.Now()}
}

// Allow reports whether a new connection attempt (or reused idle socket)
// may be used for origin right now. An open circuit permits exactly one
// half-open probe once OpenDuration (scaled by prior trips) has elapsed.
func (b *Breaker) Allow(origin string) bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanupLocked(now)

	ob := b.origins[origin]
	if ob == nil {
		return true
	}
	switch ob.state {
	case circuitClosed:
		return true
	case circuitHalfOpen:
		return false
	default: // circuitOpen
		if now.Before(ob.openUntil) {
			return false
		}
		ob.state = circuitHalfOpen
		ob.lastUpdate = now
		return true
	}
}

// RecordFailure registers a dial failure or 5xx response for origin. If
// this pushes consecutive failures to the threshold (or the half-open
// probe itself failed), the circuit opens, with the open window doubling
// on each successive trip up to MaxOpenDuration.
func (b *Breaker) RecordFailure(origin string) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	ob := b.origins[origin]
	if ob == nil {
		ob = &originBreaker{}
		b.origins[origin] = ob
	}
	ob.lastUpdate = now

	if ob.state == circuitHalfOpen {
		b.tripLocked(ob, now)
		return
	}
	ob.failures++
	if ob.failures >= b.cfg.FailureThreshold {
		b.tripLocked(ob, now)
	}
}

func (b *Breaker) tripLocked(ob *originBreaker, now time.Time) {
	ob.state = circuitOpen
	ob.failures = 0
	ob.trips++
	backoff := b.cfg.OpenDuration << uint(ob.trips-1)
	if backoff <= 0 || backoff > b.cfg.MaxOpenDuration {
		backoff = b.cfg.MaxOpenDuration
	}
	ob.openUntil = now.Add(backoff)
}

// RecordSuccess registers a non-5xx response for origin, closing the
// circuit and resetting its failure count and trip backoff.
func (b *Breaker) RecordSuccess(origin string) {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	ob := b.origins[origin]
	if ob == nil {
		return
	}
	ob.state = circuitClosed
	ob.failures = 0
	ob.trips = 0
	ob.lastUpdate = now
}

// cleanupLocked drops origin entries idle since before CleanupInterval,
// bounding memory for a long-lived process seeing many distinct origins.
func (b *Breaker) cleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < b.cfg.CleanupInterval {
		return
	}
	b.lastCleanup = now
	for origin, ob := range b.origins {
		if ob.state == circuitClosed && now.Sub(ob.lastUpdate) > b.cfg.CleanupInterval {
			delete(b.origins, origin)
		}
	}
}

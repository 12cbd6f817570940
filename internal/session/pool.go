package session

import (
	"context"
	"sync"
	"time"

	"github.com/meridian-net/netengine/internal/engine"
	"github.com/meridian-net/netengine/internal/resolver"
)

// Dialer establishes a new Transport for key. http3Acceptable is true
// when the caller may use HTTP/3 (no pinned-to-H2 requirement, and QUIC
// is not known to be broken for this origin); the dialer races/selects
// among protocols and returns whichever it lands on.
type Dialer func(ctx context.Context, key Key, http3Acceptable bool) (Transport, error)

// pendingEstablish is the in-flight latch for "at most one concurrent
// session establishment per key", mirroring the singleflight shape used
// by the DNS resolver.
type pendingEstablish struct {
	done    chan struct{}
	session *Session
	err     error
}

// Pool is the session pool: per-Key reusable transport sessions, with at
// most one in-flight establishment per key and idle-connection reuse.
type Pool struct {
	dial   Dialer
	altSvc *AltSvcRegistry

	mu       sync.Mutex
	sessions map[Key][]*Session
	pending  map[Key]*pendingEstablish
	closed   bool
}

// NewPool returns a Pool that establishes new sessions via dial.
func NewPool(dial Dialer, altSvc *AltSvcRegistry) *Pool {
	if altSvc == nil {
		altSvc = NewAltSvcRegistry()
	}
	return &Pool{
		dial:     dial,
		altSvc:   altSvc,
		sessions: map[Key][]*Session{},
		pending:  map[Key]*pendingEstablish{},
	}
}

// AltSvcRegistry returns the pool's Alt-Svc hint/backoff tracker.
func (p *Pool) AltSvcRegistry() *AltSvcRegistry { return p.altSvc }

// AcquireStream returns a Stream for key, per the ordered preference:
//
//  1. an existing ACTIVE multiplexed session under its concurrent-stream
//     limit;
//  2. an idle HTTP/1.1 connection parked in the pool for this key;
//  3. a newly established session, racing protocols per the Alt-Svc hint
//     and QUIC availability via the Dialer — with at most one
//     establishment in flight per key, so concurrent callers for the
//     same key share the outcome of a single dial.
func (p *Pool) AcquireStream(ctx context.Context, key Key, http3Acceptable bool) (*Stream, error) {
	key.Origin = key.Origin.Normalized()

	if st, ok := p.tryExisting(key); ok {
		return st, nil
	}

	sess, err := p.establish(ctx, key, http3Acceptable)
	if err != nil {
		return nil, err
	}
	return sess.OpenStream()
}

// tryExisting attempts preference (1) then (2) against sessions already
// held for key, pruning any it finds CLOSED along the way.
func (p *Pool) tryExisting(key Key) (*Stream, bool) {
	p.mu.Lock()
	list := p.sessions[key]
	live := list[:0:0]
	var candidate *Session
	for _, s := range list {
		if s.State() == StateClosed {
			continue
		}
		live = append(live, s)
		if candidate == nil && s.CanAcceptStream() {
			candidate = s
		}
	}
	p.sessions[key] = live
	p.mu.Unlock()

	if candidate == nil {
		return nil, false
	}
	st, err := candidate.OpenStream()
	if err != nil {
		return nil, false
	}
	return st, true
}

// establish returns a usable Session for key, either by joining an
// in-flight dial already running for this key or by starting one.
func (p *Pool) establish(ctx context.Context, key Key, http3Acceptable bool) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if pe, ok := p.pending[key]; ok {
		p.mu.Unlock()
		return p.waitFor(ctx, pe)
	}
	pe := &pendingEstablish{done: make(chan struct{})}
	p.pending[key] = pe
	p.mu.Unlock()

	p.runEstablish(key, http3Acceptable, pe)
	return p.waitFor(ctx, pe)
}

func (p *Pool) runEstablish(key Key, http3Acceptable bool, pe *pendingEstablish) {
	now := time.Now()
	acceptable := http3Acceptable && !p.altSvc.IsBroken(key.Origin, now)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	transport, err := p.dial(ctx, key, acceptable)
	if err != nil {
		if acceptable {
			p.altSvc.MarkBroken(key.Origin, time.Now())
		}
		pe.err = err
		close(pe.done)
		p.mu.Lock()
		delete(p.pending, key)
		p.mu.Unlock()
		return
	}

	if acceptable {
		p.altSvc.MarkHealthy(key.Origin)
	}

	sess := NewSession(key, transport)
	sess.MarkActive()
	pe.session = sess

	p.mu.Lock()
	p.sessions[key] = append(p.sessions[key], sess)
	delete(p.pending, key)
	p.mu.Unlock()

	close(pe.done)
}

func (p *Pool) waitFor(ctx context.Context, pe *pendingEstablish) (*Session, error) {
	select {
	case <-pe.done:
		return pe.session, pe.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DrainOrigin marks every live session for key DRAINING, so no new
// streams are accepted while in-flight streams finish naturally.
func (p *Pool) DrainOrigin(key Key) {
	key.Origin = key.Origin.Normalized()
	p.mu.Lock()
	sessions := append([]*Session(nil), p.sessions[key]...)
	p.mu.Unlock()
	for _, s := range sessions {
		s.MarkDraining()
	}
}

// NotifyDefaultNetworkChanged drives every live session whose Transport
// implements NetworkMigrator (currently QUIC) through its connection-
// migration state machine, against the new OS default network, and acts
// on the result: closing the session, marking it draining, or — on a
// completed migration — moving it from its old binding's bucket to its
// new one so FlushNetwork and Snapshot reflect where it actually runs
// now. Sessions whose Transport doesn't implement NetworkMigrator are
// left untouched; call FlushNetwork(previous) afterward to evict those.
func (p *Pool) NotifyDefaultNetworkChanged(newDefault engine.NetworkBinding) {
	type candidate struct {
		key Key
		s   *Session
		m   NetworkMigrator
	}

	p.mu.Lock()
	var candidates []candidate
	for key, list := range p.sessions {
		for _, s := range list {
			if m, ok := s.transport.(NetworkMigrator); ok {
				candidates = append(candidates, candidate{key: key, s: s, m: m})
			}
		}
	}
	p.mu.Unlock()

	for _, c := range candidates {
		switch c.m.NotifyDefaultNetworkChanged(newDefault) {
		case MigrationActionClose:
			_ = c.s.Close()
		case MigrationActionDrain:
			c.s.MarkDraining()
		case MigrationActionMigrate:
			p.rebind(c.key, c.s, c.m.MigratedBinding())
		}
	}
}

// rebind relocates s from oldKey's bucket to the bucket matching
// newBinding, updating its own Key in step. Called once a session's
// migrator reports a completed migration.
func (p *Pool) rebind(oldKey Key, s *Session, newBinding engine.NetworkBinding) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.sessions[oldKey]
	for i, cand := range list {
		if cand == s {
			p.sessions[oldKey] = append(list[:i], list[i+1:]...)
			break
		}
	}

	s.key.Binding = newBinding

	newKey := oldKey
	newKey.Binding = newBinding
	p.sessions[newKey] = append(p.sessions[newKey], s)
}

// FlushNetwork closes every session pinned to binding, for use on
// network-change notification — the pool's analogue of the host cache's
// FlushNetwork.
func (p *Pool) FlushNetwork(binding engine.NetworkBinding) {
	p.mu.Lock()
	var toClose []*Session
	for key, list := range p.sessions {
		if key.Binding != binding {
			continue
		}
		toClose = append(toClose, list...)
		delete(p.sessions, key)
	}
	p.mu.Unlock()
	for _, s := range toClose {
		_ = s.Close()
	}
}

// Close closes every session held by the pool and marks it closed to new
// establishment requests.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	var all []*Session
	for _, list := range p.sessions {
		all = append(all, list...)
	}
	p.sessions = map[Key][]*Session{}
	p.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
	return nil
}

// Info is a point-in-time snapshot of one Session, for introspection.
type Info struct {
	Key           Key
	Protocol      Protocol
	State         State
	ActiveStreams int
	AliveSince    time.Time
}

// Snapshot returns Info for every session the pool currently holds,
// across all keys, for introspection endpoints.
func (p *Pool) Snapshot() []Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Info
	for key, list := range p.sessions {
		for _, s := range list {
			out = append(out, Info{
				Key:           key,
				Protocol:      s.Protocol(),
				State:         s.State(),
				ActiveStreams: s.ActiveStreamCount(),
				AliveSince:    s.AliveSince(),
			})
		}
	}
	return out
}

// WarmEndpoints satisfies resolver.ConnectionWarmer: it is a best-effort
// hint and currently a no-op placeholder, since pre-establishing a
// session needs a Key (scheme+host+port+privacy), not just resolved
// endpoints. The engine wires this up once it can supply that context
// from the in-flight request that triggered the stale-DNS preconnect.
func (p *Pool) WarmEndpoints(engine.NetworkBinding, []resolver.Endpoint) {}

package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridian-net/netengine/internal/engine"
)

// State is a Session's lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Protocol identifies the transport a Session multiplexes streams over.
type Protocol int

const (
	ProtocolHTTP1 Protocol = iota
	ProtocolHTTP2
	ProtocolHTTP3
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP2:
		return "h2"
	case ProtocolHTTP3:
		return "h3"
	default:
		return "http/1.1"
	}
}

// Transport is the minimal contract a protocol implementation (h1pool,
// h2, quic) must satisfy for the pool to drive it generically.
type Transport interface {
	Protocol() Protocol
	MaxConcurrentStreams() int
	OpenStream() (any, error)
	Close() error
}

// Session is a transport object in one of {CONNECTING, ACTIVE, DRAINING,
// CLOSED}. It holds a NetworkBinding, an optional server connection ID
// (populated only for QUIC sessions), a set of Streams, and activity
// timestamps used by idle/keep-alive and migration logic.
type Session struct {
	key       Key
	transport Transport

	mu           sync.Mutex
	state        State
	serverConnID string
	streams      map[uint64]*Stream
	nextStreamID uint64
	aliveSince   time.Time
	lastIdle     time.Time

	activeStreams atomic.Int64
}

// NewSession wraps transport as a Session keyed by key, starting in
// CONNECTING.
func NewSession(key Key, transport Transport) *Session {
	now := time.Now()
	return &Session{
		key:        key,
		transport:  transport,
		state:      StateConnecting,
		streams:    map[uint64]*Stream{},
		aliveSince: now,
		lastIdle:   now,
	}
}

// Key returns the SessionKey this session was created for.
func (s *Session) Key() Key { return s.key }

// Binding returns the NetworkBinding the session's sockets are pinned to.
func (s *Session) Binding() engine.NetworkBinding { return s.key.Binding }

// Protocol returns the underlying transport protocol.
func (s *Session) Protocol() Protocol { return s.transport.Protocol() }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MarkActive transitions CONNECTING→ACTIVE. A no-op from any other state.
func (s *Session) MarkActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.state = StateActive
	}
}

// MarkDraining transitions the session to DRAINING: per invariant I4, no
// new Streams are accepted from this point, though existing Streams may
// continue to completion.
func (s *Session) MarkDraining() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateDraining
}

// SetServerConnectionID records the QUIC connection ID currently in use,
// for diagnostics and migration bookkeeping. No-op for non-QUIC sessions.
func (s *Session) SetServerConnectionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverConnID = id
}

// ServerConnectionID returns the last recorded QUIC connection ID, or ""
// for non-QUIC sessions.
func (s *Session) ServerConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverConnID
}

// CanAcceptStream reports whether the session may originate a new Stream:
// it must be ACTIVE (not CONNECTING, DRAINING, or CLOSED — I4) and under
// its transport's concurrent-stream limit.
func (s *Session) CanAcceptStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return false
	}
	max := s.transport.MaxConcurrentStreams()
	return max <= 0 || int(s.activeStreams.Load()) < max
}

// OpenStream asks the transport for a new underlying stream and wraps it
// in a Stream, bumping the session's activity timestamp and active-stream
// count. Returns an error if the session cannot accept new streams.
func (s *Session) OpenStream() (*Stream, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil, ErrSessionNotAcceptingStreams
	}
	s.nextStreamID++
	id := s.nextStreamID
	s.lastIdle = time.Time{}
	s.mu.Unlock()

	exchange, err := s.transport.OpenStream()
	if err != nil {
		return nil, err
	}

	st := newStream(id, s, exchange)
	s.mu.Lock()
	s.streams[id] = st
	s.mu.Unlock()
	s.activeStreams.Add(1)
	return st, nil
}

// CloseStream removes a finished stream from the session's bookkeeping.
// When the last stream closes, the session's idle timestamp is reset so
// an HTTP/1.1 keep-alive timer or idle-migration check can key off it.
func (s *Session) CloseStream(id uint64) {
	s.mu.Lock()
	if st, ok := s.streams[id]; ok {
		delete(s.streams, id)
		s.mu.Unlock()
		st.Close()
		s.activeStreams.Add(-1)
		if s.activeStreams.Load() == 0 {
			s.mu.Lock()
			s.lastIdle = time.Now()
			s.mu.Unlock()
		}
		return
	}
	s.mu.Unlock()
}

// ActiveStreamCount returns the number of Streams not yet CLOSED.
func (s *Session) ActiveStreamCount() int { return int(s.activeStreams.Load()) }

// IdleSince returns the time the session last had zero active streams,
// or the zero Time if it currently has active streams.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIdle
}

// AliveSince returns when the session was created.
func (s *Session) AliveSince() time.Time { return s.aliveSince }

// Close transitions the session to CLOSED, failing every still-open
// Stream and closing the underlying transport. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	streams := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.streams = map[uint64]*Stream{}
	s.mu.Unlock()

	for _, st := range streams {
		st.Close()
	}
	s.activeStreams.Store(0)
	return s.transport.Close()
}

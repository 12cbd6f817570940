package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// exchanger is satisfied by every protocol's per-request object
// (h1pool.Exchange, h2.Exchange, quic.Exchange): a single request/response
// carried on the underlying stream or connection slot.
type exchanger interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// StreamState is the lifecycle of an application-visible Stream.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamHeadersSent
	StreamBodyStreaming
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "IDLE"
	case StreamHeadersSent:
		return "HEADERS_SENT"
	case StreamBodyStreaming:
		return "BODY_STREAMING"
	case StreamHalfClosedLocal:
		return "HALF_CLOSED_LOCAL"
	case StreamHalfClosedRemote:
		return "HALF_CLOSED_REMOTE"
	case StreamClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Stream is the application-visible unit of work multiplexed onto a
// Session. A Stream belongs to exactly one Session until it reaches
// StreamClosed — that invariant is enforced by never reassigning
// session once set at creation; QUIC migration swaps the Session's
// underlying path, never a Stream's owning Session.
type Stream struct {
	id       uint64
	session  *Session
	exchange exchanger

	mu    sync.Mutex
	state StreamState
}

func newStream(id uint64, s *Session, exchange any) *Stream {
	ex, _ := exchange.(exchanger)
	return &Stream{id: id, session: s, exchange: ex, state: StreamIdle}
}

// Do carries req to completion over this Stream's underlying exchange,
// advancing the stream's lifecycle state around the call. It is the
// only way to actually send a request; every protocol's OpenStream
// result satisfies exchanger.
func (s *Stream) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if s.exchange == nil {
		return nil, fmt.Errorf("session: stream %d has no underlying exchange", s.id)
	}
	if !s.transition(StreamHeadersSent) {
		return nil, fmt.Errorf("session: stream %d already closed", s.id)
	}
	s.transition(StreamBodyStreaming)
	resp, err := s.exchange.Do(ctx, req)
	if err != nil {
		s.transition(StreamClosed)
		return nil, err
	}
	s.transition(StreamHalfClosedLocal)
	return resp, nil
}

// ID returns the stream's session-scoped identifier.
func (s *Stream) ID() uint64 { return s.id }

// Session returns the Session this Stream belongs to. The result never
// changes over the Stream's lifetime.
func (s *Stream) Session() *Session { return s.session }

// State returns the stream's current lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the stream to next, returning false if the move is
// not a legal forward transition (closed streams never move again).
func (s *Stream) transition(next StreamState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamClosed {
		return false
	}
	s.state = next
	return true
}

// Close marks the stream CLOSED regardless of its current state,
// idempotently.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StreamClosed
}

package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	proto    Protocol
	maxStr   int
	opened   int
	closed   bool
	failOpen bool
}

func (f *fakeTransport) Protocol() Protocol          { return f.proto }
func (f *fakeTransport) MaxConcurrentStreams() int   { return f.maxStr }
func (f *fakeTransport) Close() error                { f.closed = true; return nil }
func (f *fakeTransport) OpenStream() (any, error) {
	if f.failOpen {
		return nil, errors.New("dial refused")
	}
	f.opened++
	return f.opened, nil
}

func testKey() Key {
	return Key{Origin: Origin{Scheme: SchemeHTTPS, Host: "example.com", Port: 443}}
}

func TestSessionStartsConnectingThenActive(t *testing.T) {
	tr := &fakeTransport{proto: ProtocolHTTP2, maxStr: 100}
	s := NewSession(testKey(), tr)
	assert.Equal(t, StateConnecting, s.State())

	s.MarkActive()
	assert.Equal(t, StateActive, s.State())
}

func TestSessionRejectsStreamsBeforeActive(t *testing.T) {
	tr := &fakeTransport{proto: ProtocolHTTP2, maxStr: 100}
	s := NewSession(testKey(), tr)
	_, err := s.OpenStream()
	require.ErrorIs(t, err, ErrSessionNotAcceptingStreams)
}

func TestSessionDrainingRejectsNewStreams(t *testing.T) {
	tr := &fakeTransport{proto: ProtocolHTTP2, maxStr: 100}
	s := NewSession(testKey(), tr)
	s.MarkActive()
	s.MarkDraining()
	assert.False(t, s.CanAcceptStream())
	_, err := s.OpenStream()
	require.Error(t, err)
}

func TestSessionRespectsMaxConcurrentStreams(t *testing.T) {
	tr := &fakeTransport{proto: ProtocolHTTP2, maxStr: 1}
	s := NewSession(testKey(), tr)
	s.MarkActive()

	_, err := s.OpenStream()
	require.NoError(t, err)
	assert.False(t, s.CanAcceptStream())
}

func TestSessionCloseStreamResetsIdle(t *testing.T) {
	tr := &fakeTransport{proto: ProtocolHTTP1, maxStr: 0}
	s := NewSession(testKey(), tr)
	s.MarkActive()

	st, err := s.OpenStream()
	require.NoError(t, err)
	assert.True(t, s.IdleSince().IsZero())

	s.CloseStream(st.ID())
	assert.Equal(t, 0, s.ActiveStreamCount())
	assert.False(t, s.IdleSince().IsZero())
	assert.Equal(t, StreamClosed, st.State())
}

func TestSessionCloseFailsOpenStreamsAndIsIdempotent(t *testing.T) {
	tr := &fakeTransport{proto: ProtocolHTTP2, maxStr: 100}
	s := NewSession(testKey(), tr)
	s.MarkActive()

	st, err := s.OpenStream()
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, StreamClosed, st.State())
	assert.True(t, tr.closed)

	require.NoError(t, s.Close())
}

func TestStreamTransitionRejectsAfterClose(t *testing.T) {
	s := newStream(1, nil, nil)
	assert.True(t, s.transition(StreamHeadersSent))
	s.Close()
	assert.False(t, s.transition(StreamBodyStreaming))
	assert.Equal(t, StreamClosed, s.State())
}

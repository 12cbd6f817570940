package h1pool

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConn(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestTransportOpenStreamOnlyOnce(t *testing.T) {
	p := NewPool(nil)
	client, _ := pipeConn(t)
	tr := NewTransport(p, "example.com:443", client, bufio.NewReader(client))

	_, err := tr.OpenStream()
	require.NoError(t, err)

	_, err = tr.OpenStream()
	assert.ErrorIs(t, err, ErrConnectionBusy)
}

func TestTransportOpenStreamAfterCloseFails(t *testing.T) {
	p := NewPool(nil)
	client, _ := pipeConn(t)
	tr := NewTransport(p, "example.com:443", client, bufio.NewReader(client))
	require.NoError(t, tr.Close())

	_, err := tr.OpenStream()
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestTransportReleaseParksOnKeepAlive(t *testing.T) {
	p := NewPool(nil)
	client, _ := pipeConn(t)
	addr := "example.com:443"
	tr := NewTransport(p, addr, client, bufio.NewReader(client))

	_, err := tr.OpenStream()
	require.NoError(t, err)
	tr.Release(true, 200)

	_, ok := p.takeIdle(addr)
	assert.True(t, ok)
}

func TestTransportReleaseClosesWithoutKeepAlive(t *testing.T) {
	p := NewPool(NewBreaker(BreakerConfig{FailureThreshold: 1, OpenDuration: time.Minute, MaxOpenDuration: time.Minute, CleanupInterval: time.Hour}))
	client, _ := pipeConn(t)
	addr := "example.com:443"
	tr := NewTransport(p, addr, client, bufio.NewReader(client))

	_, err := tr.OpenStream()
	require.NoError(t, err)
	tr.Release(false, 503)

	_, ok := p.takeIdle(addr)
	assert.False(t, ok)
	assert.False(t, p.breaker.Allow(addr), "a 503 should have registered as a breaker failure")
}

func TestPoolParkRespectsMaxIdle(t *testing.T) {
	p := NewPool(nil)
	p.maxIdle = 1
	addr := "example.com:443"

	c1, _ := pipeConn(t)
	c2, _ := pipeConn(t)
	p.Park(addr, c1, bufio.NewReader(c1))
	p.Park(addr, c2, bufio.NewReader(c2))

	assert.Len(t, p.idle[addr], 1)
}

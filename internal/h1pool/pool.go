// Package h1pool implements the HTTP/1.1 connection pool: per-origin
// bounded idle-socket parking with keep-alive, pipelining disabled, and a
// consecutive-5xx circuit breaker guarding new connection attempts.
package h1pool

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/meridian-net/netengine/internal/session"
)

const (
	defaultMaxIdlePerOrigin = 6
	defaultIdleTimeout      = 90 * time.Second
	defaultDialTimeout      = 10 * time.Second
)

// idleConn is one parked keep-alive socket.
type idleConn struct {
	conn   net.Conn
	br     *bufio.Reader
	parked time.Time
}

// Pool manages idle HTTP/1.1 sockets per origin address and dials fresh
// ones on demand, gated by a Breaker.
type Pool struct {
	dialer      *net.Dialer
	maxIdle     int
	idleTimeout time.Duration
	breaker     *Breaker

	mu    sync.Mutex
	idle  map[string][]*idleConn
}

// NewPool returns a Pool with the given idle-connection breaker. A nil
// breaker is replaced by one built from DefaultBreakerConfig.
func NewPool(breaker *Breaker) *Pool {
	if breaker == nil {
		breaker = NewBreaker(DefaultBreakerConfig())
	}
	return &Pool{
		dialer:      &net.Dialer{Timeout: defaultDialTimeout},
		maxIdle:     defaultMaxIdlePerOrigin,
		idleTimeout: defaultIdleTimeout,
		breaker:     breaker,
		idle:        map[string][]*idleConn{},
	}
}

// Dial implements session.Dialer: it reuses a parked idle socket for
// addr when one is available and still fresh, otherwise opens a new TCP
// connection (TLS is layered on by the caller via tlsConfig, since a
// plain net.Conn here may be wrapped before use). Pipelining is never
// used: MaxConcurrentStreams is always 1 on the returned Transport.
func (p *Pool) Dial(ctx context.Context, addr string) (net.Conn, *bufio.Reader, error) {
	if !p.breaker.Allow(addr) {
		return nil, nil, ErrCircuitOpen
	}

	if ic, ok := p.takeIdle(addr); ok {
		return ic.conn, ic.br, nil
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		p.breaker.RecordFailure(addr)
		return nil, nil, err
	}
	return conn, bufio.NewReader(conn), nil
}

func (p *Pool) takeIdle(addr string) (*idleConn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.idle[addr]
	now := time.Now()
	for len(list) > 0 {
		ic := list[len(list)-1]
		list = list[:len(list)-1]
		p.idle[addr] = list
		if now.Sub(ic.parked) > p.idleTimeout {
			ic.conn.Close()
			continue
		}
		return ic, true
	}
	return nil, false
}

// Park returns conn to the idle pool for addr for potential reuse,
// unless the pool for that origin is already at capacity, in which case
// the socket is closed.
func (p *Pool) Park(addr string, conn net.Conn, br *bufio.Reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle[addr]) >= p.maxIdle {
		conn.Close()
		return
	}
	p.idle[addr] = append(p.idle[addr], &idleConn{conn: conn, br: br, parked: time.Now()})
}

// Breaker exposes the pool's circuit breaker for callers that need to
// report response outcomes (see RecordResponse).
func (p *Pool) Breaker() *Breaker { return p.breaker }

// RecordResponse feeds a completed response's status code back into the
// breaker: 5xx counts as a failure, anything else as a success.
func (p *Pool) RecordResponse(addr string, statusCode int) {
	if statusCode >= 500 {
		p.breaker.RecordFailure(addr)
		return
	}
	p.breaker.RecordSuccess(addr)
}

// CloseIdle closes and discards every parked connection, for shutdown.
func (p *Pool) CloseIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, list := range p.idle {
		for _, ic := range list {
			ic.conn.Close()
		}
		delete(p.idle, addr)
	}
}

// Transport adapts one live HTTP/1.1 connection to session.Transport.
// Because HTTP/1.1 has no multiplexing, MaxConcurrentStreams is always 1
// and OpenStream can be called again only after the previous stream's
// response has been fully read and the connection returned via Release.
type Transport struct {
	pool *Pool
	addr string

	mu     sync.Mutex
	conn   net.Conn
	br     *bufio.Reader
	busy   bool
	closed bool
}

// NewTransport wraps conn/br (as returned by Pool.Dial) for addr.
func NewTransport(pool *Pool, addr string, conn net.Conn, br *bufio.Reader) *Transport {
	return &Transport{pool: pool, addr: addr, conn: conn, br: br}
}

func (t *Transport) Protocol() session.Protocol { return session.ProtocolHTTP1 }

func (t *Transport) MaxConcurrentStreams() int { return 1 }

// OpenStream returns the live *http.Request writer/reader pair for the
// single in-flight exchange this connection can carry at a time.
func (t *Transport) OpenStream() (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrConnectionClosed
	}
	if t.busy {
		return nil, ErrConnectionBusy
	}
	t.busy = true
	return &Exchange{transport: t, conn: t.conn, br: t.br}, nil
}

// Release ends the single exchange this connection can carry, either
// parking the connection for reuse (keepAlive) or closing it.
func (t *Transport) Release(keepAlive bool, statusCode int) {
	t.mu.Lock()
	t.busy = false
	conn, br := t.conn, t.br
	t.mu.Unlock()

	t.pool.RecordResponse(t.addr, statusCode)
	if keepAlive && !t.closed {
		t.pool.Park(t.addr, conn, br)
		return
	}
	t.Close()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// Exchange is the single request/response round-trip a Transport can
// carry before it must be released back to the pool or closed.
type Exchange struct {
	transport *Transport
	conn      net.Conn
	br        *bufio.Reader
}

// Do writes req to the wire and reads its response, honoring ctx's
// deadline if any.
func (e *Exchange) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if dl, ok := ctx.Deadline(); ok {
		e.conn.SetDeadline(dl)
		defer e.conn.SetDeadline(time.Time{})
	}
	if err := req.Write(e.conn); err != nil {
		return nil, err
	}
	return http.ReadResponse(e.br, req)
}

package resolver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/meridian-net/netengine/internal/dnswire"
)

const (
	builtinUDPTimeout       = 3 * time.Second
	builtinTCPTimeout       = 5 * time.Second
	builtinMaxRetries       = 2
	builtinPoolSize         = 8
	builtinRecoveryDuration = 10 * time.Minute
	builtinEDNSUDPPayload   = dnswire.EDNSDefaultUDPPayloadSize
)

// ErrNoUpstreams is returned when every configured upstream recursive
// resolver is currently marked unhealthy.
var ErrNoUpstreams = errors.New("resolver: no healthy upstream resolvers")

// builtinResolver asks upstream recursive resolvers directly over UDP,
// falling back to TCP on truncation, pooling up to builtinPoolSize UDP
// sockets per upstream and tracking upstream health the way a forwarding server tracks the
// health of the resolvers it forwards to.
type builtinResolver struct {
	upstreams []string

	healthMu     sync.Mutex
	failedAt     map[string]time.Time
	nextUpstream int

	poolMu sync.Mutex
	pools  map[string]chan *net.UDPConn
}

func newBuiltinResolver(upstreams []string) *builtinResolver {
	return &builtinResolver{
		upstreams: upstreams,
		failedAt:  map[string]time.Time{},
		pools:     map[string]chan *net.UDPConn{},
	}
}

// lookup queries qtype records for name, trying each healthy upstream in
// rotation, and returns the raw answer records plus the minimum TTL
// observed among them.
func (b *builtinResolver) lookup(ctx context.Context, name string, qtype uint16) ([]dnswire.Record, time.Duration, error) {
	if len(b.upstreams) == 0 {
		return nil, 0, ErrNoUpstreams
	}

	query, err := dnswire.NewQuery(name, qtype, builtinEDNSUDPPayload, false)
	if err != nil {
		return nil, 0, fmt.Errorf("resolver: building query: %w", err)
	}
	queryBytes, err := query.Marshal()
	if err != nil {
		return nil, 0, fmt.Errorf("resolver: marshaling query: %w", err)
	}

	start := b.selectStart()
	var lastErr error
	for i := 0; i < len(b.upstreams); i++ {
		upstream := b.upstreams[(start+i)%len(b.upstreams)]
		if !b.canTry(upstream) {
			continue
		}

		resp, err := b.queryOne(ctx, upstream, queryBytes)
		if err != nil {
			lastErr = err
			b.markFailed(upstream)
			continue
		}
		b.markHealthy(upstream)

		msg, err := dnswire.ParseMessage(resp)
		if err != nil {
			lastErr = fmt.Errorf("resolver: parsing response from %s: %w", upstream, err)
			continue
		}
		return classify(msg, qtype)
	}

	if lastErr != nil {
		return nil, 0, lastErr
	}
	return nil, 0, ErrNoUpstreams
}

func classify(msg dnswire.Message, qtype uint16) ([]dnswire.Record, time.Duration, error) {
	switch dnswire.RCodeFromFlags(msg.Header.Flags) {
	case dnswire.RCodeNoError:
	case dnswire.RCodeNXDomain:
		return nil, 0, &LookupError{NotFound: true}
	default:
		return nil, 0, fmt.Errorf("resolver: upstream returned rcode %d", dnswire.RCodeFromFlags(msg.Header.Flags))
	}

	var matched []dnswire.Record
	minTTL := time.Duration(0)
	for _, rr := range msg.Answers {
		if rr.Type != qtype {
			continue
		}
		matched = append(matched, rr)
		ttl := time.Duration(rr.TTL) * time.Second
		if minTTL == 0 || ttl < minTTL {
			minTTL = ttl
		}
	}
	if len(matched) == 0 {
		return nil, 0, &LookupError{NotFound: true}
	}
	return matched, minTTL, nil
}

func (b *builtinResolver) selectStart() int {
	b.healthMu.Lock()
	defer b.healthMu.Unlock()
	n := b.nextUpstream
	b.nextUpstream = (b.nextUpstream + 1) % len(b.upstreams)
	return n
}

func (b *builtinResolver) canTry(upstream string) bool {
	b.healthMu.Lock()
	defer b.healthMu.Unlock()
	failedAt, failed := b.failedAt[upstream]
	return !failed || time.Since(failedAt) > builtinRecoveryDuration
}

func (b *builtinResolver) markFailed(upstream string) {
	b.healthMu.Lock()
	defer b.healthMu.Unlock()
	b.failedAt[upstream] = time.Now()
}

func (b *builtinResolver) markHealthy(upstream string) {
	b.healthMu.Lock()
	defer b.healthMu.Unlock()
	delete(b.failedAt, upstream)
}

func (b *builtinResolver) queryOne(ctx context.Context, upstream string, queryBytes []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= builtinMaxRetries; attempt++ {
		resp, truncated, err := b.queryUDP(ctx, upstream, queryBytes)
		if err != nil {
			lastErr = err
			if isTimeout(err) {
				continue
			}
			return nil, err
		}
		if truncated {
			return b.queryTCP(ctx, upstream, queryBytes)
		}
		return resp, nil
	}
	return nil, lastErr
}

func (b *builtinResolver) queryUDP(ctx context.Context, upstream string, queryBytes []byte) ([]byte, bool, error) {
	conn, fromPool, err := b.acquireConn(upstream)
	if err != nil {
		return nil, false, err
	}
	defer b.releaseConn(upstream, conn, fromPool)

	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > builtinUDPTimeout {
		deadline = time.Now().Add(builtinUDPTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, false, err
	}
	if _, err := conn.Write(queryBytes); err != nil {
		return nil, false, err
	}

	buf := make([]byte, dnswire.MaxIncomingMessageSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, false, err
	}
	resp := buf[:n]

	truncated := len(resp) >= 2 && (resp[2]&byte(dnswire.TCFlag>>8)) != 0
	return resp, truncated, nil
}

func (b *builtinResolver) queryTCP(ctx context.Context, upstream string, queryBytes []byte) ([]byte, error) {
	d := net.Dialer{Timeout: builtinTCPTimeout}
	conn, err := d.DialContext(ctx, "tcp", upstream)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(builtinTCPTimeout)); err != nil {
		return nil, err
	}

	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(queryBytes)))
	if _, err := conn.Write(append(lenPrefix[:], queryBytes...)); err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
		return nil, err
	}
	respLen := binary.BigEndian.Uint16(lenPrefix[:])
	resp := make([]byte, respLen)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (b *builtinResolver) acquireConn(upstream string) (*net.UDPConn, bool, error) {
	b.poolMu.Lock()
	pool, ok := b.pools[upstream]
	if !ok {
		pool = make(chan *net.UDPConn, builtinPoolSize)
		b.pools[upstream] = pool
	}
	b.poolMu.Unlock()

	select {
	case conn := <-pool:
		return conn, true, nil
	default:
	}

	addr, err := net.ResolveUDPAddr("udp", upstream)
	if err != nil {
		return nil, false, fmt.Errorf("resolver: resolving upstream address %s: %w", upstream, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, false, fmt.Errorf("resolver: dialing upstream %s: %w", upstream, err)
	}
	return conn, false, nil
}

func (b *builtinResolver) releaseConn(upstream string, conn *net.UDPConn, _ bool) {
	b.poolMu.Lock()
	pool := b.pools[upstream]
	b.poolMu.Unlock()

	select {
	case pool <- conn:
	default:
		conn.Close()
	}
}

func (b *builtinResolver) Close() {
	b.poolMu.Lock()
	defer b.poolMu.Unlock()
	for _, pool := range b.pools {
		close(pool)
		for conn := range pool {
			conn.Close()
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// LookupError describes a resolution failure, distinguishing a negative
// response (NXDOMAIN/NODATA) from a transport failure.
type LookupError struct {
	NotFound bool
	Cause    error
}

func (e *LookupError) Error() string {
	if e.NotFound {
		return "resolver: name not found"
	}
	return fmt.Sprintf("resolver: lookup failed: %v", e.Cause)
}

func (e *LookupError) Unwrap() error { return e.Cause }

// Package h2 adapts golang.org/x/net/http2's client connection to the
// session pool's Transport contract: one TCP+TLS socket multiplexing
// many concurrent streams, with per-connection flow control and GOAWAY
// handling owned entirely by the http2 package.
package h2

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/meridian-net/netengine/internal/session"
)

// ErrGoingAway is returned by OpenStream once the peer has sent GOAWAY
// and the connection is accepting no further streams (invariant I4).
var ErrGoingAway = errors.New("h2: connection is draining, no new streams accepted")

// Dial negotiates HTTP/2 over an already-established TLS connection
// (ALPN "h2" must already have been selected by the handshake) and
// returns a Transport wrapping it.
func Dial(conn *tls.Conn) (*Transport, error) {
	t := &http2.Transport{}
	cc, err := t.NewClientConn(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Transport{conn: conn, cc: cc, t: t}, nil
}

// Transport adapts one HTTP/2 connection (*http2.ClientConn) to
// session.Transport. Flow control, HPACK, and frame multiplexing are
// entirely owned by golang.org/x/net/http2; this type only translates
// between its state and the pool's expectations.
type Transport struct {
	conn net.Conn
	t    *http2.Transport
	cc   *http2.ClientConn
}

func (tr *Transport) Protocol() session.Protocol { return session.ProtocolHTTP2 }

// MaxConcurrentStreams reports the peer-advertised SETTINGS_MAX_CONCURRENT_STREAMS
// value as currently tracked by the underlying ClientConn. It returns 0
// once the connection is closing or has no remaining request capacity,
// which Session.CanAcceptStream treats as "cannot accept a stream" —
// mirroring GOAWAY-triggered draining (I4).
func (tr *Transport) MaxConcurrentStreams() int {
	st := tr.cc.State()
	if st.Closed || st.Closing {
		return 0
	}
	if !st.CanTakeNewRequest {
		return 0
	}
	if st.MaxConcurrentStreams == 0 {
		return 1
	}
	return int(st.MaxConcurrentStreams)
}

// OpenStream reserves capacity for a new request on this connection and
// returns an Exchange that issues it. Reservation (rather than issuing
// the RoundTrip immediately) lets the caller attach request headers and
// body before the stream is actually opened on the wire.
func (tr *Transport) OpenStream() (any, error) {
	if !tr.cc.CanTakeNewRequest() {
		return nil, ErrGoingAway
	}
	return &Exchange{cc: tr.cc}, nil
}

// Close gracefully shuts the connection down: it stops accepting new
// streams and waits for in-flight streams to finish, bounded by
// defaultDrainDeadline, before closing the socket.
func (tr *Transport) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDrainDeadline)
	defer cancel()
	err := tr.cc.Shutdown(ctx)
	closeErr := tr.conn.Close()
	if err != nil {
		return err
	}
	return closeErr
}

const defaultDrainDeadline = 10 * time.Second

const goawayPollInterval = 250 * time.Millisecond

// WatchGoAway polls the connection for a peer-initiated GOAWAY (surfaced
// by http2.ClientConn.State().Closing) and calls sess.MarkDraining once
// observed, since golang.org/x/net/http2 does not expose a GOAWAY
// callback directly. The returned func stops the watch; callers should
// defer it or call it once the session closes.
func (tr *Transport) WatchGoAway(sess *session.Session) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(goawayPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				st := tr.cc.State()
				if st.Closing || st.Closed {
					sess.MarkDraining()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// Exchange is a single HTTP/2 request/response pair on a shared
// connection. Unlike h1pool's Exchange, many Exchanges can be open
// concurrently on the same Transport.
type Exchange struct {
	cc *http2.ClientConn
}

// Do issues req over the connection and returns its response headers
// (the body is streamed via the returned response's Body). ctx governs
// cancellation of the stream, not the connection.
func (e *Exchange) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return e.cc.RoundTrip(req.WithContext(ctx))
}

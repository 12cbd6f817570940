package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"sync/atomic"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/meridian-net/netengine/internal/engine"
	"github.com/meridian-net/netengine/internal/session"
)

// ErrGoingAway is returned by OpenStream once the transport has been
// marked draining (peer GOAWAY-equivalent, or local shutdown), matching
// invariant I4.
var ErrGoingAway = errors.New("quic: connection is draining, no new streams accepted")

// defaultMaxConcurrentStreams is reported while the connection is
// healthy. quic-go does not expose the peer's advertised
// initial_max_streams_bidi through its public Connection interface — it
// enforces the limit internally and simply blocks OpenStreamSync until
// credit is available — so this is a fixed advisory figure used only for
// Session.CanAcceptStream's fast local check; OpenStreamSync remains the
// source of truth and may still block/fail.
const defaultMaxConcurrentStreams = 100

// Config bundles the dial parameters derived from options.QUICOptions.
type Config struct {
	TLSConfig  *tls.Config
	QUICConfig *quicgo.Config
}

// Dial performs a normal (1-RTT) QUIC handshake to addr.
func Dial(ctx context.Context, addr string, cfg Config) (*Transport, error) {
	conn, err := quicgo.DialAddr(ctx, addr, cfg.TLSConfig, cfg.QUICConfig)
	if err != nil {
		return nil, err
	}
	return NewTransport(conn), nil
}

// DialEarly attempts 0-RTT using cached server transport parameters;
// quic-go transparently falls back to a full handshake if the server
// rejects early data, so callers do not need a separate retry path.
func DialEarly(ctx context.Context, addr string, cfg Config) (*Transport, error) {
	conn, err := quicgo.DialAddrEarly(ctx, addr, cfg.TLSConfig, cfg.QUICConfig)
	if err != nil {
		return nil, err
	}
	return NewTransport(conn), nil
}

// Transport adapts one QUIC connection to session.Transport. Each HTTP/3
// request/response exchange gets its own QUIC stream (unlike HTTP/1.1,
// streams are cheap and not a scarce shared resource), so OpenStream can
// be called concurrently by many Session.OpenStream callers.
type Transport struct {
	conn     quicgo.Connection
	migrator *Migrator
	draining atomic.Bool
}

// NewTransport wraps an already-established QUIC connection.
func NewTransport(conn quicgo.Connection) *Transport {
	return &Transport{conn: conn}
}

func (t *Transport) Protocol() session.Protocol { return session.ProtocolHTTP3 }

func (t *Transport) MaxConcurrentStreams() int {
	if t.draining.Load() {
		return 0
	}
	return defaultMaxConcurrentStreams
}

// OpenStream opens a fresh bidirectional QUIC stream and wraps it as an
// HTTP/3 Exchange.
func (t *Transport) OpenStream() (any, error) {
	if t.draining.Load() {
		return nil, ErrGoingAway
	}
	stream, err := t.conn.OpenStreamSync(context.Background())
	if err != nil {
		return nil, err
	}
	return newExchange(stream), nil
}

// Close closes the underlying QUIC connection immediately. Graceful
// draining (waiting for in-flight streams) is driven by the caller via
// MarkDraining before Close, since quic-go has no built-in
// half-close-then-wait primitive analogous to http2.ClientConn.Shutdown.
func (t *Transport) Close() error {
	return t.conn.CloseWithError(0, "")
}

// AttachMigrator wires m into this transport so migration notifications
// can be checked against the connection's current path.
func (t *Transport) AttachMigrator(m *Migrator) { t.migrator = m }

// Migrator returns the transport's migration state machine, or nil if
// none was attached.
func (t *Transport) Migrator() *Migrator { return t.migrator }

// NotifyDefaultNetworkChanged implements session.NetworkMigrator,
// translating the Migrator's decision into the pool's transport-agnostic
// MigrationAction vocabulary. A transport with no attached Migrator
// never migrates.
func (t *Transport) NotifyDefaultNetworkChanged(newDefault engine.NetworkBinding) session.MigrationAction {
	if t.migrator == nil {
		return session.MigrationActionNone
	}
	switch t.migrator.NotifyDefaultNetworkChanged(newDefault) {
	case ActionClose:
		return session.MigrationActionClose
	case ActionDrain:
		return session.MigrationActionDrain
	case ActionMigrate:
		return session.MigrationActionMigrate
	default:
		return session.MigrationActionNone
	}
}

// MigratedBinding implements session.NetworkMigrator, reporting the
// network the Migrator currently considers this connection bound to.
func (t *Transport) MigratedBinding() engine.NetworkBinding {
	if t.migrator == nil {
		return engine.Unbound
	}
	return t.migrator.Binding()
}

// MarkDraining stops the transport from accepting new streams, the QUIC
// analogue of h2's GOAWAY handling (I4): Session.CanAcceptStream reads
// MaxConcurrentStreams()==0 as "refuse new streams".
func (t *Transport) MarkDraining() { t.draining.Store(true) }

// PathProbeFunc returns a PathProbe (see migration.go) bound to dialer,
// used by a Migrator to validate a candidate network path before
// committing to it. Real per-network socket binding
// (SO_BINDTODEVICE/fwmark-equivalent) is platform-specific and left to
// dialer; this just times the probe and reports success/failure for the
// state machine.
func PathProbeFunc(dialer func(ctx context.Context, binding engine.NetworkBinding) error, timeout time.Duration) PathProbe {
	return func(binding engine.NetworkBinding) bool {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return dialer(ctx, binding) == nil
	}
}

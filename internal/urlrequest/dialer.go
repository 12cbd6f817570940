package urlrequest

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/meridian-net/netengine/internal/engine"
	"github.com/meridian-net/netengine/internal/h1pool"
	"github.com/meridian-net/netengine/internal/h2"
	"github.com/meridian-net/netengine/internal/options"
	"github.com/meridian-net/netengine/internal/pins"
	"github.com/meridian-net/netengine/internal/quic"
	"github.com/meridian-net/netengine/internal/resolver"
	"github.com/meridian-net/netengine/internal/session"
)

// migrationProbeTimeout bounds how long a Migrator's path probe (a bare
// QUIC dial-and-close to a candidate network) may take before the
// migration attempt is abandoned.
const migrationProbeTimeout = 5 * time.Second

// Transports is the concrete session.Dialer: given a Key it resolves the
// origin's host, then tries HTTP/3 first (for https origins, when the
// caller accepts it and QUIC is enabled; no Alt-Svc hint is required) and
// falls back to a plain TCP+TLS dial that lands on HTTP/2 or HTTP/1.1
// depending on ALPN. The two dials run one after the other and are not
// raced: the same (try in order, first success wins) shape as
// resolvers.Chained.Resolve, specialized to transports instead of
// resolvers.
type Transports struct {
	opts     *options.Options
	resolver *resolver.Resolver
	altSvc   *session.AltSvcRegistry
	h1       *h1pool.Pool
	pinStore *pins.Store
	rootTLS  *tls.Config
}

// NewTransports builds the dialer from engine options, the shared
// resolver, and the session pool's Alt-Svc registry (so QUIC
// acceptability checks and hint lookups share one source of truth).
func NewTransports(opts *options.Options, res *resolver.Resolver, altSvc *session.AltSvcRegistry, baseTLS *tls.Config) *Transports {
	if baseTLS == nil {
		baseTLS = &tls.Config{}
	}
	t := &Transports{
		opts:     opts,
		resolver: res,
		altSvc:   altSvc,
		h1:       h1pool.NewPool(nil),
		rootTLS:  baseTLS,
	}
	if len(opts.Security.PublicKeyPins) > 0 {
		t.pinStore = pins.NewStore()
		for _, p := range opts.Security.PublicKeyPins {
			expires, _ := options.PinSetExpiration(p)
			hashes := make(map[string]struct{}, len(p.SPKIHashes))
			for _, h := range p.SPKIHashes {
				hashes[h] = struct{}{}
			}
			t.pinStore.Add(&pins.PinSet{
				Hostname:          p.Hostname,
				IncludeSubdomains: p.IncludeSubdomains,
				SPKIHashes:        hashes,
				ExpiresAt:         expires,
			})
		}
	}
	return t
}

// Dial implements session.Dialer.
func (t *Transports) Dial(ctx context.Context, key session.Key, http3Acceptable bool) (session.Transport, error) {
	family := resolver.FamilyUnspecified
	res, err := t.resolver.Resolve(ctx, key.Origin.NormalizedHost(), family, key.Binding)
	if err != nil {
		return nil, fmt.Errorf("urlrequest: resolve %s: %w", key.Origin.Host, err)
	}
	if len(res.Endpoints) == 0 {
		return nil, fmt.Errorf("urlrequest: no addresses for %s", key.Origin.Host)
	}

	if key.Origin.Scheme == session.SchemeHTTPS && http3Acceptable && t.opts.Transport.EnableQUIC {
		if tr, err := t.dialQUIC(ctx, key, res.Endpoints); err == nil {
			return tr, nil
		}
	}
	return t.dialTCP(ctx, key, res.Endpoints)
}

func (t *Transports) dialQUIC(ctx context.Context, key session.Key, endpoints []resolver.Endpoint) (session.Transport, error) {
	port := t.quicPort(key)
	addr := net.JoinHostPort(endpoints[0].IP.String(), strconv.Itoa(port))

	cfg := quic.Config{
		TLSConfig:  t.tlsConfigFor(key.Origin.Host, []string{"h3"}),
		QUICConfig: t.quicConfig(),
	}

	var tr *quic.Transport
	var err error
	if t.opts.QUIC.Enable0RTT {
		tr, err = quic.DialEarly(ctx, addr, cfg)
	} else {
		tr, err = quic.Dial(ctx, addr, cfg)
	}
	if err != nil {
		return nil, err
	}

	host := key.Origin.Host
	probe := quic.PathProbeFunc(func(ctx context.Context, binding engine.NetworkBinding) error {
		return t.PathDialer(ctx, host, port, binding)
	}, migrationProbeTimeout)
	tr.AttachMigrator(quic.NewMigrator(t.opts.Migration, key.Binding, probe))

	return tr, nil
}

// quicPort prefers a live Alt-Svc h3 hint's port, falling back to a
// statically configured QUICHint, and finally the origin's own port.
func (t *Transports) quicPort(key session.Key) int {
	if t.altSvc != nil {
		for _, hint := range t.altSvc.Hints(key.Origin, time.Now()) {
			if hint.Protocol == session.AltSvcH3 {
				return hint.Port
			}
		}
	}
	for _, hint := range t.opts.Transport.QUICHints {
		if hint.Host == key.Origin.Host {
			return hint.AltPort
		}
	}
	return key.Origin.Port
}

func (t *Transports) quicConfig() *quicgo.Config {
	cfg := &quicgo.Config{}
	if t.opts.QUIC.IdleConnectionTimeout > 0 {
		cfg.MaxIdleTimeout = t.opts.QUIC.IdleConnectionTimeout
	}
	if t.opts.QUIC.CryptoHandshakeTimeout > 0 {
		cfg.HandshakeIdleTimeout = t.opts.QUIC.CryptoHandshakeTimeout
	}
	return cfg
}

func (t *Transports) dialTCP(ctx context.Context, key session.Key, endpoints []resolver.Endpoint) (session.Transport, error) {
	addr := net.JoinHostPort(endpoints[0].IP.String(), strconv.Itoa(key.Origin.Port))

	if key.Origin.Scheme != session.SchemeHTTPS {
		conn, br, err := t.h1.Dial(ctx, addr)
		if err != nil {
			return nil, err
		}
		return h1pool.NewTransport(t.h1, addr, conn, br), nil
	}

	conn, br, err := t.h1.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		nextProtos := []string{"http/1.1"}
		if t.opts.Transport.EnableHTTP2 {
			nextProtos = []string{"h2", "http/1.1"}
		}
		tlsConn = tls.Client(conn, t.tlsConfigFor(key.Origin.Host, nextProtos))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		if err := t.verifyPins(tlsConn, key.Origin.Host); err != nil {
			tlsConn.Close()
			return nil, err
		}
		br = bufio.NewReader(tlsConn)
	}

	if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		return h2.Dial(tlsConn)
	}
	return h1pool.NewTransport(t.h1, addr, tlsConn, br), nil
}

// verifyPins enforces I5 ("pinned public keys are checked before any
// request body is sent") as early as the handshake completes, rather
// than deferring the check until the first write.
func (t *Transports) verifyPins(conn *tls.Conn, hostname string) error {
	if t.pinStore == nil {
		return nil
	}
	return pins.Verify(conn.ConnectionState(), hostname, t.pinStore)
}

func (t *Transports) tlsConfigFor(hostname string, nextProtos []string) *tls.Config {
	cfg := t.rootTLS.Clone()
	cfg.ServerName = hostname
	cfg.NextProtos = nextProtos
	return cfg
}

// PathDialer adapts Transports into the function quic.PathProbeFunc
// expects: a bare connectivity probe to binding, discarding the session
// on success since the migrator only needs a yes/no answer.
func (t *Transports) PathDialer(ctx context.Context, host string, port int, binding engine.NetworkBinding) error {
	key := session.Key{Origin: session.Origin{Scheme: session.SchemeHTTPS, Host: host, Port: port}, Binding: binding}
	res, err := t.resolver.Resolve(ctx, host, resolver.FamilyUnspecified, binding)
	if err != nil || len(res.Endpoints) == 0 {
		if err != nil {
			return err
		}
		return fmt.Errorf("urlrequest: no addresses for %s", host)
	}
	tr, err := t.dialQUIC(ctx, key, res.Endpoints)
	if err != nil {
		return err
	}
	return tr.Close()
}

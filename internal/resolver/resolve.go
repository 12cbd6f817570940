package resolver

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/meridian-net/netengine/internal/dnswire"
	"github.com/meridian-net/netengine/internal/engine"
	"github.com/meridian-net/netengine/internal/netlog"
	"github.com/meridian-net/netengine/internal/netutil"
	"github.com/meridian-net/netengine/internal/options"
)

// Result is the outcome of a successful Resolve call.
type Result struct {
	Endpoints []Endpoint
	Stale     bool
	Source    Source
	TTL       time.Duration
}

// PreconnectFunc is invoked with the stale endpoints served while a fresh
// lookup is still in flight, letting the session pool opportunistically
// warm connections per preestablishConnectionsToStaleDnsResults.
type PreconnectFunc func(binding engine.NetworkBinding, endpoints []Endpoint)

type inflightLookup struct {
	done chan struct{}
	res  Result
	err  error
}

// Resolver implements the engine's built-in DNS client: cache-first lookup
// with stale-while-revalidate arbitration, deduplicated in-flight fresh
// lookups, and a choice of system or built-in query path.
type Resolver struct {
	opts   options.DNSOptions
	cache  *HostCache
	logger *netlog.Recorder

	builtin *builtinResolver
	system  *systemResolver

	preconnect PreconnectFunc

	// lookupFunc performs the actual fresh lookup; it defaults to
	// doLookup and is overridable in tests to avoid real network I/O.
	lookupFunc func(Key) (Result, error)

	inflightMu sync.Mutex
	inflight   map[Key]*inflightLookup
}

// New constructs a Resolver. upstreams is consulted only when
// opts.UseBuiltinResolver is true.
func New(opts options.DNSOptions, upstreams []string, rec *netlog.Recorder) *Resolver {
	r := &Resolver{
		opts:     opts,
		cache:    NewHostCache(10000),
		logger:   rec,
		builtin:  newBuiltinResolver(upstreams),
		system:   newSystemResolver(),
		inflight: map[Key]*inflightLookup{},
	}
	r.lookupFunc = r.doLookup
	return r
}

// SetPreconnectFunc installs the hook invoked when a stale entry is served
// while a fresh lookup still runs in the background.
func (r *Resolver) SetPreconnectFunc(fn PreconnectFunc) { r.preconnect = fn }

// Cache returns the resolver's backing host cache, for introspection.
func (r *Resolver) Cache() *HostCache { return r.cache }

// Close releases resolver resources (pooled sockets).
func (r *Resolver) Close() { r.builtin.Close() }

// Resolve implements the fresh-vs-stale arbitration algorithm: a fresh
// cache hit returns immediately; a stale or missing entry starts a
// background fresh lookup bounded by freshLookupTimeout, and arbitrates
// between returning stale data early and waiting for the fresh result
// exactly as enableStale/maxExpiredDelay/allowCrossNetworkUsage/
// useStaleOnNameNotResolved direct.
func (r *Resolver) Resolve(ctx context.Context, host string, family AddressFamily, binding engine.NetworkBinding) (Result, error) {
	key := Key{Host: host, Family: family, Binding: binding}

	entry, found := r.lookupEntry(key)
	now := time.Now()

	if found {
		switch entry.State(now, r.opts.MaxExpiredDelay) {
		case StateFresh:
			return Result{Endpoints: entry.Resolved, Source: entry.Source}, nil
		case StateStale:
			if r.opts.EnableStale {
				return r.arbitrateStale(ctx, key, entry)
			}
		}
	}

	res, err := r.freshLookup(ctx, key)
	if err != nil && r.opts.UseStaleOnNameNotResolved && found {
		if _, notFound := errAsLookup(err); notFound {
			return Result{Endpoints: entry.Resolved, Stale: true, Source: entry.Source}, nil
		}
	}
	return res, err
}

// lookupEntry finds a cache entry for key, falling back to any binding if
// allowCrossNetworkUsage permits reuse across networks.
func (r *Resolver) lookupEntry(key Key) (Entry, bool) {
	if entry, ok := r.cache.Lookup(key); ok {
		return entry, true
	}
	if r.opts.AllowCrossNetworkUsage {
		return r.cache.LookupAnyBinding(key.Host, key.Family)
	}
	return Entry{}, false
}

// arbitrateStale starts a background fresh lookup and races it against
// freshLookupTimeout: if the timeout elapses first, the stale entry is
// returned and the fresh lookup continues in the background to refresh
// the cache; if the fresh lookup completes first, its result is returned
// directly.
func (r *Resolver) arbitrateStale(ctx context.Context, key Key, entry Entry) (Result, error) {
	timeout := netutil.DurationOrDefault(r.opts.FreshLookupTimeout, 2*time.Second)

	fresh := r.startFreshLookup(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-fresh.done:
		if fresh.err == nil {
			return fresh.res, nil
		}
		if r.opts.UseStaleOnNameNotResolved {
			if _, notFound := errAsLookup(fresh.err); notFound {
				return Result{Endpoints: entry.Resolved, Stale: true, Source: entry.Source}, nil
			}
		}
		return Result{}, fresh.err
	case <-timer.C:
		if r.preconnect != nil {
			r.preconnect(key.Binding, entry.Resolved)
		}
		return Result{Endpoints: entry.Resolved, Stale: true, Source: entry.Source}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// freshLookup deduplicates concurrent lookups for the same key via
// singleflight and blocks until the shared lookup completes or ctx is
// canceled.
func (r *Resolver) freshLookup(ctx context.Context, key Key) (Result, error) {
	call := r.startFreshLookup(key)
	select {
	case <-call.done:
		return call.res, call.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (r *Resolver) startFreshLookup(key Key) *inflightLookup {
	r.inflightMu.Lock()
	if call, ok := r.inflight[key]; ok {
		r.inflightMu.Unlock()
		return call
	}
	call := &inflightLookup{done: make(chan struct{})}
	r.inflight[key] = call
	r.inflightMu.Unlock()

	go r.runLookup(key, call)
	return call
}

func (r *Resolver) runLookup(key Key, call *inflightLookup) {
	defer close(call.done)

	res, err := r.lookupFunc(key)
	call.res, call.err = res, err

	r.inflightMu.Lock()
	delete(r.inflight, key)
	r.inflightMu.Unlock()

	if err == nil {
		ttl := res.TTL
		if ttl <= 0 {
			ttl = 60 * time.Second
		}
		r.cache.Insert(Entry{
			Key:             key,
			Resolved:        res.Endpoints,
			FetchedAt:       time.Now(),
			TTL:             ttl,
			Source:          res.Source,
			PinnedToNetwork: key.Binding,
		})
	}
	if r.logger != nil && r.logger.Active() {
		r.emitLookupEvent(key, err)
	}
}

func (r *Resolver) emitLookupEvent(key Key, err error) {
	params := map[string]any{"host": key.Host, "family": key.Family.String()}
	if err != nil {
		params["error"] = err.Error()
	}
	r.logger.Emit(netlog.Event{
		Time:   time.Now(),
		Type:   netlog.EventHostResolver,
		Params: params,
	})
}

func (r *Resolver) doLookup(key Key) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !r.opts.UseBuiltinResolver {
		endpoints, ttl, err := r.system.lookup(ctx, key.Host, key.Family)
		if err != nil {
			return Result{}, err
		}
		return Result{Endpoints: orderEndpoints(endpoints, key.Family), Source: SourceSystem, TTL: ttl}, nil
	}

	var endpoints []Endpoint
	var minTTL time.Duration

	if key.Family != FamilyIPv4 {
		if aaaa, ttl, err := r.builtin.lookup(ctx, key.Host, uint16(dnswire.TypeAAAA)); err == nil {
			endpoints = append(endpoints, recordsToEndpoints(aaaa)...)
			minTTL = minNonZero(minTTL, ttl)
		}
	}
	if key.Family != FamilyIPv6 {
		if a, ttl, err := r.builtin.lookup(ctx, key.Host, uint16(dnswire.TypeA)); err == nil {
			endpoints = append(endpoints, recordsToEndpoints(a)...)
			minTTL = minNonZero(minTTL, ttl)
		}
	}
	if len(endpoints) == 0 {
		_, _, err := r.builtin.lookup(ctx, key.Host, recordTypeFor(key.Family))
		return Result{}, err
	}
	return Result{Endpoints: orderEndpoints(endpoints, key.Family), Source: SourceBuiltin, TTL: minTTL}, nil
}

func recordTypeFor(family AddressFamily) uint16 {
	if family == FamilyIPv4 {
		return uint16(dnswire.TypeA)
	}
	return uint16(dnswire.TypeAAAA)
}

func recordsToEndpoints(records []dnswire.Record) []Endpoint {
	out := make([]Endpoint, 0, len(records))
	for _, rr := range records {
		if v4, ok := rr.IPv4(); ok {
			out = append(out, Endpoint{IP: net.ParseIP(v4)})
			continue
		}
		if v6, ok := rr.IPv6(); ok {
			out = append(out, Endpoint{IP: net.ParseIP(v6)})
		}
	}
	return out
}

// orderEndpoints places IPv6 addresses before IPv4, matching the host
// cache's documented "IPv6 first if enabled" ordering.
func orderEndpoints(endpoints []Endpoint, family AddressFamily) []Endpoint {
	out := make([]Endpoint, len(endpoints))
	copy(out, endpoints)
	sort.SliceStable(out, func(i, j int) bool {
		return isIPv6(out[i].IP) && !isIPv6(out[j].IP)
	})
	return out
}

func isIPv6(ip net.IP) bool { return ip.To4() == nil }

func minNonZero(a, b time.Duration) time.Duration {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if b < a {
		return b
	}
	return a
}

func errAsLookup(err error) (*LookupError, bool) {
	le, ok := err.(*LookupError)
	if !ok {
		return nil, false
	}
	return le, le.NotFound
}

package resolver

import (
	"github.com/meridian-net/netengine/internal/engine"
	"github.com/meridian-net/netengine/internal/options"
)

// ConnectionWarmer is implemented by the session pool: given a binding and
// a set of endpoints, it opportunistically opens (or keeps open) transport
// connections to some of them, without waiting for a request to need one.
type ConnectionWarmer interface {
	WarmEndpoints(binding engine.NetworkBinding, endpoints []Endpoint)
}

// AttachConnectionWarmer wires warmer into r so that, when
// dns.preestablishConnectionsToStaleDnsResults is enabled, a stale result
// served while a fresh lookup is still running also triggers opportunistic
// connection warming to the stale endpoints. Disabled (opts is the zero
// value or the flag is false), Resolve's stale path never calls warmer.
func AttachConnectionWarmer(r *Resolver, opts options.DNSOptions, warmer ConnectionWarmer) {
	if !opts.PreestablishConnectionsToStaleDNSResults || warmer == nil {
		return
	}
	r.SetPreconnectFunc(func(binding engine.NetworkBinding, endpoints []Endpoint) {
		warmer.WarmEndpoints(binding, endpoints)
	})
}

package resolver

import (
	"context"
	"net"
	"time"
)

// systemResolver answers lookups using the OS resolver (getaddrinfo, or the
// platform's stub resolver), used when useBuiltinResolver is false.
type systemResolver struct {
	resolver *net.Resolver
}

func newSystemResolver() *systemResolver {
	return &systemResolver{resolver: net.DefaultResolver}
}

// lookup resolves host via the OS resolver and returns endpoints plus a
// nominal TTL, since the OS resolver API does not expose authoritative TTLs.
func (s *systemResolver) lookup(ctx context.Context, host string, family AddressFamily) ([]Endpoint, time.Duration, error) {
	const nominalTTL = 60 * time.Second

	addrs, err := s.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			return nil, 0, &LookupError{NotFound: true, Cause: err}
		}
		return nil, 0, &LookupError{Cause: err}
	}

	endpoints := make([]Endpoint, 0, len(addrs))
	for _, a := range addrs {
		ip4 := a.IP.To4()
		switch family {
		case FamilyIPv4:
			if ip4 == nil {
				continue
			}
		case FamilyIPv6:
			if ip4 != nil {
				continue
			}
		}
		endpoints = append(endpoints, Endpoint{IP: a.IP})
	}
	if len(endpoints) == 0 {
		return nil, 0, &LookupError{NotFound: true}
	}
	return endpoints, nominalTTL, nil
}

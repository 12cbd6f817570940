// Package dnswire builds outbound DNS queries and parses inbound DNS
// responses for the engine's built-in stub resolver.
//
// Standards followed:
//
//   - RFC 1035: Domain Names - Implementation and Specification
//   - RFC 2308: Negative Caching of DNS Queries (NXDOMAIN, NODATA)
//   - RFC 3596: DNS Extensions to Support IPv6 (AAAA records)
//   - RFC 6891: Extension Mechanisms for DNS (EDNS, OPT records)
//
// Errors are wrapped with fmt.Errorf("...: %w", ErrMessage) so callers can
// match on the sentinel while still getting positional context.
package dnswire

import "errors"

// ErrMessage is the sentinel wrapped by every wire-format violation.
var ErrMessage = errors.New("dns wire error")

// Package session implements the session pool: per-origin reusable
// transport sessions (HTTP/2, HTTP/3, and HTTP/1.1 connection groups)
// keyed by origin, network binding, and privacy mode.
package session

import (
	"strconv"
	"strings"

	"github.com/meridian-net/netengine/internal/engine"
)

// Scheme identifies the transport-level protocol an Origin is reached over.
type Scheme int

const (
	SchemeHTTP Scheme = iota
	SchemeHTTPS
)

func (s Scheme) String() string {
	if s == SchemeHTTPS {
		return "https"
	}
	return "http"
}

// Origin is (scheme, host, port). Host equality is case-insensitive.
type Origin struct {
	Scheme Scheme
	Host   string
	Port   int
}

// NormalizedHost returns Host lowercased, the basis for Origin equality.
func (o Origin) NormalizedHost() string { return strings.ToLower(o.Host) }

// Normalized returns o with its host lowercased, so it can be used
// directly as a map key with the expected equality semantics.
func (o Origin) Normalized() Origin {
	o.Host = o.NormalizedHost()
	return o
}

func (o Origin) String() string {
	var b strings.Builder
	b.WriteString(o.Scheme.String())
	b.WriteString("://")
	b.WriteString(o.Host)
	if o.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(o.Port))
	}
	return b.String()
}

// PrivacyMode distinguishes requests that must not share a session (or its
// cached credentials/0-RTT state) with other privacy contexts.
type PrivacyMode int

const (
	PrivacyModeNormal PrivacyMode = iota
	PrivacyModePrivate
)

// Key uniquely identifies a session bucket in the pool: (Origin,
// NetworkBinding, privacyMode).
type Key struct {
	Origin      Origin
	Binding     engine.NetworkBinding
	PrivacyMode PrivacyMode
}

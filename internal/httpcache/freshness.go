package httpcache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Freshness classifies a looked-up Entry against the current time and the
// new request's headers.
type Freshness int

const (
	// Fresh means the entry may be served as-is, WasCached=true.
	Fresh Freshness = iota
	// Stale means the entry is past its freshness lifetime but still
	// usable to build a conditional revalidation request.
	Stale
	// StaleButServable means the entry is stale but within its
	// stale-while-revalidate window: it may be served immediately while a
	// revalidation happens (the caller decides whether to actually kick
	// one off).
	StaleButServable
	// Transparent means the entry must not be used at all (e.g. the new
	// request carries Cache-Control: no-cache).
	Transparent
)

// cacheControlDirectives is a parsed Cache-Control header: directive name
// to its (possibly empty) value.
type cacheControlDirectives map[string]string

// parseCacheControl mirrors the parsing shape of a classic private HTTP
// cache transport's Cache-Control splitter: comma-separated directives,
// optionally carrying a "=value".
func parseCacheControl(h http.Header) cacheControlDirectives {
	cc := cacheControlDirectives{}
	for _, part := range strings.Split(h.Get("Cache-Control"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '='); i >= 0 {
			cc[strings.TrimSpace(part[:i])] = strings.Trim(part[i+1:], `" `)
		} else {
			cc[part] = ""
		}
	}
	return cc
}

func parseSeconds(s string) (time.Duration, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// ComputeFreshnessLifetime derives how long a response may be served
// without revalidation, per RFC 7234 §4.2.1: response Cache-Control
// max-age takes priority over Expires, which takes priority over a
// heuristic default of zero (always revalidate) when neither is present.
func ComputeFreshnessLifetime(respHeader http.Header, now time.Time) time.Duration {
	cc := parseCacheControl(respHeader)
	if v, ok := cc["max-age"]; ok {
		if d, ok := parseSeconds(v); ok {
			return d
		}
	}
	if expires := respHeader.Get("Expires"); expires != "" {
		if t, err := http.ParseTime(expires); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	return 0
}

// ComputeStaleWhileRevalidate reads the stale-while-revalidate extension
// (RFC 5861) from the response's Cache-Control header.
func ComputeStaleWhileRevalidate(respHeader http.Header) time.Duration {
	cc := parseCacheControl(respHeader)
	if v, ok := cc["stale-while-revalidate"]; ok {
		if d, ok := parseSeconds(v); ok {
			return d
		}
	}
	return 0
}

// IsStorable reports whether a response may be written to the cache at
// all: no-store on either side vetoes it, and a response needs either an
// explicit freshness lifetime or a validator to ever be useful once
// stored (a response with neither can only ever be immediately stale,
// with no validator to revalidate against).
func IsStorable(method string, reqHeader, respHeader http.Header, statusCode int) bool {
	if method != http.MethodGet && method != http.MethodHead {
		return false
	}
	if statusCode != http.StatusOK && statusCode != http.StatusNonAuthoritativeInfo {
		return false
	}
	reqCC := parseCacheControl(reqHeader)
	respCC := parseCacheControl(respHeader)
	if _, ok := reqCC["no-store"]; ok {
		return false
	}
	if _, ok := respCC["no-store"]; ok {
		return false
	}
	hasValidator := respHeader.Get("ETag") != "" || respHeader.Get("Last-Modified") != ""
	hasFreshness := respCC["max-age"] != "" || respHeader.Get("Expires") != ""
	return hasValidator || hasFreshness
}

// Classify returns how entry should be treated against a new request made
// at now with reqHeader.
func Classify(entry *Entry, reqHeader http.Header, now time.Time) Freshness {
	reqCC := parseCacheControl(reqHeader)
	if _, ok := reqCC["no-cache"]; ok {
		return Transparent
	}

	age := now.Sub(entry.StoredAt)
	if maxAge, ok := reqCC["max-age"]; ok {
		if d, ok := parseSeconds(maxAge); ok && age > d {
			return Stale
		}
	}
	if _, ok := reqCC["no-cache"]; ok {
		return Transparent
	}

	if age <= entry.FreshnessLifetime {
		return Fresh
	}
	if entry.StaleWhileRevalidate > 0 && age <= entry.FreshnessLifetime+entry.StaleWhileRevalidate {
		return StaleButServable
	}
	return Stale
}

// BuildRevalidationHeaders returns the conditional-request headers
// (If-None-Match / If-Modified-Since) to merge into a fresh request when
// revalidating a stale entry.
func BuildRevalidationHeaders(entry *Entry) http.Header {
	h := http.Header{}
	if entry.Validators.ETag != "" {
		h.Set("If-None-Match", entry.Validators.ETag)
	}
	if entry.Validators.LastModified != "" {
		h.Set("If-Modified-Since", entry.Validators.LastModified)
	}
	return h
}

// VaryKeyFor extracts the subset of request headers named by the
// response's Vary header, for use as the stored entry's Vary snapshot (or,
// on lookup, to check a candidate entry still matches).
func VaryKeyFor(respHeader, reqHeader http.Header) map[string]string {
	vary := respHeader.Get("Vary")
	if vary == "" {
		return nil
	}
	out := map[string]string{}
	for _, name := range strings.Split(vary, ",") {
		name = http.CanonicalHeaderKey(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		out[name] = reqHeader.Get(name)
	}
	return out
}

// VaryMatches reports whether a candidate entry's stored Vary values
// still match the new request's headers.
func VaryMatches(entry *Entry, reqHeader http.Header) bool {
	for name, want := range entry.Vary {
		if reqHeader.Get(name) != want {
			return false
		}
	}
	return true
}

// ValidatorsFrom extracts the cacheable validators from a response.
func ValidatorsFrom(h http.Header) Validators {
	return Validators{ETag: h.Get("ETag"), LastModified: h.Get("Last-Modified")}
}

package urlrequest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/meridian-net/netengine/internal/httpcache"
)

// cacheDecision is what consultCache learned about the current attempt
// before any network I/O: either a response that can be served as-is
// (served != nil) or headers to merge into the outgoing request to
// revalidate a stale entry (revalHeaders/revalEntry, mutually exclusive
// with served).
type cacheDecision struct {
	served       *http.Response
	revalHeaders http.Header
	revalEntry   *httpcache.Entry
}

// cacheable reports whether this Request may consult or populate the
// Manager's cache at all: caching only ever applies to GET/HEAD, per
// IsStorable, and a Request may opt out via Params.DisableCache even when
// the Manager has a cache configured.
func (r *Request) cacheable() bool {
	if r.mgr.cache == nil || r.disableCache {
		return false
	}
	return r.method == http.MethodGet || r.method == http.MethodHead
}

func (r *Request) cacheKey() httpcache.Key {
	return httpcache.Key{Method: r.method, URL: r.url.String()}
}

// consultCache looks up the current URL before attemptOnce does any
// resolving or connecting. A Fresh or StaleButServable entry is served
// immediately; StaleButServable additionally kicks off a background
// revalidation so the next lookup sees a fresher entry, per RFC 5861. A
// Stale entry isn't served, but its validators are returned so the
// network attempt can carry a conditional request.
func (r *Request) consultCache() cacheDecision {
	if !r.cacheable() {
		return cacheDecision{}
	}
	entry, ok := r.mgr.cache.Lookup(r.cacheKey(), r.headers)
	if !ok {
		r.mgr.eng.Stats().RecordCacheMiss()
		return cacheDecision{}
	}
	switch httpcache.Classify(entry, r.headers, time.Now()) {
	case httpcache.Fresh:
		r.mgr.eng.Stats().RecordCacheHit()
		return cacheDecision{served: r.servedFromCache(entry)}
	case httpcache.StaleButServable:
		r.mgr.eng.Stats().RecordCacheHit()
		go r.revalidateInBackground(entry)
		return cacheDecision{served: r.servedFromCache(entry)}
	case httpcache.Stale:
		r.mgr.eng.Stats().RecordCacheMiss()
		return cacheDecision{revalHeaders: httpcache.BuildRevalidationHeaders(entry), revalEntry: entry}
	default: // Transparent
		r.mgr.eng.Stats().RecordCacheMiss()
		return cacheDecision{}
	}
}

func (r *Request) servedFromCache(entry *httpcache.Entry) *http.Response {
	return &http.Response{
		StatusCode: entry.StatusCode,
		Header:     entry.Header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(entry.Body)),
		Proto:      "cache",
	}
}

// mergeRevalidated builds the Entry to store after a 304 response:
// RFC 7234 §4.3.4 says the 304's own headers take precedence over the
// stored ones, but the stored Body and StatusCode are kept since a 304
// carries neither.
func (r *Request) mergeRevalidated(old *httpcache.Entry, respHeader http.Header) *httpcache.Entry {
	merged := *old
	merged.Header = old.Header.Clone()
	for name, vals := range respHeader {
		merged.Header[name] = vals
	}
	merged.Validators = httpcache.ValidatorsFrom(merged.Header)
	merged.FreshnessLifetime = httpcache.ComputeFreshnessLifetime(merged.Header, time.Now())
	merged.StaleWhileRevalidate = httpcache.ComputeStaleWhileRevalidate(merged.Header)
	merged.StoredAt = time.Now()
	return &merged
}

// bufferAndStore reads a storable response fully into memory, stores it,
// and returns a fresh response whose Body replays the buffered bytes — a
// storable response is always buffered rather than teed, since the
// network body and the stored copy must end up byte-identical and a tee
// that failed mid-store would otherwise leave the two diverging.
func (r *Request) bufferAndStore(resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	entry := &httpcache.Entry{
		Key:                  r.cacheKey(),
		StatusCode:           resp.StatusCode,
		Header:               resp.Header.Clone(),
		Body:                 body,
		Vary:                 httpcache.VaryKeyFor(resp.Header, r.headers),
		Validators:           httpcache.ValidatorsFrom(resp.Header),
		FreshnessLifetime:    httpcache.ComputeFreshnessLifetime(resp.Header, time.Now()),
		StaleWhileRevalidate: httpcache.ComputeStaleWhileRevalidate(resp.Header),
		StoredAt:             time.Now(),
	}
	_ = r.mgr.cache.Store(entry)

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// invalidateUnsafeMethod drops any cached GET/HEAD entry for this URL
// once a non-idempotent method completes without a client/server error,
// per RFC 7234 §4.4: a successful POST/PUT/DELETE/PATCH means a
// previously cached representation may no longer be accurate.
func (r *Request) invalidateUnsafeMethod(statusCode int) {
	if r.mgr.cache == nil {
		return
	}
	if r.method == http.MethodGet || r.method == http.MethodHead {
		return
	}
	if statusCode >= 400 {
		return
	}
	r.mgr.cache.Invalidate(httpcache.Key{Method: http.MethodGet, URL: r.url.String()})
	r.mgr.cache.Invalidate(httpcache.Key{Method: http.MethodHead, URL: r.url.String()})
}

// revalidateInBackground issues a conditional GET for a StaleButServable
// entry without blocking the Request that was already served the stale
// copy, so the next Lookup sees a fresher entry. Best-effort: failures are
// silently dropped since the caller has already moved on.
func (r *Request) revalidateInBackground(entry *httpcache.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key, err := r.sessionKey()
	if err != nil {
		return
	}
	http3OK := true
	if r.mgr.http3OK != nil {
		http3OK = r.mgr.http3OK(key.Origin)
	}
	st, err := r.mgr.pool.AcquireStream(ctx, key, http3OK)
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url.String(), nil)
	if err != nil {
		return
	}
	req.Header = r.headers.Clone()
	req.Host = r.url.Host
	for name, vals := range httpcache.BuildRevalidationHeaders(entry) {
		for _, v := range vals {
			req.Header.Add(name, v)
		}
	}

	resp, err := st.Do(ctx, req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		_ = r.mgr.cache.Store(r.mergeRevalidated(entry, resp.Header))
		return
	}
	if httpcache.IsStorable(r.method, r.headers, resp.Header, resp.StatusCode) {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return
		}
		_ = r.mgr.cache.Store(&httpcache.Entry{
			Key:                  r.cacheKey(),
			StatusCode:           resp.StatusCode,
			Header:               resp.Header.Clone(),
			Body:                 body,
			Vary:                 httpcache.VaryKeyFor(resp.Header, r.headers),
			Validators:           httpcache.ValidatorsFrom(resp.Header),
			FreshnessLifetime:    httpcache.ComputeFreshnessLifetime(resp.Header, time.Now()),
			StaleWhileRevalidate: httpcache.ComputeStaleWhileRevalidate(resp.Header),
			StoredAt:             time.Now(),
		})
	}
}

package urlrequest

import (
	"context"
	"fmt"
	"net/url"
)

// resolveRedirectTarget resolves a Location header value (absolute or
// relative) against the Request's current URL.
func (r *Request) resolveRedirectTarget(location string) (*url.URL, error) {
	loc, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("urlrequest: bad redirect Location %q: %w", location, err)
	}
	return r.url.ResolveReference(loc), nil
}

// waitForRedirectDecision puts the Request into REDIRECT_PENDING,
// delivers OnRedirectReceived on the Executor, and blocks until the
// callback calls FollowRedirect or StopRedirect (or ctx is canceled,
// which also covers Cancel() — cancellation is legal from every
// non-terminal state including REDIRECT_PENDING). follow=true means
// "transition back to RESOLVING against the new origin"; follow=false
// means "the user chose not to follow", which finishes SUCCEEDED with
// the redirect response itself as the final ResponseInfo.
func (r *Request) waitForRedirectDecision(ctx context.Context, info *ResponseInfo, newLocationURL string) (follow bool, err error) {
	wait := make(chan bool, 1)

	r.mu.Lock()
	r.redirectWait = wait
	r.state = StateRedirectPending
	r.mu.Unlock()

	r.postCallback(func() { r.cb.OnRedirectReceived(r, info, newLocationURL) })

	select {
	case follow := <-wait:
		return follow, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// FollowRedirect resumes a Request parked in REDIRECT_PENDING against
// the redirect target, incrementing the redirect counter. A no-op if
// the Request is not currently awaiting a redirect decision.
func (r *Request) FollowRedirect() {
	r.resolveRedirectWait(true)
}

// StopRedirect resolves a pending redirect by not following it: the
// Request finishes SUCCEEDED with the 3xx response as its final
// ResponseInfo, per "either SUCCEEDED (user chooses not to follow)".
func (r *Request) StopRedirect() {
	r.resolveRedirectWait(false)
}

func (r *Request) resolveRedirectWait(follow bool) {
	r.mu.Lock()
	wait := r.redirectWait
	r.redirectWait = nil
	r.mu.Unlock()
	if wait == nil {
		return
	}
	wait <- follow
}

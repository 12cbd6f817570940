// Package urlrequest implements the URL request state machine: the
// user-facing unit of work that resolves a host, acquires a Stream from
// the session pool, sends a request, and delivers headers/body/terminal
// callbacks on the caller's Executor.
//
// A Request is modeled as a chain-of-responsibility over redirects, the
// same shape as the resolver's chained-resolver ("try in order, check
// context cancellation between attempts") but specialized to
// redirect -> resolve -> connect -> stream instead of resolver ->
// resolver: each loop iteration is one (resolve, connect, send, read
// headers) attempt against the current URL, and a 3xx response feeds a
// new URL back into the next iteration.
package urlrequest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/meridian-net/netengine/internal/engine"
	"github.com/meridian-net/netengine/internal/httpcache"
	"github.com/meridian-net/netengine/internal/netlog"
	"github.com/meridian-net/netengine/internal/pool"
	"github.com/meridian-net/netengine/internal/session"
)

// readBufPool recycles the fixed-size buffers deliverBody reads response
// chunks into, one per Request per read loop rather than per chunk.
var readBufPool = pool.New(func() []byte { return make([]byte, defaultReadChunkSize) })

// State is a Request's position in the NEW -> ... -> {SUCCEEDED, FAILED,
// CANCELED} state machine.
type State int

const (
	StateNew State = iota
	StateResolving
	StateConnecting
	StateWaitingForHeaders
	StateReading
	StateRedirectPending
	StateSucceeded
	StateFailed
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateResolving:
		return "RESOLVING"
	case StateConnecting:
		return "CONNECTING"
	case StateWaitingForHeaders:
		return "WAITING_FOR_HEADERS"
	case StateReading:
		return "READING"
	case StateRedirectPending:
		return "REDIRECT_PENDING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	case StateCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

func (s State) terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// defaultMaxRedirects bounds the redirect counter absent an explicit
// Params.MaxRedirects.
const defaultMaxRedirects = 20

// defaultReadChunkSize is how much body is read per OnReadCompleted call.
const defaultReadChunkSize = 32 * 1024

// ErrTooManyRedirects is the FAILED cause when the redirect counter
// exceeds maxRedirects.
var ErrTooManyRedirects = errors.New("urlrequest: too many redirects")

// ErrAlreadyStarted is returned by Start if called more than once.
var ErrAlreadyStarted = errors.New("urlrequest: already started")

// Fingerprint identifies a Request by method, URL, and a copy of all its
// request headers; the headers are not narrowed to those a response's
// Vary names.
type Fingerprint struct {
	Method  string
	URL     string
	Headers http.Header
}

// Params configures one Request at construction time.
type Params struct {
	Method         string
	URL            string
	Headers        http.Header
	Body           io.Reader
	Binding        engine.NetworkBinding
	Privacy        session.PrivacyMode
	MaxRedirects   int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	DisableCache   bool
}

// Manager builds Requests, wiring them to the shared resolver/pool/dialer
// and engine bookkeeping (BeginRequest/EndRequest, NetLog).
type Manager struct {
	eng      *engine.Engine
	pool     *session.Pool
	http3OK  func(origin session.Origin) bool
	executor engine.Executor
	cache    httpcache.Cache
}

// NewManager builds a Manager. http3Acceptable, when non-nil, lets the
// caller veto HTTP/3 per-origin (e.g. a pinned-to-H2 override); a nil
// func allows HTTP/3 whenever the pool's Alt-Svc bookkeeping does.
func NewManager(eng *engine.Engine, pool *session.Pool, executor engine.Executor, http3Acceptable func(session.Origin) bool) *Manager {
	if executor == nil {
		executor = engine.InlineExecutor
	}
	return &Manager{eng: eng, pool: pool, http3OK: http3Acceptable, executor: executor}
}

// SetCache attaches c as the response cache every subsequent NewRequest's
// Request consults. A nil c (the zero value) leaves caching off entirely,
// distinct from a per-Request Params.DisableCache opting one Request out
// of an otherwise-active cache.
func (m *Manager) SetCache(c httpcache.Cache) {
	m.cache = c
}

// NewRequest constructs a Request bound to this Manager. Call Start to
// begin execution.
func (m *Manager) NewRequest(params Params, cb Callback) (*Request, error) {
	if params.Method == "" {
		params.Method = http.MethodGet
	}
	u, err := url.Parse(params.URL)
	if err != nil {
		return nil, fmt.Errorf("urlrequest: %w", err)
	}
	maxRedirects := params.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = defaultMaxRedirects
	}
	headers := params.Headers
	if headers == nil {
		headers = http.Header{}
	}

	return &Request{
		mgr:          m,
		method:       params.Method,
		url:          u,
		headers:      headers,
		body:         params.Body,
		binding:      params.Binding,
		privacy:      params.Privacy,
		maxRedirects: maxRedirects,
		connectTO:    params.ConnectTimeout,
		requestTO:    params.RequestTimeout,
		writeTO:      params.WriteTimeout,
		disableCache: params.DisableCache,
		cb:           cb,
		state:        StateNew,
	}, nil
}

// Request is the user-facing handle: it owns a Stream reference (while
// one is open), a Callback, the Manager's Executor, a Fingerprint, and a
// redirect counter.
type Request struct {
	mgr *Manager

	method  string
	url     *url.URL
	headers http.Header
	body    io.Reader
	binding engine.NetworkBinding
	privacy session.PrivacyMode

	maxRedirects int
	connectTO    time.Duration
	requestTO    time.Duration
	writeTO      time.Duration
	disableCache bool

	cb Callback

	mu           sync.Mutex
	state        State
	started      bool
	redirects    int
	stream       *session.Stream
	cancel       context.CancelFunc
	terminalRan  bool
	metrics      Metrics
	redirectWait chan bool
}

// Fingerprint returns the cache lookup key for this Request's current
// URL, method, and headers.
func (r *Request) Fingerprint() Fingerprint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Fingerprint{Method: r.method, URL: r.url.String(), Headers: r.headers.Clone()}
}

// State returns the Request's current lifecycle state.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Request) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Start begins resolution and connection. It returns immediately;
// progress is reported via the Callback on the Manager's Executor.
func (r *Request) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.metrics.StartTime = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	r.mgr.eng.BeginRequest()
	r.mgr.eng.Stats().RecordRequestStarted()
	if r.State() == StateCanceled {
		cancel()
		r.finishCanceled(nil)
		return nil
	}
	r.setState(StateResolving)

	go r.run(ctx)
	return nil
}

// Cancel is legal from any non-terminal state (per the state machine's
// cancellation rule) and guarantees exactly one terminal callback:
// OnCanceled, unless a terminal callback already ran.
func (r *Request) Cancel() {
	r.mu.Lock()
	if r.state.terminal() {
		r.mu.Unlock()
		return
	}
	r.state = StateCanceled
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Request) run(ctx context.Context) {
	if r.requestTO > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.requestTO)
		defer cancel()
	}

	info, body, err := r.attemptWithRedirects(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			r.finishCanceled(info)
			return
		}
		r.finishFailed(info, err)
		return
	}
	r.stream = nil
	r.deliverBody(ctx, info, body)
}

// attemptWithRedirects is the chain-of-responsibility loop: each
// iteration resolves+connects+sends against the current URL; a 3xx
// response produces a new URL fed into the next iteration, capped at
// maxRedirects, exactly mirroring Chained.Resolve's "try in order, check
// cancellation between attempts" shape.
func (r *Request) attemptWithRedirects(ctx context.Context) (*ResponseInfo, io.ReadCloser, error) {
	for {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if r.State() == StateCanceled {
			return nil, nil, context.Canceled
		}

		resp, wasCached, err := r.attemptOnce(ctx)
		if err != nil {
			return nil, nil, err
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, nil, fmt.Errorf("urlrequest: redirect status %d with no Location", resp.StatusCode)
			}
			if r.redirects >= r.maxRedirects {
				return nil, nil, ErrTooManyRedirects
			}
			next, err := r.resolveRedirectTarget(loc)
			if err != nil {
				return nil, nil, err
			}

			info := &ResponseInfo{
				URL:                r.url.String(),
				HTTPStatusCode:     resp.StatusCode,
				Headers:            resp.Header,
				NegotiatedProtocol: resp.Proto,
				WasCached:          wasCached,
			}
			follow, err := r.waitForRedirectDecision(ctx, info, next.String())
			if err != nil {
				return nil, nil, err
			}
			if !follow {
				return info, nil, nil
			}
			r.redirects++
			r.url = next
			r.mgr.eng.Stats().RecordRedirectFollowed()
			continue
		}

		info := &ResponseInfo{
			URL:                r.url.String(),
			HTTPStatusCode:     resp.StatusCode,
			Headers:            resp.Header,
			NegotiatedProtocol: resp.Proto,
			WasCached:          wasCached,
		}
		r.metrics.HeadersEndTime = time.Now()
		info.Metrics = r.metrics
		return info, resp.Body, nil
	}
}

// attemptOnce resolves the current URL's origin, acquires a Stream from
// the session pool, and sends the request, returning the raw
// *http.Response (redirect or not, caller decides) plus whether it was
// served from the cache without touching the network.
func (r *Request) attemptOnce(ctx context.Context) (*http.Response, bool, error) {
	decision := r.consultCache()
	if decision.served != nil {
		r.setState(StateWaitingForHeaders)
		return decision.served, true, nil
	}

	key, err := r.sessionKey()
	if err != nil {
		return nil, false, err
	}

	r.setState(StateResolving)
	connectCtx := ctx
	if r.connectTO > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, r.connectTO)
		defer cancel()
	}

	r.setState(StateConnecting)
	http3OK := true
	if r.mgr.http3OK != nil {
		http3OK = r.mgr.http3OK(key.Origin)
	}
	st, err := r.mgr.pool.AcquireStream(connectCtx, key, http3OK)
	if err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	r.stream = st
	r.mu.Unlock()
	r.metrics.ConnectEndTime = time.Now()

	httpReq, err := r.buildHTTPRequest(ctx)
	if err != nil {
		return nil, false, err
	}
	for name, vals := range decision.revalHeaders {
		for _, v := range vals {
			httpReq.Header.Add(name, v)
		}
	}

	r.setState(StateWaitingForHeaders)
	r.emitNetLog("request_start", map[string]any{"method": r.method, "url": r.url.String()})
	resp, err := st.Do(ctx, httpReq)
	if err != nil {
		return nil, false, err
	}
	if err := decodeContentEncoding(resp); err != nil {
		resp.Body.Close()
		return nil, false, err
	}

	if decision.revalEntry != nil && resp.StatusCode == http.StatusNotModified {
		resp.Body.Close()
		merged := r.mergeRevalidated(decision.revalEntry, resp.Header)
		_ = r.mgr.cache.Store(merged)
		return r.servedFromCache(merged), true, nil
	}

	if r.cacheable() && httpcache.IsStorable(r.method, r.headers, resp.Header, resp.StatusCode) {
		resp, err = r.bufferAndStore(resp)
		if err != nil {
			return nil, false, err
		}
	}
	r.invalidateUnsafeMethod(resp.StatusCode)

	return resp, false, nil
}

func (r *Request) sessionKey() (session.Key, error) {
	scheme := session.SchemeHTTP
	port := 80
	if r.url.Scheme == "https" {
		scheme = session.SchemeHTTPS
		port = 443
	}
	if p := r.url.Port(); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return session.Key{}, fmt.Errorf("urlrequest: bad port %q: %w", p, err)
		}
		port = parsed
	}
	return session.Key{
		Origin:      session.Origin{Scheme: scheme, Host: r.url.Hostname(), Port: port}.Normalized(),
		Binding:     r.binding,
		PrivacyMode: r.privacy,
	}, nil
}

func (r *Request) buildHTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if r.body != nil {
		buf, err := io.ReadAll(r.body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header = r.headers.Clone()
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncoding(r.mgr.eng.Options().Transport.EnableBrotli))
	}
	req.Host = r.url.Host
	return req, nil
}

// deliverBody pumps the response body to the Callback in fixed chunks,
// guaranteeing no bytes are observed after the terminal callback is
// scheduled (I2): a Cancel() flips state to CANCELED, which the read
// loop checks before every chunk.
func (r *Request) deliverBody(ctx context.Context, info *ResponseInfo, body io.ReadCloser) {
	r.setState(StateReading)
	r.postCallback(func() { r.cb.OnResponseStarted(r, info) })

	if body == nil {
		r.finishSucceeded(info)
		return
	}
	defer body.Close()

	buf := readBufPool.Get()
	defer readBufPool.Put(buf)
	var received int64
	for {
		if r.State() == StateCanceled {
			r.finishCanceled(info)
			return
		}
		n, err := body.Read(buf)
		if n > 0 {
			received += int64(n)
			chunk := append([]byte(nil), buf[:n]...)
			r.postCallback(func() { r.cb.OnReadCompleted(r, info, chunk) })
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				info.ReceivedByteCount = received
				r.mgr.eng.Stats().RecordBytesReceived(received)
				r.finishSucceeded(info)
				return
			}
			r.finishFailed(info, err)
			return
		}
	}
}

func (r *Request) finishSucceeded(info *ResponseInfo) {
	info.Metrics.EndTime = time.Now()
	r.mgr.eng.Stats().RecordRequestSucceeded()
	r.runTerminal(StateSucceeded, func() { r.cb.OnSucceeded(r, info) })
}

func (r *Request) finishFailed(info *ResponseInfo, err error) {
	r.mgr.eng.Stats().RecordRequestFailed()
	r.runTerminal(StateFailed, func() { r.cb.OnFailed(r, info, err) })
}

func (r *Request) finishCanceled(info *ResponseInfo) {
	r.mgr.eng.Stats().RecordRequestCanceled()
	r.runTerminal(StateCanceled, func() { r.cb.OnCanceled(r, info) })
}

// runTerminal enforces the at-most-once terminal-callback guarantee and
// always releases the engine's in-flight counter exactly once.
func (r *Request) runTerminal(state State, deliver func()) {
	r.mu.Lock()
	if r.terminalRan {
		r.mu.Unlock()
		return
	}
	r.terminalRan = true
	r.state = state
	r.mu.Unlock()

	r.postCallback(deliver)
	r.mgr.eng.EndRequest()
}

func (r *Request) postCallback(fn func()) {
	r.mgr.executor.Execute(fn)
}

func (r *Request) emitNetLog(event string, params map[string]any) {
	rec := r.mgr.eng.NetLog()
	if rec == nil || !rec.Active() {
		return
	}
	params["event"] = event
	rec.Emit(netlog.Event{Time: time.Now(), Type: netlog.EventURLRequest, Params: params})
}

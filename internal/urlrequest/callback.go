package urlrequest

import (
	"net/http"
	"time"
)

// ResponseInfo is the terminal/interim snapshot handed to a Callback:
// status, headers, the protocol actually negotiated, and basic timing.
// Response may be nil on a Callback invocation that precedes headers
// (never for OnResponseStarted onward).
type ResponseInfo struct {
	URL                string
	HTTPStatusCode     int
	Headers            http.Header
	NegotiatedProtocol string
	WasCached          bool
	ReceivedByteCount  int64
	Metrics            Metrics
}

// Metrics records when a Request crossed each state-machine boundary, for
// callers wanting per-phase timing (NetLog carries the same boundaries as
// events; Metrics is the synchronous, in-process view of the same data).
type Metrics struct {
	StartTime      time.Time
	ResolveEndTime time.Time
	ConnectEndTime time.Time
	HeadersEndTime time.Time
	EndTime        time.Time
}

// Callback receives a Request's lifecycle events, always on the Request's
// Executor and always in the order produced. Exactly one of
// OnSucceeded/OnFailed/OnCanceled is called exactly once, per the
// at-most-once terminal-callback guarantee (I2).
type Callback interface {
	// OnRedirectReceived fires when the response is a 3xx. Call
	// req.FollowRedirect() to follow it, req.StopRedirect() to finish
	// SUCCEEDED with the 3xx response, or req.Cancel() to finish CANCELED,
	// from within or after this callback.
	OnRedirectReceived(req *Request, info *ResponseInfo, newLocationURL string)

	// OnResponseStarted fires once non-redirect headers are available.
	OnResponseStarted(req *Request, info *ResponseInfo)

	// OnReadCompleted fires once per chunk of body delivered, in network
	// order, strictly before the terminal callback.
	OnReadCompleted(req *Request, info *ResponseInfo, data []byte)

	// OnSucceeded is the terminal callback for a body fully read.
	OnSucceeded(req *Request, info *ResponseInfo)

	// OnFailed is the terminal callback for any error (resolve, connect,
	// TLS, timeout, mid-stream read/write failure). info may be nil if
	// the failure preceded headers.
	OnFailed(req *Request, info *ResponseInfo, err error)

	// OnCanceled is the terminal callback for a Cancel() call that
	// preempted completion. info may be nil.
	OnCanceled(req *Request, info *ResponseInfo)
}

// CallbackFuncs adapts a set of plain functions to Callback; any nil
// field is simply not invoked.
type CallbackFuncs struct {
	Redirect  func(req *Request, info *ResponseInfo, newLocationURL string)
	Started   func(req *Request, info *ResponseInfo)
	Read      func(req *Request, info *ResponseInfo, data []byte)
	Succeeded func(req *Request, info *ResponseInfo)
	Failed    func(req *Request, info *ResponseInfo, err error)
	Canceled  func(req *Request, info *ResponseInfo)
}

func (c CallbackFuncs) OnRedirectReceived(req *Request, info *ResponseInfo, newLocationURL string) {
	if c.Redirect != nil {
		c.Redirect(req, info, newLocationURL)
	}
}

func (c CallbackFuncs) OnResponseStarted(req *Request, info *ResponseInfo) {
	if c.Started != nil {
		c.Started(req, info)
	}
}

func (c CallbackFuncs) OnReadCompleted(req *Request, info *ResponseInfo, data []byte) {
	if c.Read != nil {
		c.Read(req, info, data)
	}
}

func (c CallbackFuncs) OnSucceeded(req *Request, info *ResponseInfo) {
	if c.Succeeded != nil {
		c.Succeeded(req, info)
	}
}

func (c CallbackFuncs) OnFailed(req *Request, info *ResponseInfo, err error) {
	if c.Failed != nil {
		c.Failed(req, info, err)
	}
}

func (c CallbackFuncs) OnCanceled(req *Request, info *ResponseInfo) {
	if c.Canceled != nil {
		c.Canceled(req, info)
	}
}

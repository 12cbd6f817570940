package engine

import "fmt"

// ErrorCode is the stable, closed set of terminal failure categories
// surfaced to callers. Every onFailed carries exactly one of these.
type ErrorCode int

const (
	ErrorResolution ErrorCode = iota
	ErrorConnectionReset
	ErrorTLSHandshake
	ErrorHTTP2Protocol
	ErrorQUICProtocol
	ErrorTimeout
	ErrorNetworkChanged
	ErrorCanceled
	ErrorInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorResolution:
		return "RESOLUTION"
	case ErrorConnectionReset:
		return "CONNECTION_RESET"
	case ErrorTLSHandshake:
		return "TLS_HANDSHAKE"
	case ErrorHTTP2Protocol:
		return "HTTP2_PROTOCOL"
	case ErrorQUICProtocol:
		return "QUIC_PROTOCOL"
	case ErrorTimeout:
		return "TIMEOUT"
	case ErrorNetworkChanged:
		return "NETWORK_CHANGED"
	case ErrorCanceled:
		return "CANCELED"
	default:
		return "INTERNAL"
	}
}

// Category classifies how an error is handled by the engine, independent
// of its ErrorCode.
type Category int

const (
	// CategoryRetryableTransparent is retried on a fresh stream/session
	// without ever surfacing to the caller (e.g. H/2 REFUSED_STREAM).
	CategoryRetryableTransparent Category = iota
	// CategoryRetryablePolicy is retried once, subject to an option (e.g.
	// a pre-handshake error retried on an alternate network only when
	// retryPreHandshakeErrorsOnNonDefaultNetwork is set).
	CategoryRetryablePolicy
	// CategoryFatalToStream fails only the owning Request via onFailed.
	CategoryFatalToStream
	// CategoryFatalToSession closes the Session; every Stream on it fails
	// and the pool purges the session.
	CategoryFatalToSession
	// CategoryFatalToEngine is logged and otherwise ignored at the
	// session level; the engine keeps serving other requests.
	CategoryFatalToEngine
)

// Error is the error type surfaced on every terminal callback. It carries
// a stable Code, the handling Category, an optional protocol-specific
// code (e.g. an HTTP/2 error code or QUIC transport error code), and an
// underlying cause when one exists.
type Error struct {
	Code            ErrorCode
	Category        Category
	ProtocolCode    int
	HasProtocolCode bool
	Cause           error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("engine: %s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("engine: %s", e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an Error with no underlying protocol code.
func NewError(code ErrorCode, category Category, cause error) *Error {
	return &Error{Code: code, Category: category, Cause: cause}
}

// NewProtocolError builds an Error carrying an underlying protocol error
// code (an HTTP/2 error code, a QUIC transport error code, ...).
func NewProtocolError(code ErrorCode, category Category, protocolCode int, cause error) *Error {
	return &Error{Code: code, Category: category, ProtocolCode: protocolCode, HasProtocolCode: true, Cause: cause}
}

// ErrShutdown is returned by engine operations attempted after Shutdown.
var ErrShutdown = fmt.Errorf("engine: shut down")

// ErrRequestsInFlight is returned by Shutdown when requests are still
// in flight; the contract requires the caller to wait for them first.
var ErrRequestsInFlight = fmt.Errorf("engine: cannot shut down with requests in flight")

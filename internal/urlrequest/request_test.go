package urlrequest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-net/netengine/internal/engine"
	"github.com/meridian-net/netengine/internal/session"
)

// fakeExchange satisfies session package's unexported exchanger
// interface structurally, returning canned responses in order.
type fakeExchange struct {
	responses []*http.Response
	errs      []error
	i         int
}

func (f *fakeExchange) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	idx := f.i
	f.i++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx >= len(f.responses) {
		return nil, errors.New("fakeExchange: out of canned responses")
	}
	return f.responses[idx], nil
}

type fakeTransport struct {
	ex *fakeExchange
}

func (f *fakeTransport) Protocol() session.Protocol { return session.ProtocolHTTP1 }
func (f *fakeTransport) MaxConcurrentStreams() int  { return 1 }
func (f *fakeTransport) OpenStream() (any, error)   { return f.ex, nil }
func (f *fakeTransport) Close() error               { return nil }

func newTestPool(ex *fakeExchange) *session.Pool {
	dial := func(ctx context.Context, key session.Key, http3Acceptable bool) (session.Transport, error) {
		return &fakeTransport{ex: ex}, nil
	}
	return session.NewPool(dial, nil)
}

func textResponse(status int, body string, headers http.Header) *http.Response {
	if headers == nil {
		headers = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Proto:      "HTTP/1.1",
		Header:     headers,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.Build(nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

type collectingCallback struct {
	started   chan *ResponseInfo
	read      chan []byte
	succeeded chan *ResponseInfo
	failed    chan error
	canceled  chan struct{}
	redirect  chan string
}

func newCollectingCallback() *collectingCallback {
	return &collectingCallback{
		started:   make(chan *ResponseInfo, 1),
		read:      make(chan []byte, 16),
		succeeded: make(chan *ResponseInfo, 1),
		failed:    make(chan error, 1),
		canceled:  make(chan struct{}, 1),
		redirect:  make(chan string, 1),
	}
}

func (c *collectingCallback) OnRedirectReceived(req *Request, info *ResponseInfo, newLocationURL string) {
	c.redirect <- newLocationURL
}
func (c *collectingCallback) OnResponseStarted(req *Request, info *ResponseInfo) { c.started <- info }
func (c *collectingCallback) OnReadCompleted(req *Request, info *ResponseInfo, data []byte) {
	c.read <- data
}
func (c *collectingCallback) OnSucceeded(req *Request, info *ResponseInfo) { c.succeeded <- info }
func (c *collectingCallback) OnFailed(req *Request, info *ResponseInfo, err error) { c.failed <- err }
func (c *collectingCallback) OnCanceled(req *Request, info *ResponseInfo)         { c.canceled <- struct{}{} }

func TestRequestSucceedsAndDeliversBody(t *testing.T) {
	eng := testEngine(t)
	ex := &fakeExchange{responses: []*http.Response{textResponse(200, "hello world", nil)}}
	pool := newTestPool(ex)
	mgr := NewManager(eng, pool, engine.InlineExecutor, nil)

	cb := newCollectingCallback()
	req, err := mgr.NewRequest(Params{URL: "https://example.com/path"}, cb)
	require.NoError(t, err)
	require.NoError(t, req.Start())

	select {
	case info := <-cb.succeeded:
		assert.Equal(t, 200, info.HTTPStatusCode)
	case err := <-cb.failed:
		t.Fatalf("unexpected failure: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not finish")
	}

	var body bytes.Buffer
	for {
		select {
		case chunk := <-cb.read:
			body.Write(chunk)
		default:
			assert.Equal(t, "hello world", body.String())
			assert.Equal(t, StateSucceeded, req.State())
			return
		}
	}
}

func TestRequestFollowsRedirectThenSucceeds(t *testing.T) {
	eng := testEngine(t)
	ex := &fakeExchange{responses: []*http.Response{
		textResponse(302, "", http.Header{"Location": {"/new"}}),
		textResponse(200, "final", nil),
	}}
	pool := newTestPool(ex)
	mgr := NewManager(eng, pool, engine.InlineExecutor, nil)

	cb := newCollectingCallback()
	req, err := mgr.NewRequest(Params{URL: "https://example.com/old"}, cb)
	require.NoError(t, err)
	require.NoError(t, req.Start())

	select {
	case loc := <-cb.redirect:
		assert.Equal(t, "https://example.com/new", loc)
	case <-time.After(2 * time.Second):
		t.Fatal("redirect callback never fired")
	}
	req.FollowRedirect()

	select {
	case info := <-cb.succeeded:
		assert.Equal(t, 200, info.HTTPStatusCode)
	case err := <-cb.failed:
		t.Fatalf("unexpected failure: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not finish after following redirect")
	}
}

func TestRequestStopRedirectFinishesSucceededWithRedirectResponse(t *testing.T) {
	eng := testEngine(t)
	ex := &fakeExchange{responses: []*http.Response{
		textResponse(301, "", http.Header{"Location": {"https://other.example/x"}}),
	}}
	pool := newTestPool(ex)
	mgr := NewManager(eng, pool, engine.InlineExecutor, nil)

	cb := newCollectingCallback()
	req, err := mgr.NewRequest(Params{URL: "https://example.com/old"}, cb)
	require.NoError(t, err)
	require.NoError(t, req.Start())

	select {
	case <-cb.redirect:
	case <-time.After(2 * time.Second):
		t.Fatal("redirect callback never fired")
	}
	req.StopRedirect()

	select {
	case info := <-cb.succeeded:
		assert.Equal(t, 301, info.HTTPStatusCode)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not resolve as succeeded-without-following")
	}
}

func TestRequestFailsAfterTooManyRedirects(t *testing.T) {
	eng := testEngine(t)
	responses := make([]*http.Response, 0, 3)
	for i := 0; i < 3; i++ {
		responses = append(responses, textResponse(302, "", http.Header{"Location": {"/next"}}))
	}
	ex := &fakeExchange{responses: responses}
	pool := newTestPool(ex)
	mgr := NewManager(eng, pool, engine.InlineExecutor, nil)

	cb := newCollectingCallback()
	req, err := mgr.NewRequest(Params{URL: "https://example.com/a", MaxRedirects: 1}, cb)
	require.NoError(t, err)
	require.NoError(t, req.Start())

	go func() {
		for {
			select {
			case <-cb.redirect:
				req.FollowRedirect()
			case <-cb.failed:
				return
			case <-cb.succeeded:
				return
			}
		}
	}()

	select {
	case err := <-cb.failed:
		assert.ErrorIs(t, err, ErrTooManyRedirects)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not fail on redirect cap")
	}
}

func TestRequestCancelBeforeStartYieldsCanceled(t *testing.T) {
	eng := testEngine(t)
	ex := &fakeExchange{responses: []*http.Response{textResponse(200, "abc", nil)}}
	pool := newTestPool(ex)
	mgr := NewManager(eng, pool, engine.InlineExecutor, nil)

	cb := newCollectingCallback()
	req, err := mgr.NewRequest(Params{URL: "https://example.com/stream"}, cb)
	require.NoError(t, err)
	req.Cancel()
	require.NoError(t, req.Start())

	select {
	case <-cb.canceled:
		assert.Equal(t, StateCanceled, req.State())
	case <-cb.succeeded:
		t.Fatal("expected cancellation, request succeeded instead")
	case <-time.After(2 * time.Second):
		t.Fatal("request did not reach a terminal callback")
	}
}

func TestRequestDoubleStartReturnsError(t *testing.T) {
	eng := testEngine(t)
	ex := &fakeExchange{responses: []*http.Response{textResponse(200, "", nil)}}
	pool := newTestPool(ex)
	mgr := NewManager(eng, pool, engine.InlineExecutor, nil)

	cb := newCollectingCallback()
	req, err := mgr.NewRequest(Params{URL: "https://example.com/"}, cb)
	require.NoError(t, err)
	require.NoError(t, req.Start())
	assert.ErrorIs(t, req.Start(), ErrAlreadyStarted)

	select {
	case <-cb.succeeded:
	case <-time.After(2 * time.Second):
		t.Fatal("request never finished")
	}
}

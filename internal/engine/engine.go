// Package engine implements the engine façade: the per-process factory of
// sessions, the cooperative network task that owns all mutable transport
// state, and the network-change listener registry that connection
// migration and host-cache invalidation subscribe to.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridian-net/netengine/internal/netlog"
	"github.com/meridian-net/netengine/internal/options"
	"github.com/meridian-net/netengine/internal/stats"
)

// Executor delivers callback closures to user code. The engine never runs
// user code on the network task directly; it posts to an Executor
// instead, and never holds internal locks across that post.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Execute(fn func()) { f(fn) }

// InlineExecutor runs callbacks synchronously on whatever goroutine posts
// them. Useful for tests; production callers typically supply an
// Executor backed by their own goroutine pool or UI thread.
var InlineExecutor Executor = ExecutorFunc(func(fn func()) { fn() })

// Engine is the façade's core: it owns the network task and tracks
// in-flight request count so Shutdown can refuse to run while requests
// are outstanding. It has no request-builder method; Requests are built
// by urlrequest.Manager.NewRequest.
type Engine struct {
	opts   *options.Options
	logger *slog.Logger
	netlog *netlog.Recorder
	stats  *stats.Collector

	startTime time.Time

	task      *NetworkTask
	taskCtx   context.Context
	taskStop  context.CancelFunc
	listeners *listenerRegistry

	inFlight atomic.Int64

	mu           sync.Mutex
	binding      NetworkBinding
	shuttingDown bool
}

// Build constructs an Engine from opts, starting its network task
// goroutine. The returned Engine must eventually be shut down with
// Shutdown to release its goroutine and any open sockets.
func Build(opts *options.Options) (*Engine, error) {
	if opts == nil {
		opts = &options.Options{}
	}
	if err := options.Validate(opts); err != nil {
		return nil, err
	}

	logger := netlog.Configure(netlog.Config{
		Level:            opts.Logging.Level,
		Structured:       opts.Logging.Structured,
		StructuredFormat: opts.Logging.StructuredFormat,
		IncludePID:       opts.Logging.IncludePID,
		ExtraFields:      opts.Logging.ExtraFields,
	})

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:      opts,
		logger:    logger,
		netlog:    netlog.NewRecorder(),
		stats:     stats.NewCollector(),
		startTime: time.Now(),
		task:      NewNetworkTask(),
		taskCtx:   ctx,
		taskStop:  cancel,
		listeners: newListenerRegistry(),
		binding:   Unbound,
	}

	go e.task.Run(ctx)

	if opts.NetLog.StartPath != "" {
		if err := e.netlog.Start(opts.NetLog.StartPath, opts.NetLog.IncludeSensitive); err != nil {
			logger.Warn("netlog: failed to start initial recording", "path", opts.NetLog.StartPath, "err", err)
		}
	}

	return e, nil
}

// Options returns the engine's build-time options. Callers must not
// mutate the returned value.
func (e *Engine) Options() *options.Options { return e.opts }

// Logger returns the engine's structured logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// NetLog returns the engine's NetLog event recorder, exposing
// startNetLogToFile/stopNetLog and Emit to internal components.
func (e *Engine) NetLog() *netlog.Recorder { return e.netlog }

// Stats returns the engine's request/cache counter collector.
func (e *Engine) Stats() *stats.Collector { return e.stats }

// StartTime returns when Build constructed this Engine, used to compute
// uptime for introspection.
func (e *Engine) StartTime() time.Time { return e.startTime }

// Task returns the engine's single cooperative network task. Internal
// packages (session pool, resolver, cache) post their state mutations
// here; it is not part of the public API surface.
func (e *Engine) Task() *NetworkTask { return e.task }

// AddNetworkChangeListener registers l to receive OS network-change
// events. Must be called before the first BindToNetwork/network-change
// delivery to avoid missing events racily; typical callers register
// during their own construction, which happens before Build returns.
func (e *Engine) AddNetworkChangeListener(l NetworkChangeListener) {
	done := make(chan struct{})
	e.task.Post(func() {
		e.listeners.Add(l)
		close(done)
	})
	<-done
}

// BindToNetwork pins all new sockets to binding (or unbinds with
// engine.Unbound), and notifies every registered NetworkChangeListener.
func (e *Engine) BindToNetwork(binding NetworkBinding) {
	done := make(chan struct{})
	e.task.Post(func() {
		e.mu.Lock()
		previous := e.binding
		e.binding = binding
		e.mu.Unlock()
		e.listeners.Dispatch(NetworkChangeEvent{Kind: NetworkChangeDefault, Network: binding, Previous: previous})
		close(done)
	})
	<-done
}

// CurrentBinding returns the NetworkBinding last set via BindToNetwork.
func (e *Engine) CurrentBinding() NetworkBinding {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.binding
}

// BeginRequest/EndRequest track in-flight Requests so Shutdown can
// enforce the "no requests in flight" precondition. The url request
// state machine calls BeginRequest on start() and EndRequest exactly
// once, when its terminal callback is scheduled.
func (e *Engine) BeginRequest() { e.inFlight.Add(1) }
func (e *Engine) EndRequest()   { e.inFlight.Add(-1) }

// InFlightRequests returns the current count of not-yet-terminal
// Requests.
func (e *Engine) InFlightRequests() int64 { return e.inFlight.Load() }

// Shutdown stops an active NetLog recording, cancels the network task
// (which first runs any closures already queued), and waits for the task
// goroutine to exit or for ctx to expire. It returns ErrRequestsInFlight
// if any Request has not yet reached a terminal callback. It does not
// drain session pools, close their sockets, or flush host-cache
// persistence.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.shuttingDown {
		e.mu.Unlock()
		<-e.task.Done()
		return nil
	}
	if e.inFlight.Load() > 0 {
		e.mu.Unlock()
		return ErrRequestsInFlight
	}
	e.shuttingDown = true
	e.mu.Unlock()

	if e.netlog.Active() {
		if err := e.netlog.Stop(); err != nil {
			e.logger.Warn("netlog: error stopping recording during shutdown", "err", err)
		}
	}

	e.taskStop()

	select {
	case <-e.task.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package netlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// EventType names a NetLog event category, loosely mirroring Chromium's
// NetLog source types (URL_REQUEST, HTTP2_SESSION, QUIC_SESSION, HOST_RESOLVER_IMPL).
type EventType string

const (
	EventURLRequest   EventType = "URL_REQUEST"
	EventHTTP1Pool    EventType = "HTTP1_CONNECTION_POOL"
	EventHTTP2Session EventType = "HTTP2_SESSION"
	EventQUICSession  EventType = "QUIC_SESSION"
	EventHostResolver EventType = "HOST_RESOLVER_IMPL"
	EventCache        EventType = "HTTP_CACHE"
)

// Event is a single NetLog entry. Params is arbitrary JSON-serializable
// detail (e.g. {"url": "...", "status": 200}); SensitiveParams is only
// populated when the active Recorder was started with includeSensitive and
// holds things like raw headers or cookies.
type Event struct {
	Time            time.Time `json:"time"`
	Type            EventType `json:"type"`
	SourceID        uint64    `json:"source_id"`
	Params          any       `json:"params,omitempty"`
	SensitiveParams any       `json:"sensitive_params,omitempty"`
}

// Recorder writes NetLog events to a file as newline-delimited JSON. A
// process has at most one active recording at a time, matching
// startNetLogToFile/stopNetLog semantics: starting while already active
// replaces the prior recording.
type Recorder struct {
	mu                sync.Mutex
	file              *os.File
	enc               *json.Encoder
	includeSensitive  bool
	nextSourceID      uint64
	eventsCapturedCtr uint64
}

// NewRecorder creates a Recorder with no active file; Start must be called
// before events are written.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start begins writing events to path, truncating any existing file.
// includeSensitive controls whether Event.SensitiveParams are serialized.
func (r *Recorder) Start(path string, includeSensitive bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("netlog: closing previous recording: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("netlog: opening %q: %w", path, err)
	}
	r.file = f
	r.enc = json.NewEncoder(f)
	r.includeSensitive = includeSensitive
	r.eventsCapturedCtr = 0
	return nil
}

// Stop ends the active recording and closes the file, if any.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.enc = nil
	return err
}

// Active reports whether a recording is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file != nil
}

// NextSourceID allocates a NetLog source ID for a new URL request, session,
// or resolver operation. IDs are process-unique, not tied to any one
// recording, so sources keep stable identity across Start/Stop cycles.
func (r *Recorder) NextSourceID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSourceID++
	return r.nextSourceID
}

// Emit writes an event if a recording is active; otherwise it is a no-op, so
// callers can call Emit unconditionally without checking Active first.
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enc == nil {
		return
	}
	if !r.includeSensitive {
		ev.SensitiveParams = nil
	}
	if ev.Time.IsZero() {
		ev.Time = timeNow()
	}
	if err := r.enc.Encode(ev); err != nil {
		return
	}
	r.eventsCapturedCtr++
}

// EventsCaptured returns the number of events written during the current
// recording (resets on Start).
func (r *Recorder) EventsCaptured() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eventsCapturedCtr
}

// timeNow is indirected so tests can't observe wall-clock flakiness in
// ordering assertions without needing to fake the clock end to end.
var timeNow = time.Now

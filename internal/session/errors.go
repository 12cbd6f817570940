package session

import "errors"

// ErrSessionNotAcceptingStreams is returned by Session.OpenStream when the
// session is not ACTIVE (CONNECTING, DRAINING, or CLOSED — I4).
var ErrSessionNotAcceptingStreams = errors.New("session: not accepting new streams")

// ErrNoUsableSession reports that no existing session could be reused and
// no new one established. Pool.AcquireStream does not return it: a failed
// establishment returns the Dialer's own error, and an abandoned wait
// returns the context's error.
var ErrNoUsableSession = errors.New("session: no usable session for key")

// ErrPoolClosed is returned by Pool methods once Close has been called.
var ErrPoolClosed = errors.New("session: pool is closed")

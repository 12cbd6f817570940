// Package quic implements the HTTP/3 session: a thin wrapper over
// quic-go/quic-go plus qpack header compression, and the connection
// migration state machine that moves a session between network paths
// without tearing down streams.
package quic

import (
	"sync"
	"time"

	"github.com/meridian-net/netengine/internal/engine"
	"github.com/meridian-net/netengine/internal/options"
)

// MigrationState is one session's position in the connection-migration
// state machine.
type MigrationState int

const (
	StateOnDefault MigrationState = iota
	StateMigrating
	StateOnNonDefault
	StateDraining
	StateClosed
)

func (s MigrationState) String() string {
	switch s {
	case StateOnDefault:
		return "ON_DEFAULT"
	case StateMigrating:
		return "MIGRATING"
	case StateOnNonDefault:
		return "ON_NONDEFAULT"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// PathProbe abstracts "open a new QUIC path and see if it works" so the
// migration state machine can be tested without a real socket. The real
// implementation is built by PathProbeFunc (session.go): it calls a
// caller-supplied dialer for the target network and reports success when
// that dial succeeds within a timeout.
type PathProbe func(binding engine.NetworkBinding) (ok bool)

// NetworkChangeAction reports what NotifyNetworkChanged decided to do,
// so the owning session can act on it (close, mark draining, or simply
// note that a migration is already underway).
type NetworkChangeAction int

const (
	ActionNone NetworkChangeAction = iota
	ActionClose
	ActionDrain
	ActionMigrate
)

// anti-amplification window: how long packets arriving on the
// soon-to-be-abandoned path are still accepted once MIGRATING begins.
const antiAmplificationTimeout = 3 * time.Second

// Migrator drives one session's connection-migration state machine. All
// mutating methods are intended to be called from the session's single
// owning goroutine (the network task's per-session slice), matching
// invariant I1 — a Migrator is not internally safe for concurrent
// transition calls, though State() may be read from any goroutine.
type Migrator struct {
	opts options.MigrationOptions
	ping PathProbe

	mu                 sync.Mutex
	state              MigrationState
	binding            engine.NetworkBinding
	lastActivity       time.Time
	nonDefaultSince    time.Time
	pathDegradingCount int
	writeErrorCount    int
	nonDefaultTimer    *time.Timer
	antiAmpDeadline    time.Time
	idleChecker        func() bool
}

// NewMigrator returns a Migrator pinned to the given default-network
// binding and starting ON_DEFAULT.
func NewMigrator(opts options.MigrationOptions, initial engine.NetworkBinding, probe PathProbe) *Migrator {
	return &Migrator{
		opts:         opts,
		ping:         probe,
		state:        StateOnDefault,
		binding:      initial,
		lastActivity: time.Now(),
	}
}

// State returns the current migration state.
func (m *Migrator) State() MigrationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Binding returns the network currently carrying the session's packets.
func (m *Migrator) Binding() engine.NetworkBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.binding
}

// MarkActivity records stream I/O, used to decide whether an idle
// session is eligible for default-network migration.
func (m *Migrator) MarkActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = time.Now()
}

// NotifyDefaultNetworkChanged implements the "OS signals new default
// network N'" trigger. Exactly one of closeSessionsOnIpChange,
// goawaySessionsOnIpChange, or defaultNetworkMigration applies, checked
// in that priority order as spec'd.
func (m *Migrator) NotifyDefaultNetworkChanged(newDefault engine.NetworkBinding) NetworkChangeAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed || m.state == StateDraining {
		return ActionNone
	}

	if m.opts.CloseSessionsOnIPChange {
		m.state = StateClosed
		return ActionClose
	}
	if m.opts.GoAwaySessionsOnIPChange {
		m.state = StateDraining
		return ActionDrain
	}
	if !m.opts.DefaultNetworkMigration {
		return ActionNone
	}

	idle := m.activeStreams0Locked()
	if idle && !m.opts.MigrateIdleConnections {
		return ActionNone
	}
	if idle && time.Since(m.lastActivity) >= m.opts.IdleMigrationPeriod && m.opts.IdleMigrationPeriod > 0 {
		return ActionNone
	}

	if m.probeAndMigrateLocked(newDefault) {
		m.state = StateOnDefault
		return ActionMigrate
	}
	return ActionNone
}

// activeStreams0Locked is a seam for "is this session idle right now";
// the real session supplies this via SetIdleChecker. Defaults to false
// (never idle) so migration is never skipped when unset.
func (m *Migrator) activeStreams0Locked() bool {
	if m.idleChecker == nil {
		return false
	}
	return m.idleChecker()
}

// NotifyPathDegradation implements the "sustained loss/RTT blowup"
// trigger: prefer moving to a non-default network (bounded by the
// per-network cap), falling back to a same-network port migration probe.
func (m *Migrator) NotifyPathDegradation() NetworkChangeAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed || m.state == StateDraining {
		return ActionNone
	}

	if m.opts.PathDegradationMigration &&
		m.opts.AllowNonDefaultNetworkUsage &&
		(m.opts.MaxPathDegradingNonDefaultMigrationsCount <= 0 || m.pathDegradingCount < m.opts.MaxPathDegradingNonDefaultMigrationsCount) {
		m.pathDegradingCount++
		m.state = StateMigrating
		m.antiAmpDeadline = time.Now().Add(antiAmplificationTimeout)
		return ActionMigrate
	}

	// Fall back to a single same-network port migration probe. This does
	// not change m.state: a successful port change stays ON_DEFAULT (or
	// wherever the session currently is), since it never leaves the
	// current network.
	if m.ping != nil {
		m.ping(m.binding)
	}
	return ActionNone
}

// CompletePathDegradationMigration is called once the probed non-default
// path succeeds, arming the maxTimeOnNonDefaultNetwork return timer.
func (m *Migrator) CompletePathDegradationMigration(newBinding engine.NetworkBinding, onTimer func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateMigrating {
		return
	}
	m.binding = newBinding
	m.state = StateOnNonDefault
	m.nonDefaultSince = time.Now()
	if m.opts.MaxTimeOnNonDefaultNetwork > 0 && onTimer != nil {
		m.nonDefaultTimer = time.AfterFunc(m.opts.MaxTimeOnNonDefaultNetwork, onTimer)
	}
}

// NotifyWriteError implements the write-error-on-socket trigger.
func (m *Migrator) NotifyWriteError() NetworkChangeAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed || m.state == StateDraining {
		return ActionNone
	}
	m.writeErrorCount++
	if !m.opts.AllowNonDefaultNetworkUsage {
		return ActionNone
	}
	if m.opts.MaxWriteErrorNonDefaultNetworkMigrationsCount > 0 &&
		m.writeErrorCount > m.opts.MaxWriteErrorNonDefaultNetworkMigrationsCount {
		return ActionNone
	}
	m.state = StateMigrating
	m.antiAmpDeadline = time.Now().Add(antiAmplificationTimeout)
	return ActionMigrate
}

// NotifyMaxTimeOnNonDefaultExpired implements the return-to-default
// timer: attempt to move back, or extend on the non-default path if the
// default network is still unhealthy.
func (m *Migrator) NotifyMaxTimeOnNonDefaultExpired(defaultBinding engine.NetworkBinding) NetworkChangeAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOnNonDefault {
		return ActionNone
	}
	if m.probeAndMigrateLocked(defaultBinding) {
		m.resetCountersLocked()
		m.state = StateOnDefault
		return ActionMigrate
	}
	// Stay on non-default; caller is expected to re-arm the timer.
	return ActionNone
}

// NotifyServerPreferredAddress implements server-directed migration via
// QUIC's PREFERRED_ADDRESS transport parameter, honored only when
// allowServerMigration is set.
func (m *Migrator) NotifyServerPreferredAddress(target engine.NetworkBinding) NetworkChangeAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opts.AllowServerMigration || m.state == StateClosed || m.state == StateDraining {
		return ActionNone
	}
	if m.probeAndMigrateLocked(target) {
		return ActionMigrate
	}
	return ActionNone
}

// InAntiAmplificationWindow reports whether packets from the
// soon-to-be-abandoned path should still be accepted (MIGRATING only).
func (m *Migrator) InAntiAmplificationWindow(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateMigrating && now.Before(m.antiAmpDeadline)
}

// Counters exposes the monotonic-within-session migration counters.
type Counters struct {
	PathDegradingMigrations int
	WriteErrorMigrations    int
}

// Counters returns the current per-session+network counters.
func (m *Migrator) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Counters{PathDegradingMigrations: m.pathDegradingCount, WriteErrorMigrations: m.writeErrorCount}
}

func (m *Migrator) resetCountersLocked() {
	m.pathDegradingCount = 0
	m.writeErrorCount = 0
}

// probeAndMigrateLocked attempts a path probe to target and, on success,
// pins the session's binding to it. Caller holds m.mu.
func (m *Migrator) probeAndMigrateLocked(target engine.NetworkBinding) bool {
	if m.ping == nil {
		return false
	}
	if !m.ping(target) {
		return false
	}
	m.binding = target
	return true
}

// Close transitions to CLOSED, canceling any pending non-default return
// timer.
func (m *Migrator) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nonDefaultTimer != nil {
		m.nonDefaultTimer.Stop()
	}
	m.state = StateClosed
}

// SetIdleChecker installs the callback NotifyDefaultNetworkChanged uses
// to decide whether the session currently has zero active streams.
func (m *Migrator) SetIdleChecker(fn func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleChecker = fn
}

package engine

import (
	"strconv"
	"sync"
)

// NetworkChangeKind distinguishes the OS-level signals the engine reacts
// to; QUIC migration and host-cache invalidation key off these.
type NetworkChangeKind int

const (
	// NetworkChangeDefault reports that the OS default network changed
	// to a new NetworkBinding (or to none).
	NetworkChangeDefault NetworkChangeKind = iota
	// NetworkChangeIPAddressChanged reports that the local IP address(es)
	// on the current default network changed without a new default
	// network being selected.
	NetworkChangeIPAddressChanged
	// NetworkChangeDisconnected reports that a previously-usable network
	// went away entirely.
	NetworkChangeDisconnected
)

// NetworkChangeEvent is posted to every registered NetworkChangeListener
// on the network task.
type NetworkChangeEvent struct {
	Kind    NetworkChangeKind
	Network NetworkBinding
	// Previous is the binding that was current immediately before this
	// event, so a listener can tell what just stopped being usable (the
	// host cache and session pool flush entries/sessions pinned to
	// Previous, not to Network). It is the zero/Unbound binding on the
	// very first bind.
	Previous NetworkBinding
}

// NetworkChangeListener is implemented by components that must react to
// host OS network-change signals: the QUIC migration engine and the host
// resolver's cache invalidation.
type NetworkChangeListener interface {
	OnNetworkChange(ev NetworkChangeEvent)
}

// NetworkChangeListenerFunc adapts a plain function to NetworkChangeListener.
type NetworkChangeListenerFunc func(ev NetworkChangeEvent)

func (f NetworkChangeListenerFunc) OnNetworkChange(ev NetworkChangeEvent) { f(ev) }

// listenerRegistry fans a network-change signal out to every registered
// listener. All registration and dispatch happens on the network task, so
// it needs no locking of its own.
type listenerRegistry struct {
	listeners []NetworkChangeListener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{}
}

func (r *listenerRegistry) Add(l NetworkChangeListener) {
	r.listeners = append(r.listeners, l)
}

func (r *listenerRegistry) Dispatch(ev NetworkChangeEvent) {
	for _, l := range r.listeners {
		l.OnNetworkChange(ev)
	}
}

// NetworkBinding identifies which L3 network a socket should be pinned
// to, or the unbound sentinel. Equality is by identity (the zero value
// and every non-zero token returned by NewNetworkBinding are distinct).
type NetworkBinding struct {
	id int64
}

// Unbound is the NetworkBinding meaning "no specific network pin".
var Unbound = NetworkBinding{}

// IsUnbound reports whether b is the unbound sentinel.
func (b NetworkBinding) IsUnbound() bool { return b.id == 0 }

func (b NetworkBinding) String() string {
	if b.IsUnbound() {
		return "unbound"
	}
	return "network-" + strconv.FormatInt(b.id, 10)
}

var bindingCounter int64
var bindingCounterMu sync.Mutex

// NewNetworkBinding allocates a fresh, process-unique NetworkBinding. The
// host application shell calls this once per OS-visible network it wants
// to hand to bindToNetwork.
func NewNetworkBinding() NetworkBinding {
	bindingCounterMu.Lock()
	defer bindingCounterMu.Unlock()
	bindingCounter++
	return NetworkBinding{id: bindingCounter}
}

// Raw returns the binding's underlying identity token, for components
// (host cache persistence) that need to serialize a binding to disk and
// restore it in the same process. Raw tokens are not stable across
// process restarts.
func (b NetworkBinding) Raw() int64 { return b.id }

// NetworkBindingFromRaw reconstructs a NetworkBinding from a token
// previously obtained via Raw, for deserializing persisted state.
func NetworkBindingFromRaw(raw int64) NetworkBinding {
	return NetworkBinding{id: raw}
}

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-net/netengine/internal/engine"
)

// fakeMigratingTransport is a Transport that also implements
// NetworkMigrator, standing in for quic.Transport so the pool's
// migration wiring can be exercised without a real QUIC handshake.
type fakeMigratingTransport struct {
	fakeTransport
	action   MigrationAction
	target   engine.NetworkBinding
	notified chan engine.NetworkBinding
}

func (f *fakeMigratingTransport) NotifyDefaultNetworkChanged(newDefault engine.NetworkBinding) MigrationAction {
	if f.notified != nil {
		f.notified <- newDefault
	}
	return f.action
}

func (f *fakeMigratingTransport) MigratedBinding() engine.NetworkBinding { return f.target }

// TestEngineBindToNetworkMigratesSession wires an engine's network-change
// listener straight into a Pool, the way cmd/netengined does, and checks
// that BindToNetwork actually drives a QUIC-like session from its
// original network binding onto the new one.
func TestEngineBindToNetworkMigratesSession(t *testing.T) {
	eng, err := engine.Build(nil)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	}()

	oldBinding := engine.NewNetworkBinding()
	newBinding := engine.NewNetworkBinding()

	tr := &fakeMigratingTransport{
		fakeTransport: fakeTransport{proto: ProtocolHTTP3, maxStr: 100},
		action:        MigrationActionMigrate,
		target:        newBinding,
		notified:      make(chan engine.NetworkBinding, 1),
	}
	dial := func(ctx context.Context, key Key, http3Acceptable bool) (Transport, error) {
		return tr, nil
	}
	pool := NewPool(dial, nil)

	key := Key{Origin: Origin{Scheme: SchemeHTTPS, Host: "example.com", Port: 443}, Binding: oldBinding}
	st, err := pool.AcquireStream(context.Background(), key, true)
	require.NoError(t, err)
	require.Equal(t, oldBinding, st.Session().Binding())

	eng.AddNetworkChangeListener(engine.NetworkChangeListenerFunc(func(ev engine.NetworkChangeEvent) {
		if ev.Kind == engine.NetworkChangeDefault {
			pool.NotifyDefaultNetworkChanged(ev.Network)
		}
	}))

	eng.BindToNetwork(newBinding)

	select {
	case got := <-tr.notified:
		assert.Equal(t, newBinding, got)
	case <-time.After(time.Second):
		t.Fatal("session's migrator was never notified of the network change")
	}

	assert.Equal(t, newBinding, st.Session().Binding())

	snap := pool.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, newBinding, snap[0].Key.Binding)
}

// TestPoolNotifyDefaultNetworkChangedClosesOnAction verifies the
// non-migrate outcomes: ActionClose tears the session down immediately.
func TestPoolNotifyDefaultNetworkChangedClosesOnAction(t *testing.T) {
	tr := &fakeMigratingTransport{
		fakeTransport: fakeTransport{proto: ProtocolHTTP3, maxStr: 100},
		action:        MigrationActionClose,
	}
	dial := func(ctx context.Context, key Key, http3Acceptable bool) (Transport, error) {
		return tr, nil
	}
	pool := NewPool(dial, nil)

	st, err := pool.AcquireStream(context.Background(), testKey(), true)
	require.NoError(t, err)

	pool.NotifyDefaultNetworkChanged(engine.NewNetworkBinding())

	assert.Equal(t, StateClosed, st.Session().State())
}

// TestPoolNotifyDefaultNetworkChangedIgnoresNonMigratableTransports
// confirms HTTP/1.1 and HTTP/2 sessions (no NetworkMigrator) are left
// alone by NotifyDefaultNetworkChanged.
func TestPoolNotifyDefaultNetworkChangedIgnoresNonMigratableTransports(t *testing.T) {
	dial := func(ctx context.Context, key Key, http3Acceptable bool) (Transport, error) {
		return &fakeTransport{proto: ProtocolHTTP2, maxStr: 100}, nil
	}
	pool := NewPool(dial, nil)

	st, err := pool.AcquireStream(context.Background(), testKey(), true)
	require.NoError(t, err)

	pool.NotifyDefaultNetworkChanged(engine.NewNetworkBinding())

	assert.Equal(t, StateActive, st.Session().State())
}

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAcquireStreamEstablishesOnMiss(t *testing.T) {
	var dials int32
	dial := func(ctx context.Context, key Key, http3Acceptable bool) (Transport, error) {
		atomic.AddInt32(&dials, 1)
		return &fakeTransport{proto: ProtocolHTTP2, maxStr: 100}, nil
	}
	p := NewPool(dial, nil)

	st, err := p.AcquireStream(context.Background(), testKey(), true)
	require.NoError(t, err)
	assert.NotNil(t, st)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
}

func TestPoolReusesActiveSessionUnderLimit(t *testing.T) {
	dial := func(ctx context.Context, key Key, http3Acceptable bool) (Transport, error) {
		return &fakeTransport{proto: ProtocolHTTP2, maxStr: 100}, nil
	}
	p := NewPool(dial, nil)

	st1, err := p.AcquireStream(context.Background(), testKey(), true)
	require.NoError(t, err)
	st2, err := p.AcquireStream(context.Background(), testKey(), true)
	require.NoError(t, err)

	assert.Equal(t, st1.Session(), st2.Session())
}

func TestPoolDedupesConcurrentEstablishment(t *testing.T) {
	var dials int32
	release := make(chan struct{})
	dial := func(ctx context.Context, key Key, http3Acceptable bool) (Transport, error) {
		atomic.AddInt32(&dials, 1)
		<-release
		return &fakeTransport{proto: ProtocolHTTP2, maxStr: 100}, nil
	}
	p := NewPool(dial, nil)

	var wg sync.WaitGroup
	results := make([]*Stream, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			st, err := p.AcquireStream(context.Background(), testKey(), true)
			assert.NoError(t, err)
			results[idx] = st
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.Equal(t, results[0].Session(), results[1].Session())
}

func TestPoolEstablishFailureMarksAltSvcBroken(t *testing.T) {
	dial := func(ctx context.Context, key Key, http3Acceptable bool) (Transport, error) {
		return nil, assertError{"boom"}
	}
	p := NewPool(dial, nil)

	_, err := p.AcquireStream(context.Background(), testKey(), true)
	require.Error(t, err)
	assert.True(t, p.AltSvcRegistry().IsBroken(testKey().Origin, time.Now()))
}

func TestPoolDrainOriginPreventsNewStreams(t *testing.T) {
	dial := func(ctx context.Context, key Key, http3Acceptable bool) (Transport, error) {
		return &fakeTransport{proto: ProtocolHTTP2, maxStr: 100}, nil
	}
	p := NewPool(dial, nil)

	st1, err := p.AcquireStream(context.Background(), testKey(), true)
	require.NoError(t, err)

	p.DrainOrigin(testKey())
	assert.Equal(t, StateDraining, st1.Session().State())

	st2, err := p.AcquireStream(context.Background(), testKey(), true)
	require.NoError(t, err)
	assert.NotEqual(t, st1.Session(), st2.Session())
}

func TestPoolCloseClosesAllSessions(t *testing.T) {
	dial := func(ctx context.Context, key Key, http3Acceptable bool) (Transport, error) {
		return &fakeTransport{proto: ProtocolHTTP2, maxStr: 100}, nil
	}
	p := NewPool(dial, nil)

	st, err := p.AcquireStream(context.Background(), testKey(), true)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.Equal(t, StateClosed, st.Session().State())

	_, err = p.AcquireStream(context.Background(), testKey(), true)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

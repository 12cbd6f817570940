package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkTaskRunsPostedWork(t *testing.T) {
	task := NewNetworkTask()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	var n atomic.Int64
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		task.Post(func() {
			n.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	assert.Equal(t, int64(100), n.Load())
}

func TestNetworkTaskSerializesClosures(t *testing.T) {
	task := NewNetworkTask()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	var counter int
	var mistakes atomic.Int64
	var wg sync.WaitGroup
	for range 500 {
		wg.Add(1)
		task.Post(func() {
			before := counter
			counter = before + 1
			if counter != before+1 {
				mistakes.Add(1)
			}
			wg.Done()
		})
	}
	wg.Wait()
	assert.Equal(t, 500, counter)
	assert.Zero(t, mistakes.Load())
}

func TestNetworkTaskStopsOnContextCancel(t *testing.T) {
	task := NewNetworkTask()
	ctx, cancel := context.WithCancel(context.Background())
	go task.Run(ctx)

	cancel()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop after context cancellation")
	}
}

func TestNetworkTaskDrainsQueuedWorkOnShutdown(t *testing.T) {
	task := NewNetworkTask()
	ctx, cancel := context.WithCancel(context.Background())

	ran := make(chan struct{}, 1)
	blocker := make(chan struct{})
	go task.Run(ctx)

	// Occupy the single goroutine so the next Post lands in the queue
	// rather than running immediately.
	task.Post(func() { <-blocker })
	task.Post(func() { ran <- struct{}{} })

	cancel()
	close(blocker)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("queued closure was dropped on shutdown instead of drained")
	}
	<-task.Done()
}

func TestNetworkTaskPostDelayed(t *testing.T) {
	task := NewNetworkTask()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go task.Run(ctx)

	fired := make(chan struct{})
	task.PostDelayed(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("delayed closure never fired")
	}
}

func TestNetworkTaskPostAfterDoneIsNoop(t *testing.T) {
	task := NewNetworkTask()
	ctx, cancel := context.WithCancel(context.Background())
	go task.Run(ctx)
	cancel()
	<-task.Done()

	assert.NotPanics(t, func() {
		task.Post(func() { t.Error("should never run") })
	})
}

func TestNetworkBindingIdentity(t *testing.T) {
	a := NewNetworkBinding()
	b := NewNetworkBinding()
	require.NotEqual(t, a, b)
	assert.True(t, Unbound.IsUnbound())
	assert.False(t, a.IsUnbound())
}

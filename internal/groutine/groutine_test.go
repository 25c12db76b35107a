package groutine

import (
	"context"
	"runtime/pprof"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamesGoroutine(t *testing.T) {
	names := make(chan string, 1)
	labels := make(chan string, 1)

	Go(nil, "scan-session", func(ctx context.Context) {
		names <- GetName(ctx)
		v, _ := pprof.Label(ctx, "goroutine_name")
		labels <- v
	})

	select {
	case name := <-names:
		assert.Equal(t, "scan-session", name)
		assert.Equal(t, "scan-session", <-labels)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGo_InheritsParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	Go(parent, "waiter", func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("child context was not cancelled with its parent")
	}
}

func TestGetName_Empty(t *testing.T) {
	assert.Empty(t, GetName(nil)) //nolint:staticcheck // nil context is part of the contract
	assert.Empty(t, GetName(context.Background()))
}

func TestGroup_Wait(t *testing.T) {
	var g Group
	var finished atomic.Int32

	for i := 0; i < 5; i++ {
		g.Go(context.Background(), "worker", func(ctx context.Context) {
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
		})
	}
	g.Wait()

	require.Equal(t, int32(5), finished.Load())
}

package connection_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/blecentral/internal/connection"
	"github.com/srg/blecentral/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureKeepsFirstOutcome(t *testing.T) {
	h, err := connection.NewHandle(&device.Record{Address: testAddress}, &callbackRecorder{}, connection.HandleOptions{})
	require.NoError(t, err)

	f := connection.NewFuture()
	f.OnConnectSuccess(h)
	f.OnConnectFailure(errors.New("late failure"))

	got, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, h, got)
}

func TestFutureFailure(t *testing.T) {
	f := connection.NewFuture()
	f.OnConnectFailure(device.ErrTimeout)

	select {
	case r := <-f.Done():
		assert.Nil(t, r.Handle)
		assert.ErrorIs(t, r.Err, device.ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("future not completed")
	}
}

func TestFutureWaitHonoursContext(t *testing.T) {
	f := connection.NewFuture()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFutureDisconnectedClosesOnce(t *testing.T) {
	f := connection.NewFuture()
	f.OnDisconnect(nil)
	f.OnDisconnect(nil)

	select {
	case <-f.Disconnected():
	default:
		t.Fatal("disconnected channel not closed")
	}
}

func TestCallbackFuncsSkipsNilFields(t *testing.T) {
	var failures []error
	cb := connection.CallbackFuncs{
		Failure: func(err error) { failures = append(failures, err) },
	}

	cb.OnConnectSuccess(nil)
	cb.OnDisconnect(nil)
	cb.OnConnectFailure(device.ErrTimeout)

	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], device.ErrTimeout)
}

package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/blecentral/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockRadio is a device.Radio for tests. Dial is a plain testify mock; Scan is
// mocked for its error result and, on success, blocks until its context ends
// while Advertise feeds advertisements to every running scan.
type MockRadio struct {
	mock.Mock

	mu       sync.Mutex
	nextID   int
	handlers map[int]func(device.Advertisement)
}

// NewMockRadio creates a radio with no expectations.
func NewMockRadio() *MockRadio {
	return &MockRadio{handlers: make(map[int]func(device.Advertisement))}
}

// ExpectScan allows any number of scans that start successfully.
func (r *MockRadio) ExpectScan() *mock.Call {
	return r.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
}

// ExpectDial makes every dial to address return client and err.
func (r *MockRadio) ExpectDial(address string, client device.GATTClient, err error) *mock.Call {
	return r.On("Dial", mock.Anything, address).Return(client, err)
}

func (r *MockRadio) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	args := r.Called(ctx, allowDup, handler)
	if err := args.Error(0); err != nil {
		return err
	}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.handlers[id] = handler
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.handlers, id)
		r.mu.Unlock()
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (r *MockRadio) Dial(ctx context.Context, address string) (device.GATTClient, error) {
	args := r.Called(ctx, address)
	var client device.GATTClient
	if c := args.Get(0); c != nil {
		client = c.(device.GATTClient)
	}
	return client, args.Error(1)
}

// Advertise delivers adv to every running scan and returns how many received it.
func (r *MockRadio) Advertise(adv device.Advertisement) int {
	r.mu.Lock()
	handlers := make([]func(device.Advertisement), 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(adv)
	}
	return len(handlers)
}

// ActiveScans returns the number of scans currently blocked in Scan.
func (r *MockRadio) ActiveScans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// WaitForScans polls until at least n scans are running or timeout elapses.
func (r *MockRadio) WaitForScans(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.ActiveScans() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return r.ActiveScans() >= n
}

// WaitForNoScans polls until every scan has returned or timeout elapses.
func (r *MockRadio) WaitForNoScans(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.ActiveScans() == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return r.ActiveScans() == 0
}

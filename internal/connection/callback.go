package connection

import (
	"context"
	"sync"

	"github.com/srg/blecentral/internal/ringchan"
)

// Callback receives the asynchronous outcome of a connect attempt. Exactly one
// of OnConnectSuccess or OnConnectFailure is delivered per attempt;
// OnDisconnect follows a success at most once.
type Callback interface {
	OnConnectSuccess(h *Handle)
	OnConnectFailure(err error)
	OnDisconnect(h *Handle)
}

// CallbackFuncs adapts plain functions to Callback. Nil fields are skipped.
type CallbackFuncs struct {
	Success    func(h *Handle)
	Failure    func(err error)
	Disconnect func(h *Handle)
}

func (f CallbackFuncs) OnConnectSuccess(h *Handle) {
	if f.Success != nil {
		f.Success(h)
	}
}

func (f CallbackFuncs) OnConnectFailure(err error) {
	if f.Failure != nil {
		f.Failure(err)
	}
}

func (f CallbackFuncs) OnDisconnect(h *Handle) {
	if f.Disconnect != nil {
		f.Disconnect(h)
	}
}

// Result is the outcome of a connect attempt: a connected handle or an error.
type Result struct {
	Handle *Handle
	Err    error
}

// Future is a Callback that turns the connect outcome into a value. It keeps
// the first outcome only.
//
//	f := connection.NewFuture()
//	mgr.ConnectByName("Sensor", f)
//	h, err := f.Wait(ctx)
type Future struct {
	result       *ringchan.RingChannel[Result]
	once         sync.Once
	disconnected chan struct{}
	dcOnce       sync.Once
}

// NewFuture creates a pending Future.
func NewFuture() *Future {
	return &Future{
		result:       ringchan.New[Result](1),
		disconnected: make(chan struct{}),
	}
}

func (f *Future) OnConnectSuccess(h *Handle) {
	f.complete(Result{Handle: h})
}

func (f *Future) OnConnectFailure(err error) {
	f.complete(Result{Err: err})
}

func (f *Future) OnDisconnect(*Handle) {
	f.dcOnce.Do(func() { close(f.disconnected) })
}

func (f *Future) complete(r Result) {
	f.once.Do(func() { f.result.Send(r) })
}

// Done delivers the outcome once it is known. The value can be received once.
func (f *Future) Done() <-chan Result {
	return f.result.C()
}

// Disconnected is closed when the connected handle loses its link.
func (f *Future) Disconnected() <-chan struct{} {
	return f.disconnected
}

// Wait blocks until the outcome is known or ctx is done.
func (f *Future) Wait(ctx context.Context) (*Handle, error) {
	select {
	case r := <-f.result.C():
		return r.Handle, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

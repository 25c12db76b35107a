package connection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/ringchan"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultEventBuffer is the state-change backlog kept for slow readers.
const DefaultEventBuffer = 64

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	ConnectTimeout time.Duration
	// EvictOnTerminal removes handles as soon as they reach Failed or
	// Disconnected. Otherwise eviction is left to Remove.
	EvictOnTerminal bool
	EventBuffer     int
	Logger          *logrus.Logger
}

// Stats counts registry activity since creation.
type Stats struct {
	Active     int   `json:"active"`
	Created    int64 `json:"created"`
	Suppressed int64 `json:"suppressed"`
	Evicted    int64 `json:"evicted"`
}

// Registry maps device addresses to their connection handle. It holds at most
// one handle per address and never holds an Idle handle.
type Registry struct {
	mu      sync.Mutex
	handles *orderedmap.OrderedMap[string, *Handle]
	dialer  device.Dialer
	opts    RegistryOptions
	logger  *logrus.Logger
	events  *ringchan.RingChannel[StateChange]
	group   groutine.Group

	created    atomic.Int64
	suppressed atomic.Int64
	evicted    atomic.Int64
}

// NewRegistry creates an empty registry dialing through dialer.
func NewRegistry(dialer device.Dialer, opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	return &Registry{
		handles: orderedmap.New[string, *Handle](),
		dialer:  dialer,
		opts:    opts,
		logger:  opts.Logger,
		events:  ringchan.New[StateChange](opts.EventBuffer),
	}
}

// Connect registers a new handle for rec and starts its connect sequence in the
// background. When the address is already registered nothing happens: cb is
// never invoked and the existing handle is returned with started == false.
func (r *Registry) Connect(ctx context.Context, rec *device.Record, cb Callback) (h *Handle, started bool, err error) {
	if rec == nil || cb == nil {
		return nil, false, fmt.Errorf("%w: device record and callback are required", device.ErrInvalidArgument)
	}
	h, err = NewHandle(rec, cb, HandleOptions{
		ConnectTimeout: r.opts.ConnectTimeout,
		Logger:         r.logger,
	})
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	if existing, ok := r.handles.Get(rec.Address); ok {
		r.mu.Unlock()
		r.suppress(existing)
		return existing, false, nil
	}
	// Only non-Idle handles may be observed in the map.
	if err := h.begin(); err != nil {
		r.mu.Unlock()
		return nil, false, err
	}
	r.handles.Set(rec.Address, h)
	r.mu.Unlock()
	r.created.Add(1)

	h.mu.Lock()
	h.onChange = r.onStateChange
	h.mu.Unlock()
	r.onStateChange(StateChange{Address: h.Address(), From: Idle, To: Connecting, At: time.Now()})

	r.group.Go(ctx, "ble-connect", func(ctx context.Context) {
		h.establish(ctx, r.dialer)
	})
	return h, true, nil
}

func (r *Registry) suppress(existing *Handle) {
	r.suppressed.Add(1)
	r.logger.WithFields(logrus.Fields{
		"address": existing.Address(),
		"state":   existing.State().String(),
	}).Info("Device already registered, skipping connect")
}

func (r *Registry) onStateChange(change StateChange) {
	r.events.Send(change)
	if r.opts.EvictOnTerminal && change.To.Terminal() {
		if h, ok := r.Get(change.Address); ok {
			r.evict(h)
		}
	}
}

// Get returns the handle registered for address.
func (r *Registry) Get(address string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles.Get(address)
}

// Remove evicts the handle of address so that the device can be connected
// again. A connected handle is disconnected first; a handle that is still
// connecting cannot be removed. Reports whether a handle was removed.
func (r *Registry) Remove(address string) (bool, error) {
	h, ok := r.Get(address)
	if !ok {
		return false, nil
	}

	switch h.State() {
	case Connecting:
		return false, fmt.Errorf("%w: connect to %s still in progress", device.ErrInvalidTransition, address)
	case Connected:
		if err := h.Disconnect(); err != nil {
			r.logger.WithError(err).WithField("address", address).Warn("Disconnect before removal failed")
		}
	}

	r.evict(h)
	current, ok := r.Get(address)
	return !ok || current != h, nil
}

// evict deletes h if it is still the handle registered for its address.
func (r *Registry) evict(h *Handle) bool {
	r.mu.Lock()
	current, ok := r.handles.Get(h.Address())
	if !ok || current != h {
		r.mu.Unlock()
		return false
	}
	r.handles.Delete(h.Address())
	r.mu.Unlock()

	r.evicted.Add(1)
	r.logger.WithField("address", h.Address()).Debug("Connection handle evicted")
	return true
}

// Handles returns a snapshot of the registered handles ordered by address.
func (r *Registry) Handles() []*Handle {
	r.mu.Lock()
	result := make([]*Handle, 0, r.handles.Len())
	for pair := r.handles.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	r.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Address() < result[j].Address()
	})
	return result
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles.Len()
}

// Stats returns the current counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Active:     r.Len(),
		Created:    r.created.Load(),
		Suppressed: r.suppressed.Load(),
		Evicted:    r.evicted.Load(),
	}
}

// Events streams state changes of every handle. When the reader falls behind
// the oldest changes are dropped.
func (r *Registry) Events() <-chan StateChange {
	return r.events.C()
}

// DisconnectAll disconnects every connected handle.
func (r *Registry) DisconnectAll() {
	for _, h := range r.Handles() {
		if h.State() != Connected {
			continue
		}
		if err := h.Disconnect(); err != nil {
			r.logger.WithError(err).WithField("address", h.Address()).Warn("Failed to disconnect device")
		}
	}
}

// Wait blocks until every background connect sequence has finished.
func (r *Registry) Wait() {
	r.group.Wait()
}

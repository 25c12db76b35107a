package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

// DefaultConnectTimeout guards the dial when no timeout is configured.
const DefaultConnectTimeout = 30 * time.Second

// HandleOptions configures a Handle.
type HandleOptions struct {
	ConnectTimeout time.Duration
	Logger         *logrus.Logger

	// OnStateChange observes every transition, after it is applied.
	OnStateChange func(StateChange)
}

// Handle is the connection to one device. It moves through
// Idle -> Connecting -> Connected | Failed, and Connected -> Disconnected.
// A terminal handle is never reused.
type Handle struct {
	record   *device.Record
	callback Callback
	timeout  time.Duration
	logger   *logrus.Logger
	onChange func(StateChange)

	mu      sync.RWMutex
	state   State
	err     error
	client  device.GATTClient
	profile *ble.Profile

	linkDown chan struct{}
	downOnce sync.Once
}

// NewHandle creates an Idle handle for rec reporting to cb.
func NewHandle(rec *device.Record, cb Callback, opts HandleOptions) (*Handle, error) {
	if rec == nil || rec.Address == "" {
		return nil, fmt.Errorf("%w: device record without address", device.ErrInvalidArgument)
	}
	if cb == nil {
		return nil, fmt.Errorf("%w: connect callback is nil", device.ErrInvalidArgument)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	return &Handle{
		record:   rec,
		callback: cb,
		timeout:  opts.ConnectTimeout,
		logger:   opts.Logger,
		onChange: opts.OnStateChange,
		state:    Idle,
		linkDown: make(chan struct{}),
	}, nil
}

// Address returns the device address, the registry key of the handle.
func (h *Handle) Address() string {
	return h.record.Address
}

// Record returns the scan record the handle was created from.
func (h *Handle) Record() *device.Record {
	return h.record
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Err returns the failure that moved the handle to Failed, if any.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Profile returns the GATT profile discovered on connect, nil before that.
func (h *Handle) Profile() *ble.Profile {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.profile
}

// Connect runs the whole connect sequence on the calling goroutine and
// reports the outcome through the callback. It fails with
// device.ErrInvalidTransition unless the handle is Idle.
func (h *Handle) Connect(ctx context.Context, dialer device.Dialer) error {
	if dialer == nil {
		return fmt.Errorf("%w: dialer is nil", device.ErrInvalidArgument)
	}
	if err := h.begin(); err != nil {
		return err
	}
	h.establish(ctx, dialer)
	return nil
}

// begin moves Idle -> Connecting.
func (h *Handle) begin() error {
	return h.transition(Connecting, nil)
}

// establish dials the device and discovers its profile. The handle must be
// Connecting.
func (h *Handle) establish(ctx context.Context, dialer device.Dialer) {
	logger := h.logger.WithField("address", h.Address())
	logger.Info("Connecting to BLE device...")

	dialCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	client, err := dialer.Dial(dialCtx, h.Address())
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: no connection after %s: %v", device.ErrTimeout, h.timeout, err)
		}
		h.fail(&device.ConnectError{Address: h.Address(), Err: err})
		return
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cerr := client.CancelConnection(); cerr != nil {
			logger.WithError(cerr).Warn("Failed to cancel connection after profile discovery error")
		}
		h.fail(&device.ConnectError{Address: h.Address(), Err: fmt.Errorf("failed to discover profile: %w", err)})
		return
	}

	h.mu.Lock()
	h.client = client
	h.profile = profile
	h.mu.Unlock()

	if err := h.transition(Connected, nil); err != nil {
		_ = client.CancelConnection()
		h.fail(&device.ConnectError{Address: h.Address(), Err: err})
		return
	}

	logger.WithField("services", len(profile.Services)).Info("BLE device connected")

	h.callback.OnConnectSuccess(h)

	// started after the success callback so that OnDisconnect always follows it
	if watcher, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-link-monitor", func(context.Context) {
			select {
			case <-watcher.Disconnected():
				h.linkLost()
			case <-h.linkDown:
			}
		})
	}
}

func (h *Handle) fail(err error) {
	if terr := h.transition(Failed, err); terr != nil {
		h.logger.WithError(terr).Warn("Dropping connect failure")
		return
	}
	h.logger.WithFields(logrus.Fields{
		"address": h.Address(),
		"error":   err,
	}).Warn("BLE connect failed")
	h.callback.OnConnectFailure(err)
}

// Disconnect closes the link of a connected handle. OnDisconnect is delivered
// once, whether the link is closed here or lost on the platform side.
func (h *Handle) Disconnect() error {
	h.mu.RLock()
	state, client := h.state, h.client
	h.mu.RUnlock()

	if state != Connected {
		return fmt.Errorf("%w: device %s is %s", device.ErrNotConnected, h.Address(), state)
	}

	h.logger.WithField("address", h.Address()).Info("Disconnecting BLE device...")
	err := client.CancelConnection()
	h.linkLost()
	if err != nil {
		h.logger.WithError(err).Warn("BLE device disconnected with errors")
	}
	return err
}

func (h *Handle) linkLost() {
	h.downOnce.Do(func() {
		close(h.linkDown)
		if err := h.transition(Disconnected, nil); err != nil {
			h.logger.WithError(err).Debug("Ignoring link loss")
			return
		}
		h.logger.WithField("address", h.Address()).Info("BLE device disconnected")
		h.callback.OnDisconnect(h)
	})
}

func (h *Handle) transition(to State, cause error) error {
	h.mu.Lock()
	from := h.state
	if !CanTransition(from, to) {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s for %s", device.ErrInvalidTransition, from, to, h.Address())
	}
	h.state = to
	if cause != nil {
		h.err = cause
	}
	onChange := h.onChange
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"address": h.Address(),
		"from":    from.String(),
		"to":      to.String(),
	}).Debug("Connection state changed")

	if onChange != nil {
		onChange(StateChange{Address: h.Address(), From: from, To: to, Err: cause, At: time.Now()})
	}
	return nil
}

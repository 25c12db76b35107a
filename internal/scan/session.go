// Package scan runs time-bounded BLE scan passes. A Session collects every
// advertisement into a device.Store and, when filtered, stops at the first
// device matching its filter.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

// DefaultTimeout bounds a session whose timeout was never set.
const DefaultTimeout = 10 * time.Second

// Listener receives the outcome of a Session. Exactly one of OnScanFinish or
// OnScanTimeout is delivered per started session unless it is stopped first.
type Listener interface {
	// OnDeviceFound is called for every sighting, in arrival order.
	OnDeviceFound(rec *device.Record)
	// OnScanFinish delivers the store of an unfiltered pass at timeout, or of a
	// filtered pass at its first match.
	OnScanFinish(store *device.Store)
	// OnScanTimeout is called when a filtered pass ends without a match.
	OnScanTimeout()
}

// Tracker follows the passes of sessions, for owners that must stop every
// running session on shutdown. Both methods are called with the session
// locked, so they must not call back into the session. SessionStarted may
// veto the pass by returning an error.
type Tracker interface {
	SessionStarted(s *Session) error
	SessionEnded(s *Session)
}

// ErrorListener is implemented by listeners that want to learn about platform
// scan failures. The session is stopped before OnScanError is called.
type ErrorListener interface {
	OnScanError(err error)
}

// Option configures a Session.
type Option func(*Session)

// WithFilter turns the session into a filtered, single-match session.
func WithFilter(f device.Filter) Option {
	return func(s *Session) {
		s.filter = f
	}
}

// WithTimeout sets how long the session scans before giving up.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.timeout = d
	}
}

// WithDuplicates asks the platform to report every advertisement, not only the
// first per device, so that RSSI updates reach the store.
func WithDuplicates(allow bool) Option {
	return func(s *Session) {
		s.allowDup = allow
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session is a single scan pass. A session may be started again after it ended;
// every start gets a fresh store.
//
// Listener calls of a session never overlap, and no sighting is delivered
// after the pass ended. Listeners must not call Wait.
type Session struct {
	listener Listener
	filter   device.Filter
	allowDup bool
	logger   *logrus.Logger

	// deliver serializes listener calls with the end of a pass.
	deliver sync.Mutex

	mu      sync.Mutex
	active  bool
	tracker Tracker
	gen     uint64
	timeout time.Duration
	store   *device.Store
	timer   *time.Timer
	cancel  context.CancelFunc
	group   groutine.Group
}

// NewSession creates an inactive session reporting to listener.
func NewSession(listener Listener, opts ...Option) (*Session, error) {
	if listener == nil {
		return nil, fmt.Errorf("%w: scan listener is nil", device.ErrInvalidArgument)
	}

	s := &Session{
		listener: listener,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
	}
	if s.timeout <= 0 {
		return nil, fmt.Errorf("%w: scan timeout must be positive, got %s", device.ErrInvalidArgument, s.timeout)
	}
	return s, nil
}

// SetTimeout changes the timeout used by the next Start.
func (s *Session) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// Timeout returns the configured timeout.
func (s *Session) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// Filter returns the session filter, nil for an unfiltered session.
func (s *Session) Filter() device.Filter {
	return s.filter
}

// IsActive reports whether the session is scanning.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Store returns the store of the current or last pass.
func (s *Session) Store() *device.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// Start begins scanning on scanner and arms the timeout. It returns
// device.ErrAlreadyActive if the session is already scanning.
func (s *Session) Start(scanner device.Scanner) error {
	return s.StartTracked(scanner, nil)
}

// StartTracked is Start with tracker told when the pass begins and ends.
// An error from tracker.SessionStarted is returned and the pass is not started.
func (s *Session) StartTracked(scanner device.Scanner, tracker Tracker) error {
	if scanner == nil {
		return fmt.Errorf("%w: scanner is nil", device.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return device.ErrAlreadyActive
	}
	if tracker != nil {
		if err := tracker.SessionStarted(s); err != nil {
			return err
		}
	}

	s.tracker = tracker
	s.active = true
	s.gen++
	gen := s.gen
	s.store = device.NewStore()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.timer = time.AfterFunc(s.timeout, func() { s.onTimeout(gen) })

	fields := logrus.Fields{"timeout": s.timeout}
	if s.filter != nil {
		fields["filter"] = s.filter.String()
	}
	s.logger.WithFields(fields).Info("Starting BLE scan session...")

	s.group.Go(ctx, "scan-session", func(ctx context.Context) {
		err := scanner.Scan(ctx, s.allowDup, func(adv device.Advertisement) {
			s.onAdvertisement(gen, adv)
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.onScanError(gen, err)
		}
	})

	return nil
}

// Stop ends the session without notifying the listener. The pending timeout is
// cancelled, so no OnScanFinish or OnScanTimeout follows. A sighting that is
// being delivered while Stop runs may still reach OnDeviceFound. Stopping an
// inactive session is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	stopped := s.endLocked()
	s.mu.Unlock()

	if stopped {
		s.logger.Debug("BLE scan session stopped")
	}
}

// Wait blocks until the platform scan of every pass has returned.
func (s *Session) Wait() {
	s.group.Wait()
}

// endLocked tears the session down. Reports whether it was active.
// Callers must hold s.mu.
func (s *Session) endLocked() bool {
	if !s.active {
		return false
	}
	s.active = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.tracker != nil {
		s.tracker.SessionEnded(s)
		s.tracker = nil
	}
	return true
}

// onAdvertisement upserts the sighting and short-circuits a filtered session on
// its first match. Events of an ended pass are dropped.
func (s *Session) onAdvertisement(gen uint64, adv device.Advertisement) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	if !s.active || s.gen != gen {
		s.mu.Unlock()
		return
	}

	rec, seen := s.store.Upsert(device.NewRecord(adv))
	matched := s.filter != nil && s.filter.Match(rec)
	if matched {
		s.endLocked()
	}
	s.mu.Unlock()

	if !seen {
		s.logger.WithFields(logrus.Fields{
			"device":  rec.DisplayName(),
			"address": rec.Address,
			"rssi":    rec.RSSI,
		}).Debug("Discovered new device")
	}
	s.listener.OnDeviceFound(rec)

	if matched {
		s.logger.WithFields(logrus.Fields{
			"address": rec.Address,
			"filter":  s.filter.String(),
		}).Info("Filtered scan matched device")
		s.listener.OnScanFinish(singleDeviceStore(rec))
	}
}

func (s *Session) onTimeout(gen uint64) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	if !s.active || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.endLocked()
	store := s.store
	s.mu.Unlock()

	s.logger.WithField("device_count", store.Len()).Info("BLE scan session timed out")

	if s.filter != nil {
		s.listener.OnScanTimeout()
		return
	}
	s.listener.OnScanFinish(store)
}

func (s *Session) onScanError(gen uint64, err error) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	s.mu.Lock()
	if !s.active || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.endLocked()
	s.mu.Unlock()

	s.logger.WithError(err).Error("BLE scan failed")

	if el, ok := s.listener.(ErrorListener); ok {
		el.OnScanError(err)
	}
}

// singleDeviceStore is the store handed to a filtered session's listener: it
// holds the matched device only.
func singleDeviceStore(rec *device.Record) *device.Store {
	store := device.NewStore()
	store.Upsert(rec)
	return store
}

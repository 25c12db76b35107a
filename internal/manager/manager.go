// Package manager is the entry point of the library. A Manager owns the radio,
// the connection registry and every scan started through it, and composes them
// into the scan-then-connect operations.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/connection"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/scan"
	"github.com/srg/blecentral/pkg/config"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("manager closed")

// RawScan is an unmanaged platform scan started by StartRawScan.
type RawScan struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed when the platform scan has returned.
func (r *RawScan) Done() <-chan struct{} {
	return r.done
}

// Err returns the platform error that ended the scan, if any. Valid after Done.
func (r *RawScan) Err() error {
	return r.err
}

// Manager coordinates scanning and connecting. It must be initialized with a
// radio before use; only the first initialization takes effect.
type Manager struct {
	cfg    *config.Config
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  groutine.Group

	mu          sync.Mutex
	initialized bool
	closed      bool
	radio       device.Radio
	registry    *connection.Registry
	sessions    map[*scan.Session]func()
	rawScans    map[*RawScan]struct{}
}

// New creates an uninitialized manager. A nil cfg means config.DefaultConfig().
func New(cfg *config.Config, logger *logrus.Logger) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*scan.Session]func()),
		rawScans: make(map[*RawScan]struct{}),
	}
}

// Initialize retains radio and creates the connection registry. Calls after
// the first successful one, and calls with a nil radio, are no-ops. Reports
// whether this call initialized the manager.
func (m *Manager) Initialize(radio device.Radio) bool {
	if radio == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized || m.closed {
		return false
	}

	m.radio = radio
	m.registry = connection.NewRegistry(radio, connection.RegistryOptions{
		ConnectTimeout:  m.cfg.ConnectTimeout,
		EvictOnTerminal: m.cfg.EvictOnTerminal,
		EventBuffer:     m.cfg.EventBuffer,
		Logger:          m.logger,
	})
	m.initialized = true

	m.logger.Debug("BLE manager initialized")
	return true
}

// Radio returns the retained radio, nil before Initialize.
func (m *Manager) Radio() device.Radio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.radio
}

// Registry returns the connection registry, nil before Initialize.
func (m *Manager) Registry() *connection.Registry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry
}

// ready returns the radio and registry of an initialized, open manager.
func (m *Manager) ready() (device.Radio, *connection.Registry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, ErrClosed
	}
	if !m.initialized {
		return nil, nil, device.ErrNotInitialized
	}
	return m.radio, m.registry, nil
}

// StartRawScan passes every advertisement the platform reports to handler
// until StopRawScan or Close.
func (m *Manager) StartRawScan(handler func(device.Advertisement)) (*RawScan, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: scan handler is nil", device.ErrInvalidArgument)
	}
	radio, _, err := m.ready()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(m.ctx)
	rs := &RawScan{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.rawScans[rs] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("Starting raw BLE scan...")
	m.group.Go(ctx, "ble-raw-scan", func(ctx context.Context) {
		defer close(rs.done)
		err := radio.Scan(ctx, m.cfg.AllowDuplicates, handler)
		if err != nil && !errors.Is(err, context.Canceled) {
			rs.err = err
			m.logger.WithError(err).Error("Raw BLE scan failed")
		}
		m.mu.Lock()
		delete(m.rawScans, rs)
		m.mu.Unlock()
	})
	return rs, nil
}

// StopRawScan stops rs and waits for the platform scan to return. Stopping a
// stopped scan is a no-op.
func (m *Manager) StopRawScan(rs *RawScan) {
	if rs == nil {
		return
	}
	rs.cancel()
	<-rs.done
}

// StartScan starts session on the manager's radio using the configured scan
// timeout.
func (m *Manager) StartScan(session *scan.Session) error {
	return m.startSession(session, nil)
}

func (m *Manager) startSession(session *scan.Session, abort func()) error {
	if session == nil {
		return fmt.Errorf("%w: scan session is nil", device.ErrInvalidArgument)
	}
	radio, _, err := m.ready()
	if err != nil {
		return err
	}

	session.SetTimeout(m.cfg.ScanTimeout)
	return session.StartTracked(radio, &sessionTracker{m: m, abort: abort})
}

// sessionTracker keeps m.sessions in step with the passes of one session.
type sessionTracker struct {
	m     *Manager
	abort func()
}

func (t *sessionTracker) SessionStarted(session *scan.Session) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.m.closed {
		return ErrClosed
	}
	t.m.sessions[session] = t.abort
	return nil
}

func (t *sessionTracker) SessionEnded(session *scan.Session) {
	t.m.forgetSession(session)
}

// StopScan stops session. A nil session is rejected; an inactive one is a no-op.
func (m *Manager) StopScan(session *scan.Session) error {
	if session == nil {
		return fmt.Errorf("%w: scan session is nil", device.ErrInvalidArgument)
	}
	session.Stop()
	return nil
}

func (m *Manager) forgetSession(session *scan.Session) {
	m.mu.Lock()
	delete(m.sessions, session)
	m.mu.Unlock()
}

// Connect starts connecting to rec in the background and reports the outcome
// to cb. A nil rec or cb is ignored, as is a device that is already registered.
func (m *Manager) Connect(rec *device.Record, cb connection.Callback) error {
	if rec == nil || cb == nil {
		m.logger.Debug("Connect called without device or callback, ignoring")
		return nil
	}
	_, registry, err := m.ready()
	if err != nil {
		return err
	}
	_, _, err = registry.Connect(m.ctx, rec, cb)
	return err
}

// ConnectByAddress scans for the device with the given address and connects
// to it. If the device is not seen within the scan timeout cb receives an error
// wrapping device.ErrTimeout.
func (m *Manager) ConnectByAddress(address string, cb connection.Callback) error {
	filter, err := device.AddressFilter(address)
	if err != nil {
		return err
	}
	return m.connectBy(filter, cb)
}

// ConnectByName scans for the first device advertising name and connects to
// it. Names are compared as configured by NameMatch.
func (m *Manager) ConnectByName(name string, cb connection.Callback) error {
	filter, err := device.NameFilter(name, m.cfg.NameMatch)
	if err != nil {
		return err
	}
	return m.connectBy(filter, cb)
}

func (m *Manager) connectBy(filter device.Filter, cb connection.Callback) error {
	if cb == nil {
		return fmt.Errorf("%w: connect callback is nil", device.ErrInvalidArgument)
	}
	if _, _, err := m.ready(); err != nil {
		return err
	}

	p, err := newPipeline(m, filter, cb)
	if err != nil {
		return err
	}
	return p.start()
}

// Handle returns the connection handle registered for address.
func (m *Manager) Handle(address string) (*connection.Handle, bool) {
	_, registry, err := m.ready()
	if err != nil {
		return nil, false
	}
	return registry.Get(address)
}

// Handles returns every registered handle ordered by address.
func (m *Manager) Handles() []*connection.Handle {
	_, registry, err := m.ready()
	if err != nil {
		return nil
	}
	return registry.Handles()
}

// Stats returns the registry counters.
func (m *Manager) Stats() connection.Stats {
	_, registry, err := m.ready()
	if err != nil {
		return connection.Stats{}
	}
	return registry.Stats()
}

// Disconnect closes the link to the device with the given address.
func (m *Manager) Disconnect(address string) error {
	h, err := m.connected(address)
	if err != nil {
		return err
	}
	return h.Disconnect()
}

// Remove evicts the device from the registry so that it can be connected again.
func (m *Manager) Remove(address string) (bool, error) {
	_, registry, err := m.ready()
	if err != nil {
		return false, err
	}
	return registry.Remove(address)
}

func (m *Manager) connected(address string) (*connection.Handle, error) {
	_, registry, err := m.ready()
	if err != nil {
		return nil, err
	}
	h, ok := registry.Get(address)
	if !ok {
		return nil, fmt.Errorf("%w: no connection to %s", device.ErrNotConnected, address)
	}
	return h, nil
}

// WriteCharacteristic writes data through the connection to address.
func (m *Manager) WriteCharacteristic(address string, serviceID, charID, descriptorID ble.UUID, data []byte) error {
	h, err := m.connected(address)
	if err != nil {
		return err
	}
	return h.WriteCharacteristic(serviceID, charID, descriptorID, data)
}

// ReadCharacteristic reads through the connection to address.
func (m *Manager) ReadCharacteristic(address string, serviceID, charID, descriptorID ble.UUID) ([]byte, error) {
	h, err := m.connected(address)
	if err != nil {
		return nil, err
	}
	return h.ReadCharacteristic(serviceID, charID, descriptorID)
}

// RegisterNotification subscribes handler to a characteristic of address.
func (m *Manager) RegisterNotification(address string, serviceID, charID, descriptorID ble.UUID, handler func([]byte)) error {
	h, err := m.connected(address)
	if err != nil {
		return err
	}
	return h.RegisterNotification(serviceID, charID, descriptorID, handler)
}

// UnregisterNotification cancels a subscription made by RegisterNotification.
func (m *Manager) UnregisterNotification(address string, serviceID, charID, descriptorID ble.UUID) error {
	h, err := m.connected(address)
	if err != nil {
		return err
	}
	return h.UnregisterNotification(serviceID, charID, descriptorID)
}

// Close stops every scan, cancels connects in flight, disconnects every
// device and stops the radio. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[*scan.Session]func())
	rawScans := make([]*RawScan, 0, len(m.rawScans))
	for rs := range m.rawScans {
		rawScans = append(rawScans, rs)
	}
	radio, registry := m.radio, m.registry
	m.mu.Unlock()

	m.logger.Info("Closing BLE manager...")

	for session, abort := range sessions {
		session.Stop()
		if abort != nil {
			abort()
		}
	}
	for _, rs := range rawScans {
		rs.cancel()
	}

	m.cancel()
	if registry != nil {
		registry.Wait()
		registry.DisconnectAll()
	}
	for session := range sessions {
		session.Wait()
	}
	m.group.Wait()

	if stopper, ok := radio.(interface{ Stop() error }); ok {
		if err := stopper.Stop(); err != nil {
			return fmt.Errorf("failed to stop radio: %w", err)
		}
	}
	return nil
}

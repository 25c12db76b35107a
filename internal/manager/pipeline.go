package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/connection"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/scan"
)

// stage is the progress of a scan-then-connect pipeline.
type stage int

const (
	stageScanning stage = iota
	stageConnecting
	stageTimedOut
	stageFailed
)

func (s stage) String() string {
	switch s {
	case stageScanning:
		return "scanning"
	case stageConnecting:
		return "connecting"
	case stageTimedOut:
		return "timed_out"
	case stageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// pipeline is a filtered scan session feeding its single match into
// Manager.Connect. It is the scan listener of its own session. The scan stage
// ends exactly once: with a match, a timeout, a scan error or an abort.
type pipeline struct {
	m        *Manager
	filter   device.Filter
	callback connection.Callback
	session  *scan.Session
	logger   *logrus.Entry

	mu    sync.Mutex
	stage stage
}

func newPipeline(m *Manager, filter device.Filter, cb connection.Callback) (*pipeline, error) {
	p := &pipeline{
		m:        m,
		filter:   filter,
		callback: cb,
		logger:   m.logger.WithField("filter", filter.String()),
		stage:    stageScanning,
	}

	session, err := scan.NewSession(p,
		scan.WithFilter(filter),
		scan.WithTimeout(m.cfg.ScanTimeout),
		scan.WithDuplicates(m.cfg.AllowDuplicates),
		scan.WithLogger(m.logger),
	)
	if err != nil {
		return nil, err
	}
	p.session = session
	return p, nil
}

func (p *pipeline) start() error {
	p.logger.Debug("Starting scan-then-connect")
	return p.m.startSession(p.session, func() { p.fail(context.Canceled) })
}

// advance leaves the scanning stage. Reports false if it was already left.
func (p *pipeline) advance(next stage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage != stageScanning {
		return false
	}
	p.stage = next
	return true
}

func (p *pipeline) current() stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

func (p *pipeline) OnDeviceFound(*device.Record) {}

func (p *pipeline) OnScanFinish(store *device.Store) {

	rec := store.First()
	if rec == nil {
		p.fail(fmt.Errorf("%w: scan finished without a device", device.ErrNotFound))
		return
	}
	if !p.advance(stageConnecting) {
		return
	}

	p.logger.WithField("address", rec.Address).Info("Device found, connecting")
	if err := p.m.Connect(rec, p.callback); err != nil {
		p.callback.OnConnectFailure(err)
	}
}

func (p *pipeline) OnScanTimeout() {
	if !p.advance(stageTimedOut) {
		return
	}
	p.logger.Info("No matching device found before scan timeout")
	p.callback.OnConnectFailure(fmt.Errorf("%w: no device matching %s within %s", device.ErrTimeout, p.filter, p.session.Timeout()))
}

func (p *pipeline) OnScanError(err error) {
	p.fail(fmt.Errorf("scan for %s failed: %w", p.filter, err))
}

func (p *pipeline) fail(err error) {
	if !p.advance(stageFailed) {
		return
	}
	p.logger.WithError(err).Warn("Scan-then-connect failed")
	p.callback.OnConnectFailure(err)
}

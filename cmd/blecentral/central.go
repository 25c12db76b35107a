package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/connection"
	"github.com/srg/blecentral/internal/device"
	goble "github.com/srg/blecentral/internal/device/go-ble"
	"github.com/srg/blecentral/internal/manager"
	"github.com/srg/blecentral/pkg/config"
)

// radioFactory opens the platform adapter (can be overridden in tests)
var radioFactory = goble.NewRadio

// targetOptions selects the peripheral a command talks to.
type targetOptions struct {
	byName      bool
	ignoreCase  bool
	scanTimeout time.Duration
}

func (o *targetOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&o.byName, "name", "n", false, "Treat the device argument as an advertised name instead of an address")
	cmd.Flags().BoolVarP(&o.ignoreCase, "ignore-case", "i", false, "Match the device name case-insensitively")
	cmd.Flags().DurationVar(&o.scanTimeout, "scan-timeout", 0, "How long to look for the device (default from config)")
}

func (o *targetOptions) apply(cfg *config.Config) {
	if o.ignoreCase {
		cfg.NameMatch = device.NameMatchFold
	}
	if o.scanTimeout > 0 {
		cfg.ScanTimeout = o.scanTimeout
	}
}

// startManager loads the configuration, lets adjust override it from flags,
// and returns a manager initialized on the platform radio. The caller closes it.
func startManager(cmd *cobra.Command, adjust func(*config.Config)) (*manager.Manager, *config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if adjust != nil {
		adjust(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	radio, err := radioFactory()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open BLE adapter: %w", err)
	}

	mgr := manager.New(cfg, logger)
	mgr.Initialize(radio)
	return mgr, cfg, logger, nil
}

func closeManager(mgr *manager.Manager, logger *logrus.Logger) {
	if err := mgr.Close(); err != nil {
		logger.WithError(err).Warn("BLE manager closed with errors")
	}
}

// interruptContext is cancelled on Ctrl+C or SIGTERM.
func interruptContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(cmd.Context())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// connectTarget finds the target by address or name, connects, and waits for
// the outcome. The returned future reports a later link loss.
func connectTarget(ctx context.Context, mgr *manager.Manager, target string, byName bool) (*connection.Handle, *connection.Future, error) {
	progress := NewProgressPrinter(fmt.Sprintf("Connecting to %s", target), "Scanning")
	progress.Start()
	defer progress.Stop()

	future := connection.NewFuture()
	var err error
	if byName {
		err = mgr.ConnectByName(target, future)
	} else {
		err = mgr.ConnectByAddress(target, future)
	}
	if err != nil {
		return nil, nil, err
	}

	h, err := future.Wait(ctx)
	if err != nil {
		return nil, nil, err
	}
	return h, future, nil
}

// gattTarget identifies the attribute a data-path command works on.
type gattTarget struct {
	service ble.UUID
	char    ble.UUID
	desc    ble.UUID
}

func (t gattTarget) String() string {
	if len(t.desc) > 0 {
		return fmt.Sprintf("%s/%s/%s", t.service, t.char, t.desc)
	}
	return fmt.Sprintf("%s/%s", t.service, t.char)
}

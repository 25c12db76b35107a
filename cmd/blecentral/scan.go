package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/scan"
	"github.com/srg/blecentral/pkg/config"
)

type scanOptions struct {
	duration     time.Duration
	format       string
	name         string
	address      string
	ignoreCase   bool
	noDuplicates bool
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Without a filter the scan runs for the whole duration and lists every device
seen, in discovery order. With --name or --address the scan stops at the first
matching device.

Examples:
  # Scan for 5 seconds
  blecentral scan -d 5s

  # Look for a device by name, ignoring case
  blecentral scan --name "heart rate" -i

  # Output as JSON
  blecentral scan -f json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts)
		},
	}

	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Scan duration (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format: table or json (default from config)")
	cmd.Flags().StringVar(&opts.name, "name", "", "Stop at the first device advertising this name")
	cmd.Flags().StringVar(&opts.address, "address", "", "Stop at the device with this address")
	cmd.Flags().BoolVarP(&opts.ignoreCase, "ignore-case", "i", false, "Match --name case-insensitively")
	cmd.Flags().BoolVar(&opts.noDuplicates, "no-duplicates", false, "Ask the platform to drop repeated advertisements")
	return cmd
}

func (o *scanOptions) apply(cfg *config.Config) {
	if o.duration > 0 {
		cfg.ScanTimeout = o.duration
	}
	if o.format != "" {
		cfg.OutputFormat = o.format
	}
	if o.ignoreCase {
		cfg.NameMatch = device.NameMatchFold
	}
	if o.noDuplicates {
		cfg.AllowDuplicates = false
	}
}

func (o *scanOptions) filter(cfg *config.Config) (device.Filter, error) {
	switch {
	case o.name != "" && o.address != "":
		return nil, fmt.Errorf("%w: --name and --address are mutually exclusive", device.ErrInvalidArgument)
	case o.name != "":
		return device.NameFilter(o.name, cfg.NameMatch)
	case o.address != "":
		return device.AddressFilter(o.address)
	default:
		return nil, nil
	}
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	mgr, cfg, logger, err := startManager(cmd, opts.apply)
	if err != nil {
		return err
	}
	defer closeManager(mgr, logger)

	filter, err := opts.filter(cfg)
	if err != nil {
		return err
	}

	progress := NewCountdownProgressPrinter("Scanning for BLE devices", "Scanning", cfg.ScanTimeout)
	listener := newScanListener(progress)

	sessionOpts := []scan.Option{scan.WithDuplicates(cfg.AllowDuplicates), scan.WithLogger(logger)}
	if filter != nil {
		sessionOpts = append(sessionOpts, scan.WithFilter(filter))
	}
	session, err := scan.NewSession(listener, sessionOpts...)
	if err != nil {
		return err
	}

	ctx, cancel := interruptContext(cmd)
	defer cancel()

	progress.Start()
	defer progress.Stop()

	if err := mgr.StartScan(session); err != nil {
		return err
	}

	var store *device.Store
	select {
	case <-listener.done:
		if listener.err != nil {
			return listener.err
		}
		store = listener.store
	case <-ctx.Done():
		if err := mgr.StopScan(session); err != nil {
			return err
		}
		store = session.Store()
	}
	progress.Stop()

	if store == nil {
		store = device.NewStore()
	}
	return renderDevices(cmd.OutOrStdout(), store, cfg.OutputFormat)
}

// scanListener turns session callbacks into a single outcome.
type scanListener struct {
	progress *ProgressPrinter
	once     sync.Once
	done     chan struct{}
	store    *device.Store
	err      error

	mu    sync.Mutex
	found int
}

func newScanListener(progress *ProgressPrinter) *scanListener {
	return &scanListener{progress: progress, done: make(chan struct{})}
}

func (l *scanListener) finish(store *device.Store, err error) {
	l.once.Do(func() {
		l.store, l.err = store, err
		close(l.done)
	})
}

func (l *scanListener) OnDeviceFound(*device.Record) {
	l.mu.Lock()
	l.found++
	found := l.found
	l.mu.Unlock()
	l.progress.SetPhase(fmt.Sprintf("%d advertisements", found))
}

func (l *scanListener) OnScanFinish(store *device.Store) { l.finish(store, nil) }
func (l *scanListener) OnScanTimeout()                   { l.finish(device.NewStore(), nil) }
func (l *scanListener) OnScanError(err error)            { l.finish(nil, fmt.Errorf("scan failed: %w", err)) }

func renderDevices(w io.Writer, store *device.Store, format string) error {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(store)
	}
	return renderDevicesTable(w, store.Devices())
}

func renderDevicesTable(w io.Writer, devices []*device.Record) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No devices discovered")
		return err
	}

	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tVENDOR\tSERVICES\tLAST SEEN")
	for _, rec := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\t%s\t%s ago\n",
			truncate(rec.Name, 20),
			rec.Address,
			rec.RSSI,
			rec.Vendor(),
			truncate(strings.Join(rec.Services, ","), 30),
			time.Since(rec.LastSeen).Truncate(time.Second))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	header, rows, _ := strings.Cut(buf.String(), "\n")
	_, err := fmt.Fprintf(w, "%s\n%s", color.New(color.Bold).Sprint(header), rows)
	return err
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/go-ble/ble"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/connection"
)

type connectOptions struct {
	target targetOptions
	hold   bool
}

func newConnectCmd() *cobra.Command {
	opts := &connectOptions{}
	cmd := &cobra.Command{
		Use:   "connect <device>",
		Short: "Connect to a device and list its GATT services",
		Long: `Scans for a device by address (or by advertised name with --name), connects
to it and prints its services, characteristics and descriptors.

Examples:
  # Connect by address
  blecentral connect AA:BB:CC:DD:EE:FF

  # Connect by name and stay connected until Ctrl+C
  blecentral connect --name "Heart Rate" --hold`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, args[0], opts)
		},
	}
	opts.target.register(cmd)
	cmd.Flags().BoolVar(&opts.hold, "hold", false, "Stay connected until Ctrl+C or the device disconnects")
	return cmd
}

func runConnect(cmd *cobra.Command, target string, opts *connectOptions) error {
	mgr, _, logger, err := startManager(cmd, opts.target.apply)
	if err != nil {
		return err
	}
	defer closeManager(mgr, logger)

	ctx, cancel := interruptContext(cmd)
	defer cancel()

	h, future, err := connectTarget(ctx, mgr, target, opts.target.byName)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s (%s)\n", color.GreenString("Connected to"), h.Record().DisplayName(), h.Address())
	printProfile(out, h.Profile())

	if !opts.hold {
		return nil
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Holding connection. Press Ctrl+C to disconnect...")
	select {
	case <-ctx.Done():
		return nil
	case <-future.Disconnected():
		fmt.Fprintf(out, "Device %s is %s\n", h.Address(), stateColor(h.State()))
		return fmt.Errorf("%w: %s", ErrConnectionLost, h.Address())
	}
}

// printProfile writes the service tree of a discovered profile.
func printProfile(w io.Writer, profile *ble.Profile) {
	if profile == nil || len(profile.Services) == 0 {
		fmt.Fprintln(w, "No services discovered")
		return
	}
	for _, svc := range profile.Services {
		fmt.Fprintf(w, "Service %s\n", svc.UUID)
		for _, char := range svc.Characteristics {
			fmt.Fprintf(w, "  Characteristic %s [%s]\n", char.UUID, formatProperties(char.Property))
			for _, desc := range char.Descriptors {
				fmt.Fprintf(w, "    Descriptor %s\n", desc.UUID)
			}
		}
	}
}

var propertyNames = []struct {
	flag ble.Property
	name string
}{
	{ble.CharBroadcast, "broadcast"},
	{ble.CharRead, "read"},
	{ble.CharWriteNR, "write-without-response"},
	{ble.CharWrite, "write"},
	{ble.CharNotify, "notify"},
	{ble.CharIndicate, "indicate"},
	{ble.CharSignedWrite, "signed-write"},
	{ble.CharExtended, "extended"},
}

func formatProperties(p ble.Property) string {
	names := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if p&pn.flag != 0 {
			names = append(names, pn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

// stateColor renders a connection state for the terminal.
func stateColor(s connection.State) string {
	switch s {
	case connection.Connected:
		return color.GreenString(s.String())
	case connection.Failed:
		return color.RedString(s.String())
	case connection.Disconnected:
		return color.YellowString(s.String())
	default:
		return s.String()
	}
}

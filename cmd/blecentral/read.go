package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

type readOptions struct {
	target  targetOptions
	service string
	desc    string
	hex     bool
}

func newReadCmd() *cobra.Command {
	opts := &readOptions{}
	cmd := &cobra.Command{
		Use:   "read <device> <uuid>",
		Short: "Read a characteristic or descriptor value",
		Long: `Connects to a device and reads one characteristic, or one of its descriptors
with --desc.

Examples:
  # Read Battery Level
  blecentral read AA:BB:CC:DD:EE:FF 2a19

  # Read the Client Characteristic Configuration of Battery Level as hex
  blecentral read AA:BB:CC:DD:EE:FF 2a19 --desc 2902 --hex

  # Disambiguate a characteristic present in several services
  blecentral read AA:BB:CC:DD:EE:FF 2a19 --service 180f`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, args[0], args[1], opts)
		},
	}
	opts.target.register(cmd)
	cmd.Flags().StringVar(&opts.service, "service", "", "Service UUID (required if the characteristic UUID is ambiguous)")
	cmd.Flags().StringVar(&opts.desc, "desc", "", "Descriptor UUID (reads the descriptor instead of the characteristic)")
	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Output as hex string (e.g., 'FF01'); raw bytes by default")
	return cmd
}

func runRead(cmd *cobra.Command, target, uuid string, opts *readOptions) error {
	mgr, _, logger, err := startManager(cmd, opts.target.apply)
	if err != nil {
		return err
	}
	defer closeManager(mgr, logger)

	ctx, cancel := interruptContext(cmd)
	defer cancel()

	h, _, err := connectTarget(ctx, mgr, target, opts.target.byName)
	if err != nil {
		return err
	}

	attr, err := resolveTarget(h.Profile(), uuid, opts.service, opts.desc)
	if err != nil {
		return err
	}

	data, err := mgr.ReadCharacteristic(h.Address(), attr.service, attr.char, attr.desc)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", attr, err)
	}
	return outputData(cmd.OutOrStdout(), data, opts.hex)
}

// outputData writes a value as upper-case hex followed by a newline, or as raw bytes.
func outputData(w io.Writer, data []byte, asHex bool) error {
	if asHex {
		_, err := fmt.Fprintln(w, strings.ToUpper(hex.EncodeToString(data)))
		return err
	}
	_, err := w.Write(data)
	return err
}

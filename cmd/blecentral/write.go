package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type writeOptions struct {
	target  targetOptions
	service string
	desc    string
	hex     bool
}

func newWriteCmd() *cobra.Command {
	opts := &writeOptions{}
	cmd := &cobra.Command{
		Use:   "write <device> <uuid> <data>",
		Short: "Write a characteristic or descriptor value",
		Long: `Connects to a device and writes data to a characteristic, or to one of its
descriptors with --desc. Characteristics that only accept writes without
response are written that way.

Examples:
  # Write a string
  blecentral write AA:BB:CC:DD:EE:FF 6e400002-b5a3-f393-e0a9-e50e24dcca9e "hello"

  # Write hex bytes (spaces, colons, dashes and 0x prefixes are ignored)
  blecentral write AA:BB:CC:DD:EE:FF ff01 "01 02 0x03" --hex

  # Enable notifications through the CCCD
  blecentral write AA:BB:CC:DD:EE:FF 2a19 0100 --desc 2902 --hex`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, args[0], args[1], args[2], opts)
		},
	}
	opts.target.register(cmd)
	cmd.Flags().StringVar(&opts.service, "service", "", "Service UUID (required if the characteristic UUID is ambiguous)")
	cmd.Flags().StringVar(&opts.desc, "desc", "", "Descriptor UUID (writes the descriptor instead of the characteristic)")
	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Treat data as hex bytes")
	return cmd
}

func runWrite(cmd *cobra.Command, target, uuid, dataStr string, opts *writeOptions) error {
	data, err := parseWriteData(dataStr, opts.hex)
	if err != nil {
		return err
	}

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

	if err := mgr.WriteCharacteristic(h.Address(), attr.service, attr.char, attr.desc, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", attr, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), attr)
	return nil
}

func parseWriteData(dataStr string, asHex bool) ([]byte, error) {
	if !asHex {
		return []byte(dataStr), nil
	}

	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(dataStr)
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

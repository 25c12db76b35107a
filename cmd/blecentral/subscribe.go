package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/connection"
	"github.com/srg/blecentral/internal/manager"
)

type subscribeOptions struct {
	target   targetOptions
	service  string
	hex      bool
	raw      bool
	rate     time.Duration
	count    int
	duration time.Duration
	buffer   uint32
}

func newSubscribeCmd() *cobra.Command {
	opts := &subscribeOptions{}
	cmd := &cobra.Command{
		Use:   "subscribe <device> <uuid>",
		Short: "Follow characteristic notifications",
		Long: `Connects to a device, subscribes to a characteristic and prints every
notification or indication it sends, until Ctrl+C.

By default each notification is printed on its own line with a timestamp.
Notifications are queued and printed every --rate; when the printer falls
behind the oldest queued notifications are dropped.

With --raw the payloads are written to stdout back to back as a byte stream,
for serial-like characteristics such as the Nordic UART TX characteristic.

Examples:
  # Follow Heart Rate Measurement as hex
  blecentral subscribe AA:BB:CC:DD:EE:FF 2a37 --hex

  # Pipe a UART-style stream into another tool
  blecentral subscribe AA:BB:CC:DD:EE:FF 6e400003-b5a3-f393-e0a9-e50e24dcca9e --raw | hexdump -C`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd, args[0], args[1], opts)
		},
	}
	opts.target.register(cmd)
	cmd.Flags().StringVar(&opts.service, "service", "", "Service UUID (required if the characteristic UUID is ambiguous)")
	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Print values as hex; raw text by default")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Write payloads to stdout as a continuous byte stream")
	cmd.Flags().DurationVar(&opts.rate, "rate", 100*time.Millisecond, "How often queued notifications are printed")
	cmd.Flags().IntVar(&opts.count, "count", 0, "Exit after this many notifications (0 for unlimited)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Exit after this long (0 for unlimited)")
	cmd.Flags().Uint32Var(&opts.buffer, "buffer", connection.DefaultNotificationQueueSize, "Notifications kept while the printer is behind")
	return cmd
}

func runSubscribe(cmd *cobra.Command, target, uuid string, opts *subscribeOptions) error {
	if opts.rate <= 0 {
		return fmt.Errorf("--rate must be positive, got %s", opts.rate)
	}

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

	attr, err := resolveTarget(h.Profile(), uuid, opts.service, "")
	if err != nil {
		return err
	}

	if opts.duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, opts.duration)
		defer stop()
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Subscribed to %s. Press Ctrl+C to stop...\n", attr)
	if opts.raw {
		return streamRaw(ctx, cmd.OutOrStdout(), h, attr, future, logger)
	}
	return followNotifications(ctx, cmd.OutOrStdout(), mgr, h, attr, future, opts, logger)
}

// followNotifications prints queued notifications every opts.rate.
func followNotifications(ctx context.Context, w io.Writer, mgr *manager.Manager, h *connection.Handle, attr gattTarget, future *connection.Future, opts *subscribeOptions, logger *logrus.Logger) error {
	queue := connection.NewNotificationQueue(opts.buffer)
	if err := mgr.RegisterNotification(h.Address(), attr.service, attr.char, nil, queue.Handler(attr.char)); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", attr, err)
	}
	defer func() {
		if err := mgr.UnregisterNotification(h.Address(), attr.service, attr.char, nil); err != nil && h.State() == connection.Connected {
			logger.WithError(err).Warn("Failed to unsubscribe")
		}
		if lost := queue.Overwritten(); lost > 0 {
			logger.WithField("dropped", lost).Warn("Notifications dropped while printing fell behind")
		}
	}()

	ticker := time.NewTicker(opts.rate)
	defer ticker.Stop()

	printed := 0
	drain := func() (bool, error) {
		var werr error
		_, err := queue.Drain(func(n connection.Notification) {
			if werr != nil || (opts.count > 0 && printed >= opts.count) {
				return
			}
			werr = printNotification(w, n, opts.hex)
			printed++
		})
		if err == nil {
			err = werr
		}
		return opts.count > 0 && printed >= opts.count, err
	}

	for {
		select {
		case <-ctx.Done():
			_, err := drain()
			return err
		case <-future.Disconnected():
			if _, err := drain(); err != nil {
				return err
			}
			return fmt.Errorf("%w: %s", ErrConnectionLost, h.Address())
		case <-ticker.C:
			done, err := drain()
			if err != nil || done {
				return err
			}
		}
	}
}

func printNotification(w io.Writer, n connection.Notification, asHex bool) error {
	value := string(n.Data)
	if asHex {
		value = strings.ToUpper(hex.EncodeToString(n.Data))
	}
	_, err := fmt.Fprintf(w, "[%s] %s: %s\n", n.At.Format("15:04:05.000"), n.Char, value)
	return err
}

// streamRaw copies the notification byte stream to w until ctx ends or the link drops.
func streamRaw(ctx context.Context, w io.Writer, h *connection.Handle, attr gattTarget, future *connection.Future, logger *logrus.Logger) error {
	stream, err := h.OpenStream(attr.service, attr.char, 0)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", attr, err)
	}

	copied := make(chan error, 1)
	go func() {
		_, err := io.Copy(w, stream)
		copied <- err
	}()

	var result error
	select {
	case <-ctx.Done():
	case <-future.Disconnected():
		result = fmt.Errorf("%w: %s", ErrConnectionLost, h.Address())
	case err := <-copied:
		_ = stream.Close()
		if err == nil && h.State() == connection.Disconnected {
			err = fmt.Errorf("%w: %s", ErrConnectionLost, h.Address())
		}
		return err
	}

	if err := stream.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close notification stream")
	}
	if err := <-copied; err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if dropped := stream.Dropped(); dropped > 0 {
		logger.WithField("dropped_bytes", dropped).Warn("Stream bytes dropped while output fell behind")
	}
	return result
}

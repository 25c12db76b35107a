package connection

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/blecentral/internal/device"
)

// DefaultStreamBuffer is the byte capacity of a Stream when none is given.
const DefaultStreamBuffer = 4096

// Stream exposes the notifications of one characteristic as a byte stream,
// for serial-like peripherals that split a payload over several notifications.
// Bytes that do not fit into the buffer are dropped and counted.
type Stream struct {
	h       *Handle
	service ble.UUID
	char    ble.UUID
	logger  *logrus.Entry

	buf     *ringbuffer.RingBuffer
	ready   chan struct{}
	closed  chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// OpenStream subscribes to a characteristic and returns a reader over its
// notification payloads. size <= 0 means DefaultStreamBuffer.
func (h *Handle) OpenStream(serviceID, charID ble.UUID, size int) (*Stream, error) {
	if size <= 0 {
		size = DefaultStreamBuffer
	}
	s := &Stream{
		h:       h,
		service: serviceID,
		char:    charID,
		logger:  h.logger.WithFields(logrus.Fields{"address": h.Address(), "char_uuid": charID.String()}),
		buf:     ringbuffer.New(size),
		ready:   make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	if err := h.RegisterNotification(serviceID, charID, nil, s.push); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stream) push(data []byte) {
	select {
	case <-s.closed:
		return
	default:
	}

	// a short write is the overflow, whichever error the buffer reports for it
	n, err := s.buf.Write(data)
	if n < len(data) {
		s.dropped.Add(uint64(len(data) - n))
		s.logger.Warnf("Stream buffer overflow: dropped %d bytes", len(data)-n)
	} else if err != nil {
		s.logger.WithError(err).Warn("Stream buffer write failed")
	}
	if n > 0 {
		select {
		case s.ready <- struct{}{}:
		default:
		}
	}
}

// Read blocks until notification bytes are available. It returns io.EOF once
// the stream is closed or the link is lost and the buffer has been drained.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := s.buf.TryRead(p)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, fmt.Errorf("stream read: %w", err)
		}
		if n > 0 {
			return n, nil
		}

		select {
		case <-s.ready:
		case <-s.closed:
			if s.buf.IsEmpty() {
				return 0, io.EOF
			}
		case <-s.h.linkDown:
			if s.buf.IsEmpty() {
				return 0, io.EOF
			}
		}
	}
}

// Dropped returns how many notification bytes were lost to buffer overflow.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes from the characteristic and ends pending reads. Closing
// a stream whose link is already down is not an error.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.h.UnregisterNotification(s.service, s.char, nil)
		if errors.Is(err, device.ErrNotConnected) {
			err = nil
		}
	})
	return err
}

package connection

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// DefaultNotificationQueueSize is the capacity of a NotificationQueue when none is given.
const DefaultNotificationQueueSize uint32 = 256

// Notification is one value update received from a characteristic.
type Notification struct {
	Char string    `json:"char"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"`
}

// NotificationQueue buffers notifications of any number of characteristics
// for a slower consumer. When full, the oldest notification is overwritten.
type NotificationQueue struct {
	buffer      mpmc.RichOverlappedRingBuffer[Notification]
	received    atomic.Uint64
	overwritten atomic.Uint64
	failed      atomic.Uint64
}

// NewNotificationQueue creates a queue holding up to size notifications.
func NewNotificationQueue(size uint32) *NotificationQueue {
	if size == 0 {
		size = DefaultNotificationQueueSize
	}
	return &NotificationQueue{
		buffer: mpmc.NewOverlappedRingBuffer[Notification](size),
	}
}

// Handler returns a notification handler for RegisterNotification that tags
// every value with charID.
func (q *NotificationQueue) Handler(charID ble.UUID) func([]byte) {
	char := charID.String()
	return func(data []byte) {
		q.Push(Notification{
			Char: char,
			At:   time.Now(),
			Data: append([]byte(nil), data...),
		})
	}
}

// Push enqueues n, overwriting the oldest entry when the queue is full.
func (q *NotificationQueue) Push(n Notification) {
	overwrites, err := q.buffer.EnqueueM(n)
	if err != nil {
		q.failed.Add(1)
		return
	}
	q.received.Add(1)
	q.overwritten.Add(uint64(overwrites))
}

// Drain passes every queued notification to fn, oldest first, and returns how
// many were consumed.
func (q *NotificationQueue) Drain(fn func(Notification)) (int, error) {
	count := 0
	for !q.buffer.IsEmpty() {
		n, err := q.buffer.Dequeue()
		if err != nil {
			return count, fmt.Errorf("notification queue dequeue: %w", err)
		}
		fn(n)
		count++
	}
	return count, nil
}

// Received returns how many notifications were queued.
func (q *NotificationQueue) Received() uint64 { return q.received.Load() }

// Overwritten returns how many queued notifications were lost before being drained.
func (q *NotificationQueue) Overwritten() uint64 { return q.overwritten.Load() }

// Failed returns how many notifications could not be queued.
func (q *NotificationQueue) Failed() uint64 { return q.failed.Load() }

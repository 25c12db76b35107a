package testutils

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
)

// Write is one value written through a FakeClient.
type Write struct {
	UUID  string
	Value []byte
	NoRsp bool
}

// FakeClient is an in-memory GATT client. Values are keyed by the UUID string of
// the characteristic or descriptor.
type FakeClient struct {
	mu          sync.Mutex
	profile     *ble.Profile
	profileErr  error
	values      map[string][]byte
	writes      []Write
	subscribers map[string]ble.NotificationHandler

	disconnected chan struct{}
	dropOnce     sync.Once
	cancelCalls  atomic.Int32
}

// NewFakeClient returns a client exposing profile; nil means DefaultProfile.
func NewFakeClient(profile *ble.Profile) *FakeClient {
	if profile == nil {
		profile = DefaultProfile()
	}
	return &FakeClient{
		profile:      profile,
		values:       make(map[string][]byte),
		subscribers:  make(map[string]ble.NotificationHandler),
		disconnected: make(chan struct{}),
	}
}

// DefaultProfile is a Battery Service (180F) with a readable, notifying Battery
// Level characteristic (2A19) and its CCCD (2902).
func DefaultProfile() *ble.Profile {
	level := &ble.Characteristic{
		UUID:     ble.UUID16(0x2A19),
		Property: ble.CharRead | ble.CharNotify,
		Value:    []byte{50},
	}
	level.Descriptors = []*ble.Descriptor{{UUID: ble.UUID16(0x2902)}}

	return &ble.Profile{
		Services: []*ble.Service{{
			UUID:            ble.UUID16(0x180F),
			Characteristics: []*ble.Characteristic{level},
		}},
	}
}

// WithProfileError makes DiscoverProfile fail with err.
func (c *FakeClient) WithProfileError(err error) *FakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profileErr = err
	return c
}

// SetValue sets the value returned for a characteristic or descriptor UUID.
func (c *FakeClient) SetValue(uuid ble.UUID, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[uuid.String()] = value
}

func (c *FakeClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profileErr != nil {
		return nil, c.profileErr
	}
	return c.profile, nil
}

func (c *FakeClient) ReadCharacteristic(char *ble.Characteristic) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[char.UUID.String()]; ok {
		return v, nil
	}
	return char.Value, nil
}

func (c *FakeClient) WriteCharacteristic(char *ble.Characteristic, value []byte, noRsp bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, Write{UUID: char.UUID.String(), Value: value, NoRsp: noRsp})
	c.values[char.UUID.String()] = value
	return nil
}

func (c *FakeClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[d.UUID.String()]; ok {
		return v, nil
	}
	return nil, errors.New("descriptor has no value")
}

func (c *FakeClient) WriteDescriptor(d *ble.Descriptor, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, Write{UUID: d.UUID.String(), Value: value})
	c.values[d.UUID.String()] = value
	return nil
}

func (c *FakeClient) Subscribe(char *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[char.UUID.String()] = h
	return nil
}

func (c *FakeClient) Unsubscribe(char *ble.Characteristic, ind bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscribers[char.UUID.String()]; !ok {
		return errors.New("not subscribed")
	}
	delete(c.subscribers, char.UUID.String())
	return nil
}

// CancelConnection records the call and signals Disconnected.
func (c *FakeClient) CancelConnection() error {
	c.cancelCalls.Add(1)
	c.Drop()
	return nil
}

// Disconnected is closed when the link is lost or cancelled.
func (c *FakeClient) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Drop simulates a link loss reported by the platform.
func (c *FakeClient) Drop() {
	c.dropOnce.Do(func() { close(c.disconnected) })
}

// Notify pushes a notification to the subscriber of uuid. Returns false if none.
func (c *FakeClient) Notify(uuid ble.UUID, data []byte) bool {
	c.mu.Lock()
	h, ok := c.subscribers[uuid.String()]
	c.mu.Unlock()
	if ok {
		h(data)
	}
	return ok
}

// Writes returns every write performed so far.
func (c *FakeClient) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Write(nil), c.writes...)
}

// CancelCalls returns how many times CancelConnection was called.
func (c *FakeClient) CancelCalls() int {
	return int(c.cancelCalls.Load())
}

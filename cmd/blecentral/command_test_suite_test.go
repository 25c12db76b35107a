package main

import (
	"bytes"
	"time"

	"github.com/fatih/color"
	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/testutils"
)

// Test device addresses for consistent mock device identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "AA:BB:CC:DD:EE:02"
)

var (
	uartService = ble.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	uartRX      = ble.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	uartTX      = ble.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
)

// uartProfile is a Nordic UART style service: RX takes writes without
// response, TX notifies.
func uartProfile() *ble.Profile {
	return &ble.Profile{
		Services: []*ble.Service{{
			UUID: uartService,
			Characteristics: []*ble.Characteristic{
				{UUID: uartRX, Property: ble.CharWriteNR},
				{UUID: uartTX, Property: ble.CharNotify, Descriptors: []*ble.Descriptor{{UUID: ble.UUID16(0x2902)}}},
			},
		}},
	}
}

// CommandTestSuite runs commands against the suite's MockRadio.
type CommandTestSuite struct {
	testutils.RadioSuite

	originalFactory func() (device.Radio, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.RadioSuite.SetupSuite()
	color.NoColor = true
}

func (s *CommandTestSuite) SetupTest() {
	s.RadioSuite.SetupTest()
	s.originalFactory = radioFactory
	radio := s.Radio
	radioFactory = func() (device.Radio, error) { return radio, nil }
}

func (s *CommandTestSuite) TearDownTest() {
	radioFactory = s.originalFactory
	s.RadioSuite.TearDownTest()
}

// ExecuteCommand runs the CLI with args and returns what it wrote to stdout.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	root := newRootCmd()
	stdout := new(bytes.Buffer)
	root.SetOut(stdout)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

// AdvertiseWhenScanning delivers advs, in order, once a scan is running.
func (s *CommandTestSuite) AdvertiseWhenScanning(advs ...device.Advertisement) {
	radio := s.Radio
	go func() {
		if !radio.WaitForScans(1, 2*time.Second) {
			return
		}
		for _, adv := range advs {
			radio.Advertise(adv)
		}
	}()
}

// ConnectableDevice expects a dial to TestDeviceAddress1 and advertises it as "Sensor".
func (s *CommandTestSuite) ConnectableDevice(profile *ble.Profile) *testutils.FakeClient {
	client := testutils.NewFakeClient(profile)
	s.Radio.ExpectScan()
	s.Radio.ExpectDial(TestDeviceAddress1, client, nil)
	s.AdvertiseWhenScanning(testutils.CreateMockAdvertisement("Sensor", TestDeviceAddress1, -40).Build())
	return client
}

// NotifyWhenSubscribed retries until the command has subscribed to uuid, then
// delivers every value in order. The returned channel is closed when done.
func NotifyWhenSubscribed(client *testutils.FakeClient, uuid ble.UUID, values ...[]byte) <-chan struct{} {
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		deadline := time.Now().Add(2 * time.Second)
		for !client.Notify(uuid, values[0]) {
			if time.Now().After(deadline) {
				return
			}
			time.Sleep(time.Millisecond)
		}
		for _, v := range values[1:] {
			client.Notify(uuid, v)
		}
	}()
	return delivered
}

package main

import (
	"strings"
	"testing"

	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ScanCommandTestSuite struct {
	CommandTestSuite
}

func (s *ScanCommandTestSuite) TestTableListsDevicesInDiscoveryOrder() {
	s.Radio.ExpectScan()
	s.AdvertiseWhenScanning(
		testutils.CreateMockAdvertisement("Sensor", TestDeviceAddress1, -40).
			WithServices("180D").
			WithManufacturerData([]byte{0x59, 0x00, 0x01}).
			Build(),
		testutils.CreateMockAdvertisement("", TestDeviceAddress2, -70).Build(),
	)

	out, err := s.ExecuteCommand("scan", "-d", "150ms")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `
NAME    ADDRESS            RSSI     VENDOR                SERVICES  LAST SEEN
Sensor  AA:BB:CC:DD:EE:01  -40 dBm  Nordic Semiconductor  180d      0s ago
        AA:BB:CC:DD:EE:02  -70 dBm                                  0s ago
`)
}

func (s *ScanCommandTestSuite) TestNameFilterStopsAtFirstMatch() {
	s.Radio.ExpectScan()
	s.AdvertiseWhenScanning(
		testutils.CreateMockAdvertisement("Other", TestDeviceAddress2, -70).Build(),
		testutils.CreateMockAdvertisement("SENSOR", TestDeviceAddress1, -40).Build(),
	)

	out, err := s.ExecuteCommand("scan", "--name", "sensor", "-i", "-f", "json", "-d", "2s")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"AA:BB:CC:DD:EE:01": {"address": "AA:BB:CC:DD:EE:01", "name": "SENSOR", "rssi": -40, "connectable": true}
	}`)
	s.NotContains(out, TestDeviceAddress2)
}

func (s *ScanCommandTestSuite) TestFilteredScanWithoutMatch() {
	s.Radio.ExpectScan()

	out, err := s.ExecuteCommand("scan", "--address", TestDeviceAddress1, "-d", "80ms")
	s.Require().NoError(err)
	s.Equal("No devices discovered\n", out)
}

func (s *ScanCommandTestSuite) TestPlatformScanError() {
	s.Radio.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(device.ErrBluetoothOff)

	_, err := s.ExecuteCommand("scan", "-d", "1s")
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrBluetoothOff)
	s.Equal("Bluetooth is turned off. Turn it on and try again.", FormatUserError(err))
}

func (s *ScanCommandTestSuite) TestInvalidArguments() {
	_, err := s.ExecuteCommand("scan", "--name", "a", "--address", "b")
	s.ErrorIs(err, device.ErrInvalidArgument)

	_, err = s.ExecuteCommand("scan", "-f", "xml")
	s.ErrorContains(err, "output_format")

	_, err = s.ExecuteCommand("scan", "--log-level", "loud")
	s.ErrorContains(err, "invalid log level")
}

func TestScanCommandTestSuite(t *testing.T) {
	suite.Run(t, new(ScanCommandTestSuite))
}

type ConnectCommandTestSuite struct {
	CommandTestSuite
}

func (s *ConnectCommandTestSuite) TestPrintsProfile() {
	s.ConnectableDevice(nil)

	out, err := s.ExecuteCommand("connect", TestDeviceAddress1)
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `
Connected to Sensor (AA:BB:CC:DD:EE:01)
Service 180f
  Characteristic 2a19 [read, notify]
    Descriptor 2902
`)
}

func (s *ConnectCommandTestSuite) TestConnectByNameIgnoringCase() {
	s.ConnectableDevice(uartProfile())

	out, err := s.ExecuteCommand("connect", "sensor", "--name", "--ignore-case")
	s.Require().NoError(err)
	s.Contains(out, "Characteristic 6e400002b5a3f393e0a9e50e24dcca9e [write-without-response]")
	s.Contains(out, "Characteristic 6e400003b5a3f393e0a9e50e24dcca9e [notify]")
}

func (s *ConnectCommandTestSuite) TestDeviceNotFound() {
	s.Radio.ExpectScan()

	_, err := s.ExecuteCommand("connect", TestDeviceAddress1, "--scan-timeout", "80ms")
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrTimeout)
	s.Contains(FormatUserError(err), "in range")
	s.Radio.AssertNotCalled(s.T(), "Dial", mock.Anything, mock.Anything)
}

func (s *ConnectCommandTestSuite) TestDialFailure() {
	s.Radio.ExpectScan()
	s.Radio.ExpectDial(TestDeviceAddress1, nil, device.ErrBluetoothOff)
	s.AdvertiseWhenScanning(testutils.CreateMockAdvertisement("Sensor", TestDeviceAddress1, -40).Build())

	_, err := s.ExecuteCommand("connect", TestDeviceAddress1)
	var connectErr *device.ConnectError
	s.Require().ErrorAs(err, &connectErr)
	s.Equal(TestDeviceAddress1, connectErr.Address)
}

func (s *ConnectCommandTestSuite) TestHoldReportsLinkLoss() {
	client := testutils.NewFakeClient(nil)
	s.Radio.ExpectScan()
	s.Radio.ExpectDial(TestDeviceAddress1, client, nil).Run(func(mock.Arguments) { client.Drop() })
	s.AdvertiseWhenScanning(testutils.CreateMockAdvertisement("Sensor", TestDeviceAddress1, -40).Build())

	out, err := s.ExecuteCommand("connect", TestDeviceAddress1, "--hold")
	s.ErrorIs(err, ErrConnectionLost)
	s.Contains(out, "Device AA:BB:CC:DD:EE:01 is disconnected")
}

func TestConnectCommandTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectCommandTestSuite))
}

type DataCommandTestSuite struct {
	CommandTestSuite
}

func (s *DataCommandTestSuite) TestReadHex() {
	s.ConnectableDevice(nil)

	out, err := s.ExecuteCommand("read", TestDeviceAddress1, "2a19", "--hex")
	s.Require().NoError(err)
	s.Equal("32\n", out)
}

func (s *DataCommandTestSuite) TestReadRawBytes() {
	client := s.ConnectableDevice(nil)
	client.SetValue(ble.UUID16(0x2A19), []byte("abc"))

	out, err := s.ExecuteCommand("read", TestDeviceAddress1, "0x2A19")
	s.Require().NoError(err)
	s.Equal("abc", out)
}

func (s *DataCommandTestSuite) TestReadDescriptor() {
	client := s.ConnectableDevice(nil)
	client.SetValue(ble.UUID16(0x2902), []byte{0x01, 0x00})

	out, err := s.ExecuteCommand("read", TestDeviceAddress1, "2a19", "--desc", "2902", "--service", "180f", "--hex")
	s.Require().NoError(err)
	s.Equal("0100\n", out)
}

func (s *DataCommandTestSuite) TestReadUnknownCharacteristic() {
	s.ConnectableDevice(nil)

	_, err := s.ExecuteCommand("read", TestDeviceAddress1, "2a00")
	s.ErrorIs(err, device.ErrNotFound)
}

func (s *DataCommandTestSuite) TestWriteHexWithoutResponse() {
	client := s.ConnectableDevice(uartProfile())

	out, err := s.ExecuteCommand("write", TestDeviceAddress1, "6e400002-b5a3-f393-e0a9-e50e24dcca9e", "01:02 0x03", "--hex")
	s.Require().NoError(err)
	s.Contains(out, "Wrote 3 bytes")

	writes := client.Writes()
	s.Require().Len(writes, 1)
	s.Equal(testutils.Write{UUID: uartRX.String(), Value: []byte{1, 2, 3}, NoRsp: true}, writes[0])
}

func (s *DataCommandTestSuite) TestWriteReadOnlyCharacteristic() {
	s.ConnectableDevice(nil)

	_, err := s.ExecuteCommand("write", TestDeviceAddress1, "2a19", "x")
	s.ErrorIs(err, device.ErrUnsupported)
}

func (s *DataCommandTestSuite) TestSubscribePrintsNotifications() {
	client := s.ConnectableDevice(uartProfile())
	NotifyWhenSubscribed(client, uartTX, []byte{0x01}, []byte{0xAB, 0xCD})

	out, err := s.ExecuteCommand("subscribe", TestDeviceAddress1, uartTX.String(), "--hex", "--count", "2", "--rate", "10ms", "--duration", "2s")
	s.Require().NoError(err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	s.Require().Len(lines, 2)
	s.Regexp(`^\[\d{2}:\d{2}:\d{2}\.\d{3}\] 6e400003b5a3f393e0a9e50e24dcca9e: 01$`, lines[0])
	s.Regexp(`: ABCD$`, lines[1])
}

func (s *DataCommandTestSuite) TestSubscribeRawStream() {
	client := s.ConnectableDevice(uartProfile())
	NotifyWhenSubscribed(client, uartTX, []byte("hel"), []byte("lo\n"))

	out, err := s.ExecuteCommand("subscribe", TestDeviceAddress1, uartTX.String(), "--raw", "--duration", "300ms")
	s.Require().NoError(err)
	s.Equal("hello\n", out)
}

func (s *DataCommandTestSuite) TestSubscribeReportsLinkLoss() {
	client := s.ConnectableDevice(uartProfile())
	delivered := NotifyWhenSubscribed(client, uartTX, []byte("x"))
	go func() {
		<-delivered
		client.Drop()
	}()

	out, err := s.ExecuteCommand("subscribe", TestDeviceAddress1, uartTX.String(), "--rate", "10ms", "--duration", "2s")
	s.ErrorIs(err, ErrConnectionLost)
	s.Contains(out, ": x")
}

func TestDataCommandTestSuite(t *testing.T) {
	suite.Run(t, new(DataCommandTestSuite))
}

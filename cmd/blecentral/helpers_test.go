package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/manager"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "bluetooth off",
			err:  fmt.Errorf("scan failed: %w", device.ErrBluetoothOff),
			want: "Bluetooth is turned off. Turn it on and try again.",
		},
		{
			name: "scan timeout",
			err:  fmt.Errorf("%w: no device matching name=Sensor within 10s", device.ErrTimeout),
			want: "timeout: no device matching name=Sensor within 10s\nMake sure the device is powered on, advertising and in range.",
		},
		{
			name: "connect error",
			err:  &device.ConnectError{Address: "AA:BB", Err: errors.New("le-connection-abort-by-local")},
			want: "could not connect to AA:BB: le-connection-abort-by-local",
		},
		{
			name: "connect timeout is a connect error",
			err:  &device.ConnectError{Address: "AA:BB", Err: device.ErrTimeout},
			want: "could not connect to AA:BB: timeout",
		},
		{
			name: "connection lost",
			err:  fmt.Errorf("%w: AA:BB", ErrConnectionLost),
			want: "the device disconnected while the command was running",
		},
		{
			name: "manager closed",
			err:  manager.ErrClosed,
			want: "the BLE manager was shut down",
		},
		{
			name: "anything else",
			err:  errors.New("boom"),
			want: "boom",
		},
		{
			name: "nil",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}

func newFlagsCmd(t *testing.T, logLevel, configPath string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().String("config", "", "")
	require.NoError(t, cmd.Flags().Set("log-level", logLevel))
	require.NoError(t, cmd.Flags().Set("config", configPath))
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log_level: warn\n"), 0o600))

	tests := []struct {
		name       string
		logLevel   string
		configPath string
		want       logrus.Level
		wantErr    bool
	}{
		{name: "silent by default", want: logrus.PanicLevel},
		{name: "flag", logLevel: "debug", want: logrus.DebugLevel},
		{name: "config file", configPath: configPath, want: logrus.WarnLevel},
		{name: "flag wins over config file", logLevel: "error", configPath: configPath, want: logrus.ErrorLevel},
		{name: "invalid level", logLevel: "trace", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newFlagsCmd(t, tt.logLevel, tt.configPath)
			cfg, err := loadConfig(cmd)
			require.NoError(t, err)

			logger, err := configureLogger(cmd, cfg)
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid log level")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestLoadConfigReportsBadFile(t *testing.T) {
	cmd := newFlagsCmd(t, "", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := loadConfig(cmd)
	assert.ErrorContains(t, err, "reading config file")
}

func TestResolveTarget(t *testing.T) {
	battery := testutils.DefaultProfile()
	// a second service exposing the same characteristic makes 2a19 ambiguous
	ambiguous := testutils.DefaultProfile()
	ambiguous.Services = append(ambiguous.Services, &ble.Service{
		UUID:            ble.UUID16(0x180A),
		Characteristics: []*ble.Characteristic{{UUID: ble.UUID16(0x2A19), Property: ble.CharRead}},
	})

	tests := []struct {
		name    string
		profile *ble.Profile
		char    string
		service string
		desc    string
		want    string
		wantErr error
	}{
		{name: "auto-resolve", profile: battery, char: "2a19", want: "180f/2a19"},
		{name: "full SIG form", profile: battery, char: "00002A19-0000-1000-8000-00805F9B34FB", want: "180f/2a19"},
		{name: "explicit service", profile: ambiguous, char: "2a19", service: "180a", want: "180a/2a19"},
		{name: "descriptor", profile: battery, char: "2a19", desc: "2902", want: "180f/2a19/2902"},
		{name: "ambiguous", profile: ambiguous, char: "2a19", wantErr: device.ErrInvalidArgument},
		{name: "unknown characteristic", profile: battery, char: "2a00", wantErr: device.ErrNotFound},
		{name: "unknown service", profile: battery, char: "2a19", service: "1800", wantErr: device.ErrNotFound},
		{name: "characteristic not in service", profile: ambiguous, char: "2a37", service: "180a", wantErr: device.ErrNotFound},
		{name: "unknown descriptor", profile: battery, char: "2a19", desc: "2901", wantErr: device.ErrNotFound},
		{name: "empty characteristic", profile: battery, wantErr: device.ErrInvalidArgument},
		{name: "no profile", char: "2a19", wantErr: device.ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := resolveTarget(tt.profile, tt.char, tt.service, tt.desc)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, target.String())
		})
	}
}

func TestParseWriteData(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		asHex   bool
		want    []byte
		wantErr bool
	}{
		{name: "text", input: "hi", want: []byte("hi")},
		{name: "simple hex", input: "0102", asHex: true, want: []byte{0x01, 0x02}},
		{name: "hex with separators", input: "0x01 02:03-04", asHex: true, want: []byte{1, 2, 3, 4}},
		{name: "invalid hex", input: "zz", asHex: true, wantErr: true},
		{name: "odd length", input: "123", asHex: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := parseWriteData(tt.input, tt.asHex)
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid hex data")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, data)
		})
	}
}

func TestFormatProperties(t *testing.T) {
	assert.Equal(t, "read, notify", formatProperties(ble.CharRead|ble.CharNotify))
	assert.Equal(t, "write-without-response, write, indicate", formatProperties(ble.CharWriteNR|ble.CharWrite|ble.CharIndicate))
	assert.Equal(t, "none", formatProperties(0))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 20))
	assert.Equal(t, "a very lo...", truncate("a very long device name", 12))
}

func TestRenderDevicesJSONKeepsDiscoveryOrder(t *testing.T) {
	store := device.NewStore()
	store.Upsert(&device.Record{Address: "BB", Name: "second"})
	store.Upsert(&device.Record{Address: "AA", Name: "first"})

	var buf bytes.Buffer
	require.NoError(t, renderDevices(&buf, store, "json"))
	assert.Less(t, strings.Index(buf.String(), `"BB"`), strings.Index(buf.String(), `"AA"`))
}

func TestProgressPrinter(t *testing.T) {
	t.Run("disabled prints nothing", func(t *testing.T) {
		var buf bytes.Buffer
		p := newProgressPrinter(&buf, false, "Scanning", "Scanning", time.Second)
		p.Start()
		p.SetPhase("3 advertisements")
		p.Stop()
		p.Stop()
		assert.Empty(t, buf.String())
	})

	t.Run("enabled prints and clears", func(t *testing.T) {
		var buf bytes.Buffer
		p := newProgressPrinter(&buf, true, "Connecting to Sensor", "Scanning", 0)
		p.Start()
		p.Stop()
		assert.True(t, strings.HasPrefix(buf.String(), "\rConnecting to Sensor (Scanning...)"))
		assert.True(t, strings.HasSuffix(buf.String(), clearLineSequence))
	})

	t.Run("start twice panics", func(t *testing.T) {
		p := newProgressPrinter(&bytes.Buffer{}, false, "x", "y", 0)
		p.Start()
		assert.Panics(t, p.Start)
	})

	t.Run("seconds", func(t *testing.T) {
		countdown := newProgressPrinter(&bytes.Buffer{}, false, "x", "y", 10*time.Second)
		assert.Equal(t, 7, countdown.seconds(3300*time.Millisecond))
		assert.Equal(t, 0, countdown.seconds(11*time.Second))

		countUp := newProgressPrinter(&bytes.Buffer{}, false, "x", "y", 0)
		assert.Equal(t, 3, countUp.seconds(3900*time.Millisecond))
	})
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"scan", "connect", "read", "write", "subscribe"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

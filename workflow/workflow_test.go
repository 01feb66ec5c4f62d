package workflow

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luhtfiimanal/go-esp-harness/internal/console"
	"github.com/luhtfiimanal/go-esp-harness/internal/testutils"
	"github.com/luhtfiimanal/go-esp-harness/protocol"
	"github.com/luhtfiimanal/go-esp-harness/serial"
)

func opener(port *testutils.FakePort) OpenFunc {
	return func() (Port, error) { return port, nil }
}

func newOptions(out *bytes.Buffer) Options {
	return Options{Console: console.New(out, console.ColorNever)}
}

func readyPort() *testutils.FakePort {
	return &testutils.FakePort{
		Replies: map[string][]testutils.Read{
			protocol.CmdStatus: testutils.Lines("I (10) UART_LISTENER: Received command: status", "ready"),
			protocol.CmdScan: testutils.Lines(
				"Starting Wi-Fi scan...",
				"I (20) UART_LISTENER: Received command: scan",
				"Found 1 access points:",
				"SSID: home, RSSI: -40, Channel: 6",
				"Wi-Fi scan completed.",
				"I (30) wifi: late line",
			),
			protocol.CmdConnect: testutils.Lines(
				"I (40) UART_LISTENER: Received command: connect",
				"wifi:state: init -> auth (b0)",
			),
		},
	}
}

func TestExecute_FullRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := readyPort()
	drains := 0
	port.OnDrain = func() {
		drains++
		if drains == 1 {
			port.Pending = append(port.Pending, testutils.Lines(
				"\x1b[0;32mI (50) wifi: connected\x1b[0m",
				"",
				"got ip: 192.168.1.2",
			)...)
			return
		}
		cancel()
	}

	var out bytes.Buffer
	opts := newOptions(&out)
	opts.SSID = "home"
	opts.Password = "secret"

	err := Execute(ctx, opener(port), opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"status", "scan", "connect home secret"}, port.Commands())
	assert.Equal(t, 1, port.Closes)
	assert.Equal(t, `I (10) UART_LISTENER: Received command: status
Starting Wi-Fi scan..
Available Wi-Fi Networks:
Starting Wi-Fi scan...
I (20) UART_LISTENER: Received command: scan
Found 1 access points:
SSID: home, RSSI: -40, Channel: 6
Connecting to Wi-Fi network: home
Connecting to home..
I (30) wifi: late line
I (40) UART_LISTENER: Received command: connect
I (50) wifi: connected
got ip: 192.168.1.2
Stopped continuous dump.
`, out.String())
}

func TestExecute_StatusGate(t *testing.T) {
	port := &testutils.FakePort{
		Replies: map[string][]testutils.Read{
			protocol.CmdStatus: testutils.Lines("not_ready"),
		},
	}

	var out bytes.Buffer
	opts := newOptions(&out)
	opts.SSID, opts.Password = "home", "secret"

	err := Execute(context.Background(), opener(port), opts)
	require.ErrorIs(t, err, ErrDeviceNotReady)

	assert.Equal(t, []string{"status"}, port.Commands())
	assert.Equal(t, 1, port.Closes)
	assert.Equal(t, "ESP32 is not ready. Exiting.\n", out.String())
}

func TestExecute_SkipsConnectWithoutCredentials(t *testing.T) {
	for name, creds := range map[string][2]string{
		"none":          {"", ""},
		"ssid only":     {"home", ""},
		"password only": {"", "secret"},
	} {
		t.Run(name, func(t *testing.T) {
			port := readyPort()
			port.OnDrain = func() { t.Error("read after scan without credentials") }

			var out bytes.Buffer
			opts := newOptions(&out)
			opts.SSID, opts.Password = creds[0], creds[1]

			require.NoError(t, Execute(context.Background(), opener(port), opts))

			assert.Equal(t, []string{"status", "scan"}, port.Commands())
			assert.Equal(t, 1, port.Closes)
			assert.NotContains(t, out.String(), "Connecting")
			assert.NotContains(t, out.String(), "Stopped continuous dump.")
		})
	}
}

func TestExecute_InterruptDuringMonitorClosesOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := readyPort()
	port.OnDrain = cancel

	var out bytes.Buffer
	opts := newOptions(&out)
	opts.SSID, opts.Password = "home", "secret"

	require.NoError(t, Execute(ctx, opener(port), opts))
	assert.Equal(t, 1, port.Closes)
	assert.Contains(t, out.String(), "Stopped continuous dump.\n")
	assert.NotContains(t, out.String(), "Exiting...")
}

func TestExecute_InterruptDuringScan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := &testutils.FakePort{
		Replies: map[string][]testutils.Read{
			protocol.CmdStatus: testutils.Lines("ready"),
			protocol.CmdScan:   testutils.Lines("Starting Wi-Fi scan..."),
		},
		OnDrain: cancel,
	}

	var out bytes.Buffer
	require.NoError(t, Execute(ctx, opener(port), newOptions(&out)))

	assert.Equal(t, []string{"status", "scan"}, port.Commands())
	assert.Equal(t, 1, port.Closes)
	assert.Equal(t, "Starting Wi-Fi scan..\nExiting...\n", out.String())
}

func TestExecute_InterruptDuringSettle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	port := readyPort()
	var out bytes.Buffer
	opts := newOptions(&out)
	opts.Settle = time.Hour

	require.NoError(t, Execute(ctx, opener(port), opts))
	assert.Empty(t, port.Commands())
	assert.Equal(t, 1, port.Closes)
	assert.Equal(t, "Exiting...\n", out.String())
}

func TestExecute_SettleDelaysFirstCommand(t *testing.T) {
	port := &testutils.FakePort{
		Replies: map[string][]testutils.Read{protocol.CmdStatus: testutils.Lines("nope")},
	}
	opts := newOptions(&bytes.Buffer{})
	opts.Settle = 30 * time.Millisecond

	start := time.Now()
	err := Execute(context.Background(), opener(port), opts)
	require.ErrorIs(t, err, ErrDeviceNotReady)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestExecute_TransportFailure(t *testing.T) {
	port := &testutils.FakePort{
		Replies: map[string][]testutils.Read{
			protocol.CmdStatus: {{Err: &serial.PortError{Op: "read", Device: "/dev/ttyUSB0", Err: errors.New("input/output error")}}},
		},
	}

	err := Execute(context.Background(), opener(port), newOptions(&bytes.Buffer{}))
	require.ErrorIs(t, err, serial.ErrUnavailable)
	assert.Contains(t, err.Error(), "status:")
	assert.Equal(t, 1, port.Closes)
}

func TestExecute_TransportFailureDuringMonitor(t *testing.T) {
	port := readyPort()
	port.DrainErr = &serial.PortError{Op: "read", Device: "/dev/ttyUSB0", Err: errors.New("device hung up")}

	opts := newOptions(&bytes.Buffer{})
	opts.SSID, opts.Password = "home", "secret"

	err := Execute(context.Background(), opener(port), opts)
	require.ErrorIs(t, err, serial.ErrUnavailable)
	assert.Contains(t, err.Error(), "monitor:")
	assert.Equal(t, 1, port.Closes)
}

func TestExecute_OpenFailure(t *testing.T) {
	openErr := &serial.PortError{Op: "open", Device: "/dev/ttyUSB0", Err: errors.New("no such file or directory")}

	var out bytes.Buffer
	err := Execute(context.Background(), func() (Port, error) { return nil, openErr }, newOptions(&out))
	require.ErrorIs(t, err, serial.ErrUnavailable)
	assert.Empty(t, out.String())
}

func TestOrchestrator_ScanStopsAtSentinel(t *testing.T) {
	port := &testutils.FakePort{
		Replies: map[string][]testutils.Read{
			protocol.CmdScan: {
				{Line: "NetA"},
				testutils.Timeout,
				{Line: "\x1b[0m"},
				{Line: "NetB"},
				{Line: "wi-fi SCAN completed."},
				{Line: "after"},
			},
		},
	}

	result, err := New(port, Options{}).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.ScanResult{"NetA", "NetB"}, result)

	require.Len(t, port.Pending, 1)
	assert.Equal(t, "after", port.Pending[0].Line)
}

func TestOrchestrator_ScanWriteFailure(t *testing.T) {
	port := &testutils.FakePort{
		WriteErr: &serial.PortError{Op: "write", Device: "/dev/ttyUSB0", Err: errors.New("EIO")},
	}

	_, err := New(port, Options{}).Scan(context.Background())
	require.ErrorIs(t, err, serial.ErrUnavailable)
	assert.Zero(t, port.ReadCount)
}

func TestExecute_InterruptUnblocksSilentDevice(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	// no read deadline: only closing the port ends a pending read
	open := func() (Port, error) {
		return serial.Open(serial.Config{Device: slave.Name(), BaudRate: 115200})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- Execute(ctx, open, newOptions(&out)) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after interrupt")
	}
	assert.Equal(t, "Exiting...\n", out.String())
}

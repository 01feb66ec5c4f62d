// Package workflow drives the device through the harness run: status gate,
// Wi-Fi scan, optional connect, then a continuous dump of device output
// until interrupted.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/luhtfiimanal/go-esp-harness/internal/console"
	"github.com/luhtfiimanal/go-esp-harness/internal/logging"
	"github.com/luhtfiimanal/go-esp-harness/protocol"
)

// ErrDeviceNotReady is returned when the device does not answer "ready" to
// the status command.
var ErrDeviceNotReady = errors.New("device not ready")

// Port is the serial connection owned by Execute.
type Port interface {
	protocol.Conn
	Close() error
}

// OpenFunc acquires the port. Its error is returned from Execute unchanged.
type OpenFunc func() (Port, error)

// Options configures a run.
type Options struct {
	// Settle is the delay between opening the port and the first command.
	Settle time.Duration

	// Wi-Fi credentials. Connect and monitor are skipped unless both are set.
	SSID     string
	Password string

	Console *console.Console
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Console == nil {
		o.Console = console.New(io.Discard, console.ColorNever)
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return o
}

// Execute opens the port, runs the workflow and closes the port exactly once
// on every path out. An interrupt (ctx done) is a clean shutdown and yields
// a nil error. The port is closed as soon as ctx is done, which unblocks a
// pending read.
func Execute(ctx context.Context, open OpenFunc, opts Options) error {
	opts = opts.withDefaults()

	port, err := open()
	if err != nil {
		return err
	}
	closePort := sync.OnceValue(port.Close)
	defer func() {
		if err := closePort(); err != nil {
			opts.Logger.Warn("closing serial port", "error", err)
		}
	}()
	// A read without a deadline only returns once the port is closed.
	stop := context.AfterFunc(ctx, func() { closePort() })
	defer stop()

	err = settle(ctx, opts.Settle)
	if err == nil {
		err = New(port, opts).Run(ctx)
	}
	if interrupted(ctx, err) {
		opts.Console.Println("Exiting...")
		return nil
	}
	return err
}

// Orchestrator sequences the device operations over one connection.
type Orchestrator struct {
	ch       *protocol.Channel
	console  *console.Console
	logger   *slog.Logger
	ssid     string
	password string
}

// New returns an Orchestrator over conn. Log lines seen while waiting for a
// command response are echoed to the console as they arrive.
func New(conn protocol.Conn, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		ch: protocol.NewChannel(conn,
			protocol.WithLogHandler(opts.Console.Log),
			protocol.WithLogger(opts.Logger),
		),
		console:  opts.Console,
		logger:   opts.Logger,
		ssid:     opts.SSID,
		password: opts.Password,
	}
}

// Run executes the steps in order and stops at the first failure.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.CheckStatus(ctx); err != nil {
		return err
	}

	result, err := o.Scan(ctx)
	if err != nil {
		return err
	}
	o.printScan(result)

	connected, err := o.Connect(ctx)
	if err != nil || !connected {
		return err
	}
	return o.Monitor(ctx)
}

// CheckStatus is the status gate.
func (o *Orchestrator) CheckStatus(ctx context.Context) error {
	ready, err := o.ch.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if !ready {
		o.console.Println("ESP32 is not ready. Exiting.")
		return ErrDeviceNotReady
	}
	o.logger.Info("device ready")
	return nil
}

// Scan sends the scan command and collects every line up to the completion
// sentinel. Lines after the sentinel are left unread.
func (o *Orchestrator) Scan(ctx context.Context) (protocol.ScanResult, error) {
	o.console.Println("Starting Wi-Fi scan..")
	if err := o.ch.Write(protocol.CmdScan); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var result protocol.ScanResult
	for {
		line, err := o.ch.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if protocol.IsScanCompleted(line) {
			return result, nil
		}
		result = append(result, line)
	}
}

func (o *Orchestrator) printScan(result protocol.ScanResult) {
	o.console.Println("Available Wi-Fi Networks:")
	for _, line := range result {
		o.console.Println(line)
	}

	networks := result.Networks()
	o.logger.Info("scan completed", "lines", len(result), "networks", len(networks))
	if n, ok := result.Announced(); ok && n != len(networks) {
		o.logger.Warn("scan entry count mismatch", "announced", n, "parsed", len(networks))
	}
}

// Connect sends the connect command when credentials are configured. It
// reports false, without error, when they are not.
func (o *Orchestrator) Connect(ctx context.Context) (bool, error) {
	if o.ssid == "" || o.password == "" {
		o.logger.Info("no Wi-Fi credentials configured, skipping connect")
		return false, nil
	}

	o.console.Printf("Connecting to Wi-Fi network: %s", o.ssid)
	o.console.Printf("Connecting to %s..", o.ssid)
	resp, err := o.ch.Connect(ctx, o.ssid, o.password)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	o.logger.Debug("connect response", "response", resp)
	return true, nil
}

// Monitor prints every line from the device as log output until ctx is
// done, which ends the dump cleanly.
func (o *Orchestrator) Monitor(ctx context.Context) error {
	for line, err := range o.ch.Lines(ctx) {
		if interrupted(ctx, err) {
			o.console.Println("Stopped continuous dump.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		o.console.Log(line)
	}
	return nil
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func interrupted(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err())
}

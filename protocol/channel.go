package protocol

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/luhtfiimanal/go-esp-harness/internal/logging"
	"github.com/luhtfiimanal/go-esp-harness/serial"
)

// Commands understood by the firmware.
const (
	CmdStatus  = "status"
	CmdScan    = "scan"
	CmdConnect = "connect"

	// StatusReady is the response to CmdStatus from a usable device.
	StatusReady = "ready"
)

// Conn is the line connection a Channel drives. *serial.SerialReader
// satisfies it. ReadLine returns serial.ErrTimeout when no data arrived.
type Conn interface {
	ReadLine() (string, error)
	WriteLine(line string, newline string) error
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogHandler sets the function that receives device log lines seen while
// waiting for a command response. The default discards them.
func WithLogHandler(fn func(line string)) Option {
	return func(c *Channel) { c.onLog = fn }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// Channel correlates commands with responses on a Conn. The response to a
// command is the first data line read after it is sent; log lines read in
// between are handed to the log handler as they arrive.
//
// There is no request timeout beyond the connection's per-read timeout. A
// device that never answers keeps Send polling until ctx is done.
type Channel struct {
	conn   Conn
	onLog  func(string)
	logger *slog.Logger
}

// NewChannel returns a Channel over conn.
func NewChannel(conn Conn, opts ...Option) *Channel {
	c := &Channel{
		conn:   conn,
		onLog:  func(string) {},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Write sends command followed by "\n" without waiting for a response.
func (c *Channel) Write(command string) error {
	c.logger.Debug("sending command", "command", redact(command))
	if err := c.conn.WriteLine(command, "\n"); err != nil {
		return fmt.Errorf("send %q: %w", commandName(command), err)
	}
	return nil
}

// Send writes command and returns the first data line that follows it.
func (c *Channel) Send(ctx context.Context, command string) (string, error) {
	if err := c.Write(command); err != nil {
		return "", err
	}
	for {
		line, err := c.Next(ctx)
		if err != nil {
			return "", fmt.Errorf("await %q response: %w", commandName(command), err)
		}
		switch Classify(line) {
		case KindEmpty:
			continue
		case KindLog:
			c.echoLog(line)
			continue
		}
		c.logger.Debug("command response", "command", commandName(command), "response", line)
		return line, nil
	}
}

// Status sends CmdStatus and reports whether the device answered "ready".
func (c *Channel) Status(ctx context.Context) (bool, error) {
	resp, err := c.Send(ctx, CmdStatus)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(resp, StatusReady), nil
}

// Connect asks the device to join a Wi-Fi network and returns its response.
// Neither value may contain whitespace; the firmware splits on it.
func (c *Channel) Connect(ctx context.Context, ssid, password string) (string, error) {
	return c.Send(ctx, ConnectCommand(ssid, password))
}

// ConnectCommand formats the connect directive.
func ConnectCommand(ssid, password string) string {
	return CmdConnect + " " + ssid + " " + password
}

// Next returns the next non-empty cleaned line of any kind. Read timeouts are
// retried immediately. ctx is checked after every read.
func (c *Channel) Next(ctx context.Context) (string, error) {
	for {
		raw, err := c.conn.ReadLine()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, serial.ErrTimeout) {
			continue
		}
		if err != nil {
			return "", err
		}
		if line := Clean(raw); line != "" {
			return line, nil
		}
	}
}

// Lines returns the cleaned, non-empty lines read from the connection. The
// sequence ends after yielding the first error, which is ctx.Err() on
// cancellation. It reads from the shared connection and cannot be replayed.
func (c *Channel) Lines(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			line, err := c.Next(ctx)
			if !yield(line, err) || err != nil {
				return
			}
		}
	}
}

func (c *Channel) echoLog(line string) {
	if l, ok := ParseLogLine(line); ok {
		c.logger.Debug("device log", "level", l.Level(), "tag", l.Tag, "ts", l.Timestamp)
	}
	c.onLog(line)
}

func commandName(command string) string {
	name, _, _ := strings.Cut(command, " ")
	return name
}

// redact hides the password of a connect command in diagnostics.
func redact(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 3 && fields[0] == CmdConnect {
		return fields[0] + " " + fields[1] + " ***"
	}
	return command
}

package serial

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is matched by every error caused by the device itself:
	// it cannot be opened, or a read or write failed at the OS level.
	ErrUnavailable = errors.New("serial port unavailable")

	// ErrTimeout is returned by ReadLine when no byte arrived within the
	// read timeout. It is not a failure; callers read again.
	ErrTimeout = errors.New("serial read timeout")

	// ErrClosed is returned by ReadLine after Close.
	ErrClosed = errors.New("serialreader closed")
)

// PortError describes an OS-level failure on a serial device.
type PortError struct {
	Op     string // "open", "configure", "read", "write"
	Device string
	Err    error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("serial %s %s: %v", e.Op, e.Device, e.Err)
}

func (e *PortError) Unwrap() error { return e.Err }

// Is makes every PortError match ErrUnavailable.
func (e *PortError) Is(target error) bool { return target == ErrUnavailable }

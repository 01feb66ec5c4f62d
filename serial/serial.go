package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sys/unix"
)

var errHangup = errors.New("device hung up")

// SerialReader provides killable, line-oriented access to a Linux serial port
// with a bounded per-read timeout. Reads and writes are meant to come from a
// single goroutine; Close may be called from any goroutine.
type SerialReader struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	config    Config
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
	pending   []byte
}

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device      string
	BaudRate    int
	Delimiter   string        // default "\n"
	ReadTimeout time.Duration // 0 blocks until a full line arrives
}

// Open opens a serial port using the provided Config and returns a SerialReader.
// The port is configured for raw 8N1 operation at the requested baud rate.
func Open(cfg Config) (*SerialReader, error) {
	if cfg.Delimiter == "" {
		cfg.Delimiter = "\n"
	}
	baud, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return nil, &PortError{Op: "open", Device: cfg.Device, Err: fmt.Errorf("unsupported baud rate %d", cfg.BaudRate)}
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0o666)
	if err != nil {
		return nil, &PortError{Op: "open", Device: cfg.Device, Err: err}
	}

	if err := makeRaw(fd, baud); err != nil {
		unix.Close(fd)
		return nil, &PortError{Op: "configure", Device: cfg.Device, Err: err}
	}

	// Turn back into blocking mode now that config is done
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, &PortError{Op: "configure", Device: cfg.Device, Err: err}
	}

	// Create self-pipe for killability
	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, &PortError{Op: "open", Device: cfg.Device, Err: err}
	}

	return &SerialReader{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), cfg.Device),
		done:   make(chan struct{}),
		config: cfg,
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
	}, nil
}

func makeRaw(fd int, baud uint32) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud
	termios.Ispeed = baud
	termios.Ospeed = baud

	// VMIN=1, VTIME=0: readiness is decided by poll, read returns what is there
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	return unix.IoctlSetTermios(fd, unix.TCSETS, termios)
}

// Device returns the path the reader was opened on.
func (s *SerialReader) Device() string { return s.config.Device }

// WriteLine writes a line (with specified newline) to the serial port.
func (s *SerialReader) WriteLine(line string, newline string) error {
	if s.closed() {
		return ErrClosed
	}
	if _, err := s.file.WriteString(line + newline); err != nil {
		return &PortError{Op: "write", Device: s.config.Device, Err: err}
	}
	return nil
}

// WriteCommand writes cmd terminated by a single "\n".
func (s *SerialReader) WriteCommand(cmd string) error {
	return s.WriteLine(cmd, "\n")
}

// ReadLine returns the next line from the serial port with the delimiter and
// trailing whitespace removed. It waits at most Config.ReadTimeout: if nothing
// arrived it returns ErrTimeout, if a partial line arrived it returns that.
// Bytes received after a delimiter are kept for the next call.
func (s *SerialReader) ReadLine() (string, error) {
	if s.closed() {
		return "", ErrClosed
	}
	delim := []byte(s.config.Delimiter)
	if line, ok := s.takeLine(delim); ok {
		return line, nil
	}

	var deadline time.Time
	if s.config.ReadTimeout > 0 {
		deadline = time.Now().Add(s.config.ReadTimeout)
	}

	buf := make([]byte, 4096)
	for {
		timeout := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return s.takePartial()
			}
			timeout = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}

		// Use poll to wait for data or kill signal
		pfd := []unix.PollFd{
			{Fd: int32(s.fd), Events: unix.POLLIN},
			{Fd: int32(s.pipeR), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfd, timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return "", &PortError{Op: "read", Device: s.config.Device, Err: err}
		}
		if s.closed() || pfd[1].Revents&unix.POLLIN != 0 {
			return "", ErrClosed
		}
		if n == 0 {
			continue
		}

		if pfd[0].Revents&unix.POLLIN != 0 {
			m, err := s.file.Read(buf)
			if err == nil && m == 0 {
				err = io.EOF
			}
			if err != nil {
				return "", &PortError{Op: "read", Device: s.config.Device, Err: err}
			}
			s.pending = append(s.pending, buf[:m]...)
			if line, ok := s.takeLine(delim); ok {
				return line, nil
			}
			continue
		}
		if pfd[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return "", &PortError{Op: "read", Device: s.config.Device, Err: errHangup}
		}
	}
}

func (s *SerialReader) takeLine(delim []byte) (string, bool) {
	idx := bytes.Index(s.pending, delim)
	if idx < 0 {
		return "", false
	}
	line := decode(s.pending[:idx])
	s.pending = s.pending[idx+len(delim):]
	if len(s.pending) == 0 {
		s.pending = nil
	}
	return line, true
}

func (s *SerialReader) takePartial() (string, error) {
	if len(s.pending) == 0 {
		return "", ErrTimeout
	}
	line := decode(s.pending)
	s.pending = nil
	return line, nil
}

func decode(b []byte) string {
	return strings.TrimRightFunc(strings.ToValidUTF8(string(b), "\uFFFD"), unicode.IsSpace)
}

func (s *SerialReader) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close closes the serial port and unblocks any pending ReadLine call.
// Safe to call multiple times; subsequent calls are no-ops.
func (s *SerialReader) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		// Wake up poll using self-pipe
		unix.Write(s.pipeW, []byte{1})
		err = s.file.Close()
		unix.Close(s.pipeR)
		unix.Close(s.pipeW)
	})
	return err
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	case 921600:
		return unix.B921600, true
	default:
		return 0, false
	}
}

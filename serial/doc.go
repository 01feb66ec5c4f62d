// Package serial provides a minimal, Linux-only serial port line reader
// for talking to embedded devices over a console UART.
//
// Reads are bounded by a per-read timeout so callers can poll a device that
// answers asynchronously without hanging forever inside a syscall.
//
// Features:
//   - Raw syscall-based serial I/O on Linux (termios + poll)
//   - Line-based reading with custom delimiter (default: \n)
//   - Per-read timeout reported as ErrTimeout, never as an empty line
//   - Self-pipe mechanism so Close unblocks a pending read
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Example usage:
//
//	reader, err := serial.Open(serial.Config{
//	    Device:      "/dev/ttyUSB0",
//	    BaudRate:    115200,
//	    ReadTimeout: time.Second,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reader.Close()
//
//	if err := reader.WriteCommand("status"); err != nil {
//	    log.Fatal(err)
//	}
//	for {
//	    line, err := reader.ReadLine()
//	    if errors.Is(err, serial.ErrTimeout) {
//	        continue
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println("Received:", line)
//	}
package serial

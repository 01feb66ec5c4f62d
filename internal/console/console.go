// Package console writes the harness's user-facing output: progress
// messages in plain text and device log output highlighted in green.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// ColorMode selects when log output is highlighted.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// ParseColorMode validates a --color value.
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(strings.ToLower(s)); m {
	case ColorAuto, ColorAlways, ColorNever:
		return m, nil
	default:
		return "", fmt.Errorf("invalid color mode %q (want auto, always or never)", s)
	}
}

// Console is safe for concurrent use.
type Console struct {
	mu    sync.Mutex
	out   *termenv.Output
	color bool
}

// New returns a Console writing to w. In ColorAuto mode colour is used only
// when w is a terminal.
func New(w io.Writer, mode ColorMode) *Console {
	profile := termenv.Ascii
	switch mode {
	case ColorAlways:
		profile = termenv.ANSI
	case ColorAuto:
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			profile = termenv.ANSI
		}
	}
	return &Console{
		out:   termenv.NewOutput(w, termenv.WithProfile(profile)),
		color: profile != termenv.Ascii,
	}
}

// Println prints a plain message line.
func (c *Console) Println(a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, a...)
}

// Printf prints a formatted plain message line.
func (c *Console) Printf(format string, a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", a...)
}

// Log prints a line of device output highlighted as log output.
func (c *Console) Log(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.color {
		line = c.out.String(line).Foreground(c.out.Color("2")).String()
	}
	fmt.Fprintln(c.out, line)
}

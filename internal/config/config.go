// Package config defines the runtime configuration for esp-harness.
//
// Precedence order (highest wins):
//  1. CLI flags  (handled by cmd/esp-harness)
//  2. Environment variables  (ApplyEnv)
//  3. YAML config file  (LoadFile)
//  4. Defaults  (Default)
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// ── Default values ───────────────────────────────────────────────────

const (
	DefaultDevice      = "/dev/ttyUSB0"
	DefaultBaudRate    = 115200
	DefaultReadTimeout = time.Second
	// DefaultSettle is how long to wait after opening the port before the
	// first command; the board may reset when the port opens.
	DefaultSettle    = time.Second
	DefaultDelimiter = "\n"
	DefaultColor     = "auto"

	// DefaultFile is read when --config is not given. It may be absent.
	DefaultFile = "esp-harness.yaml"
)

// ── Environment variables ────────────────────────────────────────────

const (
	EnvSSID     = "ESP_SSID"
	EnvPassword = "ESP_PASSWORD"
	EnvPort     = "ESP_PORT"
	EnvBaud     = "ESP_BAUD"
)

// Config holds every tuneable for a harness run.
type Config struct {
	// ── Serial ───────────────────────────────────────────────────────
	Device      string        `yaml:"port"`
	BaudRate    int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	Settle      time.Duration `yaml:"settle"`
	Delimiter   string        `yaml:"delimiter"`

	// ── Wi-Fi credentials ────────────────────────────────────────────
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`

	// ── Output ───────────────────────────────────────────────────────
	Color   string `yaml:"color"`
	Verbose int    `yaml:"verbose"`
}

// Default returns a Config with every field at its default.
func Default() *Config {
	return &Config{
		Device:      DefaultDevice,
		BaudRate:    DefaultBaudRate,
		ReadTimeout: DefaultReadTimeout,
		Settle:      DefaultSettle,
		Delimiter:   DefaultDelimiter,
		Color:       DefaultColor,
	}
}

// LoadFile overlays the YAML file at path onto cfg. A missing file is an
// error only when required is true.
func (c *Config) LoadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. Only non-empty values
// override. getenv is os.Getenv outside tests.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvSSID); v != "" {
		c.SSID = v
	}
	if v := getenv(EnvPassword); v != "" {
		c.Password = v
	}
	if v := getenv(EnvPort); v != "" {
		c.Device = v
	}
	if v := getenv(EnvBaud); v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return &Error{Field: "baud", Value: v, Message: "not a number", Hint: EnvBaud + " must be an integer"}
		}
		c.BaudRate = baud
	}
	return nil
}

// Credentials returns the Wi-Fi credentials. ok is false unless both are set.
func (c *Config) Credentials() (ssid, password string, ok bool) {
	return c.SSID, c.Password, c.SSID != "" && c.Password != ""
}

// Validate checks field values. The first problem found is returned as *Error.
func (c *Config) Validate() error {
	switch {
	case c.Device == "":
		return &Error{Field: "port", Message: "serial device is required", Hint: "e.g. --port /dev/ttyUSB0"}
	case c.BaudRate <= 0:
		return &Error{Field: "baud", Value: c.BaudRate, Message: "must be positive"}
	case c.ReadTimeout <= 0:
		return &Error{Field: "timeout", Value: c.ReadTimeout, Message: "must be positive",
			Hint: "reads are bounded so an interrupt is noticed, e.g. --timeout 1s"}
	case c.Settle < 0:
		return &Error{Field: "settle", Value: c.Settle, Message: "must not be negative"}
	case c.Delimiter == "":
		return &Error{Field: "delimiter", Message: "must not be empty"}
	}

	// The firmware splits "connect <ssid> <password>" on whitespace.
	if strings.IndexFunc(c.SSID, unicode.IsSpace) >= 0 {
		return &Error{Field: "ssid", Value: c.SSID, Message: "must not contain whitespace"}
	}
	if strings.IndexFunc(c.Password, unicode.IsSpace) >= 0 {
		return &Error{Field: "password", Message: "must not contain whitespace"}
	}

	switch strings.ToLower(c.Color) {
	case "auto", "always", "never":
	default:
		return &Error{Field: "color", Value: c.Color, Message: "unknown mode", Hint: "use auto, always or never"}
	}
	return nil
}

// Error represents an invalid configuration value.
type Error struct {
	Field   string // config field name
	Value   any    // the invalid value (nil if missing or secret)
	Message string
	Hint    string // suggestion for the user (optional)
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("config: %s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

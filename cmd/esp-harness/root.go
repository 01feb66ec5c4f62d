package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/luhtfiimanal/go-esp-harness/internal/config"
	"github.com/luhtfiimanal/go-esp-harness/internal/console"
	"github.com/luhtfiimanal/go-esp-harness/internal/logging"
	"github.com/luhtfiimanal/go-esp-harness/serial"
	"github.com/luhtfiimanal/go-esp-harness/workflow"
)

// Version is set at build time via ldflags:
//
//	go build -ldflags "-X main.Version=1.2.0" ./cmd/esp-harness
var Version = "dev"

type flags struct {
	configPath string
	port       string
	baud       int
	timeout    time.Duration
	settle     time.Duration
	color      string
	verbose    int
}

func newRootCommand(getenv func(string) string) *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "esp-harness",
		Short: "Drive ESP32 Wi-Fi console firmware over a serial port",
		Long: `esp-harness talks to the ESP32 Wi-Fi console firmware over a serial line.

It checks that the device answers "ready", runs a Wi-Fi scan and prints the
networks found. When ESP_SSID and ESP_PASSWORD are both set it then asks the
device to connect and dumps everything the device prints until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, getenv)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML config file (default "+config.DefaultFile+" if present)")
	fl.StringVarP(&f.port, "port", "p", config.DefaultDevice, "Serial device path")
	fl.IntVarP(&f.baud, "baud", "b", config.DefaultBaudRate, "Baud rate")
	fl.DurationVar(&f.timeout, "timeout", config.DefaultReadTimeout, "Per-read timeout")
	fl.DurationVar(&f.settle, "settle", config.DefaultSettle, "Delay after opening the port before the first command")
	fl.StringVar(&f.color, "color", config.DefaultColor, "Highlight device logs: auto, always or never")
	fl.CountVarP(&f.verbose, "verbose", "v", "Increase diagnostic output on stderr (repeatable)")

	return cmd
}

func run(cmd *cobra.Command, f *flags, getenv func(string) string) error {
	cfg := config.Default()

	path, required := config.DefaultFile, false
	if f.configPath != "" {
		path, required = f.configPath, true
	}
	if err := cfg.LoadFile(path, required); err != nil {
		return err
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return err
	}
	applyFlags(cmd, cfg, f)
	if err := cfg.Validate(); err != nil {
		return err
	}

	mode, err := console.ParseColorMode(cfg.Color)
	if err != nil {
		return err
	}
	out := console.New(cmd.OutOrStdout(), mode)
	logger := logging.New(cmd.ErrOrStderr(), logging.LevelFromVerbosity(cfg.Verbose))

	open := func() (workflow.Port, error) {
		logger.Info("opening serial port", "device", cfg.Device, "baud", cfg.BaudRate, "timeout", cfg.ReadTimeout)
		port, err := serial.Open(serial.Config{
			Device:      cfg.Device,
			BaudRate:    cfg.BaudRate,
			Delimiter:   cfg.Delimiter,
			ReadTimeout: cfg.ReadTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("open device: %w", err)
		}
		return port, nil
	}

	ssid, password, _ := cfg.Credentials()
	return workflow.Execute(cmd.Context(), open, workflow.Options{
		Settle:   cfg.Settle,
		SSID:     ssid,
		Password: password,
		Console:  out,
		Logger:   logger,
	})
}

// applyFlags overlays flags the user set explicitly; defaults never override
// the config file or environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config, f *flags) {
	fl := cmd.Flags()
	if fl.Changed("port") {
		cfg.Device = f.port
	}
	if fl.Changed("baud") {
		cfg.BaudRate = f.baud
	}
	if fl.Changed("timeout") {
		cfg.ReadTimeout = f.timeout
	}
	if fl.Changed("settle") {
		cfg.Settle = f.settle
	}
	if fl.Changed("color") {
		cfg.Color = f.color
	}
	if fl.Changed("verbose") {
		cfg.Verbose = f.verbose
	}
}

// esp-harness drives ESP32 Wi-Fi console firmware over a serial port: it
// checks the device is ready, lists nearby networks, optionally joins one
// using ESP_SSID / ESP_PASSWORD, then dumps device output until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand(os.Getenv).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "esp-harness: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// klwbridge connects a KLW IOT gateway to MQTT.
//
// It keeps an authenticated session with the gateway, publishes every
// device record as retained MQTT state, executes commands received over
// MQTT and optionally records device history in InfluxDB. The discover,
// devices and control subcommands talk to a gateway directly.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

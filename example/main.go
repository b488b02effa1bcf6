package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jpalmerr/pulsegen"
	"github.com/jpalmerr/pulsegen/internal/discovery"
	"github.com/jpalmerr/pulsegen/internal/form"
	"github.com/jpalmerr/pulsegen/internal/hw"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// simulated output that logs every command it receives
	out := newLoggingOutput(hw.NewSimOutput(), logger)

	dev, err := pulsegen.New(
		pulsegen.WithLogger(logger),
		pulsegen.WithPort(8080),
		pulsegen.WithOutput(out),
		pulsegen.WithModeInput(hw.NewStaticInput(true)),
		pulsegen.WithMDNS(),
		pulsegen.WithDiscovery(discovery.DefaultPort),
		pulsegen.WithOverrides(
			form.Pair{Key: "106", Value: "pulsegen-demo"},
			form.Pair{Key: "200", Value: "250"},
			form.Pair{Key: "201", Value: "150"},
		),
	)
	if err != nil {
		slog.Error("failed to create device", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  pulsegen demo (simulated output, access point mode)")
	fmt.Println()
	fmt.Println("  Open http://localhost:8080 in your browser")
	fmt.Println("  or http://pulsegen-demo.local:8080 once mDNS has registered")
	fmt.Println("  Run `go run ./example/cmd/discover` to find the device")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dev.Start(ctx); err != nil {
		slog.Error("device error", "error", err)
		os.Exit(1)
	}
}

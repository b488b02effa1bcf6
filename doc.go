// Package pulsegen runs a network-attached pulse generator.
//
// A [Device] drives a single pulse output at a configurable frequency and
// width for a bounded duration. It is configured and triggered over HTTP,
// either while joined to a station network (requests need digest
// credentials) or while running its own access point (no credentials).
//
// # Quick Start
//
//	dev, _ := pulsegen.New(
//	    pulsegen.WithPort(8080),
//	    pulsegen.WithSettingsBackend(settings.NewFileBackend("/var/lib/pulsegen/settings.json")),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	dev.Start(ctx) // blocks until ctx is cancelled
//
// # Architecture
//
// Everything that touches the output runs on one control loop goroutine.
// Each tick runs, in order:
//
//   - the pulse auto-stop check
//   - the lifecycle, which sets up the network, brings the request server up
//     and, while serving, runs the queued HTTP requests
//   - the discovery responder, when enabled
//
// The internal packages are:
//
//   - internal/form: key/value validation contract shared by the validators
//   - internal/settings: persisted configuration and its storage backends
//   - internal/pulse: pulse parameters, clamping and output control
//   - internal/lifecycle: network mode and request server state machine
//   - internal/server: routes, auth gate, pages and the request queue
//   - internal/loop: the cooperative control loop
//   - internal/store: latest output status with pub/sub for live updates
//   - internal/hw: simulated and serial peripherals
//   - internal/network: host network collaborator
//   - internal/discovery: UDP discovery responder
//   - internal/auth: HTTP digest authentication
//   - dashboard: embedded web UI assets
package pulsegen

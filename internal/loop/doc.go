// Package loop runs the device control loop.
//
// A [Runner] calls an ordered list of tasks on every tick of a fixed
// interval, on a single goroutine, so tasks never run concurrently with each
// other. A panicking task halts the runner: the panic is logged with a
// correlation ID, the halt hook runs (the device forces its output off), and
// no further ticks happen.
package loop

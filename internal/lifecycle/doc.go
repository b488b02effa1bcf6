// Package lifecycle runs the network and server state machine.
//
// A [Lifecycle] is ticked by the control loop. In Station mode it joins the
// configured network and applies the static addressing block; when the
// mode-select input is asserted it switches, for the rest of the process
// lifetime, to hosting an access point. Once either setup succeeds the
// request server is started and queued requests are dispatched on every
// tick.
//
// Setup never blocks. Each setup attempt runs within a single tick, and a
// failed attempt is retried after RetryDelay on a later tick. After
// MaxAttempts failed attempts the round is abandoned and a new round starts
// on the next tick. While setting up, every tick forces the pulse output off
// and keeps the request server stopped.
package lifecycle

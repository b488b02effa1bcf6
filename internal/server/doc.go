// Package server is the device's request layer.
//
// It serves the web UI and the control endpoints:
//
//   - GET /          welcome page
//   - GET /config    settings form
//   - GET /control   pulse control form
//   - POST /setcfg   apply a settings batch and save it
//   - GET /pwmstop   stop the pulse
//   - POST /pwmstart apply a pulse batch and start the pulse
//   - GET /ws/status live output status over a websocket
//
// Handlers never touch device state from the HTTP goroutine. Each request is
// turned into a job on a [Queue] and waits until the control loop runs it
// through [Queue.Dispatch], so requests are handled one at a time, in
// between the loop's other work. Every handler first authenticates the
// request with HTTP digest credentials unless the device is in access point
// mode.
//
// Mutating endpoints answer with a small JSON status payload:
//
//	{"svn": 12, "clr": "#009900", "msg": "Successfully saved configuration"}
package server

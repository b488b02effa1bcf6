// Package store holds the latest output status and fans updates out to
// subscribers.
//
// The pulse controller publishes every output change through [Store.Update].
// The live status websocket reads [Store.Latest] on connect and then follows
// [Store.Subscribe]. Subscribers receive updates via buffered channels with
// non-blocking sends, so a slow subscriber misses updates rather than
// stalling the control loop.
package store

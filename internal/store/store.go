package store

import "time"

// OutputStatus is a snapshot of the pulse output.
type OutputStatus struct {
	// Seq increases by one for every update accepted by the store.
	Seq uint64 `json:"seq"`

	// Active reports whether a pulse is currently commanded.
	Active bool `json:"active"`

	// Mode is "off", "pwm" or "cw".
	Mode string `json:"mode"`

	FrequencyHz uint32 `json:"frequency_hz"`
	WidthUs     uint32 `json:"width_us"`
	DurationMs  uint32 `json:"duration_ms"`

	// Level is the PWM level written to the output, out of the output range.
	Level uint32 `json:"level"`

	// Result is the outcome of the start that produced this status, or the
	// reason the output went off ("stopped", "expired").
	Result string `json:"result"`

	ChangedAt time.Time `json:"changed_at"`
}

// Store defines storage and subscription for output status updates.
//
// Implementations must be safe for concurrent access.
type Store interface {
	// Update replaces the latest status and notifies all subscribers.
	Update(status OutputStatus)

	// Latest returns the most recent status.
	Latest() OutputStatus

	// Subscribe returns a channel that receives status updates.
	// Caller must call Unsubscribe when done.
	Subscribe() <-chan OutputStatus

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan OutputStatus)
}

// Package pulse drives the pulse output.
//
// A [Controller] holds the staged pulse parameters, validates form updates
// to them against the configured safety maxima, and on [Controller.Start]
// clamps the parameters to device and configured limits before choosing
// between PWM and continuous-drive (CW) output. [Controller.Tick] ends an
// active pulse once its duration has elapsed.
//
// Frequency 0 is the CW trigger: it is never clamped, and it drives the
// output fully on only when the width reaches the configured maximum width.
package pulse

// Package form defines the keyed validation contract shared by the settings
// store and the pulse controller.
//
// A [Validator] accepts one textual key/value pair at a time. Keys are the
// decimal form of integer field codes; each validator owns a disjoint range of
// codes and reports [ErrInvalidKey] for codes it does not own. [Chain] tries
// validators in order until one claims the key, and [ApplyBatch] applies an
// ordered batch of pairs from a single request, stopping at the first failure.
//
// Validators mutate their state in place on success. Persisting or committing
// the result is the caller's responsibility.
package form

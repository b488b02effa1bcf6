package form

import (
	"errors"
	"fmt"
	"strconv"
)

// MaxValueLength is the longest value text any validator accepts.
const MaxValueLength = 64

// Code classifies the outcome of applying a single key/value pair.
type Code int

const (
	OK Code = iota
	InvalidKey
	ValueTooLong
	InvalidValue
)

// String returns the code name.
func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case InvalidKey:
		return "invalid_key"
	case ValueTooLong:
		return "value_too_long"
	case InvalidValue:
		return "invalid_value"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

var (
	ErrInvalidKey   = errors.New("invalid key")
	ErrValueTooLong = errors.New("value too long")
	ErrInvalidValue = errors.New("invalid value")
)

// Error is the result of a rejected key/value pair.
//
// Msg is the human-readable reason shown to the user. It may be empty, in
// which case [Error.Reason] falls back to a generic description.
type Error struct {
	Code  Code
	Key   string
	Value string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: key %q: %s", e.Code, e.Key, e.Reason())
}

// Reason returns Msg, or a generic description naming the key and value.
func (e *Error) Reason() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("Failed to set key: %s to value: %s", e.Key, e.Value)
}

// Is matches the sentinel error for the code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidKey:
		return e.Code == InvalidKey
	case ErrValueTooLong:
		return e.Code == ValueTooLong
	case ErrInvalidValue:
		return e.Code == InvalidValue
	}
	return false
}

// Rejectf builds an InvalidValue error for key with a formatted reason.
func Rejectf(key, value, format string, args ...any) *Error {
	return &Error{Code: InvalidValue, Key: key, Value: value, Msg: fmt.Sprintf(format, args...)}
}

// UnknownKey builds an InvalidKey error.
func UnknownKey(key, value string) *Error {
	return &Error{Code: InvalidKey, Key: key, Value: value}
}

// TooLong builds a ValueTooLong error.
func TooLong(key, value string) *Error {
	return &Error{
		Code:  ValueTooLong,
		Key:   key,
		Value: value,
		Msg:   fmt.Sprintf("Value for key %s is too long: %d characters, max: %d", key, len(value), MaxValueLength),
	}
}

// CodeOf returns the code carried by err. A nil error is OK; an error that is
// not a *Error is reported as InvalidValue.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return InvalidValue
}

// ParseKey interprets key as a decimal field code.
func ParseKey(key string) (int, bool) {
	code, err := strconv.Atoi(key)
	if err != nil {
		return 0, false
	}
	return code, true
}

// Validator applies a textual key/value pair to its internal state.
//
// Apply returns nil on success, or a *Error whose Code is InvalidKey when the
// key is not one of the validator's fields.
type Validator interface {
	Apply(key, value string) error
}

// ValidatorFunc adapts a function to the [Validator] interface.
type ValidatorFunc func(key, value string) error

// Apply calls f(key, value).
func (f ValidatorFunc) Apply(key, value string) error {
	return f(key, value)
}

// Chain is an ordered list of validators tried in sequence.
//
// The first result that is not InvalidKey is returned. When every validator
// reports InvalidKey, so does the chain.
type Chain []Validator

// Apply implements [Validator].
func (c Chain) Apply(key, value string) error {
	for _, v := range c {
		err := v.Apply(key, value)
		if CodeOf(err) != InvalidKey {
			return err
		}
	}
	return UnknownKey(key, value)
}

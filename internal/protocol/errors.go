package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFormat is returned when input cannot be read at the encoding level
	ErrInvalidFormat = errors.New("invalid format")
	// ErrMissingField is returned when a field required to build a message is absent
	ErrMissingField = errors.New("missing field")
)

// InvalidValueError reports a field that is present but cannot be parsed
type InvalidValueError struct {
	Field string
	Value string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for %s: %q", e.Field, e.Value)
}

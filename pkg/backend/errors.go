package backend

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError means no backend could be resolved. It is raised before
// any run starts and names every option that was attempted.
type ConfigurationError struct {
	Attempted []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no completion backend configured (tried: %s)", strings.Join(e.Attempted, ", "))
}

// TransportError is a network or subprocess failure talking to a backend
// mid-run. It aborts the current run and is not retried automatically.
type TransportError struct {
	Backend string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport failure: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a TransportError
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

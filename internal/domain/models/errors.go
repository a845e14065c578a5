package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRunNotFound is returned for unknown or evicted run IDs.
var ErrRunNotFound = errors.New("run not found")

// ValidationError reports malformed or out-of-range market data.
// It only ever names the four recognized fields.
type ValidationError struct {
	Field   string
	Missing []string
	Reason  string
	Err     error
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("invalid market data: missing required keys: %s", strings.Join(e.Missing, ", "))
	}
	return "invalid market data: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConfigurationError reports invalid run parameters.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid configuration: %s=%q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// InterruptedError is returned when a run is cancelled mid-flight.
type InterruptedError struct {
	Step  int
	Cause error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("run interrupted at step %d: %v", e.Step, e.Cause)
}

func (e *InterruptedError) Unwrap() error { return e.Cause }

// InternalInvariantError marks a violated bounds or convergence guarantee.
type InternalInvariantError struct {
	Step   int
	Price  float64
	Reason string
}

func (e *InternalInvariantError) Error() string {
	return fmt.Sprintf("internal invariant violated at step %d (price %v): %s", e.Step, e.Price, e.Reason)
}

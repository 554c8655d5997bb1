package models

import "fmt"

// ConfigurationError reports invalid parameters (window sizes, capital, spans).
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(field, format string, a ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

// InsufficientHistoryError reports a series too short for the requested computation.
type InsufficientHistoryError struct {
	Op   string
	Need int
	Have int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history: %s needs %d rows, have %d", e.Op, e.Need, e.Have)
}

// RegimeFitError reports a failed regime model fit or prediction.
type RegimeFitError struct {
	Reason string
	Err    error
}

func (e *RegimeFitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("regime fit: %s: %v", e.Reason, e.Err)
	}
	return "regime fit: " + e.Reason
}

// Unwrap returns the underlying error.
func (e *RegimeFitError) Unwrap() error { return e.Err }

// DataIntegrityError reports a series that violates the canonical schema.
// Index is the offending row, or -1 when the problem is not row specific.
type DataIntegrityError struct {
	Index  int
	Reason string
}

func (e *DataIntegrityError) Error() string {
	if e.Index < 0 {
		return "data integrity: " + e.Reason
	}
	return fmt.Sprintf("data integrity: row %d: %s", e.Index, e.Reason)
}

package types

import "fmt"

// ConfigError reports a missing or out-of-range configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// RangeError returns a ConfigError for a value outside [min, max].
func RangeError(field string, value, min, max float64) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf("%g is outside [%g, %g]", value, min, max)}
}

// MissingError returns a ConfigError for a required value that was not set.
func MissingError(field string) error {
	return &ConfigError{Field: field, Reason: "required"}
}

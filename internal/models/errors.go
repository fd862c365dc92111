package models

import "fmt"

// ConfigurationError reports invalid or missing parameters: zero defocus
// separation, mismatched grid shapes, mask geometry enclosing an empty
// region, and similar. These always indicate a caller mistake rather than
// a data-dependent runtime condition.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

// Configf builds a ConfigurationError from a format string.
func Configf(format string, args ...interface{}) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// InputError reports malformed source grids: non-finite values, empty or
// wrongly shaped data, unreadable image files.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string {
	return "input error: " + e.Msg
}

// Inputf builds an InputError from a format string.
func Inputf(format string, args ...interface{}) error {
	return &InputError{Msg: fmt.Sprintf(format, args...)}
}

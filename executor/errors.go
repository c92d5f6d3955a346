package executor

import (
	"fmt"
	"strings"
)

// ConfigError reports a missing or malformed configuration section.
// It is raised before any remote side effect.
type ConfigError struct {
	Section string
	Msg     string
}

func (e *ConfigError) Error() string {
	if e.Section == "" {
		return "configuration error: " + e.Msg
	}
	return fmt.Sprintf("configuration error in %q: %s", e.Section, e.Msg)
}

// NewConfigError builds a ConfigError with a formatted message.
func NewConfigError(section, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Section: section, Msg: fmt.Sprintf(format, args...)}
}

// ValidationError reports a request that cannot be dispatched as given.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// RemoteExecutionError is returned when a synchronous remote command exits non-zero.
type RemoteExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *RemoteExecutionError) Error() string {
	msg := fmt.Sprintf("remote command exited with status %d: %s", e.ExitCode, e.Command)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += "\n" + e.Stderr
	}
	return msg
}

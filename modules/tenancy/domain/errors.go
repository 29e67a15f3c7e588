package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration    = errors.New("configuration error")
	ErrExecution        = errors.New("execution error")
	ErrPersistence      = errors.New("persistence error")
	ErrValidationFailed = errors.New("validation failed")
)

// ConfigurationError is raised while interpreting flags or options, before any data access.
type ConfigurationError struct {
	Msg string
}

func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	return e.Msg
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ExecutionError wraps a failed data-access or DDL call with the entity and
// direction it happened in.
type ExecutionError struct {
	Entity    string
	Direction string
	Err       error
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	b.WriteString("failed to ")
	if e.Direction != "" {
		b.WriteString(e.Direction)
	} else {
		b.WriteString("process")
	}
	if e.Entity != "" {
		b.WriteString(" ")
		b.WriteString(e.Entity)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

// PersistenceError reports a failed summary write. It never reaches the process boundary.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to write summary at %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// ValidationFailure is returned after the audit summary has been produced.
type ValidationFailure struct {
	MissingEntities           []string
	MismatchedEntities        []string
	WrongOrganizationEntities []string
}

func (e *ValidationFailure) Error() string {
	parts := make([]string, 0, 3)
	if len(e.MissingEntities) > 0 {
		parts = append(parts, "missing tenant ids in: "+strings.Join(e.MissingEntities, ", "))
	}
	if len(e.MismatchedEntities) > 0 {
		parts = append(parts, "mismatched tenant ids in: "+strings.Join(e.MismatchedEntities, ", "))
	}
	if len(e.WrongOrganizationEntities) > 0 {
		parts = append(parts, "rows of another organization in: "+strings.Join(e.WrongOrganizationEntities, ", "))
	}
	if len(parts) == 0 {
		return ErrValidationFailed.Error()
	}
	return ErrValidationFailed.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationFailure) Is(target error) bool {
	return target == ErrValidationFailed
}

package main

import (
	"errors"

	"github.com/iota-uz/tenancy-backfill/modules/tenancy/domain"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK         = 0
	exitValidation = 2
	exitUsage      = 3
	exitDB         = 4
	exitExecution  = 5
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

// exitCode prefers an explicit code and otherwise maps the domain error class.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	switch {
	case errors.Is(err, domain.ErrValidationFailed):
		return exitValidation
	case errors.Is(err, domain.ErrConfiguration):
		return exitUsage
	case errors.Is(err, domain.ErrExecution):
		return exitExecution
	}
	return 1
}

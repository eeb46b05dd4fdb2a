package main

import (
	"context"
	"errors"
	"fmt"
)

const (
	exitCodeFailure  = 1
	exitCodeCanceled = 130
)

type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e == nil {
		return ""
	}
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// provisionExitError maps a failed provisioning call to an exit code. A
// deadline from PROVISION_TIMEOUT is a failure, an interrupt is a cancel.
func provisionExitError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &exitError{code: exitCodeCanceled, err: err}
	}
	return &exitError{code: exitCodeFailure, err: err}
}

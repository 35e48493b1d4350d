package main

import "errors"

// Exit codes.
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (missing config, invalid paths)
	ExitAuthError   = 3 // Remote credentials rejected
)

// exitError carries an exit code up through cobra so deferred cleanup in
// the command still runs; main translates it after Execute returns.
type exitError struct {
	code int
	err  error
}

func exitWithCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// exitCode extracts the exit code from an Execute error.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitError
}

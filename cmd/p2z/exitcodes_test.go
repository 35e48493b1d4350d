package main

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	base := errors.New("bad credentials")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"auth error code", exitWithCode(ExitAuthError, base), ExitAuthError},
		{"config error code", exitWithCode(ExitConfigError, base), ExitConfigError},
		{"wrapped exit error", fmt.Errorf("running migrate: %w", exitWithCode(ExitAuthError, base)), ExitAuthError},
		{"plain error defaults", base, ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExitErrorUnwraps(t *testing.T) {
	base := errors.New("underlying")
	err := exitWithCode(ExitError, base)
	if !errors.Is(err, base) {
		t.Error("errors.Is(exitWithCode(...), base) = false, want true")
	}
	if err.Error() != "underlying" {
		t.Errorf("Error() = %q, want underlying", err.Error())
	}
}

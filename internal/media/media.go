// Package media wraps the external capability providers the worker pipeline
// calls: fetching source media, speech recognition, subtitle translation,
// voice synthesis, and rendering. Every provider shells out to a CLI tool
// through an injectable CommandRunner so tests never touch the real binaries.
package media

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// CommandRunner executes external commands and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.Output()
}

var (
	// ErrProviderUnavailable indicates a capability provider is not configured.
	ErrProviderUnavailable = errors.New("capability provider unavailable")
	// errTransient marks failures worth one more attempt (timeouts, network).
	errTransient = errors.New("transient provider failure")
)

// Transient wraps err so IsTransient reports it retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", errTransient, err)
}

// IsTransient reports whether the stage failure is worth a single retry
// before the task is declared failed. Context deadline overruns come from
// provider timeouts; caller cancellation is not retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

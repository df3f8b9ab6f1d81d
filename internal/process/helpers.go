package process

import (
	"errors"
	"fmt"
)

var (
	// ErrExecutableNotFound is wrapped by SpawnError when the worker binary cannot be resolved.
	ErrExecutableNotFound = errors.New("worker executable not found")
	// ErrAlreadyRunning is returned by Spawn while a live handle exists.
	ErrAlreadyRunning = errors.New("worker already running")
	// ErrClosed is returned by Spawn once TerminateTree has run.
	ErrClosed = errors.New("supervisor closed")
)

// SpawnError reports a failed worker launch.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawnError reports whether err is (or wraps) a SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

package engine

import "errors"

// ErrStopped is returned when work is submitted to an engine whose Run loop
// has exited.
var ErrStopped = errors.New("engine stopped")

// IsStopped reports whether err is or wraps ErrStopped.
func IsStopped(err error) bool {
	return errors.Is(err, ErrStopped)
}

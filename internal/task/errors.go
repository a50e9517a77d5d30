package task

import "errors"

var (
	// ErrJobInFlight is returned by Submit while a job is submitting or
	// processing; the caller must cancel or wait first.
	ErrJobInFlight = errors.New("a job is already in flight")

	// ErrNoActiveJob is returned by Cancel when there is nothing to cancel.
	ErrNoActiveJob = errors.New("no job in flight")
)

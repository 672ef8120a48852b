package queue

import "errors"

var (
	// ErrNoJobs is returned by Run for an empty queue.
	ErrNoJobs = errors.New("queue has no jobs")

	// ErrJobFailed is returned when a job fails with StopOnFailure set.
	ErrJobFailed = errors.New("queued bot failed")

	// ErrWorkerUnavailable is returned when the worker binary cannot be
	// launched; every later job would fail the same way.
	ErrWorkerUnavailable = errors.New("queue worker binary unavailable")
)

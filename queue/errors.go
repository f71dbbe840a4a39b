package queue

import "errors"

var (
	// ErrJobNotFound is returned when an id does not resolve to any job.
	ErrJobNotFound = errors.New("queue: job not found")

	// ErrJobNotCancellable is returned when Cancel targets a job that
	// is not currently WAITING or DELAYED (spec §4.5: "ACTIVE jobs are not [cancellable]").
	ErrJobNotCancellable = errors.New("queue: only a waiting job can be cancelled")
)

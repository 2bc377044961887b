package domain

import "errors"

var (
	// ErrNotFound is returned when a job id does not resolve.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyClaimed is returned when a claim races against a holder
	// of the lock.
	ErrAlreadyClaimed = errors.New("job already claimed")

	// ErrAlreadyPublished is returned when publish is called on a job
	// that already produced an entity.
	ErrAlreadyPublished = errors.New("job already published")

	// ErrInvalidState is returned when an operation is not legal in the
	// job's current status.
	ErrInvalidState = errors.New("job is not in a valid state for this operation")

	// ErrUnauthorized is returned when a callback presents a wrong or
	// missing response token.
	ErrUnauthorized = errors.New("invalid response token")

	// ErrEmptyResult is returned when publish is attempted on a job whose
	// worker never delivered content.
	ErrEmptyResult = errors.New("job has no result to publish")

	// ErrSlugConflict is returned when an article insert loses the race
	// for a slug between the existence probe and the unique constraint.
	ErrSlugConflict = errors.New("slug already taken")
)

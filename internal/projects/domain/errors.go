package domain

import "errors"

var (
	// ErrProjectNotFound covers both absent projects and projects owned by
	// someone else, so that routes cannot be used to probe for existence.
	ErrProjectNotFound = errors.New("invalid user or project")

	// ErrRateLimited means the caller already has the configured number of
	// live solver controllers.
	ErrRateLimited = errors.New("user has reached its limit for concurrent solver controllers")

	// ErrStatusUnavailable means the project's controller did not answer the
	// status call within its deadline.
	ErrStatusUnavailable = errors.New("solver controller unreachable")
)
